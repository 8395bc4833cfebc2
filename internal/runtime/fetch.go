package runtime

import (
	"context"

	"github.com/dop251/goja"

	"github.com/northcloud/jobforge/internal/domain"
)

// FetchRequest is what the script asked the host to perform.
type FetchRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Body    interface{}       `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// FetchResponse is injected back into the script's global scope on re-entry.
type FetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body,omitempty"`
}

// fetchSuspend is panicked by the fetch() stub to unwind the script's
// current expression without awaiting (§4.2 step 2). callResume recovers it
// and distinguishes it from a genuine script panic.
type fetchSuspend struct{ req FetchRequest }

// fetchSession holds the sentinel state for one Evaluate call: the script
// never sees a Go channel or goroutine, only globals it reads after a
// re-entry, matching §4.2's single-threaded-execution-plus-host-async-HTTP
// orchestration.
type fetchSession struct {
	vm       *goja.Runtime
	fetch    FetchFunc
	maxCalls int
	calls    int
}

func newFetchSession(vm *goja.Runtime, fetch FetchFunc, maxCalls int) *fetchSession {
	return &fetchSession{vm: vm, fetch: fetch, maxCalls: maxCalls}
}

// install registers the fetch() global.
func (s *fetchSession) install(ctx context.Context) {
	_ = s.vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		if s.maxCalls > 0 && s.calls >= s.maxCalls {
			panic(s.vm.NewTypeError("RateLimitError: fetch call budget exhausted"))
		}

		req := FetchRequest{Method: "GET"}
		if len(call.Arguments) > 0 {
			req.URL = call.Arguments[0].String()
		}
		if len(call.Arguments) > 1 && !goja.IsUndefined(call.Arguments[1]) {
			var params map[string]interface{}
			_ = s.vm.ExportTo(call.Arguments[1], &params)
			if m, ok := params["method"].(string); ok {
				req.Method = m
			}
			if h, ok := params["headers"].(map[string]interface{}); ok {
				req.Headers = make(map[string]string, len(h))
				for k, v := range h {
					req.Headers[k] = toString(v)
				}
			}
		}
		if len(call.Arguments) > 2 && !goja.IsUndefined(call.Arguments[2]) {
			var body interface{}
			_ = s.vm.ExportTo(call.Arguments[2], &body)
			req.Body = body
		}

		panic(fetchSuspend{req: req})
	})
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// callResume invokes fn, recovering a fetchSuspend panic and performing the
// corresponding host-mediated HTTP call, then reports whether the caller
// should re-invoke fn (true) or treat result/err as final.
func (s *fetchSession) callResume(ctx context.Context, fn goja.Callable, args ...goja.Value) (result goja.Value, suspended bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fs, ok := r.(fetchSuspend)
			if !ok {
				panic(r) // not ours: propagate the real script panic
			}
			suspended = true
			err = s.resolve(ctx, fs.req)
		}
	}()
	result, err = fn(goja.Undefined(), args...)
	return result, false, err
}

// resolve performs the fetch and injects the response (or a typed error
// constructor instance) into globals the script reads on its next call.
func (s *fetchSession) resolve(ctx context.Context, req FetchRequest) error {
	s.calls++
	resp, derr := s.fetch(ctx, req)
	if derr != nil {
		return s.injectError(derr)
	}
	return s.injectResponse(resp)
}

func (s *fetchSession) injectResponse(resp *FetchResponse) error {
	if err := s.vm.Set("__jobforge_fetch_response", resp); err != nil {
		return err
	}
	return s.vm.Set("__jobforge_fetch_error", goja.Undefined())
}

// injectError constructs one of the pre-registered error types (errors.go)
// so the script's try/catch sees AuthenticationError, RateLimitError, and so
// on, per §4.2's HTTP-status-to-error-type mapping.
func (s *fetchSession) injectError(derr *domain.Error) error {
	ctor, ok := goja.AssertFunction(s.vm.Get(scriptConstructorFor(derr.ScriptSubkind)))
	if !ok {
		return s.vm.Set("__jobforge_fetch_error", derr.Message)
	}
	instance, err := ctor(goja.Undefined(), s.vm.ToValue(derr.Message))
	if err != nil {
		return err
	}
	if err := s.vm.Set("__jobforge_fetch_error", instance); err != nil {
		return err
	}
	return s.vm.Set("__jobforge_fetch_response", goja.Undefined())
}
