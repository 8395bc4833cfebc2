// Package runtime implements the Sandboxed Script Runtime Contract (§4.2):
// the obligations a worker process upholds when evaluating an untrusted
// task script with schema-validated input/output and a single host-mediated
// fetch capability.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/northcloud/jobforge/internal/domain"
)

// Evaluator runs a task script against one input and returns its output (or
// a typed domain.Error). Declared as an interface so the worker can swap in
// a fake for tests without pulling in goja.
type Evaluator interface {
	Evaluate(ctx context.Context, script string, input []byte, fetch FetchFunc) ([]byte, *domain.Error)
}

// FetchFunc performs the single host-mediated HTTP capability a script may
// invoke, translating the response (or error) back into the sentinel
// re-entry protocol in fetch.go.
type FetchFunc func(ctx context.Context, req FetchRequest) (*FetchResponse, *domain.Error)

// GojaEvaluator runs scripts on goja, the pure-Go ECMAScript interpreter,
// since the worker process must not shell out to an external runtime or
// expose process/filesystem access the way a real Node child process would.
type GojaEvaluator struct {
	maxFetchCalls int
}

// NewGojaEvaluator builds an Evaluator allowing up to maxFetchCalls fetch()
// invocations per execution (0 means unbounded, per §4.2's "configurable,
// default unbounded but rate-limited").
func NewGojaEvaluator(maxFetchCalls int) *GojaEvaluator {
	return &GojaEvaluator{maxFetchCalls: maxFetchCalls}
}

// Evaluate compiles and runs the script's single top-level expression,
// expecting it to evaluate to a callable, then invokes that callable with
// input exactly once per the contract — "once" as observed by the caller;
// internally the sentinel re-entry loop may invoke the underlying function
// multiple times to resume past a suspended fetch (§4.2).
func (g *GojaEvaluator) Evaluate(ctx context.Context, script string, input []byte, fetch FetchFunc) ([]byte, *domain.Error) {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	registerErrorTypes(vm)
	session := newFetchSession(vm, fetch, g.maxFetchCalls)
	session.install(ctx)

	fnVal, err := vm.RunString("(" + script + ")")
	if err != nil {
		return nil, parseScriptError(err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, domain.NewError(domain.KindScriptError,
			"script must evaluate to a callable", nil)
	}

	parsedInput, err := vm.RunProgram(mustCompileJSONParse())
	if err != nil {
		return nil, domain.NewError(domain.KindInternalError, "compile json.parse helper", err)
	}
	parseFn, _ := goja.AssertFunction(parsedInput)
	inputJSVal, err := parseFn(goja.Undefined(), vm.ToValue(string(orEmptyObject(input))))
	if err != nil {
		return nil, domain.NewError(domain.KindSchemaValidationInput, "input is not valid JSON", err)
	}

	const maxReentries = 64
	var result goja.Value
	for attempt := 0; ; attempt++ {
		if attempt > maxReentries {
			return nil, domain.NewError(domain.KindScriptError,
				"exceeded maximum fetch re-entry attempts", nil)
		}
		if ctx.Err() != nil {
			return nil, domain.NewError(domain.KindCancelledError, "execution cancelled", ctx.Err())
		}

		var suspended bool
		result, suspended, err = session.callResume(ctx, fn, inputJSVal)
		if suspended {
			if err != nil {
				return nil, domain.NewError(domain.KindInternalError, "resume after fetch", err)
			}
			continue
		}
		if err != nil {
			return nil, parseScriptError(err)
		}
		break
	}

	out, err := stringifyJSON(vm, result)
	if err != nil {
		return nil, domain.NewError(domain.KindSchemaValidationOutput, "output is not JSON-serializable", err)
	}
	return out, nil
}

func orEmptyObject(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

func mustCompileJSONParse() *goja.Program {
	prog, err := goja.Compile("", "(function(s) { return JSON.parse(s); })", true)
	if err != nil {
		panic(fmt.Sprintf("runtime: compile json.parse helper: %v", err))
	}
	return prog
}

func stringifyJSON(vm *goja.Runtime, v goja.Value) ([]byte, error) {
	stringify, err := vm.RunString("(function(v){ return JSON.stringify(v === undefined ? null : v); })")
	if err != nil {
		return nil, err
	}
	fn, _ := goja.AssertFunction(stringify)
	res, err := fn(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	return []byte(res.String()), nil
}

// execTimeout bounds a single Evaluate call independent of the orchestrator's
// execution_timeout, as a last-resort guard against a pathological script.
const execTimeout = 5 * time.Minute
