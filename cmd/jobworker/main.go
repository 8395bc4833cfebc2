// Command jobworker is the sandboxed worker process the orchestrator pool
// spawns and speaks the IPC protocol (§6.2) with over stdin/stdout. It hosts
// exactly one in-flight dispatch at a time, matching
// orchestrator.WorkerPool's Idle/Busy model.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/ipc"
	"github.com/northcloud/jobforge/internal/runtime"
)

const (
	defaultTimeout     = 5 * time.Minute
	heartbeatInterval  = 10 * time.Second
	defaultFetchBudget = 0 // unbounded, per §4.2's "configurable, default unbounded"
)

func main() {
	reader := ipc.NewReader(os.Stdin)
	writer := ipc.NewWriter(os.Stdout)
	evaluator := runtime.NewGojaEvaluator(defaultFetchBudget)
	validator := runtime.Validator{}

	heartbeatDone := make(chan struct{})
	go heartbeatLoop(writer, heartbeatDone)
	defer close(heartbeatDone)

	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			// stdin closed: the orchestrator has shut this worker down.
			return
		}

		switch frame.Kind {
		case ipc.KindDispatch:
			result := runDispatch(reader, writer, evaluator, validator, frame)
			if err := writer.WriteFrame(result); err != nil {
				fmt.Fprintf(os.Stderr, "jobworker: write result frame: %v\n", err)
				return
			}
		case ipc.KindCancel:
			// A cancel arriving between dispatches (nothing in flight) is a
			// no-op; mid-dispatch cancellation is bounded by the dispatch's
			// own timeout_ms rather than true preemption, since goja has no
			// safe async-interrupt point mid-script.
		default:
			fmt.Fprintf(os.Stderr, "jobworker: unexpected frame kind %q outside a dispatch\n", frame.Kind)
		}
	}
}

func heartbeatLoop(writer *ipc.Writer, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = writer.WriteFrame(&ipc.Frame{Kind: ipc.KindHeartbeat, Ts: time.Now().Unix()})
		}
	}
}

func runDispatch(reader *ipc.Reader, writer *ipc.Writer, evaluator runtime.Evaluator, validator runtime.Validator, req *ipc.Frame) *ipc.Frame {
	timeout := defaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var inputSchema domain.JSONDoc
	_ = json.Unmarshal(req.InputSchema, &inputSchema)
	if verr := validator.ValidateInput(inputSchema, req.Input); verr != nil {
		return resultErrorFrame(verr)
	}

	fetch := func(ctx context.Context, fr runtime.FetchRequest) (*runtime.FetchResponse, *domain.Error) {
		return hostFetch(ctx, reader, writer, fr)
	}

	output, derr := evaluator.Evaluate(ctx, req.ScriptSource, req.Input, fetch)
	if derr != nil {
		return resultErrorFrame(derr)
	}

	var outputSchema domain.JSONDoc
	_ = json.Unmarshal(req.OutputSchema, &outputSchema)
	if verr := validator.ValidateOutput(outputSchema, output); verr != nil {
		return resultErrorFrame(verr)
	}

	return &ipc.Frame{Kind: ipc.KindResult, Success: true, Output: output}
}

// hostFetch performs §4.2's single host-mediated HTTP capability: the
// worker never dials the network itself, it asks the orchestrator to and
// blocks for the matching http_response frame.
func hostFetch(ctx context.Context, reader *ipc.Reader, writer *ipc.Writer, fr runtime.FetchRequest) (*runtime.FetchResponse, *domain.Error) {
	body, err := json.Marshal(fr.Body)
	if err != nil {
		return nil, domain.NewError(domain.KindInternalError, "marshal fetch body", err)
	}

	if err := writer.WriteFrame(&ipc.Frame{
		Kind:    ipc.KindHTTPRequest,
		URL:     fr.URL,
		Method:  fr.Method,
		Headers: fr.Headers,
		Body:    body,
	}); err != nil {
		return nil, domain.NewError(domain.KindTransportError, "write http_request frame", err)
	}

	resp, err := reader.ReadFrame()
	if err != nil {
		return nil, domain.NewError(domain.KindTransportError, "read http_response frame", err)
	}
	if resp.Kind != ipc.KindHTTPResp {
		return nil, domain.NewError(domain.KindProtocolViolation, "expected http_response frame", nil)
	}
	if resp.Error != nil {
		return nil, &domain.Error{
			Kind:          resp.Error.Kind,
			ScriptSubkind: domain.ScriptErrorSubkind(resp.Error.Subkind),
			Message:       resp.Error.Message,
			HTTPStatus:    resp.StatusCode,
		}
	}

	var respBody interface{}
	_ = json.Unmarshal(resp.Body, &respBody)
	return &runtime.FetchResponse{
		Status:  resp.StatusCode,
		Headers: resp.Headers,
		Body:    respBody,
	}, nil
}

func resultErrorFrame(derr *domain.Error) *ipc.Frame {
	return &ipc.Frame{
		Kind:    ipc.KindResult,
		Success: false,
		Error: &ipc.FrameError{
			Kind:    derr.Kind,
			Subkind: string(derr.ScriptSubkind),
			Message: derr.Message,
		},
	}
}
