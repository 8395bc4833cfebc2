package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/ipc"
	"github.com/northcloud/jobforge/internal/runtime"
)

type fakeEvaluator struct {
	output []byte
	err    *domain.Error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _ string, _ []byte, _ runtime.FetchFunc) ([]byte, *domain.Error) {
	return f.output, f.err
}

func TestRunDispatchRejectsInputFailingSchema(t *testing.T) {
	var out bytes.Buffer
	writer := ipc.NewWriter(&out)
	reader := ipc.NewReader(&bytes.Buffer{})

	schema, _ := json.Marshal(map[string]any{"type": "object", "required": []string{"name"}})
	req := &ipc.Frame{
		Kind:        ipc.KindDispatch,
		Input:       json.RawMessage(`{}`),
		InputSchema: schema,
	}

	result := runDispatch(reader, writer, &fakeEvaluator{}, runtime.Validator{}, req)

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	require.Equal(t, domain.KindSchemaValidationInput, result.Error.Kind)
}

func TestRunDispatchReturnsScriptError(t *testing.T) {
	var out bytes.Buffer
	writer := ipc.NewWriter(&out)
	reader := ipc.NewReader(&bytes.Buffer{})

	req := &ipc.Frame{Kind: ipc.KindDispatch, Input: json.RawMessage(`{}`)}
	evaluator := &fakeEvaluator{err: domain.NewError(domain.KindScriptError, "boom", nil)}

	result := runDispatch(reader, writer, evaluator, runtime.Validator{}, req)

	require.False(t, result.Success)
	require.Equal(t, domain.KindScriptError, result.Error.Kind)
}

func TestRunDispatchRejectsOutputFailingSchema(t *testing.T) {
	var out bytes.Buffer
	writer := ipc.NewWriter(&out)
	reader := ipc.NewReader(&bytes.Buffer{})

	outputSchema, _ := json.Marshal(map[string]any{"type": "object", "required": []string{"ok"}})
	req := &ipc.Frame{Kind: ipc.KindDispatch, Input: json.RawMessage(`{}`), OutputSchema: outputSchema}
	evaluator := &fakeEvaluator{output: []byte(`{}`)}

	result := runDispatch(reader, writer, evaluator, runtime.Validator{}, req)

	require.False(t, result.Success)
	require.Equal(t, domain.KindSchemaValidationOutput, result.Error.Kind)
}

func TestRunDispatchSucceeds(t *testing.T) {
	var out bytes.Buffer
	writer := ipc.NewWriter(&out)
	reader := ipc.NewReader(&bytes.Buffer{})

	req := &ipc.Frame{Kind: ipc.KindDispatch, Input: json.RawMessage(`{}`)}
	evaluator := &fakeEvaluator{output: []byte(`{"ok":true}`)}

	result := runDispatch(reader, writer, evaluator, runtime.Validator{}, req)

	require.True(t, result.Success)
	require.Equal(t, ipc.KindResult, result.Kind)
	require.Equal(t, json.RawMessage(`{"ok":true}`), result.Output)
}

func TestHostFetchRoundTrip(t *testing.T) {
	var toOrchestrator bytes.Buffer
	writer := ipc.NewWriter(&toOrchestrator)

	var fromOrchestrator bytes.Buffer
	respWriter := ipc.NewWriter(&fromOrchestrator)
	require.NoError(t, respWriter.WriteFrame(&ipc.Frame{
		Kind:       ipc.KindHTTPResp,
		StatusCode: 200,
		Body:       json.RawMessage(`{"hello":"world"}`),
	}))
	reader := ipc.NewReader(&fromOrchestrator)

	resp, derr := hostFetch(context.Background(), reader, writer, runtime.FetchRequest{
		URL: "https://example.invalid", Method: "GET",
	})

	require.Nil(t, derr)
	require.Equal(t, 200, resp.Status)

	sent, err := ipc.NewReader(&toOrchestrator).ReadFrame()
	require.NoError(t, err)
	require.Equal(t, ipc.KindHTTPRequest, sent.Kind)
	require.Equal(t, "https://example.invalid", sent.URL)
}

func TestHostFetchPropagatesErrorFrame(t *testing.T) {
	var toOrchestrator bytes.Buffer
	writer := ipc.NewWriter(&toOrchestrator)

	var fromOrchestrator bytes.Buffer
	respWriter := ipc.NewWriter(&fromOrchestrator)
	require.NoError(t, respWriter.WriteFrame(&ipc.Frame{
		Kind:       ipc.KindHTTPResp,
		StatusCode: 503,
		Error:      &ipc.FrameError{Kind: domain.KindScriptError, Subkind: string(domain.ScriptServiceUnavailable), Message: "upstream down"},
	}))
	reader := ipc.NewReader(&fromOrchestrator)

	_, derr := hostFetch(context.Background(), reader, writer, runtime.FetchRequest{URL: "https://example.invalid"})

	require.NotNil(t, derr)
	require.Equal(t, domain.KindScriptError, derr.Kind)
	require.Equal(t, domain.ScriptServiceUnavailable, derr.ScriptSubkind)
}

func TestHostFetchRejectsUnexpectedFrameKind(t *testing.T) {
	var toOrchestrator bytes.Buffer
	writer := ipc.NewWriter(&toOrchestrator)

	var fromOrchestrator bytes.Buffer
	respWriter := ipc.NewWriter(&fromOrchestrator)
	require.NoError(t, respWriter.WriteFrame(&ipc.Frame{Kind: ipc.KindHeartbeat}))
	reader := ipc.NewReader(&fromOrchestrator)

	_, derr := hostFetch(context.Background(), reader, writer, runtime.FetchRequest{URL: "https://example.invalid"})

	require.NotNil(t, derr)
	require.Equal(t, domain.KindProtocolViolation, derr.Kind)
}

func TestResultErrorFrameCarriesKindAndMessage(t *testing.T) {
	derr := domain.NewError(domain.KindTimeoutError, "timed out", nil)
	frame := resultErrorFrame(derr)

	require.False(t, frame.Success)
	require.Equal(t, domain.KindTimeoutError, frame.Error.Kind)
	require.Equal(t, "timed out", frame.Error.Message)
}
