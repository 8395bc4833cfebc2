package orchestrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/northcloud/jobforge/internal/config"
	"github.com/northcloud/jobforge/internal/delivery"
	"github.com/northcloud/jobforge/internal/domain"
	"github.com/northcloud/jobforge/internal/ipc"
	"github.com/northcloud/jobforge/internal/logger"
)

// pipeStream adapts a child process's stdin/stdout pair into one
// io.ReadWriteCloser, matching the Conn constructor's expectation of a
// single duplex stream even though os/exec hands back two separate pipes.
type pipeStream struct {
	io.Reader
	io.WriteCloser
}

func (p pipeStream) Close() error { return p.WriteCloser.Close() }

// ProcessWorker implements WorkerHandle by spawning cmd/jobworker as a child
// process and speaking the length-prefixed IPC protocol (§6.2) over its
// stdin/stdout, grounded on mcp-north-cloud/main.go's child-process-plus-
// stdio-framing pattern. It embeds ipcWorker for ID/LastHeartbeat/Execute so
// the frame-building and result-decoding logic lives in one place regardless
// of how the underlying *ipc.Conn was obtained.
type ProcessWorker struct {
	WorkerHandle

	id         string
	cmd        *exec.Cmd
	conn       *ipc.Conn
	log        logger.Logger
	httpClient *http.Client
	httpCfg    config.HTTPConfig
	secCfg     config.OutputSecurityConfig

	runCtx    context.Context
	runCancel context.CancelFunc
	runErrC   chan error
}

// SpawnProcessWorker starts binaryPath (cmd/jobworker) as a child process and
// begins reading its frames in the background. httpCfg bounds the host-
// mediated fetch capability (§4.2.2) the orchestrator performs on the
// worker's behalf whenever its sandboxed script calls fetch(); secCfg is the
// same §4.3.4 host security policy applied to webhook delivery
// (internal/delivery/security.go), applied identically here so a script
// can't reach anything a configured webhook couldn't.
func SpawnProcessWorker(ctx context.Context, log logger.Logger, id, binaryPath string, args []string, httpCfg config.HTTPConfig, secCfg config.OutputSecurityConfig) (*ProcessWorker, error) {
	cmd := exec.CommandContext(ctx, binaryPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}
	cmd.Stderr = newLogWriter(log, id)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	w := &ProcessWorker{id: id, cmd: cmd, log: log, httpCfg: httpCfg, secCfg: secCfg}
	w.httpClient = &http.Client{
		Timeout: httpCfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= httpCfg.MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	if !httpCfg.VerifySSL {
		w.httpClient.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec // operator opt-in via http.verify_ssl=false
	}

	stream := pipeStream{Reader: stdout, WriteCloser: stdin}
	w.conn = ipc.NewConn(id, stream, nil, w.serveHTTPRequest)
	w.WorkerHandle = NewIPCWorker(w.conn)

	w.runCtx, w.runCancel = context.WithCancel(context.Background())
	w.runErrC = make(chan error, 1)
	go func() {
		w.runErrC <- w.conn.Run(w.runCtx)
	}()

	return w, nil
}

// serveHTTPRequest performs the one outbound HTTP call a worker's sandboxed
// script requested via fetch(), since the worker process itself has no
// network access (§4.2.2) — this is the orchestrator side of the
// http_request/http_response frame pair jobworker's hostFetch sends.
func (w *ProcessWorker) serveHTTPRequest(ctx context.Context, req *ipc.Frame) *ipc.Frame {
	if verr := delivery.ValidateWebhookURL(req.URL, w.secCfg); verr != nil {
		return errorResponseFrame(domain.KindScriptError, domain.ScriptValidationError, "fetch target rejected: "+verr.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return errorResponseFrame(domain.KindScriptError, domain.ScriptValidationError, "invalid fetch request: "+err.Error())
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if w.httpCfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", w.httpCfg.UserAgent)
	}

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return errorResponseFrame(domain.KindTransportError, domain.ScriptNetworkError, "fetch failed: "+err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchResponseBytes))
	if err != nil {
		return errorResponseFrame(domain.KindTransportError, domain.ScriptNetworkError, "read fetch response: "+err.Error())
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	if resp.StatusCode >= 400 {
		subkind := domain.HTTPStatusToScriptSubkind(resp.StatusCode)
		return &ipc.Frame{
			Kind:       ipc.KindHTTPResp,
			StatusCode: resp.StatusCode,
			Headers:    headers,
			Body:       body,
			Error:      &ipc.FrameError{Kind: domain.KindScriptError, Subkind: string(subkind), Message: fmt.Sprintf("fetch received HTTP %d", resp.StatusCode)},
		}
	}

	return &ipc.Frame{Kind: ipc.KindHTTPResp, StatusCode: resp.StatusCode, Headers: headers, Body: body}
}

// maxFetchResponseBytes bounds a single fetch() response body, guarding
// against a script pulling down an unbounded payload into the sandbox.
const maxFetchResponseBytes = 8 << 20

func errorResponseFrame(kind domain.ErrorKind, subkind domain.ScriptErrorSubkind, message string) *ipc.Frame {
	return &ipc.Frame{
		Kind:  ipc.KindHTTPResp,
		Error: &ipc.FrameError{Kind: kind, Subkind: string(subkind), Message: message},
	}
}

// ID identifies the process independently of the embedded ipcWorker, since
// the pool needs it before the connection is even dialed for logging.
func (w *ProcessWorker) ID() string { return w.id }

// Shutdown sends a process-level termination: closing stdin lets the
// worker's read loop exit cleanly, falling back to Kill if it doesn't exit
// promptly.
func (w *ProcessWorker) Shutdown(ctx context.Context) error {
	_ = w.conn.Shutdown(ctx)
	w.runCancel()

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		_ = w.cmd.Process.Kill()
		return fmt.Errorf("worker %s killed after shutdown timeout", w.id)
	case <-ctx.Done():
		_ = w.cmd.Process.Kill()
		return ctx.Err()
	}
}

// logWriter adapts a worker process's stderr into structured log lines.
type logWriter struct {
	log logger.Logger
	id  string
}

func newLogWriter(log logger.Logger, id string) *logWriter {
	return &logWriter{log: log, id: id}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Warn("worker stderr", logger.String("worker_id", w.id), logger.String("line", string(p)))
	return len(p), nil
}
