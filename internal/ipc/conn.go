package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressFunc receives each progress frame the worker emits for an
// in-flight dispatch.
type ProgressFunc func(f *Frame)

// HTTPHandler serves a host-mediated HTTP request on the worker's behalf
// (§6.2's optional http_request/http_response pair) and returns the
// http_response frame to send back.
type HTTPHandler func(ctx context.Context, req *Frame) *Frame

var (
	// ErrBusy is returned by Dispatch when a dispatch is already in flight,
	// enforcing §6.2's "at most one active dispatch per worker" invariant.
	ErrBusy = errors.New("ipc: worker already has an active dispatch")
	// ErrDead is returned once the connection has observed a protocol
	// violation or I/O failure and been retired.
	ErrDead = errors.New("ipc: connection is dead")
)

// Conn is one duplex connection to a worker process, reading and writing
// length-prefixed frames per the protocol in frame.go. It serializes
// dispatches (only one outstanding at a time, matching the Worker Pool's
// Idle/Busy model in orchestrator.WorkerPool) and fans incoming progress and
// http_request frames out to caller-supplied handlers.
type Conn struct {
	id     string
	stream io.ReadWriteCloser
	r      *Reader
	w      *Writer

	onProgress ProgressFunc
	onHTTP     HTTPHandler

	mu      sync.Mutex
	busy    bool
	resultC chan *Frame

	lastHeartbeat atomic.Int64 // unix nanos
	dead          atomic.Bool
	deadErr       atomic.Pointer[error]
}

func NewConn(id string, stream io.ReadWriteCloser, onProgress ProgressFunc, onHTTP HTTPHandler) *Conn {
	c := &Conn{
		id:         id,
		stream:     stream,
		r:          NewReader(stream),
		w:          NewWriter(stream),
		onProgress: onProgress,
		onHTTP:     onHTTP,
	}
	c.lastHeartbeat.Store(time.Now().UnixNano())
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastHeartbeat.Load())
}

// Run reads frames until the stream closes or ctx is cancelled, routing each
// to the appropriate handler. It must run in its own goroutine for the
// lifetime of the connection; Dispatch blocks on frames Run delivers.
func (c *Conn) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := c.r.ReadFrame()
		if err != nil {
			c.markDead(err)
			return err
		}
		if err := c.handle(ctx, f); err != nil {
			c.markDead(err)
			return err
		}
	}
}

func (c *Conn) handle(ctx context.Context, f *Frame) error {
	switch f.Kind {
	case KindHeartbeat:
		c.lastHeartbeat.Store(time.Now().UnixNano())
		return nil
	case KindProgress:
		if c.onProgress != nil {
			c.onProgress(f)
		}
		return nil
	case KindHTTPRequest:
		if c.onHTTP == nil {
			return &ErrProtocolViolation{Got: f.Kind, Expected: "no http_request handler configured"}
		}
		resp := c.onHTTP(ctx, f)
		return c.w.WriteFrame(resp)
	case KindResult:
		c.mu.Lock()
		if !c.busy || c.resultC == nil {
			c.mu.Unlock()
			return &ErrProtocolViolation{Got: f.Kind, Expected: "dispatch (no active dispatch)"}
		}
		ch := c.resultC
		c.busy = false
		c.resultC = nil
		c.mu.Unlock()
		ch <- f
		return nil
	default:
		return &ErrProtocolViolation{Got: f.Kind, Expected: "progress, http_request, result, or heartbeat"}
	}
}

// Dispatch sends a dispatch frame and blocks until the matching result frame
// arrives, ctx is cancelled, or the connection dies.
func (c *Conn) Dispatch(ctx context.Context, req *Frame) (*Frame, error) {
	if c.dead.Load() {
		return nil, ErrDead
	}
	req.Kind = KindDispatch

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.busy = true
	c.resultC = make(chan *Frame, 1)
	resultC := c.resultC
	c.mu.Unlock()

	if err := c.w.WriteFrame(req); err != nil {
		c.mu.Lock()
		c.busy = false
		c.resultC = nil
		c.mu.Unlock()
		c.markDead(err)
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result, ok := <-resultC:
		if !ok {
			return nil, ErrDead
		}
		return result, nil
	}
}

// Cancel sends a cooperative cancel frame for the execution currently
// dispatched on this connection (§5's cancel_grace semantics are the
// dispatcher's responsibility, not this connection's).
func (c *Conn) Cancel(executionID int64) error {
	return c.w.WriteFrame(&Frame{Kind: KindCancel, ExecutionID: executionID})
}

func (c *Conn) markDead(err error) {
	c.dead.Store(true)
	c.deadErr.Store(&err)
	c.mu.Lock()
	if c.resultC != nil {
		close(c.resultC)
		c.resultC = nil
	}
	c.busy = false
	c.mu.Unlock()
}

// Shutdown closes the underlying stream, causing Run's blocking read to
// return and the connection to be retired.
func (c *Conn) Shutdown(ctx context.Context) error {
	c.markDead(fmt.Errorf("ipc: shutdown requested"))
	return c.stream.Close()
}
