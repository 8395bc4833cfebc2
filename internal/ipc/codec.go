package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameBytes bounds a single frame body, guarding against a worker that
// sends a corrupt or hostile length prefix from exhausting memory.
const maxFrameBytes = 64 << 20

// Reader decodes length-prefixed frames off a duplex stream.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 32*1024)}
}

// ReadFrame blocks until a full frame is available, the stream is closed, or
// a framing error occurs.
func (d *Reader) ReadFrame() (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("ipc: frame of %d bytes exceeds max %d", n, maxFrameBytes)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, fmt.Errorf("ipc: read frame body: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("ipc: decode frame body: %w", err)
	}
	return &f, nil
}

// Writer encodes frames onto a duplex stream. Safe for concurrent Write
// calls from multiple goroutines (the dispatch loop and the cancel path can
// both write to the same worker connection).
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (e *Writer) WriteFrame(f *Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("ipc: encode frame body: %w", err)
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("ipc: frame of %d bytes exceeds max %d", len(body), maxFrameBytes)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("ipc: write frame length: %w", err)
	}
	if _, err := e.w.Write(body); err != nil {
		return fmt.Errorf("ipc: write frame body: %w", err)
	}
	return nil
}
