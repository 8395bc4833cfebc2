package ipc_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/ipc"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf)

	in := &ipc.Frame{Kind: ipc.KindHeartbeat, Ts: 12345}
	require.NoError(t, w.WriteFrame(in))

	r := ipc.NewReader(&buf)
	out, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, ipc.KindHeartbeat, out.Kind)
	require.Equal(t, int64(12345), out.Ts)
}

func TestReader_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	// length prefix of ~1GB with no body.
	buf.Write([]byte{0x40, 0x00, 0x00, 0x00})

	r := ipc.NewReader(&buf)
	_, err := r.ReadFrame()
	require.Error(t, err)
}
