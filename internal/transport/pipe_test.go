package transport

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeManager_RoundTrip(t *testing.T) {
	m := NewPipeManager()

	server, err := m.OpenChannel("rdpsnd")
	require.NoError(t, err)
	client := m.Peer("rdpsnd")

	require.NoError(t, server.Write([]byte{1, 2, 3}))

	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])

	require.NoError(t, client.Write([]byte{4, 5}))
	n, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, buf[:n])
}

func TestPipeManager_MessageBoundaries(t *testing.T) {
	m := NewPipeManager()
	server, err := m.OpenChannel("rdpsnd")
	require.NoError(t, err)
	client := m.Peer("rdpsnd")

	require.NoError(t, client.Write([]byte{1}))
	require.NoError(t, client.Write([]byte{2, 2}))

	buf := make([]byte, 16)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "reads must not coalesce messages")

	n, err = server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPipeChannel_ShortBuffer(t *testing.T) {
	m := NewPipeManager()
	server, err := m.OpenChannel("rdpsnd")
	require.NoError(t, err)
	client := m.Peer("rdpsnd")

	msg := make([]byte, 100)
	for i := range msg {
		msg[i] = byte(i)
	}
	require.NoError(t, client.Write(msg))

	// a short read reports the needed size and leaves the message queued
	small := make([]byte, 10)
	_, err = server.Read(small)
	var short *ShortBufferError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 100, short.Size)

	// the grown retry returns the full message, nothing lost
	grown := make([]byte, short.Size)
	n, err := server.Read(grown)
	require.NoError(t, err)
	assert.Equal(t, msg, grown[:n])
}

func TestPipeChannel_EOFAfterClose(t *testing.T) {
	m := NewPipeManager()
	server, err := m.OpenChannel("rdpsnd")
	require.NoError(t, err)
	client := m.Peer("rdpsnd")

	require.NoError(t, client.Write([]byte{7}))
	require.NoError(t, client.Close())

	// queued data still readable, then EOF
	buf := make([]byte, 4)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, buf[:n])

	_, err = server.Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	// writes to a closed pipe fail
	assert.Error(t, client.Write([]byte{1}))

	// Close is idempotent
	assert.NoError(t, client.Close())
}

func TestPipeChannel_CloseUnblocksRead(t *testing.T) {
	m := NewPipeManager()
	server, err := m.OpenChannel("rdpsnd")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4)
		_, err := server.Read(buf)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, io.EOF), "blocked read should end with EOF, got %v", err)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock the pending read")
	}
}

func TestPipeManager_OpenChannelIsStable(t *testing.T) {
	m := NewPipeManager()

	a, err := m.OpenChannel("rdpsnd")
	require.NoError(t, err)
	b, err := m.OpenChannel("rdpsnd")
	require.NoError(t, err)
	assert.Same(t, a, b, "reopening a name returns the same endpoint")
}
