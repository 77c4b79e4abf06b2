package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-rdpsnd/internal/protocol/audio"
)

// dialWS spins up a WebSocket endpoint whose server side is wrapped in
// a WSManager, and returns the raw client connection plus the managed server
// channel.
func dialWS(t *testing.T) (*websocket.Conn, Channel) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverCh := make(chan Channel, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ch, err := NewWSManager(conn).OpenChannel(audio.ChannelRDPSND)
		if err != nil {
			t.Errorf("open channel: %v", err)
			return
		}
		serverCh <- ch
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// the channel announces itself with a text preamble
	msgType, name, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	require.Equal(t, audio.ChannelRDPSND, string(name))

	select {
	case ch := <-serverCh:
		return conn, ch
	case <-time.After(2 * time.Second):
		t.Fatal("server channel never opened")
		return nil, nil
	}
}

func TestWSChannel_WriteIsChunked(t *testing.T) {
	conn, server := dialWS(t)

	big := make([]byte, audio.MaxChunkLength*2+5)
	for i := range big {
		big[i] = byte(i * 3)
	}
	require.NoError(t, server.Write(big))

	var defrag audio.ChannelDefragmenter
	var got []byte
	chunks := 0
	for got == nil {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		chunk, err := audio.ParseChannelChunk(data)
		require.NoError(t, err)
		chunks++
		if complete, ok := defrag.Process(chunk); ok {
			got = complete
		}
	}

	assert.Equal(t, 3, chunks)
	assert.Equal(t, big, got)
}

func TestWSChannel_ReadReassembles(t *testing.T) {
	conn, server := dialWS(t)

	msg := make([]byte, audio.MaxChunkLength+100)
	for i := range msg {
		msg[i] = byte(i)
	}
	for _, frame := range audio.FragmentChannelData(msg) {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
	}

	buf := make([]byte, len(msg))
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])
}

func TestWSChannel_ShortBufferContract(t *testing.T) {
	conn, server := dialWS(t)

	msg := make([]byte, 512)
	for _, frame := range audio.FragmentChannelData(msg) {
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))
	}

	small := make([]byte, 16)
	_, err := server.Read(small)
	var short *ShortBufferError
	require.ErrorAs(t, err, &short)
	require.Equal(t, 512, short.Size)

	grown := make([]byte, short.Size)
	n, err := server.Read(grown)
	require.NoError(t, err)
	assert.Equal(t, 512, n)
}

func TestWSManager_SingleChannel(t *testing.T) {
	conn, _ := dialWS(t)

	m := NewWSManager(conn)
	_, err := m.OpenChannel(audio.ChannelRDPSND)
	require.NoError(t, err)

	// a second channel on the same connection is refused
	_, err = m.OpenChannel("cliprdr")
	assert.Error(t, err)
}

func TestWSChannel_PeerCloseEndsReads(t *testing.T) {
	conn, server := dialWS(t)

	require.NoError(t, conn.Close())

	buf := make([]byte, 16)
	_, err := server.Read(buf)
	assert.Error(t, err, "reads must fail once the peer is gone")
}
