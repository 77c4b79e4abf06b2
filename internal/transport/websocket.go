package transport

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/rcarmo/go-rdpsnd/internal/logging"
	"github.com/rcarmo/go-rdpsnd/internal/protocol/audio"
)

// WSManager adapts a WebSocket connection into a channel Manager. Each opened
// channel announces itself with a text preamble naming the channel; channel
// data then travels as binary messages, one virtual channel chunk per
// message, fragmented and reassembled with the standard chunking layer.
//
// The manager serves one channel per connection, which is all the audio
// gateway needs.
type WSManager struct {
	conn *websocket.Conn

	mu     sync.Mutex
	opened bool
}

// NewWSManager wraps an established WebSocket connection.
func NewWSManager(conn *websocket.Conn) *WSManager {
	return &WSManager{conn: conn}
}

// OpenChannel announces the channel to the peer and starts the read pump.
func (m *WSManager) OpenChannel(name string) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opened {
		return nil, fmt.Errorf("websocket manager already serves a channel")
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, []byte(name)); err != nil {
		return nil, fmt.Errorf("announce channel %q: %w", name, err)
	}
	m.opened = true

	ch := &wsChannel{
		conn: m.conn,
		in:   newMsgQueue(),
	}
	go ch.readPump()
	return ch, nil
}

// wsChannel carries one virtual channel over a WebSocket connection.
type wsChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	in      *msgQueue
	once    sync.Once
}

// readPump reassembles incoming chunk frames into complete channel messages.
func (c *wsChannel) readPump() {
	defer c.in.close()

	var defrag audio.ChannelDefragmenter
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		chunk, err := audio.ParseChannelChunk(data)
		if err != nil {
			logging.Warn("websocket channel: dropping malformed chunk: %v", err)
			continue
		}
		if complete, ok := defrag.Process(chunk); ok {
			if err := c.in.push(complete); err != nil {
				return
			}
		}
	}
}

func (c *wsChannel) Read(p []byte) (int, error) {
	return c.in.pop(p)
}

func (c *wsChannel) Write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, frame := range audio.FragmentChannelData(p) {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("websocket channel write: %w", err)
		}
	}
	return nil
}

func (c *wsChannel) Close() error {
	c.once.Do(func() {
		c.in.close()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
	})
	return nil
}
