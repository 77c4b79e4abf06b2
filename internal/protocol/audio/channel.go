// Package audio implements the RDP audio output virtual channel wire protocol.
// This file contains the static virtual channel chunking layer
// (MS-RDPBCGR 2.2.6.1) used by transports that carry rdpsnd PDUs.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Channel PDU flags (MS-RDPBCGR 2.2.6.1.1)
const (
	ChannelFlagFirst uint32 = 0x00000001
	ChannelFlagLast  uint32 = 0x00000002
)

// MaxChunkLength is the largest chunk body a virtual channel write may carry;
// longer PDUs are fragmented across chunks.
const MaxChunkLength = 1600

// ChannelPDUHeader represents the virtual channel PDU header
type ChannelPDUHeader struct {
	Length uint32 // total length of the reassembled channel data
	Flags  uint32 // channel flags
}

func (h *ChannelPDUHeader) Serialize() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.Flags)
	return buf
}

func (h *ChannelPDUHeader) Deserialize(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &h.Length); err != nil {
		return fmt.Errorf("channel header length: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Flags); err != nil {
		return fmt.Errorf("channel header flags: %w", err)
	}
	return nil
}

// IsFirst returns true if this is the first chunk of a fragmented message
func (h *ChannelPDUHeader) IsFirst() bool {
	return h.Flags&ChannelFlagFirst != 0
}

// IsLast returns true if this is the last chunk of a fragmented message
func (h *ChannelPDUHeader) IsLast() bool {
	return h.Flags&ChannelFlagLast != 0
}

// ChannelChunk represents a chunk of virtual channel data
type ChannelChunk struct {
	Header ChannelPDUHeader
	Data   []byte
}

// ParseChannelChunk parses raw channel data into header and payload
func ParseChannelChunk(data []byte) (*ChannelChunk, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("channel chunk too short: %d bytes", len(data))
	}

	chunk := &ChannelChunk{}
	r := bytes.NewReader(data)

	if err := chunk.Header.Deserialize(r); err != nil {
		return nil, err
	}

	chunk.Data = data[8:]
	return chunk, nil
}

// FragmentChannelData splits one channel write into chunk frames, each
// prefixed with a ChannelPDUHeader. Writes up to MaxChunkLength travel as a
// single first+last chunk.
func FragmentChannelData(data []byte) [][]byte {
	total := uint32(len(data))
	var frames [][]byte

	for offset := 0; ; offset += MaxChunkLength {
		end := offset + MaxChunkLength
		if end > len(data) {
			end = len(data)
		}

		var flags uint32
		if offset == 0 {
			flags |= ChannelFlagFirst
		}
		if end == len(data) {
			flags |= ChannelFlagLast
		}

		header := ChannelPDUHeader{Length: total, Flags: flags}
		frame := make([]byte, 8+end-offset)
		copy(frame[0:8], header.Serialize())
		copy(frame[8:], data[offset:end])
		frames = append(frames, frame)

		if end == len(data) {
			return frames
		}
	}
}

// ChannelDefragmenter reassembles fragmented channel chunks into complete
// channel writes.
type ChannelDefragmenter struct {
	buffer    bytes.Buffer
	receiving bool
}

// Process handles a channel chunk and returns complete data when available
func (d *ChannelDefragmenter) Process(chunk *ChannelChunk) ([]byte, bool) {
	if chunk.Header.IsFirst() {
		d.buffer.Reset()
		d.receiving = true
	}

	if !d.receiving {
		return nil, false
	}

	d.buffer.Write(chunk.Data)

	if chunk.Header.IsLast() {
		d.receiving = false
		return d.buffer.Bytes(), true
	}

	return nil, false
}
