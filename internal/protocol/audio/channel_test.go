package audio

import (
	"bytes"
	"testing"
)

func TestChannelPDUHeader_Serialize(t *testing.T) {
	h := ChannelPDUHeader{
		Length: 0x11223344,
		Flags:  ChannelFlagFirst | ChannelFlagLast,
	}

	result := h.Serialize()
	expected := []byte{0x44, 0x33, 0x22, 0x11, 0x03, 0x00, 0x00, 0x00}
	if !bytes.Equal(result, expected) {
		t.Errorf("Serialize() = %v, want %v", result, expected)
	}
}

func TestParseChannelChunk(t *testing.T) {
	data := []byte{
		0x04, 0x00, 0x00, 0x00, // Length = 4
		0x03, 0x00, 0x00, 0x00, // Flags = first|last
		0xAA, 0xBB, 0xCC, 0xDD,
	}

	chunk, err := ParseChannelChunk(data)
	if err != nil {
		t.Fatalf("ParseChannelChunk() error = %v", err)
	}
	if !chunk.Header.IsFirst() || !chunk.Header.IsLast() {
		t.Errorf("flags = 0x%08X, want first|last", chunk.Header.Flags)
	}
	if !bytes.Equal(chunk.Data, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Errorf("Data = %v", chunk.Data)
	}
}

func TestParseChannelChunk_TooShort(t *testing.T) {
	if _, err := ParseChannelChunk([]byte{0x01, 0x02}); err == nil {
		t.Error("ParseChannelChunk() should reject data under 8 bytes")
	}
}

func TestFragmentChannelData_Small(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}

	frames := FragmentChannelData(data)
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}

	chunk, err := ParseChannelChunk(frames[0])
	if err != nil {
		t.Fatalf("ParseChannelChunk() error = %v", err)
	}
	if !chunk.Header.IsFirst() || !chunk.Header.IsLast() {
		t.Error("single chunk must carry first and last flags")
	}
	if chunk.Header.Length != 5 {
		t.Errorf("Length = %d, want 5", chunk.Header.Length)
	}
	if !bytes.Equal(chunk.Data, data) {
		t.Errorf("Data = %v, want %v", chunk.Data, data)
	}
}

func TestFragmentChannelData_Large(t *testing.T) {
	data := make([]byte, MaxChunkLength*2+100)
	for i := range data {
		data[i] = byte(i)
	}

	frames := FragmentChannelData(data)
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}

	var defrag ChannelDefragmenter
	var complete []byte
	for i, frame := range frames {
		chunk, err := ParseChannelChunk(frame)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if chunk.Header.Length != uint32(len(data)) {
			t.Errorf("chunk %d: Length = %d, want %d", i, chunk.Header.Length, len(data))
		}
		if got, ok := defrag.Process(chunk); ok {
			complete = got
		}
	}

	if !bytes.Equal(complete, data) {
		t.Errorf("reassembled %d bytes, want %d matching bytes", len(complete), len(data))
	}
}

func TestChannelDefragmenter_IgnoresTailWithoutFirst(t *testing.T) {
	var defrag ChannelDefragmenter

	chunk := &ChannelChunk{
		Header: ChannelPDUHeader{Length: 4, Flags: ChannelFlagLast},
		Data:   []byte{1, 2, 3, 4},
	}
	if _, ok := defrag.Process(chunk); ok {
		t.Error("defragmenter returned data for a tail chunk with no first chunk")
	}
}

func TestChannelDefragmenter_RestartsOnFirst(t *testing.T) {
	var defrag ChannelDefragmenter

	// an interrupted message followed by a complete one
	defrag.Process(&ChannelChunk{
		Header: ChannelPDUHeader{Length: 100, Flags: ChannelFlagFirst},
		Data:   []byte{9, 9, 9},
	})

	got, ok := defrag.Process(&ChannelChunk{
		Header: ChannelPDUHeader{Length: 2, Flags: ChannelFlagFirst | ChannelFlagLast},
		Data:   []byte{1, 2},
	})
	if !ok {
		t.Fatal("defragmenter did not complete the second message")
	}
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("data = %v, want [1 2]", got)
	}
}
