// Package audio implements the RDP audio output virtual channel wire protocol.
// MS-RDPEA: Remote Desktop Protocol Audio Output Virtual Channel Extension
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ChannelRDPSND is the static virtual channel name for audio output.
const ChannelRDPSND = "rdpsnd"

// RDPSND message types (MS-RDPEA 2.2.2)
const (
	SND_CLOSE         = 0x01
	SND_WAVE          = 0x02
	SND_SET_VOLUME    = 0x03
	SND_SET_PITCH     = 0x04
	SND_WAVE_CONFIRM  = 0x05
	SND_TRAINING      = 0x06
	SND_FORMATS       = 0x07
	SND_CRYPT_KEY     = 0x08
	SND_WAVE_ENCRYPT  = 0x09
	SND_UDP_WAVE      = 0x0A
	SND_UDP_WAVE_LAST = 0x0B
	SND_QUALITYMODE   = 0x0C
	SND_WAVE2         = 0x0D
)

// Audio format tags (WAVE format identifiers)
const (
	WAVE_FORMAT_PCM        = 0x0001
	WAVE_FORMAT_ADPCM      = 0x0002
	WAVE_FORMAT_ALAW       = 0x0006
	WAVE_FORMAT_MULAW      = 0x0007
	WAVE_FORMAT_IMA_ADPCM  = 0x0011
	WAVE_FORMAT_GSM610     = 0x0031
	WAVE_FORMAT_MPEGLAYER3 = 0x0055
	WAVE_FORMAT_AAC        = 0x00FF
)

// Client capability flags (TSSNDCAPS in MS-RDPEA 2.2.2.2)
const (
	TSSNDCAPS_ALIVE  uint32 = 0x00000001
	TSSNDCAPS_VOLUME uint32 = 0x00000002
	TSSNDCAPS_PITCH  uint32 = 0x00000004
)

// ProtocolVersion is the version advertised in the server format list.
const ProtocolVersion uint16 = 0x06

// PDUHeaderSize is the fixed RDPSND header length.
const PDUHeaderSize = 4

// PDUHeader represents the RDPSND PDU header
type PDUHeader struct {
	MsgType  uint8
	Reserved uint8
	BodySize uint16
}

func (h *PDUHeader) Serialize() []byte {
	buf := make([]byte, 4)
	buf[0] = h.MsgType
	buf[1] = h.Reserved
	binary.LittleEndian.PutUint16(buf[2:4], h.BodySize)
	return buf
}

func (h *PDUHeader) Deserialize(r io.Reader) error {
	return binary.Read(r, binary.LittleEndian, h)
}

// BuildPDU frames a body with the RDPSND header, filling in BodySize.
func BuildPDU(msgType uint8, body []byte) []byte {
	header := PDUHeader{
		MsgType:  msgType,
		Reserved: 0,
		BodySize: uint16(len(body)),
	}
	return append(header.Serialize(), body...)
}

// SplitPDU validates a framed PDU against its header and returns the body.
func SplitPDU(data []byte) (PDUHeader, []byte, error) {
	var h PDUHeader
	if len(data) < PDUHeaderSize {
		return h, nil, fmt.Errorf("rdpsnd pdu too short: %d bytes", len(data))
	}
	if err := h.Deserialize(bytes.NewReader(data[:PDUHeaderSize])); err != nil {
		return h, nil, err
	}
	if len(data)-PDUHeaderSize < int(h.BodySize) {
		return h, nil, fmt.Errorf("rdpsnd pdu body truncated: have %d, header claims %d",
			len(data)-PDUHeaderSize, h.BodySize)
	}
	return h, data[PDUHeaderSize : PDUHeaderSize+int(h.BodySize)], nil
}

// FormatSize is the fixed part of a wire format descriptor.
const FormatSize = 18

// AudioFormat represents an audio format descriptor
type AudioFormat struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	ExtraDataSize  uint16
	ExtraData      []byte
}

func (f *AudioFormat) Serialize() []byte {
	size := FormatSize + len(f.ExtraData)
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf[0:2], f.FormatTag)
	binary.LittleEndian.PutUint16(buf[2:4], f.Channels)
	binary.LittleEndian.PutUint32(buf[4:8], f.SamplesPerSec)
	binary.LittleEndian.PutUint32(buf[8:12], f.AvgBytesPerSec)
	binary.LittleEndian.PutUint16(buf[12:14], f.BlockAlign)
	binary.LittleEndian.PutUint16(buf[14:16], f.BitsPerSample)
	binary.LittleEndian.PutUint16(buf[16:18], f.ExtraDataSize)
	if len(f.ExtraData) > 0 {
		copy(buf[18:], f.ExtraData)
	}
	return buf
}

func (f *AudioFormat) Deserialize(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &f.FormatTag); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.Channels); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.SamplesPerSec); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.AvgBytesPerSec); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.BlockAlign); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.BitsPerSample); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &f.ExtraDataSize); err != nil {
		return err
	}
	if f.ExtraDataSize > 0 {
		f.ExtraData = make([]byte, f.ExtraDataSize)
		if _, err := io.ReadFull(r, f.ExtraData); err != nil {
			return err
		}
	}
	return nil
}

// BytesPerFrame returns the uncompressed frame size implied by the descriptor.
func (f *AudioFormat) BytesPerFrame() int {
	return int(f.BitsPerSample) / 8 * int(f.Channels)
}

// Known reports whether the descriptor carries a recognized format tag.
// A zero tag marks a placeholder entry in a client's response.
func (f *AudioFormat) Known() bool {
	return f.FormatTag != 0
}

// String returns a human-readable format description
func (f *AudioFormat) String() string {
	var formatName string
	switch f.FormatTag {
	case WAVE_FORMAT_PCM:
		formatName = "PCM"
	case WAVE_FORMAT_ADPCM:
		formatName = "MS-ADPCM"
	case WAVE_FORMAT_IMA_ADPCM:
		formatName = "IMA-ADPCM"
	case WAVE_FORMAT_ALAW:
		formatName = "A-Law"
	case WAVE_FORMAT_MULAW:
		formatName = "µ-Law"
	case WAVE_FORMAT_AAC:
		formatName = "AAC"
	case WAVE_FORMAT_MPEGLAYER3:
		formatName = "MP3"
	default:
		formatName = fmt.Sprintf("0x%04X", f.FormatTag)
	}
	return fmt.Sprintf("%s %dHz %dch %dbit", formatName, f.SamplesPerSec, f.Channels, f.BitsPerSample)
}

// KnownFormatCount counts entries with a non-zero format tag.
func KnownFormatCount(formats []AudioFormat) int {
	n := 0
	for i := range formats {
		if formats[i].Known() {
			n++
		}
	}
	return n
}

// formatListHeaderSize is the fixed part of the SNDC_FORMATS body.
const formatListHeaderSize = 20

// FormatList represents the SNDC_FORMATS body. The same layout travels in
// both directions: the server announces its formats, the client answers with
// the formats it can render (MS-RDPEA 2.2.2.1, 2.2.2.2).
type FormatList struct {
	Flags              uint32
	Volume             uint32
	Pitch              uint32
	DGramPort          uint16
	LastBlockConfirmed uint8
	Version            uint16
	Pad                uint8
	Formats            []AudioFormat
}

// Serialize encodes the format list body. Each descriptor's AvgBytesPerSec is
// recomputed from rate, channel count and sample width so callers only fill
// in the fields they care about.
func (l *FormatList) Serialize() []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, l.Flags)
	_ = binary.Write(&buf, binary.LittleEndian, l.Volume)
	_ = binary.Write(&buf, binary.LittleEndian, l.Pitch)
	_ = binary.Write(&buf, binary.LittleEndian, l.DGramPort)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(l.Formats)))
	_ = binary.Write(&buf, binary.LittleEndian, l.LastBlockConfirmed)
	_ = binary.Write(&buf, binary.LittleEndian, l.Version)
	_ = binary.Write(&buf, binary.LittleEndian, l.Pad)

	for i := range l.Formats {
		f := l.Formats[i]
		f.AvgBytesPerSec = f.SamplesPerSec * uint32(f.Channels) * uint32(f.BitsPerSample) / 8
		buf.Write(f.Serialize())
	}

	return buf.Bytes()
}

// Deserialize decodes a format list body. It enforces the 20-byte fixed
// header and the 18-byte minimum per descriptor; on violation no partial
// format list is kept.
func (l *FormatList) Deserialize(data []byte) error {
	if len(data) < formatListHeaderSize {
		return fmt.Errorf("format list header too short: %d bytes", len(data))
	}
	r := bytes.NewReader(data)

	var numFormats uint16
	_ = binary.Read(r, binary.LittleEndian, &l.Flags)
	_ = binary.Read(r, binary.LittleEndian, &l.Volume)
	_ = binary.Read(r, binary.LittleEndian, &l.Pitch)
	_ = binary.Read(r, binary.LittleEndian, &l.DGramPort)
	_ = binary.Read(r, binary.LittleEndian, &numFormats)
	_ = binary.Read(r, binary.LittleEndian, &l.LastBlockConfirmed)
	_ = binary.Read(r, binary.LittleEndian, &l.Version)
	_ = binary.Read(r, binary.LittleEndian, &l.Pad)

	formats := make([]AudioFormat, 0, numFormats)
	for i := uint16(0); i < numFormats; i++ {
		if r.Len() < FormatSize {
			l.Formats = nil
			return fmt.Errorf("format %d: %d bytes left, need %d", i, r.Len(), FormatSize)
		}
		var f AudioFormat
		if err := f.Deserialize(r); err != nil {
			l.Formats = nil
			return fmt.Errorf("format %d: %w", i, err)
		}
		formats = append(formats, f)
	}
	l.Formats = formats

	return nil
}

// WaveInfoPDU represents SNDC_WAVE, the first half of a wave PDU pair.
// On the wire it carries the first four payload bytes inline; the remainder
// travels in the immediately following data PDU.
type WaveInfoPDU struct {
	Timestamp   uint16
	FormatNo    uint16
	BlockNo     uint8
	Padding     [3]byte
	InitialData []byte // first 4 bytes of the audio payload
}

func (w *WaveInfoPDU) Serialize() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:2], w.Timestamp)
	binary.LittleEndian.PutUint16(buf[2:4], w.FormatNo)
	buf[4] = w.BlockNo
	copy(buf[5:8], w.Padding[:])
	copy(buf[8:12], w.InitialData)
	return buf
}

func (w *WaveInfoPDU) Deserialize(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("wave info too short")
	}
	w.Timestamp = binary.LittleEndian.Uint16(data[0:2])
	w.FormatNo = binary.LittleEndian.Uint16(data[2:4])
	w.BlockNo = data[4]
	copy(w.Padding[:], data[5:8])
	w.InitialData = make([]byte, 4)
	copy(w.InitialData, data[8:12])
	return nil
}

// EncodeWavePDUs produces the WaveInfo and Wave PDUs for one audio block.
// The WaveInfo header's BodySize covers the whole block (payload + fill + 8
// bytes of wave metadata); the Wave PDU body is a 4-byte zero pad, the
// payload from byte 4 onward, and fill zero bytes. payload must hold at
// least 4 bytes.
func EncodeWavePDUs(formatNo uint16, blockNo uint8, payload []byte, fill int) (waveInfo, wave []byte) {
	info := WaveInfoPDU{
		Timestamp:   0,
		FormatNo:    formatNo,
		BlockNo:     blockNo,
		InitialData: payload[:4],
	}

	waveInfo = append((&PDUHeader{
		MsgType:  SND_WAVE,
		BodySize: uint16(len(payload) + fill + 8),
	}).Serialize(), info.Serialize()...)

	wave = make([]byte, 4+len(payload)-4+fill)
	copy(wave[4:], payload[4:])
	return waveInfo, wave
}

// SetVolumePDU represents SNDC_SET_VOLUME. Left and right are linear volumes,
// 0x0000 silence to 0xFFFF full.
type SetVolumePDU struct {
	Left  uint16
	Right uint16
}

func (v *SetVolumePDU) Serialize() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], v.Left)
	binary.LittleEndian.PutUint16(buf[2:4], v.Right)
	return buf
}

func (v *SetVolumePDU) Deserialize(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("set volume PDU too short")
	}
	v.Left = binary.LittleEndian.Uint16(data[0:2])
	v.Right = binary.LittleEndian.Uint16(data[2:4])
	return nil
}

// WaveConfirmPDU represents SNDC_WAVECONFIRM, the client's acknowledgment of
// a wave PDU pair.
type WaveConfirmPDU struct {
	Timestamp      uint16
	ConfirmedBlock uint8
	Padding        uint8
}

func (w *WaveConfirmPDU) Serialize() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], w.Timestamp)
	buf[2] = w.ConfirmedBlock
	buf[3] = w.Padding
	return buf
}

func (w *WaveConfirmPDU) Deserialize(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("wave confirm PDU too short")
	}
	w.Timestamp = binary.LittleEndian.Uint16(data[0:2])
	w.ConfirmedBlock = data[2]
	w.Padding = data[3]
	return nil
}

// TrainingPDU represents SNDC_TRAINING
type TrainingPDU struct {
	Timestamp uint16
	PackSize  uint16
	Data      []byte
}

func (t *TrainingPDU) Serialize() []byte {
	buf := make([]byte, 4+len(t.Data))
	binary.LittleEndian.PutUint16(buf[0:2], t.Timestamp)
	binary.LittleEndian.PutUint16(buf[2:4], t.PackSize)
	copy(buf[4:], t.Data)
	return buf
}

func (t *TrainingPDU) Deserialize(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("training PDU too short")
	}
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &t.Timestamp); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &t.PackSize); err != nil {
		return err
	}
	if t.PackSize > 4 {
		t.Data = make([]byte, t.PackSize-4)
		if _, err := io.ReadFull(r, t.Data); err != nil {
			return err
		}
	}
	return nil
}

// QualityModePDU represents SNDC_QUALITYMODE. The client may send this once
// after the handshake to hint at its bandwidth/quality preference.
type QualityModePDU struct {
	QualityMode uint16
	Reserved    uint16
}

func (q *QualityModePDU) Serialize() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], q.QualityMode)
	binary.LittleEndian.PutUint16(buf[2:4], q.Reserved)
	return buf
}

func (q *QualityModePDU) Deserialize(data []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("quality mode PDU too short")
	}
	q.QualityMode = binary.LittleEndian.Uint16(data[0:2])
	if len(data) >= 4 {
		q.Reserved = binary.LittleEndian.Uint16(data[2:4])
	}
	return nil
}

// Quality mode constants
const (
	QualityModeDynamic = 0x0000
	QualityModeMedium  = 0x0001
	QualityModeHigh    = 0x0002
)
