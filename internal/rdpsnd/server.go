// Package rdpsnd implements the server-side endpoint of the RDP audio output
// virtual channel. The embedder feeds it PCM frames; the endpoint negotiates
// a format with the client, converts pushed audio to the negotiated rate,
// channel count and codec, and frames it into wave PDU pairs.
package rdpsnd

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rcarmo/go-rdpsnd/internal/dsp"
	"github.com/rcarmo/go-rdpsnd/internal/logging"
	"github.com/rcarmo/go-rdpsnd/internal/protocol/audio"
	"github.com/rcarmo/go-rdpsnd/internal/transport"
)

var (
	// ErrNoFormatSelected is returned by sample and close operations before
	// SelectFormat has chosen a client format.
	ErrNoFormatSelected = errors.New("rdpsnd: no client format selected")

	// ErrNotStarted is returned by operations that need an open channel.
	ErrNotStarted = errors.New("rdpsnd: endpoint not started")
)

// ActivatedHandler runs on the receiver goroutine after a successful format
// handshake, with the client's format list populated. The embedder is
// expected to call SelectFormat from within it (or strictly after it).
type ActivatedHandler func(*Server)

// Server is one rdpsnd endpoint bound to one virtual channel connection.
//
// One goroutine (the receiver) services incoming PDUs; the embedder drives
// SendSamples, SetVolume, SelectFormat and Close from its producer thread.
// Producer calls are serialized internally, so a single logical producer is
// all the embedder has to guarantee.
type Server struct {
	manager transport.Manager
	proc    dsp.Processor
	log     *logging.Logger

	onActivated ActivatedHandler

	serverFormats []audio.AudioFormat
	srcFormat     audio.AudioFormat

	mu      sync.Mutex
	channel transport.Channel
	started bool

	clientFormats      []audio.AudioFormat
	selectedFormat     int
	qualityMode        uint16
	lastConfirmedBlock uint8

	srcBytesPerSample int
	srcBytesPerFrame  int
	blockNo           uint8
	outBuffer         []byte
	outFrames         int
	outPendingFrames  int

	stop chan struct{}
	done chan struct{}
}

// DefaultSourceFormat is the PCM stream the endpoint expects from the
// embedder unless SetSourceFormat overrides it.
var DefaultSourceFormat = audio.AudioFormat{
	FormatTag:     audio.WAVE_FORMAT_PCM,
	Channels:      2,
	SamplesPerSec: 44100,
	BlockAlign:    4,
	BitsPerSample: 16,
}

// New creates an endpoint on the given channel manager. Configure it with
// the Set* methods before calling Start.
func New(manager transport.Manager) *Server {
	return &Server{
		manager:        manager,
		proc:           dsp.NewProcessor(),
		log:            logging.Default(),
		srcFormat:      DefaultSourceFormat,
		serverFormats:  []audio.AudioFormat{DefaultSourceFormat},
		selectedFormat: -1,
	}
}

// SetSourceFormat declares the PCM format SendSamples will push.
// Must be called before Start.
func (s *Server) SetSourceFormat(f audio.AudioFormat) {
	s.srcFormat = f
}

// SetServerFormats replaces the format list advertised to the client.
// Must be called before Start.
func (s *Server) SetServerFormats(formats []audio.AudioFormat) {
	s.serverFormats = formats
}

// SetActivatedHandler installs the handshake callback.
// Must be called before Start.
func (s *Server) SetActivatedHandler(h ActivatedHandler) {
	s.onActivated = h
}

// SetProcessor overrides the DSP processor. Must be called before Start.
func (s *Server) SetProcessor(p dsp.Processor) {
	s.proc = p
}

// SetLogger overrides the package logger. Must be called before Start.
func (s *Server) SetLogger(l *logging.Logger) {
	s.log = l
}

// Start opens the rdpsnd channel, announces the server formats and starts
// the receiver goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("rdpsnd: endpoint already started")
	}

	channel, err := s.manager.OpenChannel(audio.ChannelRDPSND)
	if err != nil {
		return fmt.Errorf("rdpsnd: open channel: %w", err)
	}
	s.channel = channel
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.started = true

	if err := s.sendServerFormatsLocked(); err != nil {
		s.started = false
		_ = channel.Close()
		s.channel = nil
		return err
	}

	go s.run()
	return nil
}

// sendServerFormatsLocked announces the server's format list (SNDC_FORMATS).
func (s *Server) sendServerFormatsLocked() error {
	list := audio.FormatList{
		LastBlockConfirmed: s.blockNo,
		Version:            audio.ProtocolVersion,
		Formats:            s.serverFormats,
	}
	if err := s.channel.Write(audio.BuildPDU(audio.SND_FORMATS, list.Serialize())); err != nil {
		return fmt.Errorf("rdpsnd: send server formats: %w", err)
	}
	s.log.Debug("rdpsnd: announced %d server formats", len(s.serverFormats))
	return nil
}

// ClientFormats returns a copy of the formats the client reported.
func (s *Server) ClientFormats() []audio.AudioFormat {
	s.mu.Lock()
	defer s.mu.Unlock()

	formats := make([]audio.AudioFormat, len(s.clientFormats))
	copy(formats, s.clientFormats)
	return formats
}

// SelectedFormat returns the selected client format index, -1 if none.
func (s *Server) SelectedFormat() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedFormat
}

// QualityMode returns the last quality hint the client sent.
func (s *Server) QualityMode() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qualityMode
}

// LastConfirmedBlock returns the block number of the client's most recent
// wave confirmation.
func (s *Server) LastConfirmedBlock() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConfirmedBlock
}

// SelectFormat chooses the client format SendSamples will target and sizes
// the outbound buffer for it. An out-of-range index, or a descriptor with a
// zero sample rate, leaves the endpoint unchanged.
func (s *Server) SelectFormat(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.clientFormats) {
		s.log.Warn("rdpsnd: select format: index %d out of range", index)
		return
	}
	format := s.clientFormats[index]
	if format.SamplesPerSec == 0 {
		s.log.Warn("rdpsnd: select format: %s has no sample rate", format.String())
		return
	}

	s.srcBytesPerSample = int(s.srcFormat.BitsPerSample) / 8
	s.srcBytesPerFrame = s.srcBytesPerSample * int(s.srcFormat.Channels)
	s.selectedFormat = index

	// Size the accumulation buffer: a whole number of client codec blocks for
	// IMA and MS ADPCM (e.g. three 2040-frame blocks for mono IMA with
	// blockAlign 1024), otherwise 16 KiB of source PCM. When the client rate
	// differs, the count is rescaled to source-rate frames, rounded up less a
	// small bias.
	switch format.FormatTag {
	case audio.WAVE_FORMAT_IMA_ADPCM:
		bs := (int(format.BlockAlign) - 4*int(format.Channels)) * 4
		s.outFrames = (int(format.BlockAlign)*4*int(format.Channels)*2/bs + 1) * bs / (int(format.Channels) * 2)
	case audio.WAVE_FORMAT_ADPCM:
		bs := (int(format.BlockAlign)-7*int(format.Channels))*2/int(format.Channels) + 2
		s.outFrames = bs * 4
	default:
		s.outFrames = 0x4000 / s.srcBytesPerFrame
	}

	if format.SamplesPerSec != s.srcFormat.SamplesPerSec {
		s.outFrames = (s.outFrames*int(s.srcFormat.SamplesPerSec) + int(format.SamplesPerSec) - 100) /
			int(format.SamplesPerSec)
	}
	s.outPendingFrames = 0

	if need := s.outFrames * s.srcBytesPerFrame; len(s.outBuffer) < need {
		s.outBuffer = make([]byte, need)
	}
	s.proc.ResetADPCM()

	s.log.Info("rdpsnd: selected client format %d: %s", index, format.String())
}

// SendSamples pushes nframes frames of source-format PCM. Frames accumulate
// until the outbound buffer fills, at which point they are converted and
// sent as one wave PDU pair. Fails with ErrNoFormatSelected until a format
// is chosen; otherwise only a channel write failure is surfaced.
func (s *Server) SendSamples(buf []byte, nframes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectedFormat < 0 {
		return ErrNoFormatSelected
	}

	for nframes > 0 {
		cframes := s.outFrames - s.outPendingFrames
		if nframes < cframes {
			cframes = nframes
		}
		cbytes := cframes * s.srcBytesPerFrame

		copy(s.outBuffer[s.outPendingFrames*s.srcBytesPerFrame:], buf[:cbytes])
		buf = buf[cbytes:]
		nframes -= cframes
		s.outPendingFrames += cframes

		if s.outPendingFrames >= s.outFrames {
			if err := s.sendWavePDULocked(); err != nil {
				return err
			}
		}
	}

	return nil
}

// sendWavePDULocked converts the pending frames to the client format and
// writes one WaveInfo+Wave PDU pair.
func (s *Server) sendWavePDULocked() error {
	format := s.clientFormats[s.selectedFormat]
	bytesPerFrame := int(format.Channels) * s.srcBytesPerSample

	var payload []byte
	frames := s.outPendingFrames

	if format.SamplesPerSec == s.srcFormat.SamplesPerSec && format.Channels == s.srcFormat.Channels {
		payload = s.outBuffer[:frames*s.srcBytesPerFrame]
	} else {
		payload, frames = s.proc.Resample(
			s.outBuffer[:s.outPendingFrames*s.srcBytesPerFrame],
			s.srcBytesPerSample,
			int(s.srcFormat.Channels), int(s.srcFormat.SamplesPerSec), s.outPendingFrames,
			int(format.Channels), int(format.SamplesPerSec))
	}
	payload = payload[:frames*bytesPerFrame]

	switch format.FormatTag {
	case audio.WAVE_FORMAT_IMA_ADPCM:
		payload = s.proc.EncodeIMAADPCM(payload, int(format.Channels), int(format.BlockAlign))
	case audio.WAVE_FORMAT_ADPCM:
		payload = s.proc.EncodeMSADPCM(payload, int(format.Channels), int(format.BlockAlign))
	case audio.WAVE_FORMAT_ALAW:
		payload = s.proc.EncodeALaw(payload)
	case audio.WAVE_FORMAT_MULAW:
		payload = s.proc.EncodeULaw(payload)
	}

	s.blockNo++

	// a short final block of a block-structured codec is zero-filled to the
	// next blockAlign boundary
	fill := 0
	adpcm := format.FormatTag == audio.WAVE_FORMAT_IMA_ADPCM || format.FormatTag == audio.WAVE_FORMAT_ADPCM
	if adpcm && s.outPendingFrames < s.outFrames && len(payload)%int(format.BlockAlign) != 0 {
		fill = int(format.BlockAlign) - len(payload)%int(format.BlockAlign)
	}

	// the wave info PDU inlines the first four payload bytes
	if len(payload) < 4 {
		padded := make([]byte, 4)
		copy(padded, payload)
		payload = padded
	}

	waveInfo, wave := audio.EncodeWavePDUs(uint16(s.selectedFormat), s.blockNo, payload, fill)
	if err := s.channel.Write(waveInfo); err != nil {
		return fmt.Errorf("rdpsnd: send wave info: %w", err)
	}
	if err := s.channel.Write(wave); err != nil {
		return fmt.Errorf("rdpsnd: send wave data: %w", err)
	}

	s.outPendingFrames = 0
	return nil
}

// SetVolume asks the client to set its left/right rendering volume.
func (s *Server) SetVolume(left, right uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}

	body := (&audio.SetVolumePDU{Left: left, Right: right}).Serialize()
	if err := s.channel.Write(audio.BuildPDU(audio.SND_SET_VOLUME, body)); err != nil {
		return fmt.Errorf("rdpsnd: send volume: %w", err)
	}
	return nil
}

// Close flushes pending frames, tells the client to close its playback
// stream and drops the selected format. The endpoint stays usable: a new
// SelectFormat re-enables SendSamples.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selectedFormat < 0 {
		return ErrNoFormatSelected
	}

	if s.outPendingFrames > 0 {
		if err := s.sendWavePDULocked(); err != nil {
			return err
		}
	}

	s.selectedFormat = -1

	if err := s.channel.Write(audio.BuildPDU(audio.SND_CLOSE, nil)); err != nil {
		return fmt.Errorf("rdpsnd: send close: %w", err)
	}
	return nil
}

// Free stops the receiver goroutine, closes the channel and releases the
// endpoint's buffers. It is idempotent and safe after a failed Start.
func (s *Server) Free() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.selectedFormat = -1
	close(s.stop)
	channel := s.channel
	s.channel = nil
	s.mu.Unlock()

	// closing the channel unblocks the receiver's read
	_ = channel.Close()
	<-s.done

	s.mu.Lock()
	s.clientFormats = nil
	s.outBuffer = nil
	s.outPendingFrames = 0
	s.mu.Unlock()
}
