package rdpsnd

import (
	"errors"

	"github.com/rcarmo/go-rdpsnd/internal/protocol/audio"
	"github.com/rcarmo/go-rdpsnd/internal/transport"
)

// run is the receiver goroutine. It reads one PDU per iteration, growing the
// buffer once when the transport reports a larger pending message, and exits
// on the stop signal or channel EOF. Malformed PDUs are dropped, never fatal.
func (s *Server) run() {
	defer close(s.done)

	buf := make([]byte, 4096)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		n, err := s.readPDU(&buf)
		if err != nil {
			return
		}
		s.dispatch(buf[:n])
	}
}

// readPDU reads one channel message, retrying once with a grown buffer when
// the transport signals the message does not fit.
func (s *Server) readPDU(buf *[]byte) (int, error) {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == nil {
		return 0, ErrNotStarted
	}

	n, err := channel.Read(*buf)
	if err != nil {
		var short *transport.ShortBufferError
		if !errors.As(err, &short) {
			return 0, err
		}
		if short.Size > len(*buf) {
			*buf = make([]byte, short.Size)
		}
		n, err = channel.Read(*buf)
		if err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (s *Server) dispatch(data []byte) {
	header, body, err := audio.SplitPDU(data)
	if err != nil {
		s.log.Warn("rdpsnd: dropping malformed PDU: %v", err)
		return
	}

	switch header.MsgType {
	case audio.SND_FORMATS:
		s.recvFormats(body)
	case audio.SND_QUALITYMODE:
		s.recvQualityMode(body)
	case audio.SND_WAVE_CONFIRM:
		s.recvWaveConfirm(body)
	case audio.SND_TRAINING:
		s.recvTrainingConfirm(body)
	default:
		s.log.Debug("rdpsnd: ignoring message type 0x%02X", header.MsgType)
	}
}

// recvFormats handles the client's SNDC_FORMATS response. A well-formed list
// with at least one known format completes the handshake and fires the
// Activated callback; a repeated handshake replaces the previous list.
func (s *Server) recvFormats(body []byte) {
	var list audio.FormatList
	if err := list.Deserialize(body); err != nil {
		s.log.Warn("rdpsnd: client format list rejected: %v", err)
		return
	}

	for i := range list.Formats {
		s.log.Debug("rdpsnd: client format %d: %s", i, list.Formats[i].String())
	}

	if audio.KnownFormatCount(list.Formats) == 0 {
		s.log.Warn("rdpsnd: handshake failed: client offered no known format")
		return
	}

	s.mu.Lock()
	s.clientFormats = list.Formats
	s.mu.Unlock()

	s.log.Info("rdpsnd: handshake complete, client offered %d formats (version %d)",
		len(list.Formats), list.Version)

	// fired without the lock so the handler may call SelectFormat
	if s.onActivated != nil {
		s.onActivated(s)
	}
}

func (s *Server) recvQualityMode(body []byte) {
	var quality audio.QualityModePDU
	if err := quality.Deserialize(body); err != nil {
		s.log.Warn("rdpsnd: quality mode rejected: %v", err)
		return
	}

	s.mu.Lock()
	s.qualityMode = quality.QualityMode
	s.mu.Unlock()

	s.log.Info("rdpsnd: client requested quality mode 0x%04X", quality.QualityMode)
}

func (s *Server) recvWaveConfirm(body []byte) {
	var confirm audio.WaveConfirmPDU
	if err := confirm.Deserialize(body); err != nil {
		s.log.Warn("rdpsnd: wave confirm rejected: %v", err)
		return
	}

	s.mu.Lock()
	s.lastConfirmedBlock = confirm.ConfirmedBlock
	s.mu.Unlock()

	s.log.Debug("rdpsnd: client confirmed block %d (timestamp %d)",
		confirm.ConfirmedBlock, confirm.Timestamp)
}

func (s *Server) recvTrainingConfirm(body []byte) {
	var training audio.TrainingPDU
	if err := training.Deserialize(body); err != nil {
		s.log.Warn("rdpsnd: training confirm rejected: %v", err)
		return
	}

	s.log.Debug("rdpsnd: training confirm timestamp=%d size=%d",
		training.Timestamp, training.PackSize)
}
