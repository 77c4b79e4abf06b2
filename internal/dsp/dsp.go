// Package dsp provides the sample-format conversions the audio pipeline
// needs before framing: channel and sample-rate conversion, ADPCM block
// compression, and G.711 companding.
package dsp

import (
	"encoding/binary"
)

// Processor is the conversion contract the rdpsnd pipeline drives. The ADPCM
// encoders carry predictor state across calls; ResetADPCM clears it when a
// new client format is selected.
type Processor interface {
	// Resample converts src (interleaved PCM, srcFrames frames of
	// srcChannels at srcRate) to dstChannels at dstRate. It returns the
	// converted buffer and its frame count. The returned slice is only
	// valid until the next Resample call.
	Resample(src []byte, bytesPerSample, srcChannels, srcRate, srcFrames, dstChannels, dstRate int) ([]byte, int)

	// EncodeIMAADPCM compresses 16-bit PCM into IMA ADPCM blocks of
	// blockAlign bytes. The returned slice is valid until the next encode.
	EncodeIMAADPCM(src []byte, channels, blockAlign int) []byte

	// EncodeMSADPCM compresses 16-bit PCM into MS ADPCM blocks of
	// blockAlign bytes. The returned slice is valid until the next encode.
	EncodeMSADPCM(src []byte, channels, blockAlign int) []byte

	// EncodeALaw compands 16-bit PCM to 8-bit A-law, one byte per sample.
	EncodeALaw(src []byte) []byte

	// EncodeULaw compands 16-bit PCM to 8-bit µ-law, one byte per sample.
	EncodeULaw(src []byte) []byte

	// ResetADPCM clears the ADPCM predictor state.
	ResetADPCM()
}

// NewProcessor returns the native Processor implementation.
func NewProcessor() Processor {
	p := &processor{}
	p.ResetADPCM()
	return p
}

type processor struct {
	resampled []byte
	adpcm     []byte

	ima imaState
	ms  msState
}

// Resample mixes channels first, then converts the rate. 16-bit samples get
// linear interpolation; other widths fall back to nearest-frame selection.
func (p *processor) Resample(src []byte, bytesPerSample, srcChannels, srcRate, srcFrames, dstChannels, dstRate int) ([]byte, int) {
	if srcFrames == 0 || srcRate <= 0 || dstRate <= 0 {
		return nil, 0
	}

	mixed := src
	if srcChannels != dstChannels {
		mixed = p.mixChannels(src, bytesPerSample, srcChannels, srcFrames, dstChannels)
	}

	if srcRate == dstRate {
		out := p.grow(&p.resampled, srcFrames*bytesPerSample*dstChannels)
		copy(out, mixed[:srcFrames*bytesPerSample*dstChannels])
		return out, srcFrames
	}

	dstFrames := srcFrames * dstRate / srcRate
	if dstFrames == 0 {
		dstFrames = 1
	}
	frameSize := bytesPerSample * dstChannels
	out := p.grow(&p.resampled, dstFrames*frameSize)

	if bytesPerSample == 2 {
		p.lerp16(mixed, out, dstChannels, srcFrames, dstFrames)
	} else {
		for i := 0; i < dstFrames; i++ {
			j := i * srcFrames / dstFrames
			copy(out[i*frameSize:(i+1)*frameSize], mixed[j*frameSize:(j+1)*frameSize])
		}
	}
	return out, dstFrames
}

// lerp16 linearly interpolates 16-bit interleaved frames.
func (p *processor) lerp16(src, dst []byte, channels, srcFrames, dstFrames int) {
	for i := 0; i < dstFrames; i++ {
		// fixed-point source position, 16 fractional bits
		pos := i * (srcFrames - 1) << 16 / dstFrames
		j := pos >> 16
		frac := pos & 0xFFFF
		next := j + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for ch := 0; ch < channels; ch++ {
			a := int(int16(binary.LittleEndian.Uint16(src[(j*channels+ch)*2:])))
			b := int(int16(binary.LittleEndian.Uint16(src[(next*channels+ch)*2:])))
			v := a + (b-a)*frac>>16
			binary.LittleEndian.PutUint16(dst[(i*channels+ch)*2:], uint16(int16(v)))
		}
	}
}

// mixChannels converts the channel count. 16-bit audio is averaged down to
// mono; otherwise each destination channel copies the source channel of the
// same index, and extra destination channels repeat the last source channel.
func (p *processor) mixChannels(src []byte, bytesPerSample, srcChannels, srcFrames, dstChannels int) []byte {
	out := make([]byte, srcFrames*bytesPerSample*dstChannels)

	if bytesPerSample == 2 && dstChannels == 1 {
		for i := 0; i < srcFrames; i++ {
			sum := 0
			for s := 0; s < srcChannels; s++ {
				sum += int(int16(binary.LittleEndian.Uint16(src[(i*srcChannels+s)*2:])))
			}
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/srcChannels)))
		}
		return out
	}

	for i := 0; i < srcFrames; i++ {
		for ch := 0; ch < dstChannels; ch++ {
			s := ch
			if s >= srcChannels {
				s = srcChannels - 1
			}
			copy(out[(i*dstChannels+ch)*bytesPerSample:(i*dstChannels+ch+1)*bytesPerSample],
				src[(i*srcChannels+s)*bytesPerSample:(i*srcChannels+s+1)*bytesPerSample])
		}
	}
	return out
}

// grow resizes a scratch buffer, reusing capacity between calls.
func (p *processor) grow(buf *[]byte, size int) []byte {
	if cap(*buf) < size {
		*buf = make([]byte, size)
	}
	*buf = (*buf)[:size]
	return *buf
}
