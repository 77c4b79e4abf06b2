package dsp

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sine returns frames of 16-bit interleaved samples of a test tone.
func sine(frames, channels int, freq, rate float64) []byte {
	buf := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/rate) * 16384)
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(buf[(i*channels+ch)*2:], uint16(v))
		}
	}
	return buf
}

func TestResample_Identity(t *testing.T) {
	p := NewProcessor()
	src := sine(100, 2, 440, 44100)

	out, frames := p.Resample(src, 2, 2, 44100, 100, 2, 44100)
	require.Equal(t, 100, frames)
	assert.Equal(t, src, out)
}

func TestResample_RateConversion(t *testing.T) {
	tests := []struct {
		name      string
		srcRate   int
		dstRate   int
		srcFrames int
		want      int
	}{
		{"downsample 44100 to 22050", 44100, 22050, 1000, 500},
		{"upsample 22050 to 44100", 22050, 44100, 500, 1000},
		{"non-integral ratio", 44100, 48000, 441, 480},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor()
			src := sine(tt.srcFrames, 1, 440, float64(tt.srcRate))

			out, frames := p.Resample(src, 2, 1, tt.srcRate, tt.srcFrames, 1, tt.dstRate)
			assert.Equal(t, tt.want, frames)
			assert.Len(t, out, frames*2)
		})
	}
}

func TestResample_MonoToStereo(t *testing.T) {
	p := NewProcessor()
	src := make([]byte, 4*2)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(src[i*2:], uint16(int16(i*100)))
	}

	out, frames := p.Resample(src, 2, 1, 8000, 4, 2, 8000)
	require.Equal(t, 4, frames)
	require.Len(t, out, 4*2*2)

	for i := 0; i < 4; i++ {
		left := int16(binary.LittleEndian.Uint16(out[(i*2)*2:]))
		right := int16(binary.LittleEndian.Uint16(out[(i*2+1)*2:]))
		assert.Equal(t, int16(i*100), left)
		assert.Equal(t, left, right, "frame %d: both channels carry the source sample", i)
	}
}

func TestResample_StereoToMono(t *testing.T) {
	p := NewProcessor()
	src := make([]byte, 2*2*2)
	// frame 0: L=100 R=300, frame 1: L=-200 R=-400
	binary.LittleEndian.PutUint16(src[0:], uint16(int16(100)))
	binary.LittleEndian.PutUint16(src[2:], uint16(int16(300)))
	binary.LittleEndian.PutUint16(src[4:], uint16(int16(-200)))
	binary.LittleEndian.PutUint16(src[6:], uint16(int16(-400)))

	out, frames := p.Resample(src, 2, 2, 8000, 2, 1, 8000)
	require.Equal(t, 2, frames)
	assert.Equal(t, int16(200), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(-300), int16(binary.LittleEndian.Uint16(out[2:])))
}

func TestResample_Empty(t *testing.T) {
	p := NewProcessor()
	out, frames := p.Resample(nil, 2, 1, 44100, 0, 1, 22050)
	assert.Zero(t, frames)
	assert.Empty(t, out)
}

func TestEncodeALaw_OneBytePerSample(t *testing.T) {
	p := NewProcessor()
	src := sine(160, 1, 440, 8000)

	out := p.EncodeALaw(src)
	assert.Len(t, out, 160)
}

func TestEncodeULaw_OneBytePerSample(t *testing.T) {
	p := NewProcessor()
	src := sine(160, 2, 440, 8000)

	out := p.EncodeULaw(src)
	assert.Len(t, out, 320)
}
