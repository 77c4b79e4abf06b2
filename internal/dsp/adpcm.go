package dsp

// ADPCM block encoders. Both codecs pack 4-bit codes into blockAlign-sized
// blocks with a per-channel state header; predictor state carries across
// calls so a stream stays continuous across wave PDUs.

import (
	"encoding/binary"
)

// IMA ADPCM step and index adaptation tables (IMA ADPCM reference algorithm).
var imaStepTable = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

var imaIndexTable = [16]int{
	-1, -1, -1, -1, 2, 4, 6, 8,
	-1, -1, -1, -1, 2, 4, 6, 8,
}

// MS ADPCM coefficient pairs and delta adaptation table (MS-ADPCM spec).
var msCoef = [7][2]int{
	{256, 0}, {512, -256}, {0, 0}, {192, 64}, {240, 0}, {460, -208}, {392, -232},
}

var msAdapt = [16]int{
	230, 230, 230, 230, 307, 409, 512, 614,
	768, 614, 512, 409, 307, 230, 230, 230,
}

type imaState struct {
	sample [2]int16
	index  [2]int
}

type msState struct {
	sample1 [2]int16
	sample2 [2]int16
	delta   [2]int
}

// ResetADPCM clears the ADPCM predictor state.
func (p *processor) ResetADPCM() {
	p.ima = imaState{}
	p.ms = msState{}
	p.ms.delta = [2]int{16, 16}
}

// imaEncodeNibble quantizes one sample against channel ch's predictor and
// updates the predictor the way the decoder will.
func (p *processor) imaEncodeNibble(ch int, sample int16) byte {
	step := imaStepTable[p.ima.index[ch]]
	diff := int(sample) - int(p.ima.sample[ch])

	var nibble byte
	if diff < 0 {
		nibble = 8
		diff = -diff
	}
	if diff >= step {
		nibble |= 4
		diff -= step
	}
	if diff >= step>>1 {
		nibble |= 2
		diff -= step >> 1
	}
	if diff >= step>>2 {
		nibble |= 1
	}

	// mirror the decoder's reconstruction
	diffq := step >> 3
	if nibble&4 != 0 {
		diffq += step
	}
	if nibble&2 != 0 {
		diffq += step >> 1
	}
	if nibble&1 != 0 {
		diffq += step >> 2
	}

	pred := int(p.ima.sample[ch])
	if nibble&8 != 0 {
		pred -= diffq
	} else {
		pred += diffq
	}
	p.ima.sample[ch] = clamp16(pred)

	idx := p.ima.index[ch] + imaIndexTable[nibble]
	if idx < 0 {
		idx = 0
	} else if idx > 88 {
		idx = 88
	}
	p.ima.index[ch] = idx

	return nibble
}

// EncodeIMAADPCM compresses 16-bit interleaved PCM into IMA ADPCM blocks.
// Each block opens with a 4-byte state header per channel (predictor,
// step index, reserved); code nibbles follow, grouped per channel in 4-byte
// words for stereo. A short final input produces a partial last block.
func (p *processor) EncodeIMAADPCM(src []byte, channels, blockAlign int) []byte {
	if channels < 1 || channels > 2 || blockAlign <= 4*channels {
		return nil
	}

	frames := len(src) / 2 / channels
	codeBytes := blockAlign - 4*channels

	out := p.adpcm[:0]
	sample := func(frame, ch int) int16 {
		return int16(binary.LittleEndian.Uint16(src[(frame*channels+ch)*2:]))
	}

	for i := 0; i < frames; {
		for ch := 0; ch < channels; ch++ {
			out = append(out,
				byte(uint16(p.ima.sample[ch])), byte(uint16(p.ima.sample[ch])>>8),
				byte(p.ima.index[ch]), 0)
		}

		if channels == 1 {
			for written := 0; written < codeBytes && i < frames; written++ {
				lo := p.imaEncodeNibble(0, sample(i, 0))
				i++
				var hi byte
				if i < frames {
					hi = p.imaEncodeNibble(0, sample(i, 0))
					i++
				}
				out = append(out, lo|hi<<4)
			}
		} else {
			// stereo: 8 frames yield one 4-byte word per channel
			for written := 0; written < codeBytes && i < frames; written += 8 {
				var word [2][4]byte
				for k := 0; k < 8; k++ {
					for ch := 0; ch < 2; ch++ {
						var n byte
						if i+k < frames {
							n = p.imaEncodeNibble(ch, sample(i+k, ch))
						}
						if k%2 == 0 {
							word[ch][k/2] = n
						} else {
							word[ch][k/2] |= n << 4
						}
					}
				}
				out = append(out, word[0][:]...)
				out = append(out, word[1][:]...)
				i += 8
				if i > frames {
					i = frames
				}
			}
		}
	}

	p.adpcm = out
	return out
}

// msEncodeCode quantizes one sample for channel ch with the first MS ADPCM
// coefficient pair and updates the channel predictor.
func (p *processor) msEncodeCode(ch int, sample int16) byte {
	pred := (int(p.ms.sample1[ch])*msCoef[0][0] + int(p.ms.sample2[ch])*msCoef[0][1]) / 256
	code := (int(sample) - pred) / p.ms.delta[ch]
	if code > 7 {
		code = 7
	} else if code < -8 {
		code = -8
	}

	p.ms.sample2[ch] = p.ms.sample1[ch]
	p.ms.sample1[ch] = clamp16(pred + code*p.ms.delta[ch])

	nibble := byte(code & 0x0F)
	p.ms.delta[ch] = msAdapt[nibble] * p.ms.delta[ch] / 256
	if p.ms.delta[ch] < 16 {
		p.ms.delta[ch] = 16
	}
	return nibble
}

// EncodeMSADPCM compresses 16-bit interleaved PCM into MS ADPCM blocks. The
// 7-byte per-channel block header stores the predictor index, current delta
// and the block's first two samples verbatim; the rest of the block is 4-bit
// codes, high nibble first (left channel first for stereo).
func (p *processor) EncodeMSADPCM(src []byte, channels, blockAlign int) []byte {
	if channels < 1 || channels > 2 || blockAlign <= 7*channels {
		return nil
	}

	frames := len(src) / 2 / channels
	codeBytes := blockAlign - 7*channels

	out := p.adpcm[:0]
	sample := func(frame, ch int) int16 {
		return int16(binary.LittleEndian.Uint16(src[(frame*channels+ch)*2:]))
	}

	for i := 0; i < frames; {
		// the block's first two frames seed the predictor
		for ch := 0; ch < channels; ch++ {
			p.ms.sample2[ch] = sample(i, ch)
			p.ms.sample1[ch] = p.ms.sample2[ch]
			if i+1 < frames {
				p.ms.sample1[ch] = sample(i+1, ch)
			}
		}
		i += 2
		if i > frames {
			i = frames
		}

		for ch := 0; ch < channels; ch++ {
			out = append(out, 0) // predictor index: coefficient pair 0
		}
		for ch := 0; ch < channels; ch++ {
			out = append(out, byte(uint16(p.ms.delta[ch])), byte(uint16(p.ms.delta[ch])>>8))
		}
		for ch := 0; ch < channels; ch++ {
			out = append(out, byte(uint16(p.ms.sample1[ch])), byte(uint16(p.ms.sample1[ch])>>8))
		}
		for ch := 0; ch < channels; ch++ {
			out = append(out, byte(uint16(p.ms.sample2[ch])), byte(uint16(p.ms.sample2[ch])>>8))
		}

		if channels == 1 {
			for written := 0; written < codeBytes && i < frames; written++ {
				hi := p.msEncodeCode(0, sample(i, 0))
				i++
				var lo byte
				if i < frames {
					lo = p.msEncodeCode(0, sample(i, 0))
					i++
				}
				out = append(out, hi<<4|lo)
			}
		} else {
			for written := 0; written < codeBytes && i < frames; written++ {
				hi := p.msEncodeCode(0, sample(i, 0))
				lo := p.msEncodeCode(1, sample(i, 1))
				i++
				out = append(out, hi<<4|lo)
			}
		}
	}

	p.adpcm = out
	return out
}

func clamp16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
