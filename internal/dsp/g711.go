package dsp

import (
	"github.com/zaf/g711"
)

// G.711 companding is delegated to the g711 package; both codecs map one
// 16-bit sample to one output byte, so no block framing is involved.

// EncodeALaw compands 16-bit LPCM to 8-bit A-law.
func (p *processor) EncodeALaw(src []byte) []byte {
	return g711.EncodeAlaw(src)
}

// EncodeULaw compands 16-bit LPCM to 8-bit µ-law.
func (p *processor) EncodeULaw(src []byte) []byte {
	return g711.EncodeUlaw(src)
}
