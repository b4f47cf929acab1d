package tensor

import "math"

// Sinusoidal positional encoding as used by the original transformer:
//
//	PE[pos, 2i]   = sin(pos / base^(2i/dim))
//	PE[pos, 2i+1] = cos(pos / base^(2i/dim))
//
// The encoding is fixed, so it carries no gradient; order information survives
// the otherwise order-agnostic attention because every position receives a
// distinct, smoothly varying signal.

// SinusoidalEncoding holds a precomputed table of positional encodings.
type SinusoidalEncoding struct {
	Table  *Tensor // [maxLen, dim]
	Dim    int
	MaxLen int
	Base   float64
}

// DefaultEncodingBase is the base used when none is specified.
const DefaultEncodingBase = 10000.0

// NewSinusoidalEncoding precomputes encodings for positions [0, maxLen).
// base controls the wavelength spread across channels; 10000 is standard.
func NewSinusoidalEncoding(maxLen, dim int, base float64) *SinusoidalEncoding {
	if dim%2 != 0 {
		panic("sinusoidal encoding requires an even dimension")
	}
	if base <= 0 {
		base = DefaultEncodingBase
	}

	enc := &SinusoidalEncoding{
		Table:  NewTensor(maxLen, dim),
		Dim:    dim,
		MaxLen: maxLen,
		Base:   base,
	}

	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dim/2; i++ {
			freq := 1.0 / math.Pow(base, float64(2*i)/float64(dim))
			angle := float64(pos) * freq
			enc.Table.Data[pos*dim+2*i] = float32(math.Sin(angle))
			enc.Table.Data[pos*dim+2*i+1] = float32(math.Cos(angle))
		}
	}

	return enc
}

// Add returns x plus the encoding for positions [startPos, startPos+seqLen).
// x: [seqLen, dim].
func (enc *SinusoidalEncoding) Add(x *Tensor, startPos int) *Tensor {
	if len(x.Shape) != 2 || x.Shape[1] != enc.Dim {
		panic("sinusoidal encoding: input must be [seqLen, dim]")
	}
	seqLen := x.Shape[0]
	if startPos+seqLen > enc.MaxLen {
		panic("sinusoidal encoding: position exceeds max length")
	}

	out := x.Clone()
	for s := 0; s < seqLen; s++ {
		pos := startPos + s
		for d := 0; d < enc.Dim; d++ {
			out.Data[s*enc.Dim+d] += enc.Table.Data[pos*enc.Dim+d]
		}
	}
	return out
}
