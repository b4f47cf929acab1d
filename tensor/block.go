package tensor

import (
	"math"
	"math/rand"
)

// layerNormEps keeps the variance denominator away from zero.
const layerNormEps = 1e-5

// LayerNorm holds the learned scale and shift for layer normalization.
type LayerNorm struct {
	gamma *Tensor
	beta  *Tensor
}

// NewLayerNorm creates a layer norm with gamma initialized to one.
func NewLayerNorm(dim int) *LayerNorm {
	ln := &LayerNorm{
		gamma: NewTensor(dim),
		beta:  NewTensor(dim),
	}
	for i := range ln.gamma.Data {
		ln.gamma.Data[i] = 1.0
	}
	return ln
}

// Parameters returns the layer's trainable tensors.
func (ln *LayerNorm) Parameters() []*Tensor {
	return []*Tensor{ln.gamma, ln.beta}
}

// Forward normalizes each row of x.
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	return LayerNormalize(x, ln.gamma, ln.beta, layerNormEps)
}

// Backward propagates gradY through the normalization, accumulating gamma and
// beta gradients and returning the input gradient. x must be the tensor that
// was passed to Forward.
func (ln *LayerNorm) Backward(x, gradY *Tensor) *Tensor {
	gradX, gradGamma, gradBeta := LayerNormBackward(x, ln.gamma, gradY, layerNormEps)
	ln.gamma.AccumulateGrad(gradGamma)
	ln.beta.AccumulateGrad(gradBeta)
	return gradX
}

// FeedForward is the position-wise two-layer MLP with a GELU in between.
type FeedForward struct {
	w1, b1 *Tensor // [embedDim, hidden], [hidden]
	w2, b2 *Tensor // [hidden, embedDim], [embedDim]
}

// NewFeedForward creates a feed-forward layer mapping embedDim -> hidden ->
// embedDim.
func NewFeedForward(embedDim, hidden int, rng *rand.Rand) *FeedForward {
	return &FeedForward{
		w1: NewTensorRandn(rng, math.Sqrt(2.0/float64(embedDim)), embedDim, hidden),
		b1: NewTensor(hidden),
		w2: NewTensorRandn(rng, math.Sqrt(2.0/float64(hidden)), hidden, embedDim),
		b2: NewTensor(embedDim),
	}
}

// Parameters returns the layer's trainable tensors.
func (ff *FeedForward) Parameters() []*Tensor {
	return []*Tensor{ff.w1, ff.b1, ff.w2, ff.b2}
}

// FFCache stores the activations needed by FeedForward.Backward.
type FFCache struct {
	input  *Tensor
	hidden *Tensor // pre-activation w1 output
	act    *Tensor // GELU output
}

// Forward applies the MLP to x: [seqLen, embedDim].
func (ff *FeedForward) Forward(x *Tensor) *Tensor {
	out, _ := ff.ForwardTrain(x)
	return out
}

// ForwardTrain applies the MLP and keeps intermediate activations.
func (ff *FeedForward) ForwardTrain(x *Tensor) (*Tensor, *FFCache) {
	hidden := AddBias(MatMul(x, ff.w1), ff.b1)
	act := GELU(hidden)
	out := AddBias(MatMul(act, ff.w2), ff.b2)

	return out, &FFCache{input: x.Clone(), hidden: hidden, act: act}
}

// Backward propagates gradOutput through the MLP.
func (ff *FeedForward) Backward(gradOutput *Tensor, cache *FFCache) *Tensor {
	rows, embedDim := gradOutput.Shape[0], gradOutput.Shape[1]

	gradB2 := NewTensor(embedDim)
	for i := 0; i < rows; i++ {
		for j := 0; j < embedDim; j++ {
			gradB2.Data[j] += gradOutput.Data[i*embedDim+j]
		}
	}
	ff.b2.AccumulateGrad(gradB2)

	gradAct, gradW2 := MatMulBackward(cache.act, ff.w2, gradOutput)
	ff.w2.AccumulateGrad(gradW2)

	gradHidden := GELUBackward(cache.hidden, gradAct)

	hiddenDim := gradHidden.Shape[1]
	gradB1 := NewTensor(hiddenDim)
	for i := 0; i < rows; i++ {
		for j := 0; j < hiddenDim; j++ {
			gradB1.Data[j] += gradHidden.Data[i*hiddenDim+j]
		}
	}
	ff.b1.AccumulateGrad(gradB1)

	gradInput, gradW1 := MatMulBackward(cache.input, ff.w1, gradHidden)
	ff.w1.AccumulateGrad(gradW1)

	return gradInput
}

// TransformerBlock combines attention and feed-forward with pre-norm residual
// connections:
//
//	x = x + attn(norm1(x))
//	x = x + ff(norm2(x))
type TransformerBlock struct {
	attn  *MultiHeadAttention
	ff    *FeedForward
	norm1 *LayerNorm
	norm2 *LayerNorm
}

// NewTransformerBlock creates a block. causal selects GPT-style masking.
func NewTransformerBlock(embedDim, numHeads, ffHidden int, causal bool, rng *rand.Rand) *TransformerBlock {
	return &TransformerBlock{
		attn:  NewMultiHeadAttention(embedDim, numHeads, causal, rng),
		ff:    NewFeedForward(embedDim, ffHidden, rng),
		norm1: NewLayerNorm(embedDim),
		norm2: NewLayerNorm(embedDim),
	}
}

// Parameters returns all trainable tensors in the block.
func (b *TransformerBlock) Parameters() []*Tensor {
	params := b.attn.Parameters()
	params = append(params, b.ff.Parameters()...)
	params = append(params, b.norm1.Parameters()...)
	params = append(params, b.norm2.Parameters()...)
	return params
}

// BlockCache stores the activations needed by TransformerBlock.Backward.
type BlockCache struct {
	input     *Tensor
	normed1   *Tensor
	attnCache *AttentionCache
	afterAttn *Tensor
	normed2   *Tensor
	ffCache   *FFCache
}

// Forward applies the block to x: [seqLen, embedDim]. keyMask restricts
// attention to valid key positions; nil means all positions are valid.
func (b *TransformerBlock) Forward(x *Tensor, keyMask []bool) *Tensor {
	out, _ := b.ForwardTrain(x, keyMask)
	return out
}

// ForwardTrain applies the block and keeps activations for Backward.
func (b *TransformerBlock) ForwardTrain(x *Tensor, keyMask []bool) (*Tensor, *BlockCache) {
	cache := &BlockCache{input: x.Clone()}

	cache.normed1 = b.norm1.Forward(x)
	attnOut, attnCache := b.attn.ForwardTrain(cache.normed1, keyMask)
	cache.attnCache = attnCache

	afterAttn := Add(x, attnOut)
	cache.afterAttn = afterAttn

	cache.normed2 = b.norm2.Forward(afterAttn)
	ffOut, ffCache := b.ff.ForwardTrain(cache.normed2)
	cache.ffCache = ffCache

	return Add(afterAttn, ffOut), cache
}

// Backward propagates gradOutput through the block.
func (b *TransformerBlock) Backward(gradOutput *Tensor, cache *BlockCache) *Tensor {
	// Residual: gradient flows both through the feed-forward branch and
	// straight through.
	gradFF := b.ff.Backward(gradOutput, cache.ffCache)
	gradAfterAttn := Add(gradOutput, b.norm2.Backward(cache.afterAttn, gradFF))

	gradAttn := b.attn.Backward(gradAfterAttn, cache.attnCache)
	gradInput := Add(gradAfterAttn, b.norm1.Backward(cache.input, gradAttn))

	return gradInput
}
