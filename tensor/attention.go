package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// negInf stands in for negative infinity when masking attention scores; after
// softmax a masked position contributes weight 0.
const negInf = float32(-1e9)

// AttentionWeights computes softmax(q @ k^T / sqrt(d)) with optional masking.
// q: [seqQ, d], k: [seqK, d]. With causal set, position i may only attend to
// positions j <= i (requires seqQ == seqK). keyMask, when non-nil, marks which
// key positions are valid; invalid positions receive zero weight.
func AttentionWeights(q, k *Tensor, causal bool, keyMask []bool) *Tensor {
	if len(q.Shape) != 2 || len(k.Shape) != 2 {
		panic("AttentionWeights requires 2D tensors")
	}
	if q.Shape[1] != k.Shape[1] {
		panic(fmt.Sprintf("query/key dimension mismatch: %d vs %d", q.Shape[1], k.Shape[1]))
	}
	seqQ, seqK := q.Shape[0], k.Shape[0]
	if causal && seqQ != seqK {
		panic("causal attention requires equal query and key lengths")
	}
	if keyMask != nil && len(keyMask) != seqK {
		panic(fmt.Sprintf("keyMask length %d != key length %d", len(keyMask), seqK))
	}

	scale := float32(1.0 / math.Sqrt(float64(q.Shape[1])))
	scores := Scale(MatMul(q, Transpose(k)), scale)

	for i := 0; i < seqQ; i++ {
		for j := 0; j < seqK; j++ {
			if causal && j > i {
				scores.Data[i*seqK+j] = negInf
			} else if keyMask != nil && !keyMask[j] {
				scores.Data[i*seqK+j] = negInf
			}
		}
	}

	return Softmax(scores)
}

// ScaledDotProduct computes attention output softmax(q k^T / sqrt(d)) v.
// The output has the same shape as v's rows per query: [seqQ, dv].
func ScaledDotProduct(q, k, v *Tensor, causal bool, keyMask []bool) *Tensor {
	if len(v.Shape) != 2 || v.Shape[0] != k.Shape[0] {
		panic("ScaledDotProduct: value length must match key length")
	}
	weights := AttentionWeights(q, k, causal, keyMask)
	return MatMul(weights, v)
}

// MultiHeadAttention implements multi-head self-attention over a single
// sequence of shape [seqLen, embedDim]. Causal selects GPT-style masking;
// without it the layer attends bidirectionally (BERT-style), restricted only
// by the key padding mask passed to Forward.
type MultiHeadAttention struct {
	embedDim int
	numHeads int
	headDim  int
	causal   bool

	wq, wk, wv, wo *Tensor
}

// NewMultiHeadAttention creates an attention layer with Xavier-scaled weights.
func NewMultiHeadAttention(embedDim, numHeads int, causal bool, rng *rand.Rand) *MultiHeadAttention {
	if embedDim%numHeads != 0 {
		panic(fmt.Sprintf("embedDim (%d) must be divisible by numHeads (%d)", embedDim, numHeads))
	}

	std := math.Sqrt(2.0 / float64(embedDim))
	return &MultiHeadAttention{
		embedDim: embedDim,
		numHeads: numHeads,
		headDim:  embedDim / numHeads,
		causal:   causal,
		wq:       NewTensorRandn(rng, std, embedDim, embedDim),
		wk:       NewTensorRandn(rng, std, embedDim, embedDim),
		wv:       NewTensorRandn(rng, std, embedDim, embedDim),
		wo:       NewTensorRandn(rng, std, embedDim, embedDim),
	}
}

// Parameters returns the layer's trainable tensors.
func (mha *MultiHeadAttention) Parameters() []*Tensor {
	return []*Tensor{mha.wq, mha.wk, mha.wv, mha.wo}
}

// AttentionCache stores activations needed by Backward.
type AttentionCache struct {
	input   *Tensor
	context *Tensor
	heads   []headCache
}

type headCache struct {
	q, k, v *Tensor // [seqLen, headDim]
	weights *Tensor // [seqLen, seqLen]
}

// Forward computes attention output for x: [seqLen, embedDim].
func (mha *MultiHeadAttention) Forward(x *Tensor, keyMask []bool) *Tensor {
	out, _ := mha.ForwardTrain(x, keyMask)
	return out
}

// ForwardTrain computes attention output and retains the activations the
// backward pass needs.
func (mha *MultiHeadAttention) ForwardTrain(x *Tensor, keyMask []bool) (*Tensor, *AttentionCache) {
	if len(x.Shape) != 2 || x.Shape[1] != mha.embedDim {
		panic("attention input must be [seqLen, embedDim]")
	}
	seqLen := x.Shape[0]

	cache := &AttentionCache{
		input: x.Clone(),
		heads: make([]headCache, mha.numHeads),
	}

	q := MatMul(x, mha.wq)
	k := MatMul(x, mha.wk)
	v := MatMul(x, mha.wv)

	context := NewTensor(seqLen, mha.embedDim)

	for h := 0; h < mha.numHeads; h++ {
		qh := mha.extractHead(q, h, seqLen)
		kh := mha.extractHead(k, h, seqLen)
		vh := mha.extractHead(v, h, seqLen)

		weights := AttentionWeights(qh, kh, mha.causal, keyMask)
		headOut := MatMul(weights, vh)

		cache.heads[h] = headCache{q: qh, k: kh, v: vh, weights: weights}

		for i := 0; i < seqLen; i++ {
			for d := 0; d < mha.headDim; d++ {
				context.Data[i*mha.embedDim+h*mha.headDim+d] = headOut.Data[i*mha.headDim+d]
			}
		}
	}

	cache.context = context.Clone()
	return MatMul(context, mha.wo), cache
}

// Backward propagates gradOutput through the layer, accumulating weight
// gradients and returning the gradient with respect to the input.
func (mha *MultiHeadAttention) Backward(gradOutput *Tensor, cache *AttentionCache) *Tensor {
	seqLen := cache.input.Shape[0]
	scale := float32(1.0 / math.Sqrt(float64(mha.headDim)))

	gradContext, gradWo := MatMulBackward(cache.context, mha.wo, gradOutput)
	mha.wo.AccumulateGrad(gradWo)

	gradQ := NewTensor(seqLen, mha.embedDim)
	gradK := NewTensor(seqLen, mha.embedDim)
	gradV := NewTensor(seqLen, mha.embedDim)

	for h := 0; h < mha.numHeads; h++ {
		hc := cache.heads[h]

		gradHeadOut := NewTensor(seqLen, mha.headDim)
		for i := 0; i < seqLen; i++ {
			for d := 0; d < mha.headDim; d++ {
				gradHeadOut.Data[i*mha.headDim+d] = gradContext.Data[i*mha.embedDim+h*mha.headDim+d]
			}
		}

		// headOut = weights @ v
		gradWeights, gradVh := MatMulBackward(hc.weights, hc.v, gradHeadOut)

		// weights = softmax(scores); masked entries have weight 0 and thus
		// receive zero gradient automatically.
		gradScores := SoftmaxBackward(hc.weights, gradWeights)
		gradScores = Scale(gradScores, scale)

		// scores*scale^-1 = q @ k^T
		gradQh, gradKT := MatMulBackward(hc.q, Transpose(hc.k), gradScores)
		gradKh := Transpose(gradKT)

		for i := 0; i < seqLen; i++ {
			for d := 0; d < mha.headDim; d++ {
				gradQ.Data[i*mha.embedDim+h*mha.headDim+d] = gradQh.Data[i*mha.headDim+d]
				gradK.Data[i*mha.embedDim+h*mha.headDim+d] = gradKh.Data[i*mha.headDim+d]
				gradV.Data[i*mha.embedDim+h*mha.headDim+d] = gradVh.Data[i*mha.headDim+d]
			}
		}
	}

	// The three projections share the same input, so their input gradients add.
	gradInput := NewTensor(seqLen, mha.embedDim)

	gradInputQ, gradWq := MatMulBackward(cache.input, mha.wq, gradQ)
	mha.wq.AccumulateGrad(gradWq)
	gradInput = Add(gradInput, gradInputQ)

	gradInputK, gradWk := MatMulBackward(cache.input, mha.wk, gradK)
	mha.wk.AccumulateGrad(gradWk)
	gradInput = Add(gradInput, gradInputK)

	gradInputV, gradWv := MatMulBackward(cache.input, mha.wv, gradV)
	mha.wv.AccumulateGrad(gradWv)
	gradInput = Add(gradInput, gradInputV)

	return gradInput
}

func (mha *MultiHeadAttention) extractHead(x *Tensor, h, seqLen int) *Tensor {
	out := NewTensor(seqLen, mha.headDim)
	for i := 0; i < seqLen; i++ {
		for d := 0; d < mha.headDim; d++ {
			out.Data[i*mha.headDim+d] = x.Data[i*mha.embedDim+h*mha.headDim+d]
		}
	}
	return out
}
