package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func randTensor(rng *rand.Rand, shape ...int) *Tensor {
	return NewTensorRandn(rng, 0.5, shape...)
}

func TestScaledDotProductOutputShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	q := randTensor(rng, 5, 8)
	k := randTensor(rng, 5, 8)
	v := randTensor(rng, 5, 8)

	out := ScaledDotProduct(q, k, v, false, nil)

	if out.Shape[0] != v.Shape[0] || out.Shape[1] != v.Shape[1] {
		t.Errorf("output shape %v, expected %v", out.Shape, v.Shape)
	}
}

func TestAttentionWeightsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	q := randTensor(rng, 4, 8)
	k := randTensor(rng, 4, 8)

	for _, causal := range []bool{false, true} {
		weights := AttentionWeights(q, k, causal, nil)
		for i := 0; i < 4; i++ {
			sum := float32(0)
			for j := 0; j < 4; j++ {
				sum += weights.At(i, j)
			}
			if math.Abs(float64(sum)-1.0) > 1e-5 {
				t.Errorf("causal=%v row %d: weights sum to %v, expected 1", causal, i, sum)
			}
		}
	}
}

func TestCausalMaskZeroesFuture(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	q := randTensor(rng, 4, 8)
	k := randTensor(rng, 4, 8)

	weights := AttentionWeights(q, k, true, nil)

	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if w := weights.At(i, j); w != 0 {
				t.Errorf("position %d attends to future position %d with weight %v", i, j, w)
			}
		}
	}
}

// Changing keys and values at future positions must not affect earlier
// outputs under a causal mask.
func TestCausalMaskFutureInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	q := randTensor(rng, 4, 8)
	k := randTensor(rng, 4, 8)
	v := randTensor(rng, 4, 8)

	before := ScaledDotProduct(q, k, v, true, nil)

	k2 := k.Clone()
	v2 := v.Clone()
	for d := 0; d < 8; d++ {
		k2.Set(99, 3, d)
		v2.Set(-99, 3, d)
	}

	after := ScaledDotProduct(q, k2, v2, true, nil)

	for i := 0; i < 3; i++ {
		for d := 0; d < 8; d++ {
			if before.At(i, d) != after.At(i, d) {
				t.Fatalf("output at position %d changed after perturbing position 3", i)
			}
		}
	}

	changed := false
	for d := 0; d < 8; d++ {
		if before.At(3, d) != after.At(3, d) {
			changed = true
		}
	}
	if !changed {
		t.Error("output at position 3 should change when its own key/value changes")
	}
}

func TestKeyMaskExcludesPadding(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	q := randTensor(rng, 3, 8)
	k := randTensor(rng, 3, 8)

	mask := []bool{true, true, false}
	weights := AttentionWeights(q, k, false, mask)

	for i := 0; i < 3; i++ {
		if w := weights.At(i, 2); w != 0 {
			t.Errorf("row %d attends to masked position with weight %v", i, w)
		}
	}
}

func TestMultiHeadAttentionShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	mha := NewMultiHeadAttention(16, 4, true, rng)
	x := randTensor(rng, 5, 16)

	out := mha.Forward(x, nil)

	if out.Shape[0] != 5 || out.Shape[1] != 16 {
		t.Errorf("output shape %v, expected [5 16]", out.Shape)
	}
	if len(mha.Parameters()) != 4 {
		t.Errorf("expected 4 parameter tensors, got %d", len(mha.Parameters()))
	}
}

func TestMultiHeadAttentionHeadMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic when heads do not divide embed dim")
		}
	}()
	NewMultiHeadAttention(10, 3, false, rand.New(rand.NewSource(0)))
}

// Finite-difference check of the attention backward pass against the loss
// L = sum(output * coeffs).
func TestMultiHeadAttentionBackwardNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	mha := NewMultiHeadAttention(8, 2, true, rng)
	x := randTensor(rng, 3, 8)
	coeffs := randTensor(rng, 3, 8)

	loss := func() float64 {
		out := mha.Forward(x, nil)
		sum := 0.0
		for i := range out.Data {
			sum += float64(out.Data[i]) * float64(coeffs.Data[i])
		}
		return sum
	}

	_, cache := mha.ForwardTrain(x, nil)
	for _, p := range mha.Parameters() {
		p.ZeroGrad()
	}
	gradInput := mha.Backward(coeffs, cache)

	const eps = 1e-2
	check := func(name string, data []float32, grad []float32, indices []int) {
		for _, idx := range indices {
			orig := data[idx]
			data[idx] = orig + eps
			up := loss()
			data[idx] = orig - eps
			down := loss()
			data[idx] = orig

			numeric := (up - down) / (2 * eps)
			analytic := float64(grad[idx])
			if math.Abs(numeric-analytic) > 5e-2*math.Max(1, math.Abs(numeric)) {
				t.Errorf("%s[%d]: numeric grad %.4f, analytic %.4f", name, idx, numeric, analytic)
			}
		}
	}

	check("wq", mha.wq.Data, mha.wq.Grad, []int{0, 13, 37})
	check("wv", mha.wv.Data, mha.wv.Grad, []int{5, 21, 60})
	check("input", x.Data, gradInput.Data, []int{0, 11, 23})
}
