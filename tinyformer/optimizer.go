package tinyformer

import (
	"math"

	"tinyformer-go/tensor"
)

// Optimizer applies accumulated gradients to parameters. The learning rate is
// passed per step so a schedule can drive it.
type Optimizer interface {
	Step(params []*tensor.Tensor, lr float64)
}

// SGD is plain stochastic gradient descent.
type SGD struct{}

// Step subtracts lr * grad from every parameter.
func (SGD) Step(params []*tensor.Tensor, lr float64) {
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		for i := range p.Data {
			p.Data[i] -= float32(lr) * p.Grad[i]
		}
	}
}

// AdamW is Adam with decoupled weight decay. Moment buffers are allocated on
// first use and indexed by parameter position, so the parameter slice must
// keep a stable order across steps.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    [][]float32
	v    [][]float32
}

// NewAdamW creates an optimizer with the standard Adam moments.
func NewAdamW(weightDecay float64) *AdamW {
	return &AdamW{
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: weightDecay,
	}
}

// Step applies one AdamW update.
func (a *AdamW) Step(params []*tensor.Tensor, lr float64) {
	if a.m == nil {
		a.m = make([][]float32, len(params))
		a.v = make([][]float32, len(params))
		for i, p := range params {
			a.m[i] = make([]float32, len(p.Data))
			a.v[i] = make([]float32, len(p.Data))
		}
	}

	a.step++
	correction1 := 1.0 - math.Pow(a.Beta1, float64(a.step))
	correction2 := 1.0 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range params {
		if p.Grad == nil {
			continue
		}
		m, v := a.m[i], a.v[i]
		for j := range p.Data {
			g := float64(p.Grad[j])

			m[j] = float32(a.Beta1*float64(m[j]) + (1-a.Beta1)*g)
			v[j] = float32(a.Beta2*float64(v[j]) + (1-a.Beta2)*g*g)

			mHat := float64(m[j]) / correction1
			vHat := float64(v[j]) / correction2

			update := lr * mHat / (math.Sqrt(vHat) + a.Eps)
			update += lr * a.WeightDecay * float64(p.Data[j])

			p.Data[j] -= float32(update)
		}
	}
}

// ClipGradients rescales all gradients so their global L2 norm does not
// exceed maxNorm, and returns the norm before clipping. maxNorm <= 0 disables
// clipping but still reports the norm.
func ClipGradients(params []*tensor.Tensor, maxNorm float64) float64 {
	sumSq := 0.0
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		for _, g := range p.Grad {
			sumSq += float64(g) * float64(g)
		}
	}
	norm := math.Sqrt(sumSq)

	if maxNorm > 0 && norm > maxNorm {
		scale := float32(maxNorm / (norm + 1e-6))
		for _, p := range params {
			if p.Grad == nil {
				continue
			}
			for i := range p.Grad {
				p.Grad[i] *= scale
			}
		}
	}

	return norm
}

// zeroGrads clears every parameter's gradient buffer.
func zeroGrads(params []*tensor.Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
