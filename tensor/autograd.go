package tensor

import (
	"fmt"
	"math"
)

// Backward counterparts of the forward operations in tensor.go. Each takes the
// gradient flowing back from the loss and produces gradients for the
// operation's inputs via the chain rule.

// MatMulBackward computes gradients for C = A @ B:
// gradA = gradC @ B^T, gradB = A^T @ gradC.
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// GELUBackward computes the gradient of the GELU tanh approximation.
func GELUBackward(x, gradY *Tensor) *Tensor {
	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)

	gradX := NewTensor(x.Shape...)
	for i := range x.Data {
		v := float64(x.Data[i])

		inner := sqrt2OverPi * (v + coeff*v*v*v)
		tanhInner := math.Tanh(inner)

		tanhDeriv := 1.0 - tanhInner*tanhInner
		innerDeriv := sqrt2OverPi * (1.0 + 3.0*coeff*v*v)
		geluDeriv := 0.5*(1.0+tanhInner) + 0.5*v*tanhDeriv*innerDeriv

		gradX.Data[i] = gradY.Data[i] * float32(geluDeriv)
	}
	return gradX
}

// SoftmaxBackward computes the gradient through a row-wise softmax given its
// output y: gradX[i] = y[i] * (gradY[i] - sum_j gradY[j]*y[j]).
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.Shape) != 2 {
		panic("SoftmaxBackward requires 2D tensor")
	}

	rows, cols := y.Shape[0], y.Shape[1]
	gradX := NewTensor(y.Shape...)

	for i := 0; i < rows; i++ {
		dot := float32(0)
		for j := 0; j < cols; j++ {
			dot += gradY.Data[i*cols+j] * y.Data[i*cols+j]
		}
		for j := 0; j < cols; j++ {
			gradX.Data[i*cols+j] = y.Data[i*cols+j] * (gradY.Data[i*cols+j] - dot)
		}
	}

	return gradX
}

// LayerNormBackward computes gradients through layer normalization. x is the
// input that was normalized, gradY the gradient of the output.
func LayerNormBackward(x, gamma *Tensor, gradY *Tensor, eps float32) (gradX, gradGamma, gradBeta *Tensor) {
	if len(x.Shape) != 2 {
		panic("LayerNormBackward requires 2D tensor")
	}

	rows, cols := x.Shape[0], x.Shape[1]
	n := float32(cols)

	gradX = NewTensor(x.Shape...)
	gradGamma = NewTensor(cols)
	gradBeta = NewTensor(cols)

	for i := 0; i < rows; i++ {
		offset := i * cols

		mean := float32(0)
		for j := 0; j < cols; j++ {
			mean += x.Data[offset+j]
		}
		mean /= n

		variance := float32(0)
		for j := 0; j < cols; j++ {
			diff := x.Data[offset+j] - mean
			variance += diff * diff
		}
		variance /= n

		std := float32(math.Sqrt(float64(variance + eps)))

		var sumGradNorm, sumGradNormXNorm float32
		for j := 0; j < cols; j++ {
			xNorm := (x.Data[offset+j] - mean) / std

			gradGamma.Data[j] += gradY.Data[offset+j] * xNorm
			gradBeta.Data[j] += gradY.Data[offset+j]

			gradNorm := gradY.Data[offset+j] * gamma.Data[j]
			sumGradNorm += gradNorm
			sumGradNormXNorm += gradNorm * xNorm
		}

		for j := 0; j < cols; j++ {
			xNorm := (x.Data[offset+j] - mean) / std
			gradNorm := gradY.Data[offset+j] * gamma.Data[j]
			gradX.Data[offset+j] = (n*gradNorm - sumGradNorm - xNorm*sumGradNormXNorm) / (n * std)
		}
	}

	return gradX, gradGamma, gradBeta
}

// IgnoreIndex marks target positions that carry no loss; CrossEntropyLoss and
// CrossEntropyBackward skip them.
const IgnoreIndex = -100

// CrossEntropyLoss computes the mean cross-entropy between rows of logits and
// target class indices, using a log-sum-exp for stability.
func CrossEntropyLoss(logits *Tensor, targets []int) float32 {
	if len(logits.Shape) != 2 {
		panic("CrossEntropyLoss requires 2D logits")
	}
	rows, cols := logits.Shape[0], logits.Shape[1]
	if len(targets) != rows {
		panic(fmt.Sprintf("target length %d != batch size %d", len(targets), rows))
	}

	totalLoss := float64(0)
	counted := 0

	for i := 0; i < rows; i++ {
		if targets[i] == IgnoreIndex {
			continue
		}

		maxLogit := logits.Data[i*cols]
		for j := 1; j < cols; j++ {
			if logits.Data[i*cols+j] > maxLogit {
				maxLogit = logits.Data[i*cols+j]
			}
		}

		sumExp := float64(0)
		for j := 0; j < cols; j++ {
			sumExp += math.Exp(float64(logits.Data[i*cols+j] - maxLogit))
		}
		logSumExp := float64(maxLogit) + math.Log(sumExp)

		totalLoss += logSumExp - float64(logits.Data[i*cols+targets[i]])
		counted++
	}

	if counted == 0 {
		return 0
	}
	return float32(totalLoss / float64(counted))
}

// CrossEntropyBackward computes the gradient of the mean cross-entropy loss
// with respect to the logits: softmax(logits) - one_hot(target), averaged over
// the rows that carry a target.
func CrossEntropyBackward(logits *Tensor, targets []int) *Tensor {
	if len(logits.Shape) != 2 {
		panic("CrossEntropyBackward requires 2D logits")
	}
	rows, cols := logits.Shape[0], logits.Shape[1]

	counted := 0
	for _, t := range targets {
		if t != IgnoreIndex {
			counted++
		}
	}

	grad := NewTensor(rows, cols)
	if counted == 0 {
		return grad
	}

	probs := Softmax(logits)
	scale := 1.0 / float32(counted)

	for i := 0; i < rows; i++ {
		if targets[i] == IgnoreIndex {
			continue
		}
		for j := 0; j < cols; j++ {
			p := probs.Data[i*cols+j]
			if j == targets[i] {
				grad.Data[i*cols+j] = (p - 1.0) * scale
			} else {
				grad.Data[i*cols+j] = p * scale
			}
		}
	}

	return grad
}
