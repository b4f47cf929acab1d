// Package tensor implements the small numeric core used by the models in this
// repository: a flat float32 tensor type, the handful of dense operations a
// transformer needs (matmul, softmax, GELU, layer normalization), and the
// matching backward passes for training.
package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// Tensor represents a multi-dimensional array. Data is stored flat in
// row-major order. Grad is allocated lazily and only for tensors that act as
// trainable parameters.
type Tensor struct {
	Data  []float32
	Grad  []float32
	Shape []int
}

// NewTensor creates a zero-filled tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Tensor{
		Data:  make([]float32, size),
		Shape: shape,
	}
}

// NewTensorRandn creates a tensor filled with normally distributed values
// scaled by std.
func NewTensorRandn(rng *rand.Rand, std float64, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64() * std)
	}
	return t
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.Data[t.flatIndex(indices)]
}

// Set stores val at the given indices.
func (t *Tensor) Set(val float32, indices ...int) {
	t.Data[t.flatIndex(indices)] = val
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("wrong number of indices: got %d, want %d", len(indices), len(t.Shape)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

// Clone returns a deep copy of the tensor's data and shape. Gradients are not
// copied.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Reshape returns a tensor with a different shape sharing the same data.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	newSize := 1
	for _, dim := range shape {
		newSize *= dim
	}
	if newSize != t.Size() {
		panic(fmt.Sprintf("cannot reshape: size mismatch %d vs %d", newSize, t.Size()))
	}
	return &Tensor{
		Data:  t.Data,
		Grad:  t.Grad,
		Shape: shape,
	}
}

// Row returns row i of a 2D tensor as a copied slice.
func (t *Tensor) Row(i int) []float32 {
	if len(t.Shape) != 2 {
		panic("Row requires 2D tensor")
	}
	cols := t.Shape[1]
	out := make([]float32, cols)
	copy(out, t.Data[i*cols:(i+1)*cols])
	return out
}

// ZeroGrad clears the gradient buffer, allocating it if needed.
func (t *Tensor) ZeroGrad() {
	if t.Grad == nil {
		t.Grad = make([]float32, len(t.Data))
		return
	}
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// AccumulateGrad adds grad's data into the tensor's gradient buffer.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if t.Size() != grad.Size() {
		panic(fmt.Sprintf("AccumulateGrad: size mismatch %d vs %d", t.Size(), grad.Size()))
	}
	if t.Grad == nil {
		t.Grad = make([]float32, len(t.Data))
	}
	for i := range t.Grad {
		t.Grad[i] += grad.Data[i]
	}
}

// MatMul performs matrix multiplication: [m,k] x [k,n] -> [m,n].
func MatMul(a, b *Tensor) *Tensor {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		panic("MatMul requires 2D tensors")
	}
	if a.Shape[1] != b.Shape[0] {
		panic(fmt.Sprintf("incompatible shapes: [%d,%d] x [%d,%d]", a.Shape[0], a.Shape[1], b.Shape[0], b.Shape[1]))
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	result := NewTensor(m, n)

	for i := 0; i < m; i++ {
		for p := 0; p < k; p++ {
			av := a.Data[i*k+p]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				result.Data[i*n+j] += av * b.Data[p*n+j]
			}
		}
	}

	return result
}

// Add performs element-wise addition.
func Add(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic("tensors must have same size")
	}
	result := NewTensor(a.Shape...)
	for i := range a.Data {
		result.Data[i] = a.Data[i] + b.Data[i]
	}
	return result
}

// Scale multiplies all elements by a scalar.
func Scale(t *Tensor, factor float32) *Tensor {
	result := NewTensor(t.Shape...)
	for i := range t.Data {
		result.Data[i] = t.Data[i] * factor
	}
	return result
}

// Transpose swaps the dimensions of a 2D tensor.
func Transpose(t *Tensor) *Tensor {
	if len(t.Shape) != 2 {
		panic("Transpose requires 2D tensor")
	}
	m, n := t.Shape[0], t.Shape[1]
	result := NewTensor(n, m)

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			result.Data[j*m+i] = t.Data[i*n+j]
		}
	}
	return result
}

// AddBias adds a bias vector to every row of a 2D tensor.
func AddBias(x, bias *Tensor) *Tensor {
	if len(x.Shape) != 2 || len(bias.Shape) != 1 {
		panic("AddBias requires 2D input and 1D bias")
	}
	if x.Shape[1] != bias.Shape[0] {
		panic(fmt.Sprintf("AddBias: dimension mismatch %d vs %d", x.Shape[1], bias.Shape[0]))
	}
	rows, cols := x.Shape[0], x.Shape[1]
	out := x.Clone()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Data[i*cols+j] += bias.Data[j]
		}
	}
	return out
}

// Softmax applies a numerically stable softmax along the last dimension of a
// 1D or 2D tensor.
func Softmax(t *Tensor) *Tensor {
	result := NewTensor(t.Shape...)

	if len(t.Shape) == 2 {
		rows, cols := t.Shape[0], t.Shape[1]
		for i := 0; i < rows; i++ {
			maxVal := t.Data[i*cols]
			for j := 1; j < cols; j++ {
				if t.Data[i*cols+j] > maxVal {
					maxVal = t.Data[i*cols+j]
				}
			}

			sum := float32(0)
			for j := 0; j < cols; j++ {
				val := float32(math.Exp(float64(t.Data[i*cols+j] - maxVal)))
				result.Data[i*cols+j] = val
				sum += val
			}

			for j := 0; j < cols; j++ {
				result.Data[i*cols+j] /= sum
			}
		}
		return result
	}

	maxVal := t.Data[0]
	for _, v := range t.Data {
		if v > maxVal {
			maxVal = v
		}
	}

	sum := float32(0)
	for i, v := range t.Data {
		val := float32(math.Exp(float64(v - maxVal)))
		result.Data[i] = val
		sum += val
	}

	for i := range result.Data {
		result.Data[i] /= sum
	}

	return result
}

// GELU applies the Gaussian Error Linear Unit activation (tanh approximation).
func GELU(t *Tensor) *Tensor {
	result := NewTensor(t.Shape...)
	for i, x := range t.Data {
		x3 := x * x * x
		inner := math.Sqrt(2.0/math.Pi) * float64(x+0.044715*x3)
		result.Data[i] = 0.5 * x * (1.0 + float32(math.Tanh(inner)))
	}
	return result
}

// LayerNormalize normalizes each row of x over its last dimension and applies
// the learned scale and shift: y = gamma * (x - mean) / sqrt(var + eps) + beta.
func LayerNormalize(x, gamma, beta *Tensor, eps float32) *Tensor {
	hiddenSize := x.Shape[len(x.Shape)-1]
	totalRows := x.Size() / hiddenSize

	result := NewTensor(x.Shape...)
	for i := 0; i < totalRows; i++ {
		offset := i * hiddenSize

		mean := float32(0)
		for j := 0; j < hiddenSize; j++ {
			mean += x.Data[offset+j]
		}
		mean /= float32(hiddenSize)

		variance := float32(0)
		for j := 0; j < hiddenSize; j++ {
			diff := x.Data[offset+j] - mean
			variance += diff * diff
		}
		variance /= float32(hiddenSize)

		std := float32(math.Sqrt(float64(variance + eps)))
		for j := 0; j < hiddenSize; j++ {
			normalized := (x.Data[offset+j] - mean) / std
			result.Data[offset+j] = normalized*gamma.Data[j] + beta.Data[j]
		}
	}

	return result
}

// Argmax returns the index of the maximum value in a slice of logits.
func Argmax(data []float32) int {
	if len(data) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := data[0]
	for i := 1; i < len(data); i++ {
		if data[i] > maxVal {
			maxVal = data[i]
			maxIdx = i
		}
	}
	return maxIdx
}
