package tensor

import (
	"math"
	"testing"
)

func TestMatMul(t *testing.T) {
	a := NewTensor(2, 3)
	copy(a.Data, []float32{1, 2, 3, 4, 5, 6})
	b := NewTensor(3, 2)
	copy(b.Data, []float32{7, 8, 9, 10, 11, 12})

	c := MatMul(a, b)

	if c.Shape[0] != 2 || c.Shape[1] != 2 {
		t.Fatalf("expected shape [2,2], got %v", c.Shape)
	}
	want := []float32{58, 64, 139, 154}
	for i, w := range want {
		if c.Data[i] != w {
			t.Errorf("element %d: expected %v, got %v", i, w, c.Data[i])
		}
	}
}

func TestMatMulShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on incompatible shapes")
		}
	}()
	MatMul(NewTensor(2, 3), NewTensor(2, 3))
}

func TestTranspose(t *testing.T) {
	a := NewTensor(2, 3)
	copy(a.Data, []float32{1, 2, 3, 4, 5, 6})

	at := Transpose(a)

	if at.Shape[0] != 3 || at.Shape[1] != 2 {
		t.Fatalf("expected shape [3,2], got %v", at.Shape)
	}
	if at.At(0, 1) != 4 || at.At(2, 0) != 3 {
		t.Errorf("transpose values wrong: %v", at.Data)
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := NewTensor(3, 4)
	copy(x.Data, []float32{1, 2, 3, 4, -1, 0, 1, 2, 100, 100, 100, 100})

	y := Softmax(x)

	for i := 0; i < 3; i++ {
		sum := float32(0)
		for j := 0; j < 4; j++ {
			v := y.At(i, j)
			if v < 0 {
				t.Errorf("negative probability at (%d,%d): %v", i, j, v)
			}
			sum += v
		}
		if math.Abs(float64(sum)-1.0) > 1e-5 {
			t.Errorf("row %d sums to %v, expected 1", i, sum)
		}
	}
}

func TestSoftmaxLargeValues(t *testing.T) {
	x := NewTensor(1, 3)
	copy(x.Data, []float32{1000, 1000, 1000})

	y := Softmax(x)
	for j := 0; j < 3; j++ {
		if math.Abs(float64(y.At(0, j))-1.0/3.0) > 1e-5 {
			t.Errorf("expected uniform distribution, got %v", y.Data)
		}
	}
}

func TestGELU(t *testing.T) {
	x := NewTensor(3)
	copy(x.Data, []float32{-10, 0, 10})

	y := GELU(x)

	if y.Data[1] != 0 {
		t.Errorf("GELU(0) = %v, expected 0", y.Data[1])
	}
	if math.Abs(float64(y.Data[2]-10)) > 1e-3 {
		t.Errorf("GELU(10) = %v, expected ~10", y.Data[2])
	}
	if math.Abs(float64(y.Data[0])) > 1e-3 {
		t.Errorf("GELU(-10) = %v, expected ~0", y.Data[0])
	}
}

func TestLayerNormalize(t *testing.T) {
	x := NewTensor(2, 4)
	copy(x.Data, []float32{1, 2, 3, 4, 10, 20, 30, 40})

	gamma := NewTensor(4)
	beta := NewTensor(4)
	for i := range gamma.Data {
		gamma.Data[i] = 1
	}

	y := LayerNormalize(x, gamma, beta, 1e-5)

	for i := 0; i < 2; i++ {
		mean := float64(0)
		for j := 0; j < 4; j++ {
			mean += float64(y.At(i, j))
		}
		mean /= 4
		if math.Abs(mean) > 1e-5 {
			t.Errorf("row %d mean = %v, expected 0", i, mean)
		}

		variance := float64(0)
		for j := 0; j < 4; j++ {
			d := float64(y.At(i, j)) - mean
			variance += d * d
		}
		variance /= 4
		if math.Abs(variance-1.0) > 1e-3 {
			t.Errorf("row %d variance = %v, expected 1", i, variance)
		}
	}
}

func TestReshapeSharesData(t *testing.T) {
	a := NewTensor(2, 3)
	b := a.Reshape(3, 2)

	b.Data[0] = 42
	if a.Data[0] != 42 {
		t.Error("reshape should share underlying data")
	}
}

func TestReshapeSizeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on size mismatch")
		}
	}()
	NewTensor(2, 3).Reshape(4, 2)
}

func TestAccumulateGrad(t *testing.T) {
	p := NewTensor(3)
	g := NewTensor(3)
	copy(g.Data, []float32{1, 2, 3})

	p.AccumulateGrad(g)
	p.AccumulateGrad(g)

	for i, want := range []float32{2, 4, 6} {
		if p.Grad[i] != want {
			t.Errorf("grad[%d] = %v, expected %v", i, p.Grad[i], want)
		}
	}

	p.ZeroGrad()
	for i := range p.Grad {
		if p.Grad[i] != 0 {
			t.Errorf("grad[%d] not cleared", i)
		}
	}
}

func TestArgmax(t *testing.T) {
	if got := Argmax([]float32{1, 5, 3}); got != 1 {
		t.Errorf("Argmax = %d, expected 1", got)
	}
	if got := Argmax(nil); got != -1 {
		t.Errorf("Argmax(nil) = %d, expected -1", got)
	}
}
