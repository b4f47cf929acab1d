package visualize

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tinyformer-go/tensor"
)

func TestPCAProjectsDominantDirection(t *testing.T) {
	// Points along the x axis with tiny noise in y: the first component must
	// capture nearly all the spread.
	data := tensor.NewTensor(5, 2)
	xs := []float32{-2, -1, 0, 1, 2}
	ys := []float32{0.01, -0.01, 0, 0.01, -0.01}
	for i := 0; i < 5; i++ {
		data.Set(xs[i], i, 0)
		data.Set(ys[i], i, 1)
	}

	coords, err := PCA(data, 1)
	if err != nil {
		t.Fatalf("pca: %v", err)
	}
	if coords.Shape[0] != 5 || coords.Shape[1] != 1 {
		t.Fatalf("projection shape %v, expected [5 1]", coords.Shape)
	}

	spread := float64(0)
	for i := 0; i < 5; i++ {
		spread += float64(coords.At(i, 0) * coords.At(i, 0))
	}
	// Total variance along x is 10; the first component must recover it.
	if math.Abs(spread-10) > 0.1 {
		t.Errorf("first component captured spread %v, expected ~10", spread)
	}
}

func TestPCAPreservesDistancesInFullRank(t *testing.T) {
	data := tensor.NewTensor(4, 3)
	vals := []float32{1, 0, 0, 0, 1, 0, 0, 0, 1, 1, 1, 1}
	copy(data.Data, vals)

	coords, err := PCA(data, 3)
	if err != nil {
		t.Fatalf("pca: %v", err)
	}

	dist := func(x *tensor.Tensor, a, b int) float64 {
		sum := 0.0
		for j := 0; j < x.Shape[1]; j++ {
			d := float64(x.At(a, j) - x.At(b, j))
			sum += d * d
		}
		return math.Sqrt(sum)
	}

	for a := 0; a < 4; a++ {
		for b := a + 1; b < 4; b++ {
			if math.Abs(dist(data, a, b)-dist(coords, a, b)) > 1e-4 {
				t.Errorf("distance (%d,%d) not preserved under full-rank rotation", a, b)
			}
		}
	}
}

func TestPCAValidation(t *testing.T) {
	data := tensor.NewTensor(3, 4)

	if _, err := PCA(data, 0); err == nil {
		t.Error("expected error for zero components")
	}
	if _, err := PCA(data, 5); err == nil {
		t.Error("expected error for more components than columns")
	}
	if _, err := PCA(tensor.NewTensor(1, 4), 2); err == nil {
		t.Error("expected error for a single row")
	}
	if _, err := PCA(tensor.NewTensor(8), 2); err == nil {
		t.Error("expected error for non-2D input")
	}
}

func TestWriteTSV(t *testing.T) {
	coords := tensor.NewTensor(2, 2)
	copy(coords.Data, []float32{1.5, -2, 0, 3})
	path := filepath.Join(t.TempDir(), "points.tsv")

	if err := WriteTSV(path, []string{"a", "b"}, coords); err != nil {
		t.Fatalf("write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, expected 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "a\t1.5") {
		t.Errorf("unexpected first line: %q", lines[0])
	}

	if err := WriteTSV(path, []string{"a"}, coords); err == nil {
		t.Error("expected error on label/row mismatch")
	}
}
