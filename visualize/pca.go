// Package visualize projects learned embeddings down to a plottable number
// of dimensions.
package visualize

import (
	"bufio"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"tinyformer-go/tensor"
)

// PCA projects the rows of a 2D tensor onto its top principal components via
// a singular value decomposition of the centered data. The result is
// [rows, components].
func PCA(data *tensor.Tensor, components int) (*tensor.Tensor, error) {
	if len(data.Shape) != 2 {
		return nil, fmt.Errorf("pca: input must be 2D, got %d dimensions", len(data.Shape))
	}
	rows, cols := data.Shape[0], data.Shape[1]
	if components <= 0 || components > cols {
		return nil, fmt.Errorf("pca: components must be in [1, %d], got %d", cols, components)
	}
	if rows < 2 {
		return nil, fmt.Errorf("pca: need at least 2 rows, got %d", rows)
	}

	centered := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		mean := 0.0
		for i := 0; i < rows; i++ {
			mean += float64(data.Data[i*cols+j])
		}
		mean /= float64(rows)
		for i := 0; i < rows; i++ {
			centered.Set(i, j, float64(data.Data[i*cols+j])-mean)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return nil, fmt.Errorf("pca: svd failed to converge")
	}

	var v mat.Dense
	svd.VTo(&v)

	var projected mat.Dense
	projected.Mul(centered, v.Slice(0, cols, 0, components))

	out := tensor.NewTensor(rows, components)
	for i := 0; i < rows; i++ {
		for j := 0; j < components; j++ {
			out.Data[i*components+j] = float32(projected.At(i, j))
		}
	}
	return out, nil
}

// WriteTSV writes projected points with their labels, one per line, for
// plotting with external tools. coords: [len(labels), dims].
func WriteTSV(path string, labels []string, coords *tensor.Tensor) error {
	if len(coords.Shape) != 2 || coords.Shape[0] != len(labels) {
		return fmt.Errorf("coords shape %v does not match %d labels", coords.Shape, len(labels))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	dims := coords.Shape[1]
	for i, label := range labels {
		fmt.Fprintf(w, "%s", label)
		for j := 0; j < dims; j++ {
			fmt.Fprintf(w, "\t%.6f", coords.Data[i*dims+j])
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
