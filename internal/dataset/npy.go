package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
)

func npyImagesFile(res int) string { return fmt.Sprintf("mnist_images_%dpx.npy", res) }
func npyLabelsFile(res int) string { return fmt.Sprintf("mnist_labels_%dpx.npy", res) }

// loadNPY reads the preprocessed cache for one resolution. Images may be
// stored as (n, res, res), (n, res*res) or flat; only the element count is checked.
func loadNPY(dir string, res int) (*rawSet, error) {
	pixels, err := readNPYPixels(filepath.Join(dir, npyImagesFile(res)))
	if err != nil {
		return nil, err
	}
	labels, err := readNPYLabels(filepath.Join(dir, npyLabelsFile(res)))
	if err != nil {
		return nil, err
	}

	if want := len(labels) * res * res; len(pixels) != want {
		return nil, fmt.Errorf("npy cache: %d labels need %d pixel values at %dpx, got %d", len(labels), want, res, len(pixels))
	}
	return &rawSet{side: res, pixels: pixels, labels: labels}, nil
}

func openNPY(path string) (*npyio.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	r, err := npyio.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read npy header %s: %w", path, err)
	}
	if r.Header.Descr.Fortran {
		f.Close()
		return nil, nil, fmt.Errorf("%s: fortran-ordered arrays are not supported", path)
	}
	return r, f.Close, nil
}

func readNPYPixels(path string) ([]float32, error) {
	r, closeFn, err := openNPY(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	switch dtype := r.Header.Descr.Type; dtype {
	case "<f4":
		var v []float32
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return v, nil
	case "<f8":
		var v []float64
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	case "|u1", "<u1":
		var v []uint8
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x) / 255
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: unsupported pixel dtype %q", path, dtype)
	}
}

func readNPYLabels(path string) ([]int, error) {
	r, closeFn, err := openNPY(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var labels []int
	switch dtype := r.Header.Descr.Type; dtype {
	case "<i8":
		var v []int64
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for _, x := range v {
			labels = append(labels, int(x))
		}
	case "<i4":
		var v []int32
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for _, x := range v {
			labels = append(labels, int(x))
		}
	case "|u1", "<u1":
		var v []uint8
		if err := r.Read(&v); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for _, x := range v {
			labels = append(labels, int(x))
		}
	default:
		return nil, fmt.Errorf("%s: unsupported label dtype %q", path, dtype)
	}
	return labels, nil
}
