package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

const (
	idxImagesFile = "train-images-idx3-ubyte"
	idxLabelsFile = "train-labels-idx1-ubyte"

	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801

	maxIDXSide = 1024
)

// loadIDX reads the raw MNIST training files (plain or .gz) and resizes every
// image to res×res.
func loadIDX(dir string, res int) (*rawSet, error) {
	images, rows, cols, err := readIDXImages(dir)
	if err != nil {
		return nil, err
	}
	labels, err := readIDXLabels(dir)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(images) {
		return nil, fmt.Errorf("idx: %d images but %d labels", len(images), len(labels))
	}

	pixels := make([]float32, 0, len(images)*res*res)
	dst := image.NewGray(image.Rect(0, 0, res, res))
	for _, pix := range images {
		src := &image.Gray{Pix: pix, Stride: cols, Rect: image.Rect(0, 0, cols, rows)}
		out := src
		if rows != res || cols != res {
			draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
			out = dst
		}
		for _, v := range out.Pix[:res*res] {
			pixels = append(pixels, float32(v)/255)
		}
	}
	return &rawSet{side: res, pixels: pixels, labels: labels}, nil
}

// openIDX opens name or name.gz inside dir.
func openIDX(dir, name string) (io.Reader, func() error, error) {
	path := filepath.Join(dir, name)
	f, err := os.Open(path)
	if err == nil {
		return bufio.NewReader(f), f.Close, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	f, err = os.Open(path + ".gz")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path+".gz", err)
	}
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read gzip %s: %w", path+".gz", err)
	}
	return gz, func() error {
		gz.Close()
		return f.Close()
	}, nil
}

func readIDXImages(dir string) ([][]byte, int, int, error) {
	r, closeFn, err := openIDX(dir, idxImagesFile)
	if err != nil {
		return nil, 0, 0, err
	}
	defer closeFn()

	var hdr struct{ Magic, Count, Rows, Cols uint32 }
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, 0, 0, fmt.Errorf("idx images header: %w", err)
	}
	if hdr.Magic != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("idx images: bad magic %#x", hdr.Magic)
	}
	if hdr.Rows == 0 || hdr.Cols == 0 || hdr.Rows > maxIDXSide || hdr.Cols > maxIDXSide {
		return nil, 0, 0, fmt.Errorf("idx images: bad %dx%d grid", hdr.Rows, hdr.Cols)
	}

	// The header count is not trusted for allocation; a short file fails on read.
	size := int(hdr.Rows * hdr.Cols)
	images := make([][]byte, 0, min(int(hdr.Count), 1024))
	for i := 0; i < int(hdr.Count); i++ {
		img := make([]byte, size)
		if _, err := io.ReadFull(r, img); err != nil {
			return nil, 0, 0, fmt.Errorf("idx images: image %d of %d: %w", i, hdr.Count, err)
		}
		images = append(images, img)
	}
	return images, int(hdr.Rows), int(hdr.Cols), nil
}

func readIDXLabels(dir string) ([]int, error) {
	r, closeFn, err := openIDX(dir, idxLabelsFile)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var hdr struct{ Magic, Count uint32 }
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("idx labels header: %w", err)
	}
	if hdr.Magic != idxLabelsMagic {
		return nil, fmt.Errorf("idx labels: bad magic %#x", hdr.Magic)
	}

	buf, err := io.ReadAll(io.LimitReader(r, int64(hdr.Count)))
	if err != nil {
		return nil, fmt.Errorf("idx labels: %w", err)
	}
	if len(buf) != int(hdr.Count) {
		return nil, fmt.Errorf("idx labels: header says %d, file has %d", hdr.Count, len(buf))
	}
	labels := make([]int, len(buf))
	for i, b := range buf {
		labels[i] = int(b)
	}
	return labels, nil
}
