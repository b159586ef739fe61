// Package dataset loads the secret-image collection used by games.
//
// A Collection is loaded once per process and is read-only afterwards; it is
// safe for concurrent use.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
)

const (
	DefaultResolution = 14
	DefaultNumClasses = 10
)

// ErrDataUnavailable is returned when no image collection can be loaded.
var ErrDataUnavailable = errors.New("image data unavailable")

type Options struct {
	Dir        string
	Resolution int // pixels per side
	NumClasses int // keep labels below this value
	NumImages  int // 0 keeps every image
	Shuffle    bool
	Seed       uint64
}

// Image is one candidate secret: a Resolution×Resolution grid in [0,1] and its label.
type Image struct {
	Pixels [][]float64
	Label  int
}

type Collection struct {
	resolution int
	numClasses int
	pixels     [][]float32
	labels     []int
}

// rawSet is a decoded source before filtering: row-major pixels already in [0,1].
type rawSet struct {
	side   int
	pixels []float32
	labels []int
}

// Load reads the collection from opts.Dir. The NumPy cache written for the
// requested resolution is preferred; raw MNIST IDX files are the fallback.
func Load(opts Options) (*Collection, error) {
	if opts.Resolution <= 0 {
		opts.Resolution = DefaultResolution
	}
	if opts.NumClasses <= 0 {
		opts.NumClasses = DefaultNumClasses
	}

	raw, err := loadNPY(opts.Dir, opts.Resolution)
	if errors.Is(err, fs.ErrNotExist) {
		raw, err = loadIDX(opts.Dir, opts.Resolution)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}

	c := &Collection{resolution: opts.Resolution, numClasses: opts.NumClasses}
	size := raw.side * raw.side
	for i, label := range raw.labels {
		if label < 0 || label >= opts.NumClasses {
			continue
		}
		px := raw.pixels[i*size : (i+1)*size : (i+1)*size]
		for j, v := range px {
			px[j] = clamp01(v)
		}
		c.pixels = append(c.pixels, px)
		c.labels = append(c.labels, label)
	}

	if opts.Shuffle {
		rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
		rng.Shuffle(len(c.labels), func(i, j int) {
			c.pixels[i], c.pixels[j] = c.pixels[j], c.pixels[i]
			c.labels[i], c.labels[j] = c.labels[j], c.labels[i]
		})
	}
	if opts.NumImages > 0 && opts.NumImages < len(c.labels) {
		c.pixels = c.pixels[:opts.NumImages]
		c.labels = c.labels[:opts.NumImages]
	}

	if len(c.labels) == 0 {
		return nil, fmt.Errorf("%w: no images with label below %d in %s", ErrDataUnavailable, opts.NumClasses, opts.Dir)
	}
	return c, nil
}

// New builds a collection from in-memory images. Every image must be a
// resolution×resolution grid.
func New(resolution, numClasses int, images []Image) (*Collection, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: empty collection", ErrDataUnavailable)
	}
	c := &Collection{resolution: resolution, numClasses: numClasses}
	for i, img := range images {
		if len(img.Pixels) != resolution {
			return nil, fmt.Errorf("image %d: expected %d rows, got %d", i, resolution, len(img.Pixels))
		}
		px := make([]float32, 0, resolution*resolution)
		for r, row := range img.Pixels {
			if len(row) != resolution {
				return nil, fmt.Errorf("image %d row %d: expected %d columns, got %d", i, r, resolution, len(row))
			}
			for _, v := range row {
				px = append(px, clamp01(float32(v)))
			}
		}
		c.pixels = append(c.pixels, px)
		c.labels = append(c.labels, img.Label)
	}
	return c, nil
}

func (c *Collection) Len() int        { return len(c.labels) }
func (c *Collection) Resolution() int { return c.resolution }
func (c *Collection) NumClasses() int { return c.numClasses }

// Pick chooses an image uniformly at random from the whole collection.
func (c *Collection) Pick() (int, Image) {
	i := rand.IntN(len(c.labels))
	return i, c.At(i)
}

// At returns a copy of image i as a grid.
func (c *Collection) At(i int) Image {
	px := c.pixels[i]
	grid := make([][]float64, c.resolution)
	for r := range grid {
		row := make([]float64, c.resolution)
		for col := range row {
			row[col] = float64(px[r*c.resolution+col])
		}
		grid[r] = row
	}
	return Image{Pixels: grid, Label: c.labels[i]}
}

func clamp01(v float32) float32 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
