package training

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/image/draw"
)

type Sample struct {
	Pixels []float64
	Label  int
}

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// DecodeImage decodes a png or jpeg image and scales it to a size x size
// grayscale grid with values in [0, 1].
func DecodeImage(data []byte, size int) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}
	return toPixels(img, size), nil
}

func toPixels(img image.Image, size int) []float64 {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	pixels := make([]float64, size*size)
	for i, v := range dst.Pix {
		pixels[i] = float64(v) / 255
	}
	return pixels
}

// LoadImageFolder loads images laid out as dir/{label}/{file}. If classes is
// nil the class list is every label directory in sorted order, otherwise
// each label directory must be one of classes.
func LoadImageFolder(dir string, size int, classes []string) ([]Sample, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading dataset directory: %w", err)
	}

	labels := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			labels = append(labels, entry.Name())
		}
	}
	slices.Sort(labels)

	if classes == nil {
		classes = labels
	}

	samples := []Sample{}
	for _, label := range labels {
		idx := slices.Index(classes, label)
		if idx < 0 {
			return nil, nil, fmt.Errorf("label %q in %s is not a known class", label, dir)
		}

		files, err := os.ReadDir(filepath.Join(dir, label))
		if err != nil {
			return nil, nil, fmt.Errorf("error reading label directory: %w", err)
		}

		for _, file := range files {
			if file.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(file.Name()))] {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, label, file.Name()))
			if err != nil {
				return nil, nil, fmt.Errorf("error reading image: %w", err)
			}
			pixels, err := DecodeImage(data, size)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", filepath.Join(label, file.Name()), err)
			}
			samples = append(samples, Sample{Pixels: pixels, Label: idx})
		}
	}

	return samples, classes, nil
}
