package training

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

const WeightsExtension = ".bin"

var ErrInvalidWeights = errors.New("invalid weights file")

// WeightsPath returns the weights file stored in an artifact directory. The
// file is named after the directory, which is named after the task or upload
// id.
func WeightsPath(dir string) string {
	return filepath.Join(dir, filepath.Base(dir)+WeightsExtension)
}

// Weights is a linear softmax classifier over grayscale pixels.
type Weights struct {
	Classes   []string
	ImageSize int
	W         [][]float64
	B         []float64
}

func NewWeights(classes []string, imageSize int) *Weights {
	w := &Weights{
		Classes:   classes,
		ImageSize: imageSize,
		W:         make([][]float64, len(classes)),
		B:         make([]float64, len(classes)),
	}
	for i := range w.W {
		w.W[i] = make([]float64, imageSize*imageSize)
	}
	return w
}

func (w *Weights) Validate() error {
	if len(w.Classes) < 2 {
		return fmt.Errorf("%w: expected at least 2 classes, found %d", ErrInvalidWeights, len(w.Classes))
	}
	if w.ImageSize <= 0 {
		return fmt.Errorf("%w: image size must be positive", ErrInvalidWeights)
	}
	if len(w.W) != len(w.Classes) || len(w.B) != len(w.Classes) {
		return fmt.Errorf("%w: expected %d weight rows", ErrInvalidWeights, len(w.Classes))
	}
	for _, row := range w.W {
		if len(row) != w.ImageSize*w.ImageSize {
			return fmt.Errorf("%w: expected %d weights per class, found %d", ErrInvalidWeights, w.ImageSize*w.ImageSize, len(row))
		}
	}
	return nil
}

func (w *Weights) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating weights file: %w", err)
	}

	if err := gob.NewEncoder(file).Encode(w); err != nil {
		file.Close()
		return fmt.Errorf("error encoding weights: %w", err)
	}

	// Close flushes the file, so a failure here means the weights are incomplete.
	if err := file.Close(); err != nil {
		return fmt.Errorf("error closing weights file: %w", err)
	}
	return nil
}

func DecodeWeights(r io.Reader) (*Weights, error) {
	var w Weights
	if err := gob.NewDecoder(r).Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWeights, err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

func LoadWeights(path string) (*Weights, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening weights file: %w", err)
	}
	defer file.Close()

	return DecodeWeights(file)
}

// Probabilities returns the softmax distribution over classes for x.
func (w *Weights) Probabilities(x []float64) []float64 {
	logits := make([]float64, len(w.Classes))
	maxLogit := math.Inf(-1)
	for c, row := range w.W {
		z := w.B[c]
		for i, v := range x {
			z += row[i] * v
		}
		logits[c] = z
		maxLogit = math.Max(maxLogit, z)
	}

	total := 0.0
	for c := range logits {
		logits[c] = math.Exp(logits[c] - maxLogit)
		total += logits[c]
	}
	for c := range logits {
		logits[c] /= total
	}
	return logits
}

func (w *Weights) Classify(x []float64) (int, []float64) {
	probs := w.Probabilities(x)
	return argmax(probs), probs
}

func (w *Weights) Accuracy(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	correct := 0
	for _, s := range samples {
		if label, _ := w.Classify(s.Pixels); label == s.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(samples))
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
