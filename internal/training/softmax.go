package training

import (
	"classifier-backend/plugin/shared"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
)

// SoftmaxTrainer trains a linear softmax classifier with mini batch SGD on a
// dataset laid out as {dataset}/train/{label}/* and {dataset}/test/{label}/*.
type SoftmaxTrainer struct {
	LearningRate float64
	BatchSize    int
	ImageSize    int
	Seed         int64
}

func (s *SoftmaxTrainer) Train(ctx context.Context, req shared.TrainRequest, reporter Reporter) (Result, error) {
	if req.Epochs <= 0 {
		return Result{}, fmt.Errorf("epochs must be positive, got %d", req.Epochs)
	}

	train, classes, err := LoadImageFolder(filepath.Join(req.DatasetDir, "train"), s.ImageSize, nil)
	if err != nil {
		return Result{}, fmt.Errorf("error loading training split: %w", err)
	}
	if len(classes) < 2 || len(train) == 0 {
		return Result{}, errors.New("training split needs at least two labelled classes")
	}

	test, _, err := LoadImageFolder(filepath.Join(req.DatasetDir, "test"), s.ImageSize, classes)
	if err != nil {
		return Result{}, fmt.Errorf("error loading test split: %w", err)
	}
	if len(test) == 0 {
		return Result{}, errors.New("test split is empty")
	}

	slog.Info("loaded dataset", "task_id", req.TaskId, "train_samples", len(train), "test_samples", len(test), "classes", len(classes))

	weights := NewWeights(classes, s.ImageSize)
	rng := rand.New(rand.NewSource(s.Seed))

	batchSize := max(s.BatchSize, 1)

	for epoch := 1; epoch <= req.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		rng.Shuffle(len(train), func(i, j int) { train[i], train[j] = train[j], train[i] })

		totalLoss, correct := 0.0, 0
		for start := 0; start < len(train); start += batchSize {
			loss, hits := s.step(weights, train[start:min(start+batchSize, len(train))])
			totalLoss += loss
			correct += hits
		}

		if err := reporter.Epoch(totalLoss/float64(len(train)), float64(correct)/float64(len(train))); err != nil {
			return Result{}, err
		}
	}

	if err := weights.Save(WeightsPath(req.OutputDir)); err != nil {
		return Result{}, err
	}

	return Result{
		TrainAccuracy: weights.Accuracy(train),
		TestAccuracy:  weights.Accuracy(test),
	}, nil
}

// step applies one gradient update for the batch and returns the summed
// cross entropy loss and the number of correct predictions before the update.
func (s *SoftmaxTrainer) step(w *Weights, batch []Sample) (float64, int) {
	gradW := make([][]float64, len(w.W))
	for c := range gradW {
		gradW[c] = make([]float64, len(w.W[c]))
	}
	gradB := make([]float64, len(w.B))

	loss, correct := 0.0, 0
	for _, sample := range batch {
		label, probs := w.Classify(sample.Pixels)
		if label == sample.Label {
			correct++
		}
		loss -= math.Log(math.Max(probs[sample.Label], 1e-12))

		for c, p := range probs {
			diff := p
			if c == sample.Label {
				diff -= 1
			}
			gradB[c] += diff
			for i, v := range sample.Pixels {
				gradW[c][i] += diff * v
			}
		}
	}

	scale := s.LearningRate / float64(len(batch))
	for c := range w.W {
		w.B[c] -= scale * gradB[c]
		for i := range w.W[c] {
			w.W[c][i] -= scale * gradW[c][i]
		}
	}

	return loss, correct
}
