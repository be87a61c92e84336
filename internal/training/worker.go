package training

import (
	"classifier-backend/internal/status"
	"classifier-backend/plugin/shared"
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// Worker is the implementation served by the trainer plugin binary.
type Worker struct {
	ctx     context.Context
	trainer Trainer
}

func NewWorker(ctx context.Context, trainer Trainer) *Worker {
	return &Worker{ctx: ctx, trainer: trainer}
}

func (w *Worker) Train(req shared.TrainRequest, sink status.Sink) error {
	return RunJob(w.ctx, w.trainer, req, sink)
}

func (w *Worker) Predict(req shared.PredictRequest) (shared.Prediction, error) {
	weights, err := LoadWeights(req.WeightsFile)
	if err != nil {
		return shared.Prediction{}, err
	}

	pixels, err := DecodeImage(req.Image, weights.ImageSize)
	if err != nil {
		return shared.Prediction{}, err
	}

	label, probs := weights.Classify(pixels)

	scores := make(map[string]float64, len(probs))
	for i, p := range probs {
		scores[weights.Classes[i]] = p
	}

	return shared.Prediction{Label: weights.Classes[label], Confidence: probs[label], Scores: scores}, nil
}

func (w *Worker) Evaluate(req shared.EvaluateRequest) (shared.Evaluation, error) {
	weights, err := LoadWeights(req.WeightsFile)
	if err != nil {
		return shared.Evaluation{}, err
	}

	samples, _, err := LoadImageFolder(filepath.Join(req.DatasetDir, "test"), weights.ImageSize, weights.Classes)
	if err != nil {
		return shared.Evaluation{}, fmt.Errorf("error loading test split: %w", err)
	}
	if len(samples) == 0 {
		return shared.Evaluation{}, errors.New("test split is empty")
	}

	return shared.Evaluation{Accuracy: weights.Accuracy(samples), Samples: len(samples)}, nil
}
