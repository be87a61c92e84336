package jobs

import (
	"classifier-backend/internal/status"
	"classifier-backend/plugin/shared"
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
)

type LaunchParams struct {
	TaskId     uuid.UUID
	Epochs     int
	Dataset    string
	DatasetDir string
	OutputDir  string
}

// Launcher starts training workers. Launch returns once the worker is
// running; the worker reports through sink from then on. Predict and
// Evaluate block until the worker answers.
type Launcher interface {
	Launch(ctx context.Context, params LaunchParams, sink status.Sink) error

	Predict(ctx context.Context, req shared.PredictRequest) (shared.Prediction, error)

	Evaluate(ctx context.Context, req shared.EvaluateRequest) (shared.Evaluation, error)
}

// prepareOutputDir creates dir and its parents. An existing empty directory
// is reused, anything else already at that path is an error.
func prepareOutputDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err == nil {
		if len(entries) > 0 {
			return fmt.Errorf("output directory %s already exists and is not empty", dir)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("error checking output directory %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating output directory %s: %w", dir, err)
	}
	return nil
}
