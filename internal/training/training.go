package training

import (
	"classifier-backend/internal/status"
	"classifier-backend/plugin/shared"
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

type Result struct {
	TrainAccuracy float64
	TestAccuracy  float64
}

// Reporter receives one call per completed epoch.
type Reporter interface {
	Epoch(loss, accuracy float64) error
}

type Trainer interface {
	Train(ctx context.Context, req shared.TrainRequest, reporter Reporter) (Result, error)
}

type progressReporter struct {
	sink    status.Sink
	taskId  uuid.UUID
	payload status.Payload
}

func newProgressReporter(sink status.Sink, taskId uuid.UUID, epochs int) *progressReporter {
	return &progressReporter{
		sink:   sink,
		taskId: taskId,
		payload: status.Payload{
			Epochs:     epochs,
			Losses:     []float64{},
			Accuracies: []float64{},
		},
	}
}

// Epoch publishes the cumulative loss and accuracy sequences as a RUNNING
// record.
func (r *progressReporter) Epoch(loss, accuracy float64) error {
	r.payload.Epoch++
	r.payload.Losses = append(r.payload.Losses, loss)
	r.payload.Accuracies = append(r.payload.Accuracies, accuracy)

	if err := r.sink.Set(r.taskId, status.Record{Status: status.Running, Data: r.snapshot()}); err != nil {
		return fmt.Errorf("error reporting progress for epoch %d: %w", r.payload.Epoch, err)
	}
	return nil
}

func (r *progressReporter) snapshot() *status.Payload {
	p := r.payload
	p.Losses = append([]float64{}, r.payload.Losses...)
	p.Accuracies = append([]float64{}, r.payload.Accuracies...)
	return &p
}

// RunJob is the top level of a training worker. It always attempts to leave
// the task in a terminal status: errors and panics from the trainer become
// FAILED, a normal return becomes FINISHED with the full result.
func RunJob(ctx context.Context, trainer Trainer, req shared.TrainRequest, sink status.Sink) error {
	logger := slog.With("task_id", req.TaskId, "dataset", req.Dataset)

	reporter := newProgressReporter(sink, req.TaskId, req.Epochs)

	if err := sink.Set(req.TaskId, status.Record{Status: status.Running, Data: reporter.snapshot()}); err != nil {
		logger.Error("error reporting job start", "error", err)
		return fmt.Errorf("error reporting job start: %w", err)
	}

	logger.Info("training started", "epochs", req.Epochs)

	result, err := runTrainer(ctx, trainer, req, reporter)
	if err != nil {
		logger.Error("training failed", "error", err)
		data := reporter.snapshot()
		data.Error = err.Error()
		if setErr := sink.Set(req.TaskId, status.Record{Status: status.Failed, Data: data}); setErr != nil {
			logger.Error("error reporting job failure", "error", setErr)
		}
		return err
	}

	data := reporter.snapshot()
	data.TrainAccuracy = &result.TrainAccuracy
	data.TestAccuracy = &result.TestAccuracy
	if err := sink.Set(req.TaskId, status.Record{Status: status.Finished, Data: data}); err != nil {
		logger.Error("error reporting job completion", "error", err)
		return fmt.Errorf("error reporting job completion: %w", err)
	}

	logger.Info("training finished", "train_accuracy", result.TrainAccuracy, "test_accuracy", result.TestAccuracy)

	return nil
}

func runTrainer(ctx context.Context, trainer Trainer, req shared.TrainRequest, reporter Reporter) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trainer panicked: %v", r)
		}
	}()

	return trainer.Train(ctx, req, reporter)
}
