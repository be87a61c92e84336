package jobs_test

import (
	"classifier-backend/internal/database"
	"classifier-backend/internal/datasets"
	"classifier-backend/internal/jobs"
	"classifier-backend/internal/messaging"
	"classifier-backend/internal/status"
	"classifier-backend/internal/storage"
	"classifier-backend/internal/training"
	"classifier-backend/plugin/shared"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const modelBucket = "models"

// scriptedTrainer reports one epoch per loss value. If gate is set it
// blocks until the gate is closed before reporting anything.
type scriptedTrainer struct {
	gate       chan struct{}
	losses     []float64
	accuracies []float64
	result     training.Result
	err        error
}

func (s *scriptedTrainer) Train(ctx context.Context, req shared.TrainRequest, reporter training.Reporter) (training.Result, error) {
	if s.gate != nil {
		<-s.gate
	}
	for i := range s.losses {
		if err := reporter.Epoch(s.losses[i], s.accuracies[i]); err != nil {
			return training.Result{}, err
		}
	}
	if s.err != nil {
		return training.Result{}, s.err
	}
	if err := training.NewWeights([]string{"cat", "dog"}, 2).Save(training.WeightsPath(req.OutputDir)); err != nil {
		return training.Result{}, err
	}
	return s.result, nil
}

func mnistTrainer(epochs int) *scriptedTrainer {
	t := &scriptedTrainer{result: training.Result{TrainAccuracy: 0.97, TestAccuracy: 0.95}}
	for i := 0; i < epochs; i++ {
		t.losses = append(t.losses, 1/float64(i+1))
		t.accuracies = append(t.accuracies, 0.5+float64(i)/8)
	}
	return t
}

// fakeLauncher runs the worker boundary in a goroutine instead of a separate
// process.
type fakeLauncher struct {
	mu        sync.Mutex
	trainer   training.Trainer
	launchErr error
	launched  []jobs.LaunchParams

	// crash makes the worker report RUNNING and then stop without a
	// terminal status.
	crash bool

	prediction   shared.Prediction
	evaluation   shared.Evaluation
	predictCalls []shared.PredictRequest

	running sync.WaitGroup
}

func (f *fakeLauncher) Launch(ctx context.Context, params jobs.LaunchParams, sink status.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.launchErr != nil {
		return f.launchErr
	}
	if err := os.MkdirAll(params.OutputDir, os.ModePerm); err != nil {
		return err
	}
	f.launched = append(f.launched, params)

	req := shared.TrainRequest{
		TaskId:     params.TaskId,
		Epochs:     params.Epochs,
		Dataset:    params.Dataset,
		DatasetDir: params.DatasetDir,
		OutputDir:  params.OutputDir,
	}
	trainer, crash := f.trainer, f.crash

	f.running.Add(1)
	go func() {
		defer f.running.Done()
		if crash {
			_ = sink.Set(req.TaskId, status.Record{Status: status.Running, Data: &status.Payload{Epoch: 1, Epochs: req.Epochs}})
			return
		}
		_ = training.RunJob(context.Background(), trainer, req, sink)
	}()

	return nil
}

func (f *fakeLauncher) Predict(ctx context.Context, req shared.PredictRequest) (shared.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictCalls = append(f.predictCalls, req)
	return f.prediction, nil
}

func (f *fakeLauncher) Evaluate(ctx context.Context, req shared.EvaluateRequest) (shared.Evaluation, error) {
	return f.evaluation, nil
}

func (f *fakeLauncher) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launched)
}

type harness struct {
	manager   *jobs.Manager
	db        *gorm.DB
	launcher  *fakeLauncher
	queue     *messaging.InMemoryQueue
	artifacts *storage.LocalObjectStore
	user      uuid.UUID
	modelsDir string
}

func createDB(t *testing.T) *gorm.DB {
	db, err := database.NewDatabase("", t.TempDir())
	require.NoError(t, err)
	return db
}

func createUser(t *testing.T, db *gorm.DB, name string) uuid.UUID {
	user, err := database.CreateUser(context.Background(), db, name, "hash")
	require.NoError(t, err)
	return user.Id
}

func setup(t *testing.T, trainer training.Trainer) *harness {
	db := createDB(t)

	catalog, err := datasets.NewCatalog(t.TempDir(), []datasets.Dataset{{Name: "mnist"}, {Name: "cifar"}})
	require.NoError(t, err)

	artifacts, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, artifacts.CreateBucket(context.Background(), modelBucket))

	queue := messaging.NewInMemoryQueue(100)
	launcher := &fakeLauncher{trainer: trainer}
	modelsDir := t.TempDir()

	manager := jobs.NewManager(db, launcher, catalog, queue, artifacts, jobs.ManagerConfig{
		ModelsRoot:  modelsDir,
		ModelBucket: modelBucket,
	})

	t.Cleanup(launcher.running.Wait)

	return &harness{
		manager:   manager,
		db:        db,
		launcher:  launcher,
		queue:     queue,
		artifacts: artifacts,
		user:      createUser(t, db, "user-"+uuid.NewString()[:8]),
		modelsDir: modelsDir,
	}
}

func waitForStatus(t *testing.T, m *jobs.Manager, taskId uuid.UUID, want status.Status) status.Record {
	require.Eventually(t, func() bool {
		return m.TaskStatus(taskId).Status == want
	}, 5*time.Second, 10*time.Millisecond, "task %s never reached %s", taskId, want)
	return m.TaskStatus(taskId)
}

func countRecords(t *testing.T, db *gorm.DB, taskId uuid.UUID) int64 {
	var count int64
	require.NoError(t, db.Model(&database.TrainingRecord{}).Where("task_id = ?", taskId).Count(&count).Error)
	return count
}

func drainEvents(t *testing.T, queue *messaging.InMemoryQueue) []messaging.JobEvent {
	events := []messaging.JobEvent{}
	for {
		select {
		case d := <-queue.Deliveries():
			event, err := d.Event()
			require.NoError(t, err)
			events = append(events, event)
		default:
			return events
		}
	}
}

func eventTypes(events []messaging.JobEvent) []string {
	types := []string{}
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func weightsFile(dir string) string {
	return filepath.Join(dir, filepath.Base(dir)+".bin")
}
