package jobs

import (
	"bytes"
	"classifier-backend/internal/database"
	"classifier-backend/internal/datasets"
	"classifier-backend/internal/messaging"
	"classifier-backend/internal/status"
	"classifier-backend/internal/storage"
	"classifier-backend/internal/training"
	"classifier-backend/plugin/shared"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type JobStatus struct {
	TaskId uuid.UUID
	Record status.Record
}

type ManagerConfig struct {
	// ModelsRoot is the directory holding one artifact directory per model.
	ModelsRoot  string
	ModelBucket string
}

// Manager is the entry point for starting, polling and finishing training
// jobs, and for using the resulting models.
type Manager struct {
	db         *gorm.DB
	store      *status.Store
	registry   *Registry
	launcher   Launcher
	reconciler *Reconciler
	catalog    *datasets.Catalog
	artifacts  storage.ObjectStore
	config     ManagerConfig
}

func NewManager(db *gorm.DB, launcher Launcher, catalog *datasets.Catalog, publisher messaging.Publisher, artifacts storage.ObjectStore, config ManagerConfig) *Manager {
	store := status.NewStore()
	registry := NewRegistry()

	return &Manager{
		db:         db,
		store:      store,
		registry:   registry,
		launcher:   launcher,
		reconciler: NewReconciler(db, store, registry, publisher, artifacts, config.ModelBucket),
		catalog:    catalog,
		artifacts:  artifacts,
		config:     config,
	}
}

func (m *Manager) StartJob(ctx context.Context, userId uuid.UUID, epochs int, dataset string) (uuid.UUID, error) {
	if epochs <= 0 {
		return uuid.Nil, fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidJob, epochs)
	}

	ds, ok := m.catalog.Lookup(dataset)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: unknown dataset %q", ErrInvalidJob, dataset)
	}

	taskId := uuid.New()
	job := Job{
		TaskId:    taskId,
		Name:      fmt.Sprintf("%s-%s", ds.Name, taskId.String()[:8]),
		Dataset:   ds.Name,
		Epochs:    epochs,
		OutputDir: filepath.Join(m.config.ModelsRoot, taskId.String()),
		StartTime: time.Now().UTC(),
	}

	if !m.registry.TryAcquire(userId, job) {
		active, _ := m.registry.Active(userId)
		return uuid.Nil, fmt.Errorf("%w: task %s", ErrConflict, active.TaskId)
	}

	params := LaunchParams{
		TaskId:     taskId,
		Epochs:     epochs,
		Dataset:    ds.Name,
		DatasetDir: m.catalog.Dir(ds),
		OutputDir:  job.OutputDir,
	}

	if err := m.launcher.Launch(ctx, params, m.store); err != nil {
		m.registry.ReleaseTask(userId, taskId)
		slog.Error("error launching training job", "task_id", taskId, "user_id", userId, "error", err)
		if !errors.Is(err, ErrLaunch) {
			err = fmt.Errorf("%w: %v", ErrLaunch, err)
		}
		return uuid.Nil, err
	}

	slog.Info("started training job", "task_id", taskId, "user_id", userId, "dataset", ds.Name, "epochs", epochs)

	m.reconciler.publish(ctx, messaging.JobEvent{
		Type:    messaging.JobStarted,
		TaskId:  taskId,
		UserId:  userId,
		Dataset: ds.Name,
	})

	return taskId, nil
}

func (m *Manager) Poll(userId uuid.UUID) (JobStatus, error) {
	job, ok := m.registry.Active(userId)
	if !ok {
		return JobStatus{}, ErrNoActiveJob
	}
	return JobStatus{TaskId: job.TaskId, Record: m.store.Get(job.TaskId)}, nil
}

func (m *Manager) Finish(ctx context.Context, userId uuid.UUID) (ReconcileResult, error) {
	job, ok := m.registry.Active(userId)
	if !ok {
		if taskId, ok := m.reconciler.LastReconciled(userId); ok {
			return ReconcileResult{}, fmt.Errorf("task %s: %w", taskId, ErrAlreadyReconciled)
		}
		return ReconcileResult{}, ErrNoActiveJob
	}
	return m.reconciler.Reconcile(ctx, userId, job.TaskId)
}

// LastReconciled returns the most recent task persisted for the user.
func (m *Manager) LastReconciled(userId uuid.UUID) (uuid.UUID, bool) {
	return m.reconciler.LastReconciled(userId)
}

// TaskStatus returns the latest record for any task launched by this
// process, whether or not it is still registered.
func (m *Manager) TaskStatus(taskId uuid.UUID) status.Record {
	return m.store.Get(taskId)
}

func (m *Manager) Datasets() []datasets.Dataset {
	return m.catalog.List()
}

func (m *Manager) getModel(ctx context.Context, userId, modelId uuid.UUID) (database.Model, error) {
	model, err := database.GetUserModel(ctx, m.db, userId, modelId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelId)
		}
		return database.Model{}, err
	}
	return model, nil
}

// ensureWeights returns the local weights file for the model, restoring the
// artifact directory from the object store if it is missing locally.
func (m *Manager) ensureWeights(ctx context.Context, model database.Model) (string, error) {
	path := training.WeightsPath(model.Directory)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if m.artifacts == nil {
		return "", fmt.Errorf("%w: weights for model %s are missing", ErrModelNotFound, model.Id)
	}

	prefix := filepath.Base(model.Directory)
	objects, err := m.artifacts.ListObjects(ctx, m.config.ModelBucket, prefix+"/")
	if err != nil {
		return "", fmt.Errorf("error listing model artifacts: %w", err)
	}
	if len(objects) == 0 {
		return "", fmt.Errorf("%w: weights for model %s are missing", ErrModelNotFound, model.Id)
	}

	slog.Info("restoring model artifacts", "model_id", model.Id, "bucket", m.config.ModelBucket)
	if err := m.artifacts.DownloadDir(ctx, m.config.ModelBucket, prefix, model.Directory, true); err != nil {
		return "", fmt.Errorf("error restoring model artifacts: %w", err)
	}

	return path, nil
}

func workerError(err error) error {
	if errors.Is(err, ErrLaunch) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrWorkerRequest, err)
}

func (m *Manager) Predict(ctx context.Context, userId, modelId uuid.UUID, image []byte) (shared.Prediction, error) {
	model, err := m.getModel(ctx, userId, modelId)
	if err != nil {
		return shared.Prediction{}, err
	}

	weights, err := m.ensureWeights(ctx, model)
	if err != nil {
		return shared.Prediction{}, err
	}

	prediction, err := m.launcher.Predict(ctx, shared.PredictRequest{WeightsFile: weights, Image: image})
	if err != nil {
		slog.Error("error running prediction", "model_id", modelId, "error", err)
		return shared.Prediction{}, workerError(err)
	}
	return prediction, nil
}

func (m *Manager) Evaluate(ctx context.Context, userId, modelId uuid.UUID, dataset string) (database.ModelEvaluation, error) {
	model, err := m.getModel(ctx, userId, modelId)
	if err != nil {
		return database.ModelEvaluation{}, err
	}

	ds, ok := m.catalog.Lookup(dataset)
	if !ok {
		return database.ModelEvaluation{}, fmt.Errorf("%w: unknown dataset %q", ErrInvalidJob, dataset)
	}

	weights, err := m.ensureWeights(ctx, model)
	if err != nil {
		return database.ModelEvaluation{}, err
	}

	result, err := m.launcher.Evaluate(ctx, shared.EvaluateRequest{WeightsFile: weights, Dataset: ds.Name, DatasetDir: m.catalog.Dir(ds)})
	if err != nil {
		slog.Error("error evaluating model", "model_id", modelId, "dataset", ds.Name, "error", err)
		return database.ModelEvaluation{}, workerError(err)
	}

	evaluation := database.ModelEvaluation{
		Id:           uuid.New(),
		ModelId:      model.Id,
		Dataset:      ds.Name,
		Accuracy:     result.Accuracy,
		Samples:      result.Samples,
		CreationTime: time.Now().UTC(),
	}
	if err := database.CreateModelEvaluation(ctx, m.db, &evaluation); err != nil {
		return database.ModelEvaluation{}, err
	}

	return evaluation, nil
}

func (m *Manager) ListEvaluations(ctx context.Context, userId, modelId uuid.UUID) ([]database.ModelEvaluation, error) {
	if _, err := m.getModel(ctx, userId, modelId); err != nil {
		return nil, err
	}
	return database.ListModelEvaluations(ctx, m.db, modelId)
}

// UploadModel stores a weights file produced elsewhere as a new model.
func (m *Manager) UploadModel(ctx context.Context, userId uuid.UUID, name string, data []byte) (database.Model, error) {
	if _, err := training.DecodeWeights(bytes.NewReader(data)); err != nil {
		return database.Model{}, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	modelId := uuid.New()
	dir := filepath.Join(m.config.ModelsRoot, modelId.String())
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return database.Model{}, fmt.Errorf("error creating model directory: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("error removing model directory", "model_id", modelId, "error", err)
		}
	}

	path := training.WeightsPath(dir)
	if err := os.WriteFile(path, data, 0644); err != nil {
		cleanup()
		return database.Model{}, fmt.Errorf("error writing weights file: %w", err)
	}

	mirrored := false
	if m.artifacts != nil {
		key := modelId.String() + "/" + filepath.Base(path)
		if err := m.artifacts.PutObject(ctx, m.config.ModelBucket, key, bytes.NewReader(data)); err != nil {
			slog.Error("error mirroring uploaded model", "model_id", modelId, "error", err)
		} else {
			mirrored = true
		}
	}

	model := database.Model{
		Id:           modelId,
		UserId:       userId,
		Name:         name,
		Directory:    dir,
		Uploaded:     true,
		CreationTime: time.Now().UTC(),
	}
	if err := database.CreateModel(ctx, m.db, &model); err != nil {
		cleanup()
		if mirrored {
			if err := m.artifacts.DeleteObjects(ctx, m.config.ModelBucket, modelId.String()); err != nil {
				slog.Error("error removing mirrored model", "model_id", modelId, "error", err)
			}
		}
		return database.Model{}, err
	}

	slog.Info("uploaded model", "model_id", modelId, "user_id", userId, "name", name)

	return model, nil
}

func (m *Manager) ListModels(ctx context.Context, userId uuid.UUID) ([]database.Model, error) {
	return database.ListUserModels(ctx, m.db, userId)
}

func (m *Manager) LatestRecord(ctx context.Context, userId uuid.UUID) (database.TrainingRecord, error) {
	return database.FindLatestTrainingRecord(ctx, m.db, userId)
}

func (m *Manager) ListRecords(ctx context.Context, userId uuid.UUID, limit, offset int) ([]database.TrainingRecord, error) {
	return database.ListTrainingRecords(ctx, m.db, userId, limit, offset)
}
