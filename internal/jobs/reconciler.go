package jobs

import (
	"classifier-backend/internal/database"
	"classifier-backend/internal/messaging"
	"classifier-backend/internal/status"
	"classifier-backend/internal/storage"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReconcileResult struct {
	Model  database.Model
	Record database.TrainingRecord
}

// Reconciler persists finished jobs. Each job is persisted at most once: the
// registry entry is the claim, and it is released in the same critical
// section that writes the records.
type Reconciler struct {
	db        *gorm.DB
	store     *status.Store
	registry  *Registry
	locks     *MutexMap
	publisher messaging.Publisher

	artifacts   storage.ObjectStore
	modelBucket string

	mu       sync.Mutex
	outcomes map[uuid.UUID]outcome
}

// outcome is the last job that left the registry for a user, either
// persisted or discarded.
type outcome struct {
	taskId    uuid.UUID
	persisted bool
}

func NewReconciler(db *gorm.DB, store *status.Store, registry *Registry, publisher messaging.Publisher, artifacts storage.ObjectStore, modelBucket string) *Reconciler {
	return &Reconciler{
		db:          db,
		store:       store,
		registry:    registry,
		locks:       NewMutexMap(10000),
		publisher:   publisher,
		artifacts:   artifacts,
		modelBucket: modelBucket,
		outcomes:    make(map[uuid.UUID]outcome),
	}
}

func (r *Reconciler) Reconcile(ctx context.Context, userId, taskId uuid.UUID) (ReconcileResult, error) {
	if err := r.locks.Lock(userId); err != nil {
		return ReconcileResult{}, fmt.Errorf("error acquiring reconcile lock: %w", err)
	}
	defer func() {
		if err := r.locks.Unlock(userId); err != nil {
			slog.Error("error releasing reconcile lock", "user_id", userId, "error", err)
		}
	}()

	job, ok := r.registry.Active(userId)
	if !ok || job.TaskId != taskId {
		if last, ok := r.lastOutcome(userId); ok && last.taskId == taskId && !last.persisted {
			return ReconcileResult{}, fmt.Errorf("task %s was discarded: %w", taskId, ErrNoActiveJob)
		}
		return ReconcileResult{}, fmt.Errorf("task %s: %w", taskId, ErrAlreadyReconciled)
	}

	record := r.store.Get(taskId)

	switch record.Status {
	case status.Finished:
	case status.Failed:
		reason := "unknown error"
		if record.Data != nil && record.Data.Error != "" {
			reason = record.Data.Error
		}
		r.discard(ctx, job, reason)
		return ReconcileResult{}, fmt.Errorf("%w: %s", ErrJobFailed, reason)
	default:
		return ReconcileResult{}, fmt.Errorf("task %s is %s: %w", taskId, record.Status, ErrNotReady)
	}

	if missing := record.Data.MissingResults(); len(missing) > 0 {
		reason := "missing " + strings.Join(missing, ", ")
		r.discard(ctx, job, reason)
		return ReconcileResult{}, fmt.Errorf("%w: %s", ErrMalformedResult, reason)
	}

	result := ReconcileResult{}
	err := r.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		model, err := database.FindOrCreateModel(ctx, txn, database.Model{
			Id:           uuid.New(),
			UserId:       userId,
			Name:         job.Name,
			Directory:    job.OutputDir,
			CreationTime: time.Now().UTC(),
		})
		if err != nil {
			return err
		}

		trainingRecord := database.TrainingRecord{
			Id:            uuid.New(),
			ModelId:       model.Id,
			TaskId:        taskId,
			Dataset:       job.Dataset,
			Epochs:        job.Epochs,
			Losses:        record.Data.Losses,
			Accuracies:    record.Data.Accuracies,
			TrainAccuracy: *record.Data.TrainAccuracy,
			TestAccuracy:  *record.Data.TestAccuracy,
			CreationTime:  time.Now().UTC(),
		}
		if err := database.CreateTrainingRecord(ctx, txn, &trainingRecord); err != nil {
			return err
		}

		result = ReconcileResult{Model: model, Record: trainingRecord}
		return nil
	})
	if err != nil {
		slog.Error("error persisting training results", "task_id", taskId, "user_id", userId, "error", err)
		return ReconcileResult{}, fmt.Errorf("error persisting training results: %w", err)
	}

	// Remembered before the release so a concurrent Finish that misses the
	// registry entry still reports the job as reconciled.
	r.remember(userId, taskId, true)

	r.registry.Release(userId)

	slog.Info("reconciled training job", "task_id", taskId, "user_id", userId, "model_id", result.Model.Id, "test_accuracy", result.Record.TestAccuracy)

	r.publish(ctx, messaging.JobEvent{
		Type:    messaging.JobReconciled,
		TaskId:  taskId,
		UserId:  userId,
		ModelId: &result.Model.Id,
		Dataset: job.Dataset,
	})

	r.mirror(ctx, taskId, job.OutputDir)

	return result, nil
}

func (r *Reconciler) remember(userId, taskId uuid.UUID, persisted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outcomes[userId] = outcome{taskId: taskId, persisted: persisted}
}

func (r *Reconciler) lastOutcome(userId uuid.UUID) (outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.outcomes[userId]
	return last, ok
}

// LastReconciled returns the user's most recent job if it was persisted. It
// reports false when the most recent job was discarded instead.
func (r *Reconciler) LastReconciled(userId uuid.UUID) (uuid.UUID, bool) {
	last, ok := r.lastOutcome(userId)
	if !ok || !last.persisted {
		return uuid.Nil, false
	}
	return last.taskId, true
}

func (r *Reconciler) discard(ctx context.Context, job Job, reason string) {
	r.remember(job.UserId, job.TaskId, false)
	r.registry.ReleaseTask(job.UserId, job.TaskId)

	slog.Warn("discarded training job", "task_id", job.TaskId, "user_id", job.UserId, "reason", reason)

	r.publish(ctx, messaging.JobEvent{
		Type:    messaging.JobDiscarded,
		TaskId:  job.TaskId,
		UserId:  job.UserId,
		Dataset: job.Dataset,
		Detail:  reason,
	})
}

func (r *Reconciler) publish(ctx context.Context, event messaging.JobEvent) {
	if r.publisher == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	if err := r.publisher.PublishJobEvent(ctx, event); err != nil {
		slog.Error("error publishing job event", "type", event.Type, "task_id", event.TaskId, "error", err)
	}
}

func (r *Reconciler) mirror(ctx context.Context, taskId uuid.UUID, dir string) {
	if r.artifacts == nil {
		return
	}
	if err := r.artifacts.UploadDir(ctx, r.modelBucket, taskId.String(), dir); err != nil {
		slog.Error("error mirroring model artifacts", "task_id", taskId, "bucket", r.modelBucket, "error", err)
		return
	}
	slog.Info("mirrored model artifacts", "task_id", taskId, "bucket", r.modelBucket)
}
