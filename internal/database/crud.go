package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUsernameTaken = errors.New("username is already taken")
)

func CreateUser(ctx context.Context, db *gorm.DB, username, passwordHash string) (User, error) {
	user := User{
		Id:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		CreationTime: time.Now().UTC(),
	}

	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var count int64
		if err := txn.Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			slog.Error("error checking for existing user", "username", username, "error", err)
			return fmt.Errorf("error checking for existing user: %w", err)
		}
		if count > 0 {
			return ErrUsernameTaken
		}

		if err := txn.Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrUsernameTaken
			}
			slog.Error("error creating user", "username", username, "error", err)
			return fmt.Errorf("error creating user: %w", err)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}

	return user, nil
}

func GetUserByName(ctx context.Context, db *gorm.DB, username string) (User, error) {
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		slog.Error("error loading user", "username", username, "error", err)
		return User{}, fmt.Errorf("error loading user: %w", err)
	}
	return user, nil
}

func GetUser(ctx context.Context, db *gorm.DB, userId uuid.UUID) (User, error) {
	var user User
	if err := db.WithContext(ctx).First(&user, "id = ?", userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrNotFound
		}
		slog.Error("error loading user", "user_id", userId, "error", err)
		return User{}, fmt.Errorf("error loading user: %w", err)
	}
	return user, nil
}

func CreateModel(ctx context.Context, txn *gorm.DB, model *Model) error {
	if err := txn.WithContext(ctx).Create(model).Error; err != nil {
		slog.Error("error creating model", "model_id", model.Id, "directory", model.Directory, "error", err)
		return fmt.Errorf("error creating model: %w", err)
	}
	return nil
}

// FindOrCreateModel returns the model stored in the same directory as model,
// creating it if there is none.
func FindOrCreateModel(ctx context.Context, txn *gorm.DB, model Model) (Model, error) {
	var existing Model
	err := txn.WithContext(ctx).Where("directory = ?", model.Directory).First(&existing).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		slog.Error("error looking up model by directory", "directory", model.Directory, "error", err)
		return Model{}, fmt.Errorf("error looking up model: %w", err)
	}

	if err := CreateModel(ctx, txn, &model); err != nil {
		return Model{}, err
	}
	return model, nil
}

func GetUserModel(ctx context.Context, db *gorm.DB, userId, modelId uuid.UUID) (Model, error) {
	var model Model
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", modelId, userId).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Model{}, ErrNotFound
		}
		slog.Error("error loading model", "model_id", modelId, "error", err)
		return Model{}, fmt.Errorf("error loading model: %w", err)
	}
	return model, nil
}

func ListUserModels(ctx context.Context, db *gorm.DB, userId uuid.UUID) ([]Model, error) {
	var models []Model
	if err := db.WithContext(ctx).Where("user_id = ?", userId).Order("creation_time DESC").Find(&models).Error; err != nil {
		slog.Error("error listing models", "user_id", userId, "error", err)
		return nil, fmt.Errorf("error listing models: %w", err)
	}
	return models, nil
}

func CreateTrainingRecord(ctx context.Context, txn *gorm.DB, record *TrainingRecord) error {
	if err := txn.WithContext(ctx).Create(record).Error; err != nil {
		slog.Error("error creating training record", "task_id", record.TaskId, "error", err)
		return fmt.Errorf("error creating training record: %w", err)
	}
	return nil
}

func userRecords(ctx context.Context, db *gorm.DB, userId uuid.UUID) *gorm.DB {
	return db.WithContext(ctx).
		Joins("JOIN models ON models.id = training_records.model_id").
		Where("models.user_id = ?", userId).
		Preload("Model").
		Order("training_records.creation_time DESC")
}

func FindLatestTrainingRecord(ctx context.Context, db *gorm.DB, userId uuid.UUID) (TrainingRecord, error) {
	var record TrainingRecord
	if err := userRecords(ctx, db, userId).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TrainingRecord{}, ErrNotFound
		}
		slog.Error("error loading latest training record", "user_id", userId, "error", err)
		return TrainingRecord{}, fmt.Errorf("error loading latest training record: %w", err)
	}
	return record, nil
}

func ListTrainingRecords(ctx context.Context, db *gorm.DB, userId uuid.UUID, limit, offset int) ([]TrainingRecord, error) {
	var records []TrainingRecord
	if err := userRecords(ctx, db, userId).Limit(limit).Offset(offset).Find(&records).Error; err != nil {
		slog.Error("error listing training records", "user_id", userId, "error", err)
		return nil, fmt.Errorf("error listing training records: %w", err)
	}
	return records, nil
}

func CreateModelEvaluation(ctx context.Context, db *gorm.DB, evaluation *ModelEvaluation) error {
	if err := db.WithContext(ctx).Create(evaluation).Error; err != nil {
		slog.Error("error saving model evaluation", "model_id", evaluation.ModelId, "error", err)
		return fmt.Errorf("error saving model evaluation: %w", err)
	}
	return nil
}

func ListModelEvaluations(ctx context.Context, db *gorm.DB, modelId uuid.UUID) ([]ModelEvaluation, error) {
	var evaluations []ModelEvaluation
	if err := db.WithContext(ctx).Where("model_id = ?", modelId).Order("creation_time DESC").Find(&evaluations).Error; err != nil {
		slog.Error("error listing model evaluations", "model_id", modelId, "error", err)
		return nil, fmt.Errorf("error listing model evaluations: %w", err)
	}
	return evaluations, nil
}
