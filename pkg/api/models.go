package api

import (
	"time"

	"github.com/google/uuid"
)

type RegisterRequest struct {
	Username string
	Password string
}

type LoginRequest struct {
	Username string
	Password string
}

type User struct {
	Id       uuid.UUID
	Username string
}

// LoginResponse also returns the session token so that clients that do not
// keep cookies can send it as a bearer token.
type LoginResponse struct {
	User    User
	Token   string
	Expires time.Time
}

type StartTrainingRequest struct {
	Epochs  int
	Dataset string
}

type StartTrainingResponse struct {
	TaskId uuid.UUID
}

type TrainingProgress struct {
	TaskId     uuid.UUID
	Status     string
	Epoch      int
	Epochs     int
	Losses     []float64
	Accuracies []float64

	TrainAccuracy *float64 `json:"TrainAccuracy,omitempty"`
	TestAccuracy  *float64 `json:"TestAccuracy,omitempty"`

	Error string `json:"Error,omitempty"`
}

type Model struct {
	Id           uuid.UUID
	Name         string
	Uploaded     bool
	CreationTime time.Time
}

type TrainingRecord struct {
	Id            uuid.UUID
	ModelId       uuid.UUID
	TaskId        uuid.UUID
	Dataset       string
	Epochs        int
	Losses        []float64
	Accuracies    []float64
	TrainAccuracy float64
	TestAccuracy  float64
	CreationTime  time.Time
}

// FinishTrainingResponse is returned by a successful finish. When the job was
// already persisted by an earlier call only TaskId and AlreadyReconciled are
// set.
type FinishTrainingResponse struct {
	TaskId            uuid.UUID
	AlreadyReconciled bool

	Model  *Model          `json:"Model,omitempty"`
	Record *TrainingRecord `json:"Record,omitempty"`
}

type ListRecordsParams struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

type Prediction struct {
	Label      string
	Confidence float64
	Scores     map[string]float64
}

type EvaluateRequest struct {
	Dataset string
}

type Evaluation struct {
	Id           uuid.UUID
	ModelId      uuid.UUID
	Dataset      string
	Accuracy     float64
	Samples      int
	CreationTime time.Time
}

type Dataset struct {
	Name        string
	Description string `json:"Description,omitempty"`
}
