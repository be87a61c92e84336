package status

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	Initializing Status = "INITIALIZING"
	Running      Status = "RUNNING"
	Finished     Status = "FINISHED"
	Failed       Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == Finished || s == Failed
}

var (
	ErrTerminal          = errors.New("task already reached a terminal status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownStatus     = errors.New("unknown status")
)

// Payload is the training data attached to a record. Pointer fields are nil
// until the worker has produced them.
type Payload struct {
	Epoch      int
	Epochs     int
	Losses     []float64
	Accuracies []float64

	TrainAccuracy *float64 `json:",omitempty"`
	TestAccuracy  *float64 `json:",omitempty"`

	Error string `json:",omitempty"`
}

// MissingResults lists the result fields a finished job must carry but
// this payload lacks. Empty sequences count as missing.
func (p *Payload) MissingResults() []string {
	if p == nil {
		return []string{"Losses", "Accuracies", "TrainAccuracy", "TestAccuracy"}
	}
	missing := []string{}
	if len(p.Losses) == 0 {
		missing = append(missing, "Losses")
	}
	if len(p.Accuracies) == 0 {
		missing = append(missing, "Accuracies")
	}
	if p.TrainAccuracy == nil {
		missing = append(missing, "TrainAccuracy")
	}
	if p.TestAccuracy == nil {
		missing = append(missing, "TestAccuracy")
	}
	return missing
}

func (p *Payload) clone() *Payload {
	if p == nil {
		return nil
	}
	c := *p
	c.Losses = cloneFloats(p.Losses)
	c.Accuracies = cloneFloats(p.Accuracies)
	if p.TrainAccuracy != nil {
		v := *p.TrainAccuracy
		c.TrainAccuracy = &v
	}
	if p.TestAccuracy != nil {
		v := *p.TestAccuracy
		c.TestAccuracy = &v
	}
	return &c
}

func cloneFloats(values []float64) []float64 {
	if values == nil {
		return nil
	}
	return append(make([]float64, 0, len(values)), values...)
}

type Record struct {
	Status    Status
	Data      *Payload `json:",omitempty"`
	UpdatedAt time.Time
}

// Sink is the write side of the status store. Workers only ever see a Sink.
type Sink interface {
	Set(taskId uuid.UUID, record Record) error
}

// CheckTransition reports whether a record may move from one status to
// another. Writing the same non-terminal status again is allowed so that
// progress updates can be published.
func CheckTransition(from, to Status) error {
	switch to {
	case Initializing, Running, Finished, Failed:
	default:
		return ErrUnknownStatus
	}

	if from.Terminal() {
		return ErrTerminal
	}
	if from == Running && to == Initializing {
		return ErrInvalidTransition
	}
	return nil
}
