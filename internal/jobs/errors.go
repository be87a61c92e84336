package jobs

import "errors"

var (
	// ErrConflict is returned when the user already has an active job.
	ErrConflict = errors.New("a training job is already running for this user")

	// ErrNotReady is returned when finishing a job that has not reached
	// FINISHED.
	ErrNotReady = errors.New("training job has not finished")

	// ErrJobFailed is returned when finishing a job that reached FAILED. It
	// also matches ErrNotReady. The job is discarded.
	ErrJobFailed = notReady("training job failed")

	// ErrMalformedResult is returned when a FINISHED job lacks result data.
	// The job is discarded.
	ErrMalformedResult = errors.New("training job finished without a complete result")

	ErrLaunch = errors.New("unable to launch training worker")

	// ErrAlreadyReconciled is returned when the job was already persisted.
	// Callers can treat it as success.
	ErrAlreadyReconciled = errors.New("training job was already reconciled")

	ErrNoActiveJob = errors.New("no active training job")

	ErrInvalidJob = errors.New("invalid training job")

	ErrModelNotFound = errors.New("model not found")

	ErrInvalidModel = errors.New("invalid model file")

	// ErrWorkerRequest is returned when a worker rejects a prediction or
	// evaluation request, for example because the image cannot be decoded.
	ErrWorkerRequest = errors.New("worker request failed")
)

type notReadyError struct {
	msg string
}

func notReady(msg string) error {
	return &notReadyError{msg: msg}
}

func (e *notReadyError) Error() string {
	return e.msg
}

func (e *notReadyError) Is(target error) bool {
	return target == ErrNotReady
}
