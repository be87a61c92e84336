package status_test

import (
	"classifier-backend/internal/status"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestGetUnknownTask(t *testing.T) {
	store := status.NewStore()

	record := store.Get(uuid.New())
	assert.Equal(t, status.Initializing, record.Status)
	assert.Nil(t, record.Data)
	assert.True(t, record.UpdatedAt.IsZero())
}

func TestSetAndGet(t *testing.T) {
	store := status.NewStore()
	taskId := uuid.New()

	require.NoError(t, store.Set(taskId, status.Record{Status: status.Running}))
	assert.Equal(t, status.Running, store.Get(taskId).Status)
	assert.False(t, store.Get(taskId).UpdatedAt.IsZero())

	payload := &status.Payload{
		Epoch:         2,
		Epochs:        2,
		Losses:        []float64{0.9, 0.4},
		Accuracies:    []float64{0.6, 0.8},
		TrainAccuracy: floatPtr(0.82),
		TestAccuracy:  floatPtr(0.79),
	}
	require.NoError(t, store.Set(taskId, status.Record{Status: status.Finished, Data: payload}))

	record := store.Get(taskId)
	assert.Equal(t, status.Finished, record.Status)
	assert.Equal(t, payload, record.Data)
	assert.Empty(t, record.Data.MissingResults())

	// Records are copied in and out of the store.
	payload.Losses[0] = 100
	record.Data.Accuracies[0] = 100
	assert.Equal(t, 0.9, store.Get(taskId).Data.Losses[0])
	assert.Equal(t, 0.6, store.Get(taskId).Data.Accuracies[0])
}

func TestTerminalStatusesNeverRegress(t *testing.T) {
	for _, terminal := range []status.Status{status.Finished, status.Failed} {
		t.Run(string(terminal), func(t *testing.T) {
			store := status.NewStore()
			taskId := uuid.New()

			require.NoError(t, store.Set(taskId, status.Record{Status: status.Running}))
			require.NoError(t, store.Set(taskId, status.Record{Status: terminal}))

			for _, next := range []status.Status{status.Initializing, status.Running, status.Finished, status.Failed} {
				assert.ErrorIs(t, store.Set(taskId, status.Record{Status: next}), status.ErrTerminal)
			}
			assert.Equal(t, terminal, store.Get(taskId).Status)
		})
	}
}

func TestRunningCannotReturnToInitializing(t *testing.T) {
	store := status.NewStore()
	taskId := uuid.New()

	require.NoError(t, store.Set(taskId, status.Record{Status: status.Initializing}))
	require.NoError(t, store.Set(taskId, status.Record{Status: status.Running}))
	require.NoError(t, store.Set(taskId, status.Record{Status: status.Running, Data: &status.Payload{Epoch: 1}}))

	assert.ErrorIs(t, store.Set(taskId, status.Record{Status: status.Initializing}), status.ErrInvalidTransition)
	assert.ErrorIs(t, store.Set(taskId, status.Record{Status: "PAUSED"}), status.ErrUnknownStatus)

	record := store.Get(taskId)
	assert.Equal(t, status.Running, record.Status)
	assert.Equal(t, 1, record.Data.Epoch)
}

func TestObservedStatusesFollowLifecycle(t *testing.T) {
	store := status.NewStore()
	taskId := uuid.New()

	order := map[status.Status]int{
		status.Initializing: 0,
		status.Running:      1,
		status.Finished:     2,
	}

	done := make(chan struct{})
	observed := []status.Status{}
	go func() {
		defer close(done)
		for {
			record := store.Get(taskId)
			observed = append(observed, record.Status)
			if record.Status.Terminal() {
				return
			}
		}
	}()

	for epoch := 1; epoch <= 50; epoch++ {
		require.NoError(t, store.Set(taskId, status.Record{Status: status.Running, Data: &status.Payload{Epoch: epoch}}))
	}
	require.NoError(t, store.Set(taskId, status.Record{Status: status.Finished}))
	<-done

	for i := 1; i < len(observed); i++ {
		assert.LessOrEqual(t, order[observed[i-1]], order[observed[i]])
	}
	assert.Equal(t, status.Finished, observed[len(observed)-1])
}

func TestConcurrentWritersOnDistinctTasks(t *testing.T) {
	store := status.NewStore()

	tasks := make([]uuid.UUID, 20)
	for i := range tasks {
		tasks[i] = uuid.New()
	}

	wg := sync.WaitGroup{}
	for _, taskId := range tasks {
		wg.Add(1)
		go func(taskId uuid.UUID) {
			defer wg.Done()
			for epoch := 1; epoch <= 10; epoch++ {
				assert.NoError(t, store.Set(taskId, status.Record{Status: status.Running, Data: &status.Payload{Epoch: epoch}}))
			}
			assert.NoError(t, store.Set(taskId, status.Record{Status: status.Failed, Data: &status.Payload{Error: "stopped"}}))
		}(taskId)
	}
	wg.Wait()

	assert.Equal(t, len(tasks), store.Len())
	for _, taskId := range tasks {
		record := store.Get(taskId)
		assert.Equal(t, status.Failed, record.Status)
		assert.Equal(t, "stopped", record.Data.Error)
	}
}

func TestMissingResults(t *testing.T) {
	var empty *status.Payload
	assert.Len(t, empty.MissingResults(), 4)

	partial := &status.Payload{Losses: []float64{1}, TestAccuracy: floatPtr(0.5)}
	assert.Equal(t, []string{"Accuracies", "TrainAccuracy"}, partial.MissingResults())
}
