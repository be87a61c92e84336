package status

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds the latest record for every task launched by this process.
// Entries are never removed.
type Store struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		records: make(map[uuid.UUID]Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the record for the task, or an INITIALIZING record without
// data if nothing was written yet.
func (s *Store) Get(taskId uuid.UUID) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[taskId]
	if !ok {
		return Record{Status: Initializing}
	}
	record.Data = record.Data.clone()
	return record
}

func (s *Store) Set(taskId uuid.UUID, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[taskId]
	if !ok {
		current = Record{Status: Initializing}
	}

	if err := CheckTransition(current.Status, record.Status); err != nil {
		slog.Warn("rejected status update", "task_id", taskId, "from", current.Status, "to", record.Status, "error", err)
		return fmt.Errorf("cannot move task %s from %s to %s: %w", taskId, current.Status, record.Status, err)
	}

	record.Data = record.Data.clone()
	record.UpdatedAt = s.now()
	s.records[taskId] = record

	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
