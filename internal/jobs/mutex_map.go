package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var errTooManyLocks = errors.New("max number of held locks reached")

// MutexMap hands out one mutex per key. Entries are dropped once nobody holds
// or waits on them.
type MutexMap struct {
	edit         sync.Mutex
	queueLengths map[uuid.UUID]int
	mutexes      map[uuid.UUID]*sync.Mutex
	maxSize      int
}

func NewMutexMap(maxSize int) *MutexMap {
	return &MutexMap{
		queueLengths: make(map[uuid.UUID]int),
		mutexes:      make(map[uuid.UUID]*sync.Mutex),
		maxSize:      maxSize,
	}
}

func (m *MutexMap) Lock(key uuid.UUID) error {
	m.edit.Lock()

	mu := m.mutexes[key]
	if mu == nil {
		if len(m.mutexes) >= m.maxSize {
			m.edit.Unlock()
			return errTooManyLocks
		}

		mu = &sync.Mutex{}
		m.mutexes[key] = mu
		m.queueLengths[key] = 0
	}

	m.queueLengths[key]++
	m.edit.Unlock()

	mu.Lock()

	return nil
}

func (m *MutexMap) Unlock(key uuid.UUID) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu := m.mutexes[key]
	if mu == nil {
		return fmt.Errorf("key %s not found", key)
	}

	mu.Unlock()
	m.queueLengths[key]--

	if m.queueLengths[key] == 0 {
		delete(m.mutexes, key)
		delete(m.queueLengths, key)
	}

	return nil
}
