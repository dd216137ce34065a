package controller

import (
	"sync"

	"github.com/maxkimambo/taskgraph/internal/logger"
)

type idLock struct {
	mu   sync.Mutex
	refs int
}

// executionLocks serializes controller calls per execution ID. Unrelated
// executions never contend; entries are dropped once nobody holds them.
type executionLocks struct {
	mutex sync.Mutex
	locks map[string]*idLock
}

func newExecutionLocks() *executionLocks {
	return &executionLocks{locks: make(map[string]*idLock)}
}

// Lock blocks until id is free and returns the matching unlock
func (l *executionLocks) Lock(id string) func() {
	l.mutex.Lock()
	lock, ok := l.locks[id]
	if !ok {
		lock = &idLock{}
		l.locks[id] = lock
	}
	lock.refs++
	l.mutex.Unlock()

	lock.mu.Lock()
	logger.Op.WithFields(map[string]interface{}{
		"execution": id,
	}).Debug("Execution locked")

	return func() {
		lock.mu.Unlock()

		l.mutex.Lock()
		defer l.mutex.Unlock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, id)
		}
	}
}

// Len returns the number of IDs currently held or awaited
func (l *executionLocks) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.locks)
}
