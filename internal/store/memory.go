package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/maxkimambo/taskgraph/internal/dag"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
)

// Memory keeps encoded snapshots in process memory. Used by tests and
// single-shot CLI runs where durability across restarts is not needed.
type Memory struct {
	mu         sync.RWMutex
	executions map[string][]byte
	cancels    map[string]CancelRequest
	instances  map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		executions: make(map[string][]byte),
		cancels:    make(map[string]CancelRequest),
		instances:  make(map[string][]byte),
	}
}

func (m *Memory) Save(_ context.Context, snapshot *dag.ExecutionSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return writeError("encode execution", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[snapshot.ID] = data
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*dag.ExecutionSnapshot, error) {
	m.mu.RLock()
	data, ok := m.executions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, engerrors.NewExecutionNotFoundError(id)
	}
	return decodeSnapshot(data)
}

func (m *Memory) List(_ context.Context, statuses ...dag.ExecutionStatus) ([]*dag.ExecutionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*dag.ExecutionSnapshot
	for _, data := range m.executions {
		s, err := decodeSnapshot(data)
		if err != nil {
			return nil, readError("decode execution", err)
		}
		if matchesStatus(s.Status, statuses) {
			out = append(out, s)
		}
	}
	sortSnapshots(out)
	return out, nil
}

func (m *Memory) Touch(_ context.Context, id, ownerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.executions[id]
	if !ok {
		return engerrors.NewExecutionNotFoundError(id)
	}
	s, err := decodeSnapshot(data)
	if err != nil {
		return readError("decode execution", err)
	}
	if s.OwnerID != ownerID {
		return nil
	}
	s.HeartbeatAt = at.UTC()
	if data, err = encodeSnapshot(s); err != nil {
		return writeError("encode execution", err)
	}
	m.executions[id] = data
	return nil
}

func (m *Memory) RequestCancel(_ context.Context, id string, kill bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[id]; !ok {
		return engerrors.NewExecutionNotFoundError(id)
	}
	// A kill request is never downgraded by a later graceful one
	if prev, ok := m.cancels[id]; ok && prev.Kill {
		kill = true
	}
	m.cancels[id] = CancelRequest{ExecutionID: id, Kill: kill, RequestedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) PendingCancel(_ context.Context, id string) (*CancelRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.cancels[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (m *Memory) ClearCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
	return nil
}

func (m *Memory) LoadInstanceProperties(_ context.Context, deploymentID, nodeID string) (map[string]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return decodeProperties(m.instances[instanceKey(deploymentID, nodeID)])
}

func (m *Memory) UpdateInstanceProperties(_ context.Context, deploymentID, nodeID string, fn PropertiesUpdater) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := instanceKey(deploymentID, nodeID)
	props, err := decodeProperties(m.instances[key])
	if err != nil {
		return err
	}
	if err := fn(props); err != nil {
		return err
	}
	data, err := json.Marshal(props)
	if err != nil {
		return writeError("encode instance properties", err)
	}
	m.instances[key] = data
	return nil
}

func (m *Memory) Close() error { return nil }

func decodeProperties(data []byte) (map[string]interface{}, error) {
	props := make(map[string]interface{})
	if len(data) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, readError("decode instance properties", err)
	}
	return props, nil
}
