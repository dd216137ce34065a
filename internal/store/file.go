package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/maxkimambo/taskgraph/internal/dag"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
)

// File stores one JSON document per execution under a directory.
// Writes go through a temp file and rename so readers in other processes
// never see a partial document.
type File struct {
	root string
	mu   sync.Mutex
}

// NewFile creates the directory layout under root
func NewFile(root string) (*File, error) {
	if root == "" {
		return nil, engerrors.NewValidationFailedError("store.path", root, "Store setup")
	}
	for _, dir := range []string{"executions", "cancels", "instances"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, writeError("create store directory", errors.Wrapf(err, "mkdir %s", dir))
		}
	}
	return &File{root: root}, nil
}

func (f *File) executionPath(id string) string {
	return filepath.Join(f.root, "executions", id+".json")
}

func (f *File) cancelPath(id string) string {
	return filepath.Join(f.root, "cancels", id+".json")
}

func (f *File) instancePath(deploymentID, nodeID string) string {
	return filepath.Join(f.root, "instances", deploymentID, nodeID+".json")
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "sync %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "rename to %s", path)
}

func (f *File) Save(_ context.Context, snapshot *dag.ExecutionSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return writeError("encode execution", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeAtomic(f.executionPath(snapshot.ID), data); err != nil {
		return writeError("save execution "+snapshot.ID, err)
	}
	return nil
}

func (f *File) Load(_ context.Context, id string) (*dag.ExecutionSnapshot, error) {
	data, err := os.ReadFile(f.executionPath(id))
	if os.IsNotExist(err) {
		return nil, engerrors.NewExecutionNotFoundError(id)
	}
	if err != nil {
		return nil, readError("load execution "+id, errors.Wrapf(err, "read %s", id))
	}
	s, err := decodeSnapshot(data)
	if err != nil {
		return nil, readError("decode execution "+id, err)
	}
	return s, nil
}

func (f *File) List(ctx context.Context, statuses ...dag.ExecutionStatus) ([]*dag.ExecutionSnapshot, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "executions"))
	if err != nil {
		return nil, readError("list executions", errors.Wrap(err, "read executions directory"))
	}

	var out []*dag.ExecutionSnapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := f.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if matchesStatus(s.Status, statuses) {
			out = append(out, s)
		}
	}
	sortSnapshots(out)
	return out, nil
}

func (f *File) Touch(ctx context.Context, id, ownerID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.Load(ctx, id)
	if err != nil {
		return err
	}
	if s.OwnerID != ownerID {
		return nil
	}
	s.HeartbeatAt = at.UTC()
	data, err := encodeSnapshot(s)
	if err != nil {
		return writeError("encode execution", err)
	}
	if err := writeAtomic(f.executionPath(id), data); err != nil {
		return writeError("touch execution "+id, err)
	}
	return nil
}

func (f *File) RequestCancel(ctx context.Context, id string, kill bool) error {
	if _, err := os.Stat(f.executionPath(id)); os.IsNotExist(err) {
		return engerrors.NewExecutionNotFoundError(id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, err := f.PendingCancel(ctx, id); err == nil && prev != nil && prev.Kill {
		kill = true
	}
	data, err := json.Marshal(CancelRequest{ExecutionID: id, Kill: kill, RequestedAt: time.Now().UTC()})
	if err != nil {
		return writeError("encode cancel request", err)
	}
	if err := writeAtomic(f.cancelPath(id), data); err != nil {
		return writeError("record cancel request for "+id, err)
	}
	return nil
}

func (f *File) PendingCancel(_ context.Context, id string) (*CancelRequest, error) {
	data, err := os.ReadFile(f.cancelPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, readError("read cancel request for "+id, err)
	}
	var req CancelRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, readError("decode cancel request for "+id, err)
	}
	return &req, nil
}

func (f *File) ClearCancel(_ context.Context, id string) error {
	if err := os.Remove(f.cancelPath(id)); err != nil && !os.IsNotExist(err) {
		return writeError("clear cancel request for "+id, err)
	}
	return nil
}

func (f *File) LoadInstanceProperties(_ context.Context, deploymentID, nodeID string) (map[string]interface{}, error) {
	data, err := os.ReadFile(f.instancePath(deploymentID, nodeID))
	if err != nil && !os.IsNotExist(err) {
		return nil, readError("read instance properties", err)
	}
	return decodeProperties(data)
}

func (f *File) UpdateInstanceProperties(ctx context.Context, deploymentID, nodeID string, fn PropertiesUpdater) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	props, err := f.LoadInstanceProperties(ctx, deploymentID, nodeID)
	if err != nil {
		return err
	}
	if err := fn(props); err != nil {
		return err
	}
	data, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return writeError("encode instance properties", err)
	}
	if err := writeAtomic(f.instancePath(deploymentID, nodeID), data); err != nil {
		return writeError("save instance properties for "+instanceKey(deploymentID, nodeID), err)
	}
	return nil
}

func (f *File) Close() error { return nil }
