// Package store persists execution snapshots, cancel requests and node
// instance runtime properties.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/maxkimambo/taskgraph/internal/dag"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
)

// Driver names accepted by Open
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// CancelRequest is a cancel recorded for an execution owned by another worker
type CancelRequest struct {
	ExecutionID string    `json:"execution_id" db:"execution_id"`
	Kill        bool      `json:"kill" db:"kill"`
	RequestedAt time.Time `json:"requested_at" db:"requested_at"`
}

// PropertiesUpdater mutates node instance runtime properties in place
type PropertiesUpdater func(props map[string]interface{}) error

// Store is the durable record of executions keyed by execution ID.
// Save replaces the snapshot but never drops a pending cancel request.
type Store interface {
	Save(ctx context.Context, snapshot *dag.ExecutionSnapshot) error
	Load(ctx context.Context, id string) (*dag.ExecutionSnapshot, error)
	// List returns executions in creation order, filtered by status when any are given
	List(ctx context.Context, statuses ...dag.ExecutionStatus) ([]*dag.ExecutionSnapshot, error)
	// Touch refreshes the heartbeat of an execution still owned by ownerID
	Touch(ctx context.Context, id, ownerID string, at time.Time) error

	RequestCancel(ctx context.Context, id string, kill bool) error
	// PendingCancel returns nil when no cancel was requested
	PendingCancel(ctx context.Context, id string) (*CancelRequest, error)
	ClearCancel(ctx context.Context, id string) error

	LoadInstanceProperties(ctx context.Context, deploymentID, nodeID string) (map[string]interface{}, error)
	UpdateInstanceProperties(ctx context.Context, deploymentID, nodeID string, fn PropertiesUpdater) error

	Close() error
}

// Options selects and configures a store implementation
type Options struct {
	Driver string
	Path   string
	DSN    string
}

// Open creates the store named by opts.Driver
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFile:
		return NewFile(opts.Path)
	case DriverPostgres:
		return NewPostgres(ctx, opts.DSN)
	default:
		return nil, engerrors.NewValidationFailedError("store.driver", opts.Driver, "Store setup")
	}
}

func encodeSnapshot(s *dag.ExecutionSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSnapshot(data []byte) (*dag.ExecutionSnapshot, error) {
	var s dag.ExecutionSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Tasks == nil {
		s.Tasks = make(map[string]dag.TaskSnapshot)
	}
	return &s, nil
}

func matchesStatus(s dag.ExecutionStatus, statuses []dag.ExecutionStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

func sortSnapshots(snaps []*dag.ExecutionSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].CreatedAt.Equal(snaps[j].CreatedAt) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
}

func instanceKey(deploymentID, nodeID string) string {
	return fmt.Sprintf("%s/%s", deploymentID, nodeID)
}

func writeError(op string, err error) error {
	return engerrors.NewPersistenceError(engerrors.CodePersistenceWrite,
		fmt.Sprintf("Failed to %s", op), "Store write", err)
}

func readError(op string, err error) error {
	return engerrors.NewPersistenceError(engerrors.CodePersistenceRead,
		fmt.Sprintf("Failed to %s", op), "Store read", err)
}
