// Package operations is the operation runtime: a registry of named
// operations with their resumability metadata.
package operations

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/store"
)

// InstanceStore reads and updates node instance runtime properties
type InstanceStore interface {
	LoadInstanceProperties(ctx context.Context, deploymentID, nodeID string) (map[string]interface{}, error)
	UpdateInstanceProperties(ctx context.Context, deploymentID, nodeID string, fn store.PropertiesUpdater) error
}

// Invocation is one call of an operation against a node instance
type Invocation struct {
	ExecutionID  string
	DeploymentID string
	NodeID       string
	Operation    string
	// Params holds node properties overlaid with operation inputs and kwargs
	Params    map[string]interface{}
	Instances InstanceStore
}

// String returns a parameter as a string, or "" when unset
func (inv *Invocation) String(key string) string {
	v, ok := inv.Params[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Duration parses a parameter given as a Go duration string or as seconds
func (inv *Invocation) Duration(key string, def time.Duration) (time.Duration, error) {
	switch v := inv.Params[key].(type) {
	case nil:
		return def, nil
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, engerrors.NewValidationFailedError(key, v, inv.Operation)
		}
		return d, nil
	default:
		return 0, engerrors.NewValidationFailedError(key, fmt.Sprint(v), inv.Operation)
	}
}

// RuntimeProperties returns the current runtime properties of the node instance
func (inv *Invocation) RuntimeProperties(ctx context.Context) (map[string]interface{}, error) {
	if inv.Instances == nil {
		return map[string]interface{}{}, nil
	}
	return inv.Instances.LoadInstanceProperties(ctx, inv.DeploymentID, inv.NodeID)
}

// UpdateRuntime atomically mutates the runtime properties of the node instance
func (inv *Invocation) UpdateRuntime(ctx context.Context, fn store.PropertiesUpdater) error {
	if inv.Instances == nil {
		return nil
	}
	return inv.Instances.UpdateInstanceProperties(ctx, inv.DeploymentID, inv.NodeID, fn)
}

// Operation is the capability every registered operation implements
type Operation interface {
	Run(ctx context.Context, inv *Invocation) (interface{}, error)
}

// Func adapts a function to Operation
type Func func(ctx context.Context, inv *Invocation) (interface{}, error)

// Run calls f
func (f Func) Run(ctx context.Context, inv *Invocation) (interface{}, error) {
	return f(ctx, inv)
}

// Definition is a registered operation with its metadata
type Definition struct {
	Name string
	Op   Operation
	// Resumable declares the operation safe to re-invoke from the start after an interruption
	Resumable bool
}

// Registry maps operation names to definitions
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds an operation; names are unique
func (r *Registry) Register(name string, op Operation, resumable bool) error {
	if name == "" || op == nil {
		return engerrors.NewValidationFailedError("operation", name, "Operation registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("operation %s already registered", name)
	}
	r.defs[name] = Definition{Name: name, Op: op, Resumable: resumable}
	return nil
}

// Lookup returns the definition registered under name
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, engerrors.NewUnknownOperationError(name)
	}
	return def, nil
}

// Names returns the registered operation names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
