// Package workflows builds task graphs for named workflows over a deployment.
// Builders are deterministic: the same deployment and parameters always
// produce the same task IDs, so a persisted execution can be rebuilt on resume.
package workflows

import (
	"sort"
	"sync"

	"github.com/maxkimambo/taskgraph/internal/dag"
	"github.com/maxkimambo/taskgraph/internal/deployment"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/operations"
)

// Workflow names
const (
	ExecuteOperation = "execute_operation"
	Install          = "install"
	Uninstall        = "uninstall"
)

// Context is everything a builder reads
type Context struct {
	ExecutionID string
	Deployment  *deployment.Deployment
	Parameters  map[string]interface{}
	Operations  *operations.Registry
	Instances   operations.InstanceStore
	// RetryPolicy is the default for operation tasks; nil means dag.NewDefaultRetryPolicy
	RetryPolicy *dag.RetryPolicy
}

// Builder produces the task graph of one workflow
type Builder func(wctx *Context) (*dag.Graph, error)

// Registry maps workflow names to builders
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates a registry holding the built-in workflows
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register(ExecuteOperation, BuildExecuteOperation)
	r.Register(Install, BuildInstall)
	r.Register(Uninstall, BuildUninstall)
	return r
}

// Register adds or replaces a builder
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Lookup returns the builder registered under name
func (r *Registry) Lookup(name string) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builders[name]
	if !ok {
		return nil, engerrors.NewUnknownWorkflowError(name)
	}
	return b, nil
}

// Names returns the registered workflow names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build looks up and runs the builder for name
func (r *Registry) Build(name string, wctx *Context) (*dag.Graph, error) {
	b, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return b(wctx)
}
