package deployment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
)

// Source looks deployments up by ID
type Source interface {
	Get(ctx context.Context, id string) (*Deployment, error)
}

func notFound(id string) error {
	return engerrors.NewValidationFailedError("deployment", id, "Deployment lookup").
		WithTroubleshooting("Check deployments.dir for a matching <id>.yaml file")
}

// DirSource reads <dir>/<id>.yaml (or .yml) on every lookup
type DirSource struct {
	Dir string
}

// NewDirSource creates a source over dir
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

func (s *DirSource) Get(_ context.Context, id string) (*Deployment, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(s.Dir, id+ext))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read deployment %s: %w", id, err)
		}
		d, err := Parse(data)
		if err != nil {
			return nil, err
		}
		if d.ID != id {
			return nil, engerrors.NewValidationFailedError("deployment.id", d.ID, "Deployment load").
				WithContext("file", id+ext)
		}
		return d, nil
	}
	return nil, notFound(id)
}

// MemorySource serves deployments added in process
type MemorySource struct {
	mu          sync.RWMutex
	deployments map[string]*Deployment
}

// NewMemorySource creates a source holding deps
func NewMemorySource(deps ...*Deployment) *MemorySource {
	s := &MemorySource{deployments: make(map[string]*Deployment)}
	for _, d := range deps {
		s.Put(d)
	}
	return s
}

// Put adds or replaces a deployment
func (s *MemorySource) Put(d *Deployment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployments[d.ID] = d
}

func (s *MemorySource) Get(_ context.Context, id string) (*Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deployments[id]
	if !ok {
		return nil, notFound(id)
	}
	return d, nil
}
