package deployment

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
)

const resumableDeployment = `
id: resumable
nodes:
  - id: node1
    type: taskgraph.nodes.Root
    operations:
      interface1.op_resumable:
        implementation: builtin.wait_for_file
        resumable: true
      interface1.op_nonresumable:
        implementation: builtin.wait_for_file
        resumable: false
        max_retries: 2
        retry_interval: 250ms
        timeout: 1m
      interface1.op_mark: builtin.mark
  - id: node2
    type: taskgraph.nodes.Compute
    type_hierarchy: [taskgraph.nodes.Root, taskgraph.nodes.Host]
    properties:
      gce_zone: us-west1-a
    operations:
      interface1.op_resumable: builtin.mark
    relationships:
      - type: depends_on
        target: node1
        source_operations:
          relationship.establish: builtin.noop
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(resumableDeployment))
	require.NoError(t, err)

	assert.Equal(t, "resumable", d.ID)
	require.Len(t, d.Nodes, 2)

	node1 := d.Node("node1")
	require.NotNil(t, node1)
	assert.False(t, node1.IsHost())

	op, ok := node1.Operation("interface1.op_nonresumable")
	require.True(t, ok)
	assert.Equal(t, "builtin.wait_for_file", op.Implementation)
	require.NotNil(t, op.Resumable)
	assert.False(t, *op.Resumable)
	require.NotNil(t, op.MaxRetries)
	assert.Equal(t, 2, *op.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, op.RetryInterval)
	assert.Equal(t, time.Minute, op.Timeout)

	short, ok := node1.Operation("interface1.op_mark")
	require.True(t, ok)
	assert.Equal(t, "builtin.mark", short.Implementation)
	assert.Nil(t, short.Resumable)

	_, ok = node1.Operation("lifecycle.create")
	assert.False(t, ok)

	node2 := d.Node("node2")
	assert.True(t, node2.IsHost())
	assert.Equal(t, []string{"node1"}, node2.Targets())
	assert.Equal(t, []string{"node2"}, d.Sources("node1"))
	assert.Equal(t, "us-west1-a", node2.Properties["gce_zone"])
	assert.Nil(t, d.Node("node3"))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{"bad yaml", "id: [", "CONFIGURATION-003"},
		{"missing id", "nodes: []", "VALIDATION-001"},
		{"duplicate node", "id: d\nnodes:\n  - id: a\n  - id: a\n", "VALIDATION-001"},
		{"unknown target", "id: d\nnodes:\n  - id: a\n    relationships:\n      - target: b\n", "VALIDATION-001"},
		{"self target", "id: d\nnodes:\n  - id: a\n    relationships:\n      - target: a\n", "VALIDATION-001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, tt.code, engerrors.GetErrorCode(err))
		})
	}
}

func TestSortedNodes(t *testing.T) {
	d := &Deployment{ID: "d", Nodes: []*Node{{ID: "web"}, {ID: "db"}, {ID: "cache"}}}
	var ids []string
	for _, n := range d.SortedNodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"cache", "db", "web"}, ids)
	assert.Equal(t, "web", d.Nodes[0].ID, "original order is kept")
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resumable.yml"), []byte(resumableDeployment), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renamed.yaml"), []byte(resumableDeployment), 0o644))

	src := NewDirSource(dir)
	d, err := src.Get(context.Background(), "resumable")
	require.NoError(t, err)
	assert.Len(t, d.Nodes, 2)

	_, err = src.Get(context.Background(), "renamed")
	assert.Error(t, err, "file name must match the deployment id")

	_, err = src.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource(&Deployment{ID: "a"})
	d, err := src.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", d.ID)

	_, err = src.Get(context.Background(), "b")
	assert.Error(t, err)
}
