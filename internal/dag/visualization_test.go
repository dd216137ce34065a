package dag

import (
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func visualGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	create := NewTask("web.create", KindOperation, noop(), WithNode("web"), WithName("web: create"))
	start := NewTask("web.start", KindOperation, noop(), WithNode("web"), WithResumable(true))
	fj, err := g.ForkJoin(NewTask("web.event", KindEvent, noop()))
	require.NoError(t, err)
	require.NoError(t, g.Sequence().Add(create, fj, start))

	require.NoError(t, create.setStatus(TaskSent))
	require.NoError(t, create.markStarted())
	require.NoError(t, create.markFailed(stderrors.New(`quota "exceeded"`)))
	return g
}

func TestGraphVisualization_GenerateGraphInfo(t *testing.T) {
	info := NewGraphVisualization(visualGraph(t)).GenerateGraphInfo()

	assert.Equal(t, 5, info.Stats.TotalTasks)
	assert.Equal(t, 1, info.Stats.FailedTasks)
	assert.Equal(t, 4, info.Stats.PendingTasks)
	assert.NotNil(t, info.Stats.StartTime)

	var create TaskInfo
	for _, ti := range info.Tasks {
		if ti.ID == "web.create" {
			create = ti
		}
	}
	assert.Equal(t, "web: create", create.Name)
	assert.Equal(t, "web", create.Node)
	assert.False(t, create.Resumable)
	assert.Contains(t, create.Error, "quota")

	assert.Contains(t, info.Edges, EdgeInfo{From: "forkjoin-1-entry", To: "web.create"})
	assert.Contains(t, info.Edges, EdgeInfo{From: "web.start", To: "forkjoin-1-exit"})
}

func TestGraphVisualization_JSON(t *testing.T) {
	v := NewGraphVisualization(visualGraph(t))
	data, err := v.ToJSON()
	require.NoError(t, err)

	var decoded GraphInfo
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded.Tasks, 5)

	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, v.ExportToJSON(path))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestGraphVisualization_DOT(t *testing.T) {
	dot := NewGraphVisualization(visualGraph(t)).GenerateDOTGraph()

	assert.Contains(t, dot, "digraph TaskGraph {")
	assert.Contains(t, dot, `"forkjoin-1-entry" [shape=point`)
	assert.Contains(t, dot, `"web.create" -> "forkjoin-1-entry";`)
	assert.Contains(t, dot, "non-resumable")
	assert.Contains(t, dot, "quota 'exceeded'")
	assert.NotContains(t, dot, `quota "exceeded"`)
}
