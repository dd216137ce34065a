package dag

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/taskgraph/internal/errors"
)

func readyIDs(g *Graph) []string {
	var ids []string
	for _, t := range g.ReadyTasks() {
		ids = append(ids, t.ID())
	}
	return ids
}

func newTestGraph(t *testing.T, ids ...string) *Graph {
	t.Helper()
	g := NewGraph()
	for _, id := range ids {
		require.NoError(t, g.AddTask(NewTask(id, KindOperation, noop())))
	}
	return g
}

func TestGraph_AddTask(t *testing.T) {
	g := newTestGraph(t, "a")

	err := g.AddTask(NewTask("a", KindOperation, noop()))
	require.Error(t, err)
	assert.Equal(t, "GRAPH-003", errors.GetErrorCode(err))

	err = g.AddTask(NewTask("", KindOperation, noop()))
	assert.True(t, errors.IsUserError(err))

	assert.Error(t, g.AddTask(nil))
	assert.Equal(t, 1, g.Size())
}

func TestGraph_AddDependencyUnknownTask(t *testing.T) {
	g := newTestGraph(t, "a")

	assert.ErrorIs(t, g.AddDependency("a", "missing"), errors.ErrUnknownTask)
	assert.ErrorIs(t, g.AddDependency("missing", "a"), errors.ErrUnknownTask)
}

func TestGraph_CycleRejectedAndGraphUnchanged(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c")
	require.NoError(t, g.AddDependency("b", "a"))
	require.NoError(t, g.AddDependency("c", "b"))

	tests := []struct {
		name     string
		from, to string
	}{
		{"closes long cycle", "a", "c"},
		{"closes short cycle", "a", "b"},
		{"self edge", "b", "b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AddDependency(tt.from, tt.to)
			assert.ErrorIs(t, err, errors.ErrCycle)

			deps, err := g.GetDependencies(tt.from)
			require.NoError(t, err)
			assert.NotContains(t, deps, tt.to)
			assert.NoError(t, g.Validate())
			assert.Equal(t, []string{"a"}, readyIDs(g))
		})
	}
}

func TestGraph_DuplicateEdgeIsNoop(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	require.NoError(t, g.AddDependency("b", "a"))
	require.NoError(t, g.AddDependency("b", "a"))

	require.NoError(t, g.MarkSucceeded("a", nil))
	assert.Equal(t, []string{"b"}, readyIDs(g))
	assert.NoError(t, g.Validate())
}

func TestGraph_ReadyTasksIncremental(t *testing.T) {
	g := newTestGraph(t, "a", "b", "c", "d")
	require.NoError(t, g.AddDependency("c", "a"))
	require.NoError(t, g.AddDependency("c", "b"))
	require.NoError(t, g.AddDependency("d", "c"))

	assert.Equal(t, []string{"a", "b"}, readyIDs(g))

	require.NoError(t, g.MarkSucceeded("a", nil))
	assert.Equal(t, []string{"b"}, readyIDs(g))

	require.NoError(t, g.MarkSucceeded("b", nil))
	assert.Equal(t, []string{"c"}, readyIDs(g))

	// restartable: asking again yields the same frontier
	assert.Equal(t, []string{"c"}, readyIDs(g))

	require.NoError(t, g.MarkSucceeded("c", nil))
	require.NoError(t, g.MarkSucceeded("d", nil))
	assert.Empty(t, readyIDs(g))
	assert.True(t, g.IsComplete())
}

func TestGraph_ReadySkipsNonPending(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	a, _ := g.GetTask("a")
	require.NoError(t, a.setStatus(TaskSent))

	assert.Equal(t, []string{"b"}, readyIDs(g))
}

func TestGraph_DependencyOnSucceededTask(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	require.NoError(t, g.MarkSucceeded("a", nil))
	require.NoError(t, g.AddDependency("b", "a"))

	assert.Equal(t, []string{"b"}, readyIDs(g))
}

func TestGraph_SequenceAndForkJoin(t *testing.T) {
	g := NewGraph()
	a := NewTask("a", KindOperation, noop())
	b := NewTask("b", KindOperation, noop())
	c := NewTask("c", KindOperation, noop())
	d := NewTask("d", KindOperation, noop())

	fj, err := g.ForkJoin(b, c)
	require.NoError(t, err)

	seq := g.Sequence()
	require.NoError(t, seq.Add(a, fj, d))
	assert.Equal(t, 6, g.Size())

	entryDeps, _ := g.GetDependencies(fj.Entry.ID())
	assert.Equal(t, []string{"a"}, entryDeps)

	bDeps, _ := g.GetDependencies("b")
	assert.Equal(t, []string{fj.Entry.ID()}, bDeps)

	exitDeps, _ := g.GetDependencies(fj.Exit.ID())
	assert.Equal(t, []string{"b", "c"}, exitDeps)

	dDeps, _ := g.GetDependencies("d")
	assert.Equal(t, []string{fj.Exit.ID()}, dDeps)

	assert.Equal(t, "a", Entry(seq))
	assert.Equal(t, "d", Exit(seq))
}

func TestGraph_ForkJoinIDsAreStable(t *testing.T) {
	build := func() []string {
		g := NewGraph()
		_, err := g.ForkJoin(NewTask("x", KindEvent, noop()))
		require.NoError(t, err)
		_, err = g.ForkJoin()
		require.NoError(t, err)
		var ids []string
		for _, task := range g.Tasks() {
			ids = append(ids, task.ID())
		}
		return ids
	}

	first := build()
	assert.Equal(t, first, build())
	assert.Equal(t, []string{"forkjoin-1-entry", "forkjoin-1-exit", "x", "forkjoin-2-entry", "forkjoin-2-exit"}, first)
}

func TestGraph_EmptyForkJoinChainsBarriers(t *testing.T) {
	g := NewGraph()
	fj, err := g.ForkJoin()
	require.NoError(t, err)

	deps, _ := g.GetDependencies(fj.Exit.ID())
	assert.Equal(t, []string{fj.Entry.ID()}, deps)
}

func TestGraph_NestedSequenceInForkJoin(t *testing.T) {
	g := NewGraph()
	seq1 := g.Sequence()
	require.NoError(t, seq1.Add(NewTask("a1", KindOperation, noop()), NewTask("a2", KindOperation, noop())))
	seq2 := g.Sequence()
	require.NoError(t, seq2.Add(NewTask("b1", KindOperation, noop())))

	fj, err := g.ForkJoin(seq1, seq2)
	require.NoError(t, err)

	a1Deps, _ := g.GetDependencies("a1")
	assert.Equal(t, []string{fj.Entry.ID()}, a1Deps)
	exitDeps, _ := g.GetDependencies(fj.Exit.ID())
	assert.Equal(t, []string{"a2", "b1"}, exitDeps)

	_, err = g.ForkJoin(g.Sequence())
	assert.Error(t, err)
}

func TestGraph_SequenceRejectsForeignTaskWithSameID(t *testing.T) {
	g := newTestGraph(t, "a")
	err := g.Sequence().Add(NewTask("a", KindOperation, noop()))
	assert.Equal(t, "GRAPH-003", errors.GetErrorCode(err))
}

func TestGraph_FailedForkJoinLeavesGraphUnchanged(t *testing.T) {
	g := newTestGraph(t, "a")

	_, err := g.ForkJoin(NewTask("n", KindOperation, noop()), NewTask("a", KindOperation, noop()))
	assert.Equal(t, "GRAPH-003", errors.GetErrorCode(err))

	assert.Equal(t, 1, g.Size())
	_, err = g.GetTask("n")
	assert.ErrorIs(t, err, errors.ErrUnknownTask)
	assert.NoError(t, g.Validate())

	fj, err := g.ForkJoin()
	require.NoError(t, err)
	assert.Equal(t, "forkjoin-1-entry", fj.Entry.ID())
	assert.Equal(t, 3, g.Size())
}

func TestGraph_FailedSequenceAddLeavesGraphUnchanged(t *testing.T) {
	g := newTestGraph(t, "a", "b")
	require.NoError(t, g.AddDependency("b", "a"))

	seq := g.Sequence()
	b, err := g.GetTask("b")
	require.NoError(t, err)
	require.NoError(t, seq.Add(b))

	// c waits for b and a waits for c: a -> c -> b -> a
	a, err := g.GetTask("a")
	require.NoError(t, err)
	err = seq.Add(NewTask("c", KindOperation, noop()), a)
	assert.ErrorIs(t, err, errors.ErrCycle)

	assert.Equal(t, 2, g.Size())
	_, err = g.GetTask("c")
	assert.ErrorIs(t, err, errors.ErrUnknownTask)
	deps, err := g.GetDependencies("a")
	require.NoError(t, err)
	assert.Empty(t, deps)
	assert.Equal(t, []string{"a"}, readyIDs(g))
	assert.NoError(t, g.Validate())

	require.NoError(t, seq.Add(NewTask("d", KindOperation, noop())))
	deps, err = g.GetDependencies("d")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, deps, "sequence still ends at b")
}

func TestGraph_HasFailedAndInterrupted(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddTask(NewTask("ok", KindOperation, noop())))
	require.NoError(t, g.AddTask(NewTask("sent", KindOperation, noop(), WithResumable(true))))
	require.NoError(t, g.AddTask(NewTask("started", KindOperation, noop())))
	require.NoError(t, g.AddTask(NewTask("state", KindStateTransition, noop())))

	sent, _ := g.GetTask("sent")
	require.NoError(t, sent.setStatus(TaskSent))
	started, _ := g.GetTask("started")
	require.NoError(t, started.setStatus(TaskSent))
	require.NoError(t, started.markStarted())
	state, _ := g.GetTask("state")
	require.NoError(t, state.setStatus(TaskSent))

	assert.False(t, g.HasFailed())
	assert.Len(t, g.InterruptedTasks(), 3)
	assert.Equal(t, []string{"started"}, g.NonResumableInterrupted())

	require.NoError(t, started.markFailed(stderrors.New("boom")))
	assert.True(t, g.HasFailed())
}

func TestGraph_ResetForResumeKeepsSucceeded(t *testing.T) {
	g := newTestGraph(t, "done", "running", "failed", "waiting")
	require.NoError(t, g.AddDependency("waiting", "running"))
	require.NoError(t, g.MarkSucceeded("done", nil))

	running, _ := g.GetTask("running")
	require.NoError(t, running.setStatus(TaskSent))
	require.NoError(t, running.markStarted())
	failed, _ := g.GetTask("failed")
	require.NoError(t, failed.setStatus(TaskSent))
	require.NoError(t, failed.markFailed(stderrors.New("x")))

	reset := g.ResetForResume()
	assert.Equal(t, []string{"running", "failed"}, reset)

	done, _ := g.GetTask("done")
	assert.Equal(t, TaskSucceeded, done.Status())
	assert.Equal(t, []string{"running", "failed"}, readyIDs(g))
}

func TestGraph_RestoreRecountsDependencies(t *testing.T) {
	build := func() *Graph {
		g := newTestGraph(t, "a", "b", "c")
		require.NoError(t, g.AddDependency("b", "a"))
		require.NoError(t, g.AddDependency("c", "b"))
		return g
	}

	g := build()
	require.NoError(t, g.Restore(map[string]TaskSnapshot{
		"a": {ID: "a", Status: TaskSucceeded},
		"b": {ID: "b", Status: TaskStarted, RetryCount: 2},
	}))

	b, _ := g.GetTask("b")
	assert.Equal(t, TaskStarted, b.Status())
	assert.Equal(t, 2, b.RetryCount())
	assert.NoError(t, g.Validate())

	g.ResetForResume()
	assert.Equal(t, []string{"b"}, readyIDs(g))

	err := build().Restore(map[string]TaskSnapshot{"zzz": {ID: "zzz", Status: TaskSucceeded}})
	assert.ErrorIs(t, err, errors.ErrUnknownTask)
}
