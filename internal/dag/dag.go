package dag

import (
	"fmt"
	"sort"
	"sync"

	"github.com/maxkimambo/taskgraph/internal/errors"
)

// Item is anything that can be placed in a sequence or fork-join group:
// a single task, a fork-join group or a nested sequence.
type Item interface {
	entryID() string
	exitID() string
}

func (t *Task) entryID() string { return t.id }
func (t *Task) exitID() string { return t.id }

// Graph is a mutable DAG of tasks. An edge from -> to means from must not
// start until to has succeeded.
type Graph struct {
	mutex      sync.RWMutex
	tasks      map[string]*Task
	order      []string
	deps       map[string]map[string]struct{} // task -> tasks it waits for
	dependents map[string]map[string]struct{} // task -> tasks waiting for it
	remaining  map[string]int                 // unsucceeded dependency count
	forkJoins  int
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
		remaining:  make(map[string]int),
	}
}

// AddTask adds a task to the graph
func (g *Graph) AddTask(t *Task) error {
	if err := checkTask(t); err != nil {
		return err
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, exists := g.tasks[t.id]; exists {
		return errors.NewDuplicateTaskError(t.id)
	}
	g.insert(t)
	return nil
}

func checkTask(t *Task) error {
	if t == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if t.id == "" {
		return errors.NewValidationFailedError("task id", "", "Graph construction")
	}
	return nil
}

func (g *Graph) insert(t *Task) {
	g.tasks[t.id] = t
	g.order = append(g.order, t.id)
	g.deps[t.id] = make(map[string]struct{})
	g.dependents[t.id] = make(map[string]struct{})
	g.remaining[t.id] = 0
}

func (g *Graph) link(fromID, toID string) {
	g.deps[fromID][toID] = struct{}{}
	g.dependents[toID][fromID] = struct{}{}
	if g.tasks[toID].Status() != TaskSucceeded {
		g.remaining[fromID]++
	}
}

// AddDependency declares that fromID waits for toID. An edge that would close
// a cycle is rejected with a cycle error and leaves the graph unchanged.
func (g *Graph) AddDependency(fromID, toID string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	p := g.newPlan()
	if err := p.depend(fromID, toID); err != nil {
		return err
	}
	p.apply()
	return nil
}

// plan stages the tasks and edges of one builder call. Nothing reaches the
// graph until every step was checked. Callers hold the write lock.
type plan struct {
	g     *Graph
	tasks []*Task
	added map[string]*Task
	edges [][2]string
	deps  map[string][]string
}

func (g *Graph) newPlan() *plan {
	return &plan{
		g:     g,
		added: make(map[string]*Task),
		deps:  make(map[string][]string),
	}
}

func (p *plan) lookup(id string) (*Task, bool) {
	if t, ok := p.g.tasks[id]; ok {
		return t, true
	}
	t, ok := p.added[id]
	return t, ok
}

// ensure stages the task unless this exact task is already part of the graph
func (p *plan) ensure(t *Task) error {
	if err := checkTask(t); err != nil {
		return err
	}
	if existing, ok := p.lookup(t.id); ok {
		if existing != t {
			return errors.NewDuplicateTaskError(t.id)
		}
		return nil
	}
	p.added[t.id] = t
	p.tasks = append(p.tasks, t)
	return nil
}

func (p *plan) addItem(item Item) error {
	switch v := item.(type) {
	case nil:
		return fmt.Errorf("item cannot be nil")
	case *Task:
		return p.ensure(v)
	case *Sequence:
		if v.first == nil {
			return fmt.Errorf("empty sequence cannot be grouped")
		}
	}
	return nil
}

func (p *plan) depend(fromID, toID string) error {
	if _, ok := p.lookup(fromID); !ok {
		return errors.NewUnknownTaskError(fromID)
	}
	if _, ok := p.lookup(toID); !ok {
		return errors.NewUnknownTaskError(toID)
	}
	if p.linked(fromID, toID) {
		return nil
	}
	if fromID == toID || p.reachable(toID, fromID) {
		return errors.NewCycleError(fromID, toID)
	}
	p.edges = append(p.edges, [2]string{fromID, toID})
	p.deps[fromID] = append(p.deps[fromID], toID)
	return nil
}

func (p *plan) linked(fromID, toID string) bool {
	if _, ok := p.g.deps[fromID][toID]; ok {
		return true
	}
	for _, dep := range p.deps[fromID] {
		if dep == toID {
			return true
		}
	}
	return false
}

// reachable reports whether target can be reached from start by following
// dependency edges, staged ones included
func (p *plan) reachable(start, target string) bool {
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		for dep := range p.g.deps[id] {
			stack = append(stack, dep)
		}
		stack = append(stack, p.deps[id]...)
	}
	return false
}

func (p *plan) apply() {
	for _, t := range p.tasks {
		p.g.insert(t)
	}
	for _, e := range p.edges {
		p.g.link(e[0], e[1])
	}
}

// ForkJoinGroup is a set of items with no ordering among themselves, bracketed
// by synthetic entry and exit barriers.
type ForkJoinGroup struct {
	Entry *Task
	Exit  *Task
	Items []Item
}

func (f *ForkJoinGroup) entryID() string { return f.Entry.id }
func (f *ForkJoinGroup) exitID() string { return f.Exit.id }

// ForkJoin groups items between two barriers. Tasks not yet in the graph are
// added. On error the graph is left as it was.
func (g *Graph) ForkJoin(items ...Item) (*ForkJoinGroup, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	n := g.forkJoins + 1
	group := &ForkJoinGroup{
		Entry: NewBarrier(fmt.Sprintf("forkjoin-%d-entry", n)),
		Exit:  NewBarrier(fmt.Sprintf("forkjoin-%d-exit", n)),
		Items: items,
	}

	p := g.newPlan()
	if err := p.ensure(group.Entry); err != nil {
		return nil, err
	}
	if err := p.ensure(group.Exit); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if err := p.depend(group.Exit.id, group.Entry.id); err != nil {
			return nil, err
		}
	}
	for _, item := range items {
		if err := p.addItem(item); err != nil {
			return nil, err
		}
		if err := p.depend(item.entryID(), group.Entry.id); err != nil {
			return nil, err
		}
		if err := p.depend(group.Exit.id, item.exitID()); err != nil {
			return nil, err
		}
	}

	p.apply()
	g.forkJoins = n
	return group, nil
}

// Sequence chains items so that each one waits for the previous one
type Sequence struct {
	graph *Graph
	first Item
	last  Item
}

// Sequence returns a builder that chains items in order
func (g *Graph) Sequence() *Sequence {
	return &Sequence{graph: g}
}

// Add appends items to the sequence, adding each consecutive dependency edge.
// Nil items are skipped. On error neither the graph nor the sequence changes.
func (s *Sequence) Add(items ...Item) error {
	s.graph.mutex.Lock()
	defer s.graph.mutex.Unlock()

	p := s.graph.newPlan()
	first, last := s.first, s.last
	for _, item := range items {
		if item == nil {
			continue
		}
		if err := p.addItem(item); err != nil {
			return err
		}
		if last != nil {
			if err := p.depend(item.entryID(), last.exitID()); err != nil {
				return err
			}
		}
		if first == nil {
			first = item
		}
		last = item
	}

	p.apply()
	s.first, s.last = first, last
	return nil
}

// Empty reports whether nothing was added yet
func (s *Sequence) Empty() bool {
	return s.first == nil
}

func (s *Sequence) entryID() string {
	if s.first == nil {
		return ""
	}
	return s.first.entryID()
}

func (s *Sequence) exitID() string {
	if s.last == nil {
		return ""
	}
	return s.last.exitID()
}

// Entry returns the ID of the first task to run in an item
func Entry(item Item) string { return item.entryID() }

// Exit returns the ID of the last task to finish in an item
func Exit(item Item) string { return item.exitID() }

// GetTask retrieves a task by its ID
func (g *Graph) GetTask(id string) (*Task, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	t, exists := g.tasks[id]
	if !exists {
		return nil, errors.NewUnknownTaskError(id)
	}
	return t, nil
}

// Tasks returns all tasks in insertion order
func (g *Graph) Tasks() []*Task {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	tasks := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.tasks[id])
	}
	return tasks
}

// Size returns the number of tasks
func (g *Graph) Size() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.tasks)
}

// GetDependencies returns the IDs the given task waits for, sorted
func (g *Graph) GetDependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	deps, exists := g.deps[id]
	if !exists {
		return nil, errors.NewUnknownTaskError(id)
	}
	return sortedKeys(deps), nil
}

// GetDependents returns the IDs waiting for the given task, sorted
func (g *Graph) GetDependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	dependents, exists := g.dependents[id]
	if !exists {
		return nil, errors.NewUnknownTaskError(id)
	}
	return sortedKeys(dependents), nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReadyTasks returns the scheduling frontier: pending tasks whose every
// dependency has succeeded, in insertion order. Each call recomputes it from
// the dependency counters, so it is safe to call repeatedly.
func (g *Graph) ReadyTasks() []*Task {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var ready []*Task
	for _, id := range g.order {
		if g.remaining[id] == 0 && g.tasks[id].Status() == TaskPending {
			ready = append(ready, g.tasks[id])
		}
	}
	return ready
}

// MarkSucceeded moves a task to succeeded and releases its dependents
func (g *Graph) MarkSucceeded(id string, result interface{}) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	t, exists := g.tasks[id]
	if !exists {
		return errors.NewUnknownTaskError(id)
	}
	if t.Status() == TaskSucceeded {
		return nil
	}
	if err := t.markSucceeded(result); err != nil {
		return err
	}
	for dependent := range g.dependents[id] {
		g.remaining[dependent]--
	}
	return nil
}

// IsComplete returns true when every task succeeded
func (g *Graph) IsComplete() bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	for _, t := range g.tasks {
		if t.Status() != TaskSucceeded {
			return false
		}
	}
	return true
}

// HasFailed returns true when any task failed permanently
func (g *Graph) HasFailed() bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	for _, t := range g.tasks {
		if t.Status() == TaskFailed {
			return true
		}
	}
	return false
}

// InterruptedTasks returns tasks left sent or started, in insertion order
func (g *Graph) InterruptedTasks() []*Task {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var interrupted []*Task
	for _, id := range g.order {
		if g.tasks[id].Status().InFlight() {
			interrupted = append(interrupted, g.tasks[id])
		}
	}
	return interrupted
}

// NonResumableInterrupted returns the IDs of interrupted tasks that are not resumable
func (g *Graph) NonResumableInterrupted() []string {
	var ids []string
	for _, t := range g.InterruptedTasks() {
		if !t.IsResumable() {
			ids = append(ids, t.id)
		}
	}
	return ids
}

// ResetForResume reverts sent, started and failed tasks to pending and returns their IDs.
// Succeeded tasks are kept and never re-run.
func (g *Graph) ResetForResume() []string {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	var reset []string
	for _, id := range g.order {
		if g.tasks[id].resetToPending() {
			reset = append(reset, id)
		}
	}
	return reset
}

// StatusCounts returns how many tasks are in each status
func (g *Graph) StatusCounts() map[TaskStatus]int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	counts := make(map[TaskStatus]int)
	for _, t := range g.tasks {
		counts[t.Status()]++
	}
	return counts
}

// Snapshot captures the persisted state of every task
func (g *Graph) Snapshot() map[string]TaskSnapshot {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	snaps := make(map[string]TaskSnapshot, len(g.tasks))
	for id, t := range g.tasks {
		snaps[id] = t.Snapshot()
	}
	return snaps
}

// Restore applies persisted task state to a freshly built graph. Every
// persisted task must exist in the graph; tasks without state stay pending.
func (g *Graph) Restore(snaps map[string]TaskSnapshot) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	for id := range snaps {
		if _, exists := g.tasks[id]; !exists {
			return errors.NewUnknownTaskError(id)
		}
	}
	for id, snap := range snaps {
		g.tasks[id].restore(snap)
	}

	for id := range g.tasks {
		g.remaining[id] = 0
		for dep := range g.deps[id] {
			if g.tasks[dep].Status() != TaskSucceeded {
				g.remaining[id]++
			}
		}
	}
	return nil
}

// Validate checks the counters agree with the task statuses
func (g *Graph) Validate() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	for id := range g.tasks {
		want := 0
		for dep := range g.deps[id] {
			if g.tasks[dep].Status() != TaskSucceeded {
				want++
			}
		}
		if g.remaining[id] != want {
			return fmt.Errorf("task %s: dependency counter %d, expected %d", id, g.remaining[id], want)
		}
	}
	return nil
}
