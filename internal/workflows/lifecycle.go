package workflows

import (
	"fmt"

	"github.com/maxkimambo/taskgraph/internal/dag"
	"github.com/maxkimambo/taskgraph/internal/deployment"
)

// Interface operations the lifecycle workflows invoke
const (
	OpCreate    = "lifecycle.create"
	OpConfigure = "lifecycle.configure"
	OpStart     = "lifecycle.start"
	OpStop      = "lifecycle.stop"
	OpDelete    = "lifecycle.delete"
	OpGetState  = "host.get_state"

	OpPreconfigure  = "relationship.preconfigure"
	OpPostconfigure = "relationship.postconfigure"
	OpEstablish     = "relationship.establish"
	OpUnlink        = "relationship.unlink"
)

// waitForHost polls the host get_state operation until it reports true.
// Polling is unbounded unless the mapping sets max_retries.
func (b *builder) waitForHost(node *deployment.Node) dag.Item {
	spec, ok := node.Operation(OpGetState)
	if !ok {
		return nil
	}
	if spec.MaxRetries == nil {
		unlimited := -1
		spec.MaxRetries = &unlimited
	}
	t := b.operation(fmt.Sprintf("%s.%s", node.ID, OpGetState), node, OpGetState, spec, nil,
		dag.OnSuccess(func(result interface{}) dag.HandlerResult {
			if up, ok := result.(bool); ok && !up {
				return dag.HandlerRetry
			}
			return dag.HandlerContinue
		}))
	if t == nil {
		return nil
	}
	return t
}

// BuildInstall creates, configures and starts every node. A node starts
// creating only after all of its relationship targets are started.
func BuildInstall(wctx *Context) (*dag.Graph, error) {
	b := newBuilder(wctx)
	nodes := wctx.Deployment.SortedNodes()

	creatingState := make(map[string]*dag.Task, len(nodes))
	creatingEvent := make(map[string]*dag.Task, len(nodes))
	startedState := make(map[string]*dag.Task, len(nodes))
	for _, n := range nodes {
		creatingState[n.ID] = b.setState(n, "creating")
		creatingEvent[n.ID] = b.sendEvent(n, "Creating node")
		startedState[n.ID] = b.setState(n, "started")
	}

	for _, n := range nodes {
		seq := b.sequence(
			b.setState(n, "initializing"),
			b.forkJoin(creatingState[n.ID], creatingEvent[n.ID]),
			b.lifecycle(n, OpCreate, nil),
			b.setState(n, "created"),
			b.forkJoin(b.relationshipOperations(n, OpPreconfigure)...),
			b.forkJoin(b.setState(n, "configuring"), b.sendEvent(n, "Configuring node")),
			b.lifecycle(n, OpConfigure, nil),
			b.setState(n, "configured"),
			b.forkJoin(b.relationshipOperations(n, OpPostconfigure)...),
			b.forkJoin(b.setState(n, "starting"), b.sendEvent(n, "Starting node")),
			b.lifecycle(n, OpStart, nil),
		)
		if n.IsHost() {
			b.add(seq, b.waitForHost(n))
		}
		b.add(seq,
			startedState[n.ID],
			b.forkJoin(b.relationshipOperations(n, OpEstablish)...),
		)
	}

	for _, n := range nodes {
		for _, target := range n.Targets() {
			b.dependOn(creatingState[n.ID], startedState[target])
			b.dependOn(creatingEvent[n.ID], startedState[target])
		}
	}
	return b.result()
}

// BuildUninstall stops and deletes every node. A node starts stopping only
// after every node related to it is deleted.
func BuildUninstall(wctx *Context) (*dag.Graph, error) {
	b := newBuilder(wctx)
	nodes := wctx.Deployment.SortedNodes()

	stopping := make(map[string]dag.Item, len(nodes))
	deletedState := make(map[string]*dag.Task, len(nodes))
	for _, n := range nodes {
		deletedState[n.ID] = b.setState(n, "deleted")
	}

	for _, n := range nodes {
		stopping[n.ID] = b.forkJoin(b.setState(n, "stopping"), b.sendEvent(n, "Stopping node"))
		b.sequence(
			stopping[n.ID],
			b.lifecycle(n, OpStop, nil),
			b.setState(n, "stopped"),
			b.forkJoin(b.relationshipOperations(n, OpUnlink)...),
			b.forkJoin(b.setState(n, "deleting"), b.sendEvent(n, "Deleting node")),
			b.lifecycle(n, OpDelete, nil),
			deletedState[n.ID],
		)
	}

	for _, n := range nodes {
		for _, target := range n.Targets() {
			b.dependOn(stopping[target], deletedState[n.ID])
		}
	}
	return b.result()
}
