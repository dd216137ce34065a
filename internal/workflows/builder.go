package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/maxkimambo/taskgraph/internal/dag"
	"github.com/maxkimambo/taskgraph/internal/deployment"
	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/operations"
)

// builder wraps graph construction and keeps the first error
type builder struct {
	wctx  *Context
	graph *dag.Graph
	err   error
}

func newBuilder(wctx *Context) *builder {
	return &builder{wctx: wctx, graph: dag.NewGraph()}
}

func (b *builder) fail(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

func (b *builder) result() (*dag.Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.graph, nil
}

// compact drops absent items
func compact(items []dag.Item) []dag.Item {
	out := items[:0:0]
	for _, it := range items {
		if it != nil {
			out = append(out, it)
		}
	}
	return out
}

func (b *builder) forkJoin(items ...dag.Item) dag.Item {
	if b.err != nil {
		return nil
	}
	fj, err := b.graph.ForkJoin(compact(items)...)
	if err != nil {
		b.fail(err)
		return nil
	}
	return fj
}

func (b *builder) sequence(items ...dag.Item) *dag.Sequence {
	seq := b.graph.Sequence()
	b.add(seq, items...)
	return seq
}

func (b *builder) add(seq *dag.Sequence, items ...dag.Item) {
	if b.err != nil {
		return
	}
	b.fail(seq.Add(compact(items)...))
}

// dependOn makes from wait for to
func (b *builder) dependOn(from, to dag.Item) {
	if b.err != nil || from == nil || to == nil {
		return
	}
	b.fail(b.graph.AddDependency(dag.Entry(from), dag.Exit(to)))
}

// setState records the node instance lifecycle state
func (b *builder) setState(node *deployment.Node, state string) *dag.Task {
	instances := b.wctx.Instances
	deploymentID := b.wctx.Deployment.ID
	op := dag.OperationFunc(func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
		if instances == nil {
			return state, nil
		}
		return state, instances.UpdateInstanceProperties(ctx, deploymentID, node.ID, func(props map[string]interface{}) error {
			props["state"] = state
			return nil
		})
	})
	return dag.NewTask(fmt.Sprintf("%s.state.%s", node.ID, state), dag.KindStateTransition, op,
		dag.WithName(fmt.Sprintf("%s: set state %s", node.ID, state)),
		dag.WithNode(node.ID),
		dag.WithRetryPolicy(b.defaultPolicy()))
}

// sendEvent emits a workflow event to the user log stream
func (b *builder) sendEvent(node *deployment.Node, message string) *dag.Task {
	executionID := b.wctx.ExecutionID
	op := dag.OperationFunc(func(context.Context, map[string]interface{}) (interface{}, error) {
		logger.User.Eventf("[%s] %s", node.ID, message)
		logger.Op.WithFields(map[string]interface{}{
			"execution": executionID,
			"node":      node.ID,
		}).Debug(message)
		return nil, nil
	})
	slug := strings.ToLower(strings.ReplaceAll(message, " ", "_"))
	return dag.NewTask(fmt.Sprintf("%s.event.%s", node.ID, slug), dag.KindEvent, op,
		dag.WithName(fmt.Sprintf("%s: %s", node.ID, message)),
		dag.WithNode(node.ID))
}

func (b *builder) defaultPolicy() *dag.RetryPolicy {
	if b.wctx.RetryPolicy != nil {
		p := *b.wctx.RetryPolicy
		return &p
	}
	return dag.NewDefaultRetryPolicy()
}

func (b *builder) policyFor(spec deployment.OperationSpec) *dag.RetryPolicy {
	p := b.defaultPolicy()
	if spec.MaxRetries != nil {
		p.MaxRetries = *spec.MaxRetries
	}
	if spec.RetryInterval > 0 {
		p.Interval = spec.RetryInterval
	}
	return p
}

// mergeParams overlays layers from left to right into a fresh map
func mergeParams(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// operation builds a task invoking the mapped implementation on node. Returns nil when nothing is mapped.
func (b *builder) operation(id string, node *deployment.Node, opName string, spec deployment.OperationSpec,
	kwargs map[string]interface{}, opts ...dag.TaskOption) *dag.Task {
	if b.err != nil || spec.Implementation == "" {
		return nil
	}

	def, err := b.wctx.Operations.Lookup(spec.Implementation)
	if err != nil {
		b.fail(err)
		return nil
	}
	resumable := def.Resumable
	if spec.Resumable != nil {
		resumable = *spec.Resumable
	}

	params := mergeParams(node.Properties, spec.Inputs, kwargs)
	inv := operations.Invocation{
		ExecutionID:  b.wctx.ExecutionID,
		DeploymentID: b.wctx.Deployment.ID,
		NodeID:       node.ID,
		Operation:    opName,
		Instances:    b.wctx.Instances,
	}
	op := dag.OperationFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		call := inv
		call.Params = params
		return def.Op.Run(ctx, &call)
	})

	all := []dag.TaskOption{
		dag.WithName(fmt.Sprintf("%s: %s", node.ID, opName)),
		dag.WithNode(node.ID),
		dag.WithParams(params),
		dag.WithResumable(resumable),
		dag.WithRetryPolicy(b.policyFor(spec)),
	}
	if spec.Timeout > 0 {
		all = append(all, dag.WithTimeout(spec.Timeout))
	}
	return dag.NewTask(id, dag.KindOperation, op, append(all, opts...)...)
}

// lifecycle executes a node interface operation; nil when the node does not map it
func (b *builder) lifecycle(node *deployment.Node, opName string, kwargs map[string]interface{}, opts ...dag.TaskOption) dag.Item {
	spec, ok := node.Operation(opName)
	if !ok {
		return nil
	}
	t := b.operation(fmt.Sprintf("%s.%s", node.ID, opName), node, opName, spec, kwargs, opts...)
	if t == nil {
		return nil
	}
	return t
}

// relationshipOperations runs opName on both ends of every relationship of node
func (b *builder) relationshipOperations(node *deployment.Node, opName string) []dag.Item {
	var items []dag.Item
	for i, rel := range node.Relationships {
		target := b.wctx.Deployment.Node(rel.Target)
		relParams := map[string]interface{}{"source_id": node.ID, "target_id": rel.Target}
		if spec, ok := rel.SourceOperations[opName]; ok {
			id := fmt.Sprintf("%s.rel%d.%s.source.%s", node.ID, i, target.ID, opName)
			if t := b.operation(id, node, opName, spec, relParams); t != nil {
				items = append(items, t)
			}
		}
		if spec, ok := rel.TargetOperations[opName]; ok {
			id := fmt.Sprintf("%s.rel%d.%s.target.%s", node.ID, i, target.ID, opName)
			if t := b.operation(id, target, opName, spec, relParams); t != nil {
				items = append(items, t)
			}
		}
	}
	return items
}
