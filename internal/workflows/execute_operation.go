package workflows

import (
	"fmt"

	"github.com/maxkimambo/taskgraph/internal/dag"
	"github.com/maxkimambo/taskgraph/internal/deployment"
	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
)

// ExecuteOperationParams are the parameters of the execute_operation workflow
type ExecuteOperationParams struct {
	Operation            string
	OperationKwargs      map[string]interface{}
	RunByDependencyOrder bool
	NodeIDs              []string
}

// ParseExecuteOperationParams reads the workflow parameters, accepting the
// loosely typed values a JSON round trip produces
func ParseExecuteOperationParams(params map[string]interface{}) (ExecuteOperationParams, error) {
	var p ExecuteOperationParams

	op, _ := params["operation"].(string)
	if op == "" {
		return p, engerrors.NewValidationFailedError("operation", fmt.Sprint(params["operation"]), ExecuteOperation)
	}
	p.Operation = op

	switch kw := params["operation_kwargs"].(type) {
	case nil:
	case map[string]interface{}:
		p.OperationKwargs = kw
	default:
		return p, engerrors.NewValidationFailedError("operation_kwargs", fmt.Sprint(kw), ExecuteOperation)
	}

	switch v := params["run_by_dependency_order"].(type) {
	case nil:
	case bool:
		p.RunByDependencyOrder = v
	case string:
		p.RunByDependencyOrder = v == "true"
	default:
		return p, engerrors.NewValidationFailedError("run_by_dependency_order", fmt.Sprint(v), ExecuteOperation)
	}

	switch ids := params["node_ids"].(type) {
	case nil:
	case []string:
		p.NodeIDs = ids
	case []interface{}:
		for _, id := range ids {
			p.NodeIDs = append(p.NodeIDs, fmt.Sprint(id))
		}
	case string:
		p.NodeIDs = []string{ids}
	default:
		return p, engerrors.NewValidationFailedError("node_ids", fmt.Sprint(ids), ExecuteOperation)
	}
	return p, nil
}

// BuildExecuteOperation runs one operation on every selected node that maps it.
// With run_by_dependency_order a node waits for the nearest related nodes that run it too.
func BuildExecuteOperation(wctx *Context) (*dag.Graph, error) {
	p, err := ParseExecuteOperationParams(wctx.Parameters)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool)
	for _, id := range p.NodeIDs {
		if wctx.Deployment.Node(id) == nil {
			return nil, engerrors.NewValidationFailedError("node_ids", id, ExecuteOperation)
		}
		selected[id] = true
	}

	b := newBuilder(wctx)
	tasks := make(map[string]dag.Item)
	for _, node := range wctx.Deployment.SortedNodes() {
		if len(selected) > 0 && !selected[node.ID] {
			continue
		}
		if item := b.lifecycle(node, p.Operation, p.OperationKwargs); item != nil {
			b.sequence(item)
			tasks[node.ID] = item
		}
	}

	if p.RunByDependencyOrder {
		for _, node := range wctx.Deployment.SortedNodes() {
			item, ok := tasks[node.ID]
			if !ok {
				continue
			}
			for _, dep := range nearestWithTask(wctx.Deployment, node, tasks) {
				b.dependOn(item, tasks[dep])
			}
		}
	}
	return b.result()
}

// nearestWithTask walks relationship targets and returns the first nodes on
// each path that have a task, so ordering survives nodes that skip the operation
func nearestWithTask(d *deployment.Deployment, node *deployment.Node, tasks map[string]dag.Item) []string {
	var out []string
	seen := map[string]bool{node.ID: true}
	queue := node.Targets()
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := tasks[id]; ok {
			out = append(out, id)
			continue
		}
		if n := d.Node(id); n != nil {
			queue = append(queue, n.Targets()...)
		}
	}
	return out
}
