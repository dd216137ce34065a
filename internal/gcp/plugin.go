package gcp

import (
	"context"

	computepb "cloud.google.com/go/compute/apiv1/computepb"

	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/operations"
)

// Host operation names
const (
	GetStateOp = "gce.get_state"
	StartOp    = "gce.start"
	StopOp     = "gce.stop"
)

// Node properties addressing the instance
const (
	PropProject  = "gce_project"
	PropZone     = "gce_zone"
	PropInstance = "gce_instance"
)

// HostClient is what the plugin needs from an instance client
type HostClient interface {
	GetInstance(ctx context.Context, projectID, zone, instanceName string) (*computepb.Instance, error)
	InstanceIsRunning(instance *computepb.Instance) bool
	StartInstance(ctx context.Context, projectID, zone, instanceName string) error
	StopInstance(ctx context.Context, projectID, zone, instanceName string) error
}

// Plugin exposes Compute Engine hosts as operations
type Plugin struct {
	client         HostClient
	defaultProject string
}

// NewPlugin creates the plugin; defaultProject is used when a node has no gce_project
func NewPlugin(client HostClient, defaultProject string) *Plugin {
	return &Plugin{client: client, defaultProject: defaultProject}
}

// Register adds the host operations to r. All of them are safe to repeat.
func (p *Plugin) Register(r *operations.Registry) error {
	ops := map[string]operations.Func{
		GetStateOp: p.getState,
		StartOp:    p.start,
		StopOp:     p.stop,
	}
	for _, name := range []string{GetStateOp, StartOp, StopOp} {
		if err := r.Register(name, ops[name], true); err != nil {
			return err
		}
	}
	return nil
}

type target struct {
	project, zone, instance string
}

func (p *Plugin) target(inv *operations.Invocation) (target, error) {
	t := target{
		project:  inv.String(PropProject),
		zone:     inv.String(PropZone),
		instance: inv.String(PropInstance),
	}
	if t.project == "" {
		t.project = p.defaultProject
	}
	switch {
	case t.project == "":
		return t, engerrors.NewValidationFailedError(PropProject, "", inv.Operation)
	case t.zone == "":
		return t, engerrors.NewValidationFailedError(PropZone, "", inv.Operation)
	case t.instance == "":
		t.instance = inv.NodeID
	}
	return t, nil
}

func (p *Plugin) getState(ctx context.Context, inv *operations.Invocation) (interface{}, error) {
	t, err := p.target(inv)
	if err != nil {
		return nil, err
	}
	instance, err := p.client.GetInstance(ctx, t.project, t.zone, t.instance)
	if err != nil {
		return nil, err
	}
	return p.client.InstanceIsRunning(instance), nil
}

func (p *Plugin) start(ctx context.Context, inv *operations.Invocation) (interface{}, error) {
	t, err := p.target(inv)
	if err != nil {
		return nil, err
	}
	return nil, p.client.StartInstance(ctx, t.project, t.zone, t.instance)
}

func (p *Plugin) stop(ctx context.Context, inv *operations.Invocation) (interface{}, error) {
	t, err := p.target(inv)
	if err != nil {
		return nil, err
	}
	return nil, p.client.StopInstance(ctx, t.project, t.zone, t.instance)
}
