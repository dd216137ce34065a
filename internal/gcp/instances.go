package gcp

import (
	"context"

	compute "cloud.google.com/go/compute/apiv1"
	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"github.com/googleapis/gax-go/v2"
)

// ZoneOperation is a long-running zonal operation
type ZoneOperation interface {
	Name() string
	Wait(ctx context.Context, opts ...gax.CallOption) error
}

// InstancesAPI is the part of the Compute Engine instances API the plugin calls
type InstancesAPI interface {
	Get(ctx context.Context, req *computepb.GetInstanceRequest, opts ...gax.CallOption) (*computepb.Instance, error)
	Start(ctx context.Context, req *computepb.StartInstanceRequest, opts ...gax.CallOption) (ZoneOperation, error)
	Stop(ctx context.Context, req *computepb.StopInstanceRequest, opts ...gax.CallOption) (ZoneOperation, error)
	Close() error
}

type restInstances struct {
	client *compute.InstancesClient
}

func (r *restInstances) Get(ctx context.Context, req *computepb.GetInstanceRequest, opts ...gax.CallOption) (*computepb.Instance, error) {
	return r.client.Get(ctx, req, opts...)
}

func (r *restInstances) Start(ctx context.Context, req *computepb.StartInstanceRequest, opts ...gax.CallOption) (ZoneOperation, error) {
	op, err := r.client.Start(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (r *restInstances) Stop(ctx context.Context, req *computepb.StopInstanceRequest, opts ...gax.CallOption) (ZoneOperation, error) {
	op, err := r.client.Stop(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (r *restInstances) Close() error {
	return r.client.Close()
}
