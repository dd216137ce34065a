package gcp

import (
	"context"

	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/mock"
)

type mockInstancesAPI struct {
	mock.Mock
}

func (m *mockInstancesAPI) Get(ctx context.Context, req *computepb.GetInstanceRequest, opts ...gax.CallOption) (*computepb.Instance, error) {
	args := m.Called(ctx, req)
	instance, _ := args.Get(0).(*computepb.Instance)
	return instance, args.Error(1)
}

func (m *mockInstancesAPI) Start(ctx context.Context, req *computepb.StartInstanceRequest, opts ...gax.CallOption) (ZoneOperation, error) {
	args := m.Called(ctx, req)
	op, _ := args.Get(0).(ZoneOperation)
	return op, args.Error(1)
}

func (m *mockInstancesAPI) Stop(ctx context.Context, req *computepb.StopInstanceRequest, opts ...gax.CallOption) (ZoneOperation, error) {
	args := m.Called(ctx, req)
	op, _ := args.Get(0).(ZoneOperation)
	return op, args.Error(1)
}

func (m *mockInstancesAPI) Close() error {
	return m.Called().Error(0)
}

type mockZoneOperation struct {
	mock.Mock
}

func (m *mockZoneOperation) Name() string {
	return "operation-123"
}

func (m *mockZoneOperation) Wait(ctx context.Context, opts ...gax.CallOption) error {
	return m.Called(ctx).Error(0)
}
