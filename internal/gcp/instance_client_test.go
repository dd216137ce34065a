package gcp

import (
	"context"
	"errors"
	"testing"

	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/operations"
)

func TestInstanceClient_StartInstance(t *testing.T) {
	logger.Setup(false, false, true)

	tests := []struct {
		name      string
		startErr  error
		waitErr   error
		expectErr string
	}{
		{name: "Success"},
		{name: "API error", startErr: errors.New("quota exceeded"), expectErr: "failed to start instance web-1"},
		{name: "Wait error", waitErr: errors.New("operation timed out"), expectErr: "start operation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := new(mockInstancesAPI)
			op := new(mockZoneOperation)

			req := &computepb.StartInstanceRequest{Project: "proj", Zone: "us-west1-a", Instance: "web-1"}
			if tt.startErr != nil {
				api.On("Start", mock.Anything, req).Return(nil, tt.startErr).Once()
			} else {
				api.On("Start", mock.Anything, req).Return(op, nil).Once()
				op.On("Wait", mock.Anything).Return(tt.waitErr).Once()
			}

			err := NewInstanceClient(api).StartInstance(context.Background(), "proj",
				"https://www.googleapis.com/compute/v1/projects/proj/zones/us-west1-a", "web-1")
			if tt.expectErr != "" {
				assert.ErrorContains(t, err, tt.expectErr)
			} else {
				assert.NoError(t, err)
			}
			api.AssertExpectations(t)
			op.AssertExpectations(t)
		})
	}
}

func TestInstanceClient_StopInstance(t *testing.T) {
	api := new(mockInstancesAPI)
	op := new(mockZoneOperation)
	req := &computepb.StopInstanceRequest{Project: "proj", Zone: "us-west1-a", Instance: "web-1"}
	api.On("Stop", mock.Anything, req).Return(op, nil).Once()
	op.On("Wait", mock.Anything).Return(nil).Once()

	require.NoError(t, NewInstanceClient(api).StopInstance(context.Background(), "proj", "us-west1-a", "web-1"))
	api.AssertExpectations(t)
}

func TestInstanceClient_InstanceIsRunning(t *testing.T) {
	ic := NewInstanceClient(new(mockInstancesAPI))
	assert.True(t, ic.InstanceIsRunning(&computepb.Instance{Status: proto.String("RUNNING")}))
	assert.False(t, ic.InstanceIsRunning(&computepb.Instance{Status: proto.String("STAGING")}))
	assert.False(t, ic.InstanceIsRunning(&computepb.Instance{}))
}

func TestPlugin_Operations(t *testing.T) {
	api := new(mockInstancesAPI)
	getReq := &computepb.GetInstanceRequest{Project: "default-proj", Zone: "europe-west1-b", Instance: "db"}
	api.On("Get", mock.Anything, getReq).
		Return(&computepb.Instance{Status: proto.String("TERMINATED")}, nil).Once()
	api.On("Get", mock.Anything, getReq).
		Return(&computepb.Instance{Status: proto.String("RUNNING")}, nil).Once()

	registry := operations.NewRegistry()
	require.NoError(t, NewPlugin(NewInstanceClient(api), "default-proj").Register(registry))

	def, err := registry.Lookup(GetStateOp)
	require.NoError(t, err)
	assert.True(t, def.Resumable)

	inv := &operations.Invocation{
		NodeID:    "db",
		Operation: GetStateOp,
		Params:    map[string]interface{}{PropZone: "europe-west1-b"},
	}
	for _, want := range []bool{false, true} {
		up, err := def.Op.Run(context.Background(), inv)
		require.NoError(t, err)
		assert.Equal(t, want, up)
	}
	api.AssertExpectations(t)
}

func TestPlugin_MissingZone(t *testing.T) {
	registry := operations.NewRegistry()
	require.NoError(t, NewPlugin(NewInstanceClient(new(mockInstancesAPI)), "proj").Register(registry))

	def, err := registry.Lookup(StartOp)
	require.NoError(t, err)
	_, err = def.Op.Run(context.Background(), &operations.Invocation{NodeID: "web", Operation: StartOp})
	assert.Equal(t, "VALIDATION-001", engerrors.GetErrorCode(err))
	assert.False(t, engerrors.IsRetryableError(err))
}
