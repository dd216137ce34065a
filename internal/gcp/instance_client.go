package gcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"github.com/googleapis/gax-go/v2"

	"github.com/maxkimambo/taskgraph/internal/logger"
	"github.com/maxkimambo/taskgraph/internal/utils"
)

// InstanceClient wraps the GCP instances API with the host operations used by the plugin
type InstanceClient struct {
	api InstancesAPI
}

// NewInstanceClient creates a new InstanceClient over api
func NewInstanceClient(api InstancesAPI) *InstanceClient {
	return &InstanceClient{api: api}
}

// readRetry retries reads on throttling and transient server errors
func readRetry() gax.CallOption {
	return gax.WithRetry(func() gax.Retryer {
		return gax.OnHTTPCodes(gax.Backoff{
			Initial:    500 * time.Millisecond,
			Max:        10 * time.Second,
			Multiplier: 2,
		}, http.StatusTooManyRequests, http.StatusServiceUnavailable)
	})
}

// GetInstance fetches one instance
func (ic *InstanceClient) GetInstance(ctx context.Context, projectID, zone, instanceName string) (*computepb.Instance, error) {
	req := &computepb.GetInstanceRequest{
		Project:  projectID,
		Zone:     utils.ExtractZoneName(zone),
		Instance: instanceName,
	}
	instance, err := ic.api.Get(ctx, req, readRetry())
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s in zone %s: %w", instanceName, zone, err)
	}
	return instance, nil
}

// InstanceIsRunning reports whether the instance status is RUNNING
func (ic *InstanceClient) InstanceIsRunning(instance *computepb.Instance) bool {
	return instance.GetStatus() == computepb.Instance_RUNNING.String()
}

func (ic *InstanceClient) StartInstance(ctx context.Context, projectID, zone, instanceName string) error {
	logFields := map[string]interface{}{
		"project":  projectID,
		"zone":     zone,
		"instance": instanceName,
	}
	logger.Op.WithFields(logFields).Info("Starting instance")

	req := &computepb.StartInstanceRequest{
		Project:  projectID,
		Zone:     utils.ExtractZoneName(zone),
		Instance: instanceName,
	}

	op, err := ic.api.Start(ctx, req)
	if err != nil {
		logger.Op.WithFields(logFields).WithError(err).Error("Failed to start instance")
		return fmt.Errorf("failed to start instance %s in zone %s: %w", instanceName, zone, err)
	}
	return ic.wait(ctx, op, logFields, "start")
}

func (ic *InstanceClient) StopInstance(ctx context.Context, projectID, zone, instanceName string) error {
	logFields := map[string]interface{}{
		"project":  projectID,
		"zone":     zone,
		"instance": instanceName,
	}
	logger.Op.WithFields(logFields).Info("Stopping instance")

	req := &computepb.StopInstanceRequest{
		Project:  projectID,
		Zone:     utils.ExtractZoneName(zone),
		Instance: instanceName,
	}

	op, err := ic.api.Stop(ctx, req)
	if err != nil {
		logger.Op.WithFields(logFields).WithError(err).Error("Failed to initiate instance stop operation")
		return fmt.Errorf("failed to stop instance %s in zone %s: %w", instanceName, zone, err)
	}
	return ic.wait(ctx, op, logFields, "stop")
}

func (ic *InstanceClient) wait(ctx context.Context, op ZoneOperation, logFields map[string]interface{}, verb string) error {
	logger.Op.WithFields(logFields).Debugf("Waiting for instance %s operation %s to complete...", verb, op.Name())
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	if err := op.Wait(opCtx); err != nil {
		logger.Op.WithFields(logFields).WithError(err).Errorf("Waiting for instance %s operation %s failed", verb, op.Name())
		return fmt.Errorf("waiting for instance %s %s operation failed: %w", logFields["instance"], verb, err)
	}
	logger.Op.WithFields(logFields).Infof("Instance %s completed.", verb)
	return nil
}

// Close releases the underlying API connection
func (ic *InstanceClient) Close() error {
	return ic.api.Close()
}
