package gcp

import (
	"context"
	"fmt"
	"time"

	compute "cloud.google.com/go/compute/apiv1"
	"google.golang.org/api/option"

	"github.com/maxkimambo/taskgraph/internal/logger"
)

const defaultOpTimeout = 10 * time.Minute

// ClientOptions configures the Compute Engine API connection
type ClientOptions struct {
	Endpoint        string
	CredentialsFile string
}

func (o ClientOptions) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if o.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.Endpoint))
	}
	if o.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
	}
	return opts
}

// NewClient dials the Compute Engine instances REST API
func NewClient(ctx context.Context, opts ClientOptions) (*InstanceClient, error) {
	logger.Op.Debug("Initializing GCP Compute API client...")

	gceClient, err := compute.NewInstancesRESTClient(ctx, opts.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create compute Instances (GCE) client: %w", err)
	}
	logger.Op.Debug("GCE client initialized.")

	return NewInstanceClient(&restInstances{client: gceClient}), nil
}
