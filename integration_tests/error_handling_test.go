package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxkimambo/taskgraph/integration_tests/internal/testutil"
)

func TestErrorHandling(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ws := testutil.SetupTestWorkspace(t, keepWorkspace)
	ws.WriteDeployment(t, "simple", simpleDeployment)

	tests := []struct {
		name          string
		args          []string
		expectedError string
	}{
		{
			name:          "unknown_workflow",
			args:          []string{"run", "heal", "-d", "simple"},
			expectedError: "EXECUTION-003",
		},
		{
			name:          "missing_deployment_flag",
			args:          []string{"run", "install"},
			expectedError: `required flag(s) "deployment" not set`,
		},
		{
			name:          "unknown_deployment",
			args:          []string{"run", "install", "-d", "nowhere"},
			expectedError: "VALIDATION-",
		},
		{
			name:          "missing_operation_parameter",
			args:          []string{"run", "execute_operation", "-d", "simple"},
			expectedError: "operation",
		},
		{
			name:          "cancel_unknown_execution",
			args:          []string{"cancel", "does-not-exist"},
			expectedError: "EXECUTION-001",
		},
		{
			name:          "status_unknown_execution",
			args:          []string{"status", "does-not-exist"},
			expectedError: "EXECUTION-001",
		},
		{
			name:          "postgres_without_dsn",
			args:          []string{"list", "--store", "postgres"},
			expectedError: "VALIDATION-002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			output, err := ws.Run(ctx, tt.args...)
			require.Error(t, err, "expected command to fail, output:\n%s", output)
			assert.Contains(t, output, tt.expectedError)
		})
	}
}
