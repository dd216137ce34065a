package testutil

import (
	"os"
	"path/filepath"
)

// GetBinaryPath returns the path to the taskgraph binary for integration tests.
// TASKGRAPH_BINARY wins; otherwise it checks ./taskgraph, ../taskgraph and
// ../bin/taskgraph in that order.
func GetBinaryPath() string {
	if p := os.Getenv("TASKGRAPH_BINARY"); p != "" {
		return p
	}

	candidates := []string{"taskgraph", filepath.Join("..", "taskgraph"), filepath.Join("..", "bin", "taskgraph")}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			abs, err := filepath.Abs(c)
			if err != nil {
				return c
			}
			return abs
		}
	}

	// Default to current directory (will fail if binary doesn't exist)
	return "./taskgraph"
}
