package integration

import (
	"flag"
	"fmt"
	"os"
	"testing"

	"github.com/maxkimambo/taskgraph/integration_tests/internal/testutil"
)

var (
	keepWorkspace bool
)

func TestMain(m *testing.M) {
	flag.BoolVar(&keepWorkspace, "keep-workspace", false, "Keep test workspaces after test completion (for debugging)")
	flag.Parse()

	if _, err := os.Stat(testutil.GetBinaryPath()); err != nil {
		fmt.Println("taskgraph binary not found, skipping integration tests. Build it first with 'go build -o taskgraph main.go'")
		os.Exit(0)
	}

	code := m.Run()
	os.Exit(code)
}
