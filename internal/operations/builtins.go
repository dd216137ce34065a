package operations

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/maxkimambo/taskgraph/internal/logger"
)

// Built-in operation names
const (
	Noop           = "builtin.noop"
	Log            = "builtin.log"
	Sleep          = "builtin.sleep"
	Mark           = "builtin.mark"
	WaitForFile    = "builtin.wait_for_file"
	FailUnlessFile = "builtin.fail_unless_file"
	GetState       = "builtin.get_state"
)

const defaultPollInterval = 100 * time.Millisecond

// RegisterBuiltins adds the built-in operations to r
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		name      string
		op        Func
		resumable bool
	}{
		{Noop, noop, true},
		{Log, logMessage, true},
		{Sleep, sleep, true},
		{Mark, mark, true},
		{WaitForFile, waitForFile, true},
		{FailUnlessFile, failUnlessFile, true},
		{GetState, getState, true},
	}
	for _, b := range builtins {
		if err := r.Register(b.name, b.op, b.resumable); err != nil {
			return err
		}
	}
	return nil
}

func noop(context.Context, *Invocation) (interface{}, error) {
	return nil, nil
}

func logMessage(_ context.Context, inv *Invocation) (interface{}, error) {
	msg := inv.String("message")
	if msg == "" {
		msg = fmt.Sprintf("%s on %s", inv.Operation, inv.NodeID)
	}
	logger.User.Info(msg)
	return msg, nil
}

func sleep(ctx context.Context, inv *Invocation) (interface{}, error) {
	d, err := inv.Duration("duration", time.Second)
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(d):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func mark(ctx context.Context, inv *Invocation) (interface{}, error) {
	return true, inv.UpdateRuntime(ctx, func(props map[string]interface{}) error {
		props["marked"] = true
		return nil
	})
}

// completeFileWait records one finished invocation on the instance
func completeFileWait(ctx context.Context, inv *Invocation) (interface{}, error) {
	var count int
	err := inv.UpdateRuntime(ctx, func(props map[string]interface{}) error {
		switch v := props["completed_invocations"].(type) {
		case float64:
			count = int(v)
		case int:
			count = v
		}
		count++
		props["resumed"] = true
		props["completed_invocations"] = count
		return nil
	})
	return count, err
}

func waitForFile(ctx context.Context, inv *Invocation) (interface{}, error) {
	target := inv.String("target_file")
	if target == "" {
		return nil, fmt.Errorf("%s requires target_file", WaitForFile)
	}
	interval, err := inv.Duration("poll_interval", defaultPollInterval)
	if err != nil {
		return nil, err
	}

	if err := inv.UpdateRuntime(ctx, func(props map[string]interface{}) error {
		props["resumed"] = false
		return nil
	}); err != nil {
		return nil, err
	}
	if msg := inv.String("wait_message"); msg != "" {
		logger.User.Eventf("%s", msg)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(target); err == nil {
			return completeFileWait(ctx, inv)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func failUnlessFile(ctx context.Context, inv *Invocation) (interface{}, error) {
	target := inv.String("target_file")
	if target == "" {
		return nil, fmt.Errorf("%s requires target_file", FailUnlessFile)
	}
	if _, err := os.Stat(target); err != nil {
		return nil, fmt.Errorf("target file %s does not exist yet", target)
	}
	return completeFileWait(ctx, inv)
}

// getState reports whether the host is up. Instances without a recorded
// host_state count as started.
func getState(ctx context.Context, inv *Invocation) (interface{}, error) {
	state := inv.String("host_state")
	if state == "" {
		props, err := inv.RuntimeProperties(ctx)
		if err != nil {
			return nil, err
		}
		if s, ok := props["host_state"].(string); ok {
			state = s
		}
	}
	return state == "" || state == "started", nil
}
