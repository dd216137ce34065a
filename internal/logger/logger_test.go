package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBuffers(t *testing.T, opts Options) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	t.Setenv("LOG_MODE", "")
	t.Setenv("LOG_FORMAT", "")

	var user, op bytes.Buffer
	opts.UserWriter = &user
	opts.OpWriter = &op
	SetupWithOptions(opts)
	t.Cleanup(func() { Setup(false, false, false) })
	return &user, &op
}

func TestSetup_RoutesUserAndOpLogs(t *testing.T) {
	user, op := setupBuffers(t, Options{})

	User.Successf("execution %s finished", "exec-1")
	Op.WithFields(map[string]interface{}{"task": "node1.start"}).Info("task succeeded")

	assert.Equal(t, "✅ execution exec-1 finished\n", user.String())
	assert.NotContains(t, user.String(), "task succeeded")

	assert.Contains(t, op.String(), "INFO: task succeeded task=node1.start")
	assert.NotContains(t, op.String(), "log_type")
}

func TestSetup_QuietSuppressesInfo(t *testing.T) {
	user, op := setupBuffers(t, Options{Quiet: true})

	User.Info("hidden")
	Op.Warn("hidden too")
	Op.Error("shown")

	assert.Empty(t, user.String())
	assert.Equal(t, "ERROR: shown\n", op.String())
}

func TestSetup_VerboseEnablesDebug(t *testing.T) {
	_, op := setupBuffers(t, Options{Verbose: true})

	Op.Debugf("dispatching %d tasks", 3)

	assert.Contains(t, op.String(), "dispatching 3 tasks")
	assert.Equal(t, logrus.DebugLevel, base().GetLevel())
}

func TestSetup_EnvOverridesFlags(t *testing.T) {
	var user, op bytes.Buffer
	t.Setenv("LOG_MODE", "quiet")
	t.Setenv("LOG_FORMAT", "")
	SetupWithOptions(Options{Verbose: true, UserWriter: &user, OpWriter: &op})
	t.Cleanup(func() { Setup(false, false, false) })

	Op.Info("nope")
	assert.Empty(t, op.String())
	assert.Equal(t, logrus.ErrorLevel, base().GetLevel())
}

func TestSetup_JSON(t *testing.T) {
	user, op := setupBuffers(t, Options{JSON: true})

	User.Eventf("node %s started", "web")
	Op.WithFields(map[string]interface{}{"execution": "exec-2"}).Warn("retrying")

	var userEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(user.Bytes(), &userEntry))
	assert.Equal(t, "📣 node web started", userEntry["msg"])

	var opEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(op.Bytes(), &opEntry))
	assert.Equal(t, "retrying", opEntry["msg"])
	assert.Equal(t, "exec-2", opEntry["execution"])
	assert.Equal(t, "op", opEntry["log_type"])
}

func TestUserLogger_EmojiHelpers(t *testing.T) {
	user, _ := setupBuffers(t, Options{})

	User.Startingf("running %s", "install")
	User.Resumingf("resuming %s", "exec-3")
	User.Cancellingf("cancelling %s", "exec-3")
	User.Retryingf("retry %d", 2)
	User.Errorf("failed %s", "x")

	lines := strings.Split(strings.TrimSpace(user.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "🚀 running install", lines[0])
	assert.Equal(t, "🔁 resuming exec-3", lines[1])
	assert.Equal(t, "🛑 cancelling exec-3", lines[2])
	assert.Equal(t, "⏳ retry 2", lines[3])
	assert.Equal(t, "❌ failed x", lines[4])
}

func TestCLIFormatter_SortsFields(t *testing.T) {
	f := &CLIFormatter{DisableTimestamp: true, DisableColors: true}
	entry := logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{"b": 2, "a": 1, "log_type": "op"})
	entry.Message = "msg"
	entry.Level = logrus.InfoLevel

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "INFO: msg a=1 b=2\n", string(out))
}
