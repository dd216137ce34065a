package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogType selects the stream an entry is routed to
type LogType string

const (
	UserLog LogType = "user"
	OpLog   LogType = "op"
)

var (
	baseOnce sync.Once
	baseLog  *logrus.Logger
)

// base returns the logrus instance shared by User and Op. Setup replaces its
// hooks and level; the instance itself never changes.
func base() *logrus.Logger {
	baseOnce.Do(func() {
		baseLog = logrus.New()
		baseLog.SetOutput(os.Stdout)
		baseLog.SetLevel(logrus.InfoLevel)
		baseLog.SetFormatter(&CLIFormatter{
			DisableTimestamp: true,
			DisableLevel:     true,
		})
	})
	return baseLog
}
