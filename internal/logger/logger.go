package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	User *UserLogger // Clean messages for users (stdout) with emojis
	Op   *OpLogger   // Detailed operational logs (stderr) without emojis
)

// init ensures loggers are never nil
func init() {
	User = &UserLogger{logger: base()}
	Op = &OpLogger{logger: base()}
}

type UserLogger struct {
	logger *logrus.Logger
}

type OpLogger struct {
	logger *logrus.Logger
}

func (u *UserLogger) with(emoji string) *logrus.Entry {
	fields := logrus.Fields{"log_type": string(UserLog)}
	if emoji != "" {
		fields["emoji"] = emoji
	}
	return u.logger.WithFields(fields)
}

func (u *UserLogger) Info(msg string) {
	u.with("").Info(msg)
}

func (u *UserLogger) Infof(format string, args ...interface{}) {
	u.with("").Infof(format, args...)
}

func (u *UserLogger) Error(msg string) {
	u.with("❌").Error(msg)
}

func (u *UserLogger) Errorf(format string, args ...interface{}) {
	u.with("❌").Errorf(format, args...)
}

func (u *UserLogger) Warn(msg string) {
	u.with("⚠️").Warn(msg)
}

func (u *UserLogger) Warnf(format string, args ...interface{}) {
	u.with("⚠️").Warnf(format, args...)
}

// Execution lifecycle messages

func (u *UserLogger) Starting(msg string) {
	u.with("🚀").Info(msg)
}

func (u *UserLogger) Startingf(format string, args ...interface{}) {
	u.with("🚀").Infof(format, args...)
}

func (u *UserLogger) Success(msg string) {
	u.with("✅").Info(msg)
}

func (u *UserLogger) Successf(format string, args ...interface{}) {
	u.with("✅").Infof(format, args...)
}

func (u *UserLogger) Resumingf(format string, args ...interface{}) {
	u.with("🔁").Infof(format, args...)
}

func (u *UserLogger) Cancellingf(format string, args ...interface{}) {
	u.with("🛑").Infof(format, args...)
}

func (u *UserLogger) Retryingf(format string, args ...interface{}) {
	u.with("⏳").Warnf(format, args...)
}

// Eventf is used by event tasks; workflows emit these as progress markers
func (u *UserLogger) Eventf(format string, args ...interface{}) {
	u.with("📣").Infof(format, args...)
}

// OpLogger methods without emojis - clean operational logs
func (o *OpLogger) entry() *logrus.Entry {
	return o.logger.WithField("log_type", string(OpLog))
}

func (o *OpLogger) Info(msg string) {
	o.entry().Info(msg)
}

func (o *OpLogger) Infof(format string, args ...interface{}) {
	o.entry().Infof(format, args...)
}

func (o *OpLogger) Error(msg string) {
	o.entry().Error(msg)
}

func (o *OpLogger) Errorf(format string, args ...interface{}) {
	o.entry().Errorf(format, args...)
}

func (o *OpLogger) Warn(msg string) {
	o.entry().Warn(msg)
}

func (o *OpLogger) Warnf(format string, args ...interface{}) {
	o.entry().Warnf(format, args...)
}

func (o *OpLogger) Debug(msg string) {
	o.entry().Debug(msg)
}

func (o *OpLogger) Debugf(format string, args ...interface{}) {
	o.entry().Debugf(format, args...)
}

func (o *OpLogger) WithFields(fields map[string]interface{}) *logrus.Entry {
	f := make(logrus.Fields, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["log_type"] = string(OpLog)
	return o.logger.WithFields(f)
}

// CLIFormatter provides clean output for CLI applications
type CLIFormatter struct {
	DisableTimestamp bool
	DisableLevel     bool
	DisableColors    bool
}

func (f *CLIFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	// Simple clean format: just the message for user-facing logs
	if f.DisableLevel && f.DisableTimestamp {
		b.WriteString(entry.Message)
		b.WriteByte('\n')
		return b.Bytes(), nil
	}

	if !f.DisableTimestamp {
		b.WriteString(entry.Time.Format("15:04:05.000"))
		b.WriteByte(' ')
	}

	if !f.DisableLevel {
		levelColor := ""
		resetColor := ""
		if !f.DisableColors {
			switch entry.Level {
			case logrus.ErrorLevel:
				levelColor = "\033[31m" // Red
			case logrus.WarnLevel:
				levelColor = "\033[33m" // Yellow
			case logrus.InfoLevel:
				levelColor = "\033[36m" // Cyan
			case logrus.DebugLevel:
				levelColor = "\033[37m" // White
			}
			resetColor = "\033[0m"
		}

		b.WriteString(levelColor)
		b.WriteString(strings.ToUpper(entry.Level.String()))
		b.WriteString(resetColor)
		b.WriteString(": ")
	}

	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == "log_type" || k == "emoji" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(" %s=%v", k, entry.Data[k]))
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

// Options controls Setup. Zero writers default to stdout and stderr.
type Options struct {
	Verbose    bool
	JSON       bool
	Quiet      bool
	UserWriter io.Writer
	OpWriter   io.Writer
}

// Setup configures log level and output routing from CLI flags.
// LOG_MODE and LOG_FORMAT override the flags.
func Setup(verbose bool, jsonLogs bool, quiet bool) {
	SetupWithOptions(Options{Verbose: verbose, JSON: jsonLogs, Quiet: quiet})
}

func SetupWithOptions(opts Options) {
	switch os.Getenv("LOG_MODE") {
	case "quiet":
		opts.Quiet = true
		opts.Verbose = false
	case "verbose", "debug":
		opts.Verbose = true
		opts.Quiet = false
	}

	switch os.Getenv("LOG_FORMAT") {
	case "json":
		opts.JSON = true
	case "text":
		opts.JSON = false
	}

	internalLogger := base()

	var level logrus.Level
	switch {
	case opts.Quiet:
		level = logrus.ErrorLevel
	case opts.Verbose:
		level = logrus.DebugLevel
	default:
		level = logrus.InfoLevel
	}

	hook := NewOutputRouterHook()
	if opts.UserWriter != nil {
		hook.UserWriter = opts.UserWriter
	}
	if opts.OpWriter != nil {
		hook.OpWriter = opts.OpWriter
	}

	if opts.JSON {
		hook.UserFormatter = &logrus.JSONFormatter{}
		hook.OpFormatter = &logrus.JSONFormatter{}
	} else {
		opColors := opts.OpWriter == nil && isatty.IsTerminal(os.Stderr.Fd())
		hook.UserFormatter = &CLIFormatter{
			DisableTimestamp: true,
			DisableLevel:     true,
		}
		if opts.Verbose {
			hook.OpFormatter = &logrus.TextFormatter{
				FullTimestamp: true,
				ForceColors:   opColors,
				DisableColors: !opColors,
			}
		} else {
			hook.OpFormatter = &CLIFormatter{
				DisableTimestamp: true,
				DisableColors:    !opColors,
			}
		}
	}

	// Output handled by the hook
	internalLogger.ReplaceHooks(make(logrus.LevelHooks))
	internalLogger.SetOutput(io.Discard)
	internalLogger.SetLevel(level)
	internalLogger.AddHook(hook)

	User = &UserLogger{logger: internalLogger}
	Op = &OpLogger{logger: internalLogger}
}
