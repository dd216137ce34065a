package progress

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TaskKind groups tasks in the breakdown; values mirror dag.TaskKind
type TaskKind string

// ProgressInfo contains detailed progress information for one execution
type ProgressInfo struct {
	ExecutionID       string
	Status            string
	TotalTasks        int
	CompletedTasks    int
	FailedTasks       int
	RunningTasks      int
	ElapsedTime       time.Duration
	EstimatedTimeLeft time.Duration
	TaskBreakdown     map[TaskKind]TaskStats
	NodeStats         map[string]NodeProgress
}

// TaskStats provides statistics for each task kind
type TaskStats struct {
	Total        int
	Completed    int
	Failed       int
	Running      int
	Pending      int
	RunningTasks []string // IDs of tasks currently sent or started
}

// NodeProgress tracks progress per deployment node
type NodeProgress struct {
	NodeID    string
	Completed int
	Total     int
	Failed    int
	Current   string
}

// Reporter handles progress reporting
type Reporter struct {
	startTime      time.Time
	lastReportTime time.Time
	reportInterval time.Duration
}

// NewReporter creates a new progress reporter
func NewReporter(interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reporter{
		startTime:      time.Now(),
		lastReportTime: time.Now(),
		reportInterval: interval,
	}
}

// Interval returns how often progress should be reported
func (r *Reporter) Interval() time.Duration {
	return r.reportInterval
}

// ShouldReport returns true if it's time to report progress
func (r *Reporter) ShouldReport() bool {
	return time.Since(r.lastReportTime) >= r.reportInterval
}

// Report generates a formatted progress report
func (r *Reporter) Report(info ProgressInfo) string {
	r.lastReportTime = time.Now()

	var sb strings.Builder

	percentage := 0.0
	if info.TotalTasks > 0 {
		percentage = float64(info.CompletedTasks) / float64(info.TotalTasks) * 100
	}

	sb.WriteString(fmt.Sprintf("Progress: %d/%d tasks completed (%.1f%%)",
		info.CompletedTasks, info.TotalTasks, percentage))

	if info.ExecutionID != "" {
		sb.WriteString(fmt.Sprintf(" | Execution: %s", info.ExecutionID))
	}
	if info.Status != "" {
		sb.WriteString(fmt.Sprintf(" | Status: %s", info.Status))
	}

	sb.WriteString(fmt.Sprintf(" | Elapsed: %s", FormatDuration(info.ElapsedTime)))
	if info.EstimatedTimeLeft > 0 {
		sb.WriteString(fmt.Sprintf(" | ETA: %s", FormatDuration(info.EstimatedTimeLeft)))
	}

	if len(info.TaskBreakdown) > 0 {
		kinds := make([]string, 0, len(info.TaskBreakdown))
		for kind := range info.TaskBreakdown {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)

		sb.WriteString("\n   Task Status:")
		for _, kind := range kinds {
			stats := info.TaskBreakdown[TaskKind(kind)]
			if stats.Total == 0 {
				continue
			}
			sb.WriteString(fmt.Sprintf("\n      %s: %d/%d completed", kind, stats.Completed, stats.Total))
			if stats.Failed > 0 {
				sb.WriteString(fmt.Sprintf(", %d failed", stats.Failed))
			}
			if stats.Running > 0 {
				sb.WriteString(fmt.Sprintf(", %d running", stats.Running))
				if len(stats.RunningTasks) > 0 {
					running := append([]string(nil), stats.RunningTasks...)
					sort.Strings(running)
					sb.WriteString(fmt.Sprintf(" (%s)", strings.Join(running, ", ")))
				}
			}
			if stats.Pending > 0 {
				sb.WriteString(fmt.Sprintf(", %d pending", stats.Pending))
			}
		}
	}

	if len(info.NodeStats) > 0 {
		nodes := make([]string, 0, len(info.NodeStats))
		for node := range info.NodeStats {
			nodes = append(nodes, node)
		}
		sort.Strings(nodes)

		sb.WriteString("\n   Node Status:")
		for _, node := range nodes {
			np := info.NodeStats[node]
			sb.WriteString(fmt.Sprintf("\n      %s: %d/%d", np.NodeID, np.Completed, np.Total))
			if np.Failed > 0 {
				sb.WriteString(fmt.Sprintf(", %d failed", np.Failed))
			}
			if np.Current != "" {
				sb.WriteString(fmt.Sprintf(" - %s", np.Current))
			}
		}
	}

	return sb.String()
}

// CalculateETA estimates time remaining based on current progress
func CalculateETA(completed, total int, elapsed time.Duration) time.Duration {
	if completed <= 0 || total <= 0 || completed >= total {
		return 0
	}

	averageTimePerTask := elapsed / time.Duration(completed)
	remainingTasks := total - completed
	return averageTimePerTask * time.Duration(remainingTasks)
}

// FormatDuration formats a duration in a user-friendly way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
