package dag

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// GraphVisualization renders a task graph for inspection
type GraphVisualization struct {
	graph *Graph
}

// NewGraphVisualization creates a new visualization helper
func NewGraphVisualization(graph *Graph) *GraphVisualization {
	return &GraphVisualization{graph: graph}
}

// TaskInfo contains information about a task for visualization
type TaskInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Kind       TaskKind   `json:"kind"`
	Node       string     `json:"node,omitempty"`
	Status     TaskStatus `json:"status"`
	Resumable  bool       `json:"resumable"`
	RetryCount int        `json:"retryCount"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	Duration   string     `json:"duration,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// EdgeInfo is a dependency edge: From waits for To
type EdgeInfo struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphInfo contains the full graph structure for visualization
type GraphInfo struct {
	Tasks []TaskInfo `json:"tasks"`
	Edges []EdgeInfo `json:"edges"`
	Stats GraphStats `json:"stats"`
}

// GraphStats contains counts per task status
type GraphStats struct {
	TotalTasks     int        `json:"totalTasks"`
	SucceededTasks int        `json:"succeededTasks"`
	FailedTasks    int        `json:"failedTasks"`
	RunningTasks   int        `json:"runningTasks"`
	PendingTasks   int        `json:"pendingTasks"`
	TotalDuration  string     `json:"totalDuration,omitempty"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
}

// GenerateGraphInfo creates a representation of the graph for visualization
func (v *GraphVisualization) GenerateGraphInfo() *GraphInfo {
	tasks := v.graph.Tasks()

	info := &GraphInfo{
		Tasks: make([]TaskInfo, 0, len(tasks)),
		Edges: []EdgeInfo{},
		Stats: GraphStats{TotalTasks: len(tasks)},
	}

	var earliestStart, latestEnd *time.Time

	for _, t := range tasks {
		snap := t.Snapshot()

		duration := ""
		if snap.StartTime != nil && snap.EndTime != nil {
			duration = snap.EndTime.Sub(*snap.StartTime).String()
		} else if snap.StartTime != nil && snap.Status.InFlight() {
			duration = time.Since(*snap.StartTime).Round(time.Millisecond).String() + " (running)"
		}

		if snap.StartTime != nil && (earliestStart == nil || snap.StartTime.Before(*earliestStart)) {
			earliestStart = snap.StartTime
		}
		if snap.EndTime != nil && (latestEnd == nil || snap.EndTime.After(*latestEnd)) {
			latestEnd = snap.EndTime
		}

		switch snap.Status {
		case TaskSucceeded:
			info.Stats.SucceededTasks++
		case TaskFailed:
			info.Stats.FailedTasks++
		case TaskSent, TaskStarted:
			info.Stats.RunningTasks++
		default:
			info.Stats.PendingTasks++
		}

		info.Tasks = append(info.Tasks, TaskInfo{
			ID:         t.ID(),
			Name:       t.Name(),
			Kind:       t.Kind(),
			Node:       t.NodeID(),
			Status:     snap.Status,
			Resumable:  t.IsResumable(),
			RetryCount: snap.RetryCount,
			StartTime:  snap.StartTime,
			EndTime:    snap.EndTime,
			Duration:   duration,
			Error:      snap.Error,
		})

		deps, err := v.graph.GetDependencies(t.ID())
		if err != nil {
			continue
		}
		for _, dep := range deps {
			info.Edges = append(info.Edges, EdgeInfo{From: t.ID(), To: dep})
		}
	}

	info.Stats.StartTime = earliestStart
	info.Stats.EndTime = latestEnd
	if earliestStart != nil && latestEnd != nil {
		info.Stats.TotalDuration = latestEnd.Sub(*earliestStart).String()
	}

	return info
}

// ToJSON renders the graph info as indented JSON
func (v *GraphVisualization) ToJSON() ([]byte, error) {
	return json.MarshalIndent(v.GenerateGraphInfo(), "", "  ")
}

// ExportToJSON exports the graph visualization to a JSON file
func (v *GraphVisualization) ExportToJSON(filename string) error {
	data, err := v.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// GenerateDOTGraph creates a DOT format graph for Graphviz. Barriers are drawn as points.
func (v *GraphVisualization) GenerateDOTGraph() string {
	info := v.GenerateGraphInfo()

	var sb strings.Builder
	sb.WriteString("digraph TaskGraph {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=filled];\n\n")

	for _, t := range info.Tasks {
		color := "lightgrey"
		switch t.Status {
		case TaskSent, TaskStarted:
			color = "lightblue"
		case TaskSucceeded:
			color = "lightgreen"
		case TaskFailed:
			color = "salmon"
		}

		if t.Kind == KindBarrier {
			sb.WriteString(fmt.Sprintf("  %q [shape=point, fillcolor=%q];\n", t.ID, color))
			continue
		}

		label := fmt.Sprintf("%s\\n%s", t.Name, t.Kind)
		if !t.Resumable {
			label += "\\nnon-resumable"
		}
		if t.Error != "" {
			errorMsg := t.Error
			if len(errorMsg) > 50 {
				errorMsg = errorMsg[:47] + "..."
			}
			label += fmt.Sprintf("\\nError: %s", strings.ReplaceAll(errorMsg, `"`, `'`))
		}
		sb.WriteString(fmt.Sprintf("  %q [label=\"%s\", fillcolor=%q];\n", t.ID, label, color))
	}

	sb.WriteString("\n")

	// Arrows point in execution order: prerequisite -> dependent
	for _, edge := range info.Edges {
		sb.WriteString(fmt.Sprintf("  %q -> %q;\n", edge.To, edge.From))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// ExportToDOT exports the graph to a DOT file
func (v *GraphVisualization) ExportToDOT(filename string) error {
	return os.WriteFile(filename, []byte(v.GenerateDOTGraph()), 0644)
}
