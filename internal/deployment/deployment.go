// Package deployment holds the node and relationship model that workflow
// builders turn into task graphs.
package deployment

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	engerrors "github.com/maxkimambo/taskgraph/internal/errors"
)

// HostType marks a node as a compute host in its type hierarchy
const HostType = "taskgraph.nodes.Host"

// OperationSpec maps an interface operation to a registered implementation
type OperationSpec struct {
	Implementation string                 `yaml:"implementation" json:"implementation"`
	Inputs         map[string]interface{} `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	// Resumable overrides the metadata the implementation was registered with
	Resumable     *bool         `yaml:"resumable,omitempty" json:"resumable,omitempty"`
	MaxRetries    *int          `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryInterval time.Duration `yaml:"retry_interval,omitempty" json:"retry_interval,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// UnmarshalYAML accepts either a mapping or a bare implementation name
func (o *OperationSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		o.Implementation = value.Value
		return nil
	}
	type plain OperationSpec
	return value.Decode((*plain)(o))
}

// Relationship connects a node to a target node
type Relationship struct {
	Type             string                   `yaml:"type" json:"type"`
	Target           string                   `yaml:"target" json:"target"`
	SourceOperations map[string]OperationSpec `yaml:"source_operations,omitempty" json:"source_operations,omitempty"`
	TargetOperations map[string]OperationSpec `yaml:"target_operations,omitempty" json:"target_operations,omitempty"`
}

// Node is one managed resource of a deployment
type Node struct {
	ID            string                   `yaml:"id" json:"id"`
	Type          string                   `yaml:"type" json:"type"`
	TypeHierarchy []string                 `yaml:"type_hierarchy,omitempty" json:"type_hierarchy,omitempty"`
	Properties    map[string]interface{}   `yaml:"properties,omitempty" json:"properties,omitempty"`
	Operations    map[string]OperationSpec `yaml:"operations,omitempty" json:"operations,omitempty"`
	Relationships []Relationship           `yaml:"relationships,omitempty" json:"relationships,omitempty"`
}

// IsHost reports whether the node is a compute host
func (n *Node) IsHost() bool {
	if n.Type == HostType {
		return true
	}
	for _, t := range n.TypeHierarchy {
		if t == HostType {
			return true
		}
	}
	return false
}

// Operation returns the mapping for an interface operation
func (n *Node) Operation(name string) (OperationSpec, bool) {
	op, ok := n.Operations[name]
	return op, ok && op.Implementation != ""
}

// Targets returns the IDs of the relationship targets, without duplicates
func (n *Node) Targets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rel := range n.Relationships {
		if !seen[rel.Target] {
			seen[rel.Target] = true
			out = append(out, rel.Target)
		}
	}
	sort.Strings(out)
	return out
}

// Deployment is a named set of nodes
type Deployment struct {
	ID    string  `yaml:"id" json:"id"`
	Nodes []*Node `yaml:"nodes" json:"nodes"`
}

// Parse decodes and validates a deployment document
func Parse(data []byte) (*Deployment, error) {
	var d Deployment
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, engerrors.NewConfigurationError(engerrors.CodeConfigLoad,
			fmt.Sprintf("Failed to parse deployment: %v", err), "Deployment load").
			WithOriginalError(err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks node IDs and relationship targets
func (d *Deployment) Validate() error {
	if d.ID == "" {
		return engerrors.NewValidationFailedError("deployment.id", "", "Deployment load")
	}
	ids := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return engerrors.NewValidationFailedError("node.id", "", "Deployment load")
		}
		if ids[n.ID] {
			return engerrors.NewValidationFailedError("node.id", n.ID, "Deployment load").
				WithContext("reason", "duplicate node")
		}
		ids[n.ID] = true
	}
	for _, n := range d.Nodes {
		for _, rel := range n.Relationships {
			if !ids[rel.Target] || rel.Target == n.ID {
				return engerrors.NewValidationFailedError("relationship.target", rel.Target, "Deployment load").
					WithContext("node", n.ID)
			}
		}
	}
	return nil
}

// Node returns the node with the given ID, or nil
func (d *Deployment) Node(id string) *Node {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// SortedNodes returns the nodes ordered by ID
func (d *Deployment) SortedNodes() []*Node {
	nodes := append([]*Node(nil), d.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Sources returns the IDs of nodes with a relationship to target
func (d *Deployment) Sources(target string) []string {
	var out []string
	for _, n := range d.SortedNodes() {
		for _, t := range n.Targets() {
			if t == target {
				out = append(out, n.ID)
				break
			}
		}
	}
	return out
}
