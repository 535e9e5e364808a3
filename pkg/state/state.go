// Package state defines the persisted deployment model: serialized resource
// nodes, per-stack deployment state, and audit entries. It is the ground
// truth for crash recovery; everything here must round-trip through JSON.
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/creact-labs/creact-sub004/pkg/props"
)

// Resource and stack statuses.
const (
	StatusPending  = "pending"
	StatusApplying = "applying"
	StatusDeployed = "deployed"
	StatusFailed   = "failed"
)

// Audit actions.
const (
	ActionDeployStart       = "deploy_start"
	ActionDeployComplete    = "deploy_complete"
	ActionDeployFailed      = "deploy_failed"
	ActionResourceApplied   = "resource_applied"
	ActionResourceDestroyed = "resource_destroyed"
)

// SerializedNode is the persisted form of a resource instance.
type SerializedNode struct {
	ID            string         `json:"id"`
	Path          []string       `json:"path"`
	ConstructType string         `json:"constructType"`
	Props         props.Map      `json:"props,omitempty"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	State         string         `json:"state,omitempty"`
	Store         map[string]any `json:"store,omitempty"`
}

// DeploymentState is the persisted per-stack record.
type DeploymentState struct {
	StackName      string           `json:"stackName"`
	Status         string           `json:"status"`
	Nodes          []SerializedNode `json:"nodes"`
	ApplyingNodeID string           `json:"applyingNodeId,omitempty"`
	LastDeployedAt time.Time        `json:"lastDeployedAt"`
	User           string           `json:"user,omitempty"`
}

// AuditEntry records one deployment action.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	NodeID    string    `json:"nodeId,omitempty"`
	Details   string    `json:"details,omitempty"`
	User      string    `json:"user,omitempty"`
}

// Node looks a serialized node up by id.
func (s *DeploymentState) Node(id string) (*SerializedNode, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// CompletedNodes returns the nodes that finished deploying before a crash:
// those with non-empty outputs. Nodes caught mid-apply lack outputs and are
// reclassified as creates by the next reconciliation.
func (s *DeploymentState) CompletedNodes() []SerializedNode {
	out := make([]SerializedNode, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if len(n.Outputs) > 0 {
			out = append(out, n)
		}
	}
	return out
}

// CorruptionError reports a structurally impossible persisted value.
type CorruptionError struct {
	Field  string
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt state: %s: %s", e.Field, e.Detail)
}

// MarshalState serializes a deployment state after validating it.
func MarshalState(s *DeploymentState) ([]byte, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalState parses and validates persisted bytes.
func UnmarshalState(data []byte) (*DeploymentState, error) {
	var s DeploymentState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode deployment state: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structural invariants of a deployment state.
func Validate(s *DeploymentState) error {
	if s.StackName == "" {
		return &CorruptionError{Field: "stackName", Detail: "empty"}
	}
	switch s.Status {
	case StatusPending, StatusApplying, StatusDeployed, StatusFailed:
	default:
		return &CorruptionError{Field: "status", Detail: fmt.Sprintf("unknown value %q", s.Status)}
	}
	seen := make(map[string]bool, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.ID == "" {
			return &CorruptionError{Field: fmt.Sprintf("nodes[%d].id", i), Detail: "empty"}
		}
		if seen[n.ID] {
			return &CorruptionError{Field: fmt.Sprintf("nodes[%d].id", i), Detail: "duplicate id " + n.ID}
		}
		seen[n.ID] = true
		if len(n.Path) == 0 {
			return &CorruptionError{Field: fmt.Sprintf("nodes[%d].path", i), Detail: "empty"}
		}
		if n.ConstructType == "" {
			return &CorruptionError{Field: fmt.Sprintf("nodes[%d].constructType", i), Detail: "empty"}
		}
	}
	return nil
}
