// Package graph implements the in-memory flow tree: Agent / Group / Branch
// nodes, their (de)serialization, and the navigation helpers the flow
// tracker uses to decide group and branch completion (spec §4.3).
//
// Nodes are modeled as a tagged variant with a shared Next pointer rather
// than through inheritance, per the teacher's and the spec's own design
// note: dispatch on the Kind field, not on concrete types.
package graph

import "github.com/nicolasances/gale-broker/internal/broker/ports"

// Kind discriminates the three node variants.
type Kind string

const (
	KindAgent  Kind = "agent"
	KindGroup  Kind = "group"
	KindBranch Kind = "branch"
)

// Entry is one branch inside a Branch node: {branchId, node}.
type Entry struct {
	BranchID ports.BranchID `json:"branchId"`
	Node     *Node          `json:"node"`
}

// Node is the tagged-variant tree node. Only the fields matching Kind are
// populated; Prev is a transient, non-serialized back-pointer rebuilt on
// load (spec §3.4, §9) used solely for ParentBranchID navigation.
type Node struct {
	Kind Kind `json:"kind"`

	// Agent fields.
	TaskKind       ports.TaskKind       `json:"taskKind,omitempty"`
	TaskInstanceID ports.TaskInstanceID `json:"taskInstanceId,omitempty"`
	Name           string               `json:"name,omitempty"`

	// Group fields.
	GroupID ports.GroupID `json:"groupId,omitempty"`
	Agents  []*Node       `json:"agents,omitempty"`

	// Branch fields.
	Branches []*Entry `json:"branches,omitempty"`

	Next *Node `json:"next,omitempty"`
	Prev *Node `json:"-"`
}

// NewAgentNode builds a leaf Agent node.
func NewAgentNode(taskKind ports.TaskKind, instanceID ports.TaskInstanceID, name string) *Node {
	return &Node{Kind: KindAgent, TaskKind: taskKind, TaskInstanceID: instanceID, Name: name}
}

// NewGroupNode builds a Group node whose children are all Agent nodes.
func NewGroupNode(groupID ports.GroupID, name string, agents []*Node) *Node {
	return &Node{Kind: KindGroup, GroupID: groupID, Name: name, Agents: agents}
}

// NewBranchNode builds a Branch node wrapping the given entries.
func NewBranchNode(entries []*Entry) *Node {
	return &Node{Kind: KindBranch, Branches: entries}
}
