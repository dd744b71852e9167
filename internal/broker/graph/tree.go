package graph

import (
	"errors"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// ErrParentNotFound is returned by Branch when the parent agent node does
// not exist in the tree.
var ErrParentNotFound = errors.New("graph: parent agent node not found")

// Document is the in-memory flow tree for one correlation (spec §3.2,
// FlowDocument). Tree nodes are owned by their parent node; Document owns
// the root.
type Document struct {
	CorrelationID ports.CorrelationID
	Root          *Node
}

// NewDocument builds the flow document created on a root agent's first
// execution: a single Agent node.
func NewDocument(correlationID ports.CorrelationID, taskKind ports.TaskKind, instanceID ports.TaskInstanceID) *Document {
	return &Document{
		CorrelationID: correlationID,
		Root:          NewAgentNode(taskKind, instanceID, ""),
	}
}

// FindAgentNode depth-first searches the tree plus Next chains for the
// Agent node with the given TaskInstanceID.
func (d *Document) FindAgentNode(id ports.TaskInstanceID) *Node {
	return findAgentNode(d.Root, id)
}

func findAgentNode(n *Node, id ports.TaskInstanceID) *Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindAgent:
		if n.TaskInstanceID == id {
			return n
		}
	case KindGroup:
		for _, agent := range n.Agents {
			if found := findAgentNode(agent, id); found != nil {
				return found
			}
		}
	case KindBranch:
		for _, entry := range n.Branches {
			if found := findAgentNode(entry.Node, id); found != nil {
				return found
			}
		}
	}
	return findAgentNode(n.Next, id)
}

// RekeyAgentNode relocates the Agent node currently keyed by oldID onto
// newID. A resumed span gets a fresh TaskInstanceID on every invocation
// (the parent is stateless between spans), but the tree keeps one node per
// position rather than per invocation, so the tracker calls this before
// that node is looked up again by its new id.
func (d *Document) RekeyAgentNode(oldID, newID ports.TaskInstanceID) error {
	node := d.FindAgentNode(oldID)
	if node == nil {
		return ErrParentNotFound
	}
	node.TaskInstanceID = newID
	return nil
}

// FindBranchNode returns the Branch node whose Branches list contains the
// given BranchID.
func (d *Document) FindBranchNode(branchID ports.BranchID) *Node {
	return findBranchNode(d.Root, branchID)
}

func findBranchNode(n *Node, branchID ports.BranchID) *Node {
	if n == nil {
		return nil
	}
	if n.Kind == KindBranch {
		for _, entry := range n.Branches {
			if entry.BranchID == branchID {
				return n
			}
		}
		for _, entry := range n.Branches {
			if found := findBranchNode(entry.Node, branchID); found != nil {
				return found
			}
		}
	}
	if n.Kind == KindGroup {
		for _, agent := range n.Agents {
			if found := findBranchNode(agent, branchID); found != nil {
				return found
			}
		}
	}
	return findBranchNode(n.Next, branchID)
}

// SiblingBranches returns every BranchID living inside the same Branch node
// as branchID, including branchID itself.
func (d *Document) SiblingBranches(branchID ports.BranchID) []ports.BranchID {
	wrapper := d.FindBranchNode(branchID)
	if wrapper == nil {
		return nil
	}
	ids := make([]ports.BranchID, 0, len(wrapper.Branches))
	for _, entry := range wrapper.Branches {
		ids = append(ids, entry.BranchID)
	}
	return ids
}

// ParentBranchID walks Prev links from branchID's owning Branch node upward
// to find the first enclosing Branch node's entry whose subtree contains
// it (spec §4.3, §9).
func (d *Document) ParentBranchID(branchID ports.BranchID) (ports.BranchID, bool) {
	wrapper := d.FindBranchNode(branchID)
	if wrapper == nil {
		return "", false
	}
	x := wrapper
	cur := wrapper.Prev
	for cur != nil {
		if cur.Kind == KindBranch {
			for _, entry := range cur.Branches {
				if entry.Node == x {
					return entry.BranchID, true
				}
			}
			return "", false
		}
		x = cur
		cur = cur.Prev
	}
	return "", false
}

// TaskNodeSpec is one child task to attach under a new Branch node.
type TaskNodeSpec struct {
	TaskInstanceID ports.TaskInstanceID
	TaskKind       ports.TaskKind
}

// BranchAttachment describes one branch to create under a parent agent, as
// passed by the flow tracker's Branch operation.
type BranchAttachment struct {
	BranchID ports.BranchID
	GroupID  ports.GroupID
	Tasks    []TaskNodeSpec
}

// Branch locates the parent Agent node (which must already exist) and
// attaches a new Branch node at the end of its Next chain. Each attachment
// becomes one child: a single task becomes an Agent node, more than one
// becomes a Group node named after the group id (spec §4.3). A parent that
// branches more than once across successive resumptions (spec §8 S4/S5)
// keeps every earlier branch reachable: the new Branch node is appended
// after the last node already chained off the parent, not swapped in over
// it.
func (d *Document) Branch(parentInstanceID ports.TaskInstanceID, attachments []BranchAttachment) error {
	parent := d.FindAgentNode(parentInstanceID)
	if parent == nil {
		return ErrParentNotFound
	}
	tail := parent
	for tail.Next != nil {
		tail = tail.Next
	}

	entries := make([]*Entry, 0, len(attachments))
	for _, attachment := range attachments {
		var child *Node
		if len(attachment.Tasks) == 1 {
			t := attachment.Tasks[0]
			child = NewAgentNode(t.TaskKind, t.TaskInstanceID, "")
		} else {
			agents := make([]*Node, 0, len(attachment.Tasks))
			for _, t := range attachment.Tasks {
				agents = append(agents, NewAgentNode(t.TaskKind, t.TaskInstanceID, ""))
			}
			child = NewGroupNode(attachment.GroupID, string(attachment.GroupID), agents)
		}
		entries = append(entries, &Entry{BranchID: attachment.BranchID, Node: child})
	}

	branchNode := NewBranchNode(entries)
	tail.Next = branchNode
	linkPrev(branchNode, tail)
	return nil
}
