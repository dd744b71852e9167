package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

func TestBranch_SingleTaskBecomesAgentNode(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")

	err := doc.Branch("root-1", []BranchAttachment{
		{BranchID: "b1", GroupID: "g1", Tasks: []TaskNodeSpec{{TaskInstanceID: "t1", TaskKind: "task-1"}}},
	})
	require.NoError(t, err)

	wrapper := doc.Root.Next
	require.NotNil(t, wrapper)
	assert.Equal(t, KindBranch, wrapper.Kind)
	require.Len(t, wrapper.Branches, 1)
	assert.Equal(t, ports.BranchID("b1"), wrapper.Branches[0].BranchID)
	assert.Equal(t, KindAgent, wrapper.Branches[0].Node.Kind)
	assert.Equal(t, ports.TaskInstanceID("t1"), wrapper.Branches[0].Node.TaskInstanceID)
}

func TestBranch_MultiTaskBecomesGroupNode(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")

	err := doc.Branch("root-1", []BranchAttachment{
		{BranchID: "b1", GroupID: "group-1", Tasks: []TaskNodeSpec{
			{TaskInstanceID: "c1", TaskKind: "c1-kind"},
			{TaskInstanceID: "c2", TaskKind: "c2-kind"},
		}},
	})
	require.NoError(t, err)

	wrapper := doc.Root.Next
	require.Len(t, wrapper.Branches, 1)
	group := wrapper.Branches[0].Node
	assert.Equal(t, KindGroup, group.Kind)
	assert.Equal(t, ports.GroupID("group-1"), group.GroupID)
	require.Len(t, group.Agents, 2)
	assert.Equal(t, ports.TaskInstanceID("c1"), group.Agents[0].TaskInstanceID)
	assert.Equal(t, ports.TaskInstanceID("c2"), group.Agents[1].TaskInstanceID)
}

func TestBranch_ParallelBranches_S3Shape(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")

	err := doc.Branch("root-1", []BranchAttachment{
		{BranchID: "b1", GroupID: "g1", Tasks: []TaskNodeSpec{{TaskInstanceID: "task-1", TaskKind: "task-1"}}},
		{BranchID: "b2", GroupID: "g2", Tasks: []TaskNodeSpec{{TaskInstanceID: "task-2", TaskKind: "task-2"}}},
	})
	require.NoError(t, err)

	wrapper := doc.Root.Next
	require.Len(t, wrapper.Branches, 2)
	assert.Equal(t, ports.BranchID("b1"), wrapper.Branches[0].BranchID)
	assert.Equal(t, ports.BranchID("b2"), wrapper.Branches[1].BranchID)

	siblings := doc.SiblingBranches("b1")
	assert.ElementsMatch(t, []ports.BranchID{"b1", "b2"}, siblings)
}

func TestBranch_MissingParent(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")
	err := doc.Branch("missing", []BranchAttachment{{BranchID: "b1", Tasks: []TaskNodeSpec{{TaskInstanceID: "t1"}}}})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestFindAgentNode_TraversesGroupsAndBranches(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")
	require.NoError(t, doc.Branch("root-1", []BranchAttachment{
		{BranchID: "b1", GroupID: "g1", Tasks: []TaskNodeSpec{
			{TaskInstanceID: "c1", TaskKind: "c1-kind"},
			{TaskInstanceID: "c2", TaskKind: "c2-kind"},
		}},
	}))

	found := doc.FindAgentNode("c2")
	require.NotNil(t, found)
	assert.Equal(t, ports.TaskKind("c2-kind"), found.TaskKind)

	assert.Nil(t, doc.FindAgentNode("does-not-exist"))
}

// TestParentBranchID_S5Shape builds branch b1 (group g1 of 2 tasks) and
// branch b2 (single task) under root, then nests a further branch b3 under
// g1's first child, and checks that b3's enclosing branch is b1.
func TestParentBranchID_S5Shape(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")
	require.NoError(t, doc.Branch("root-1", []BranchAttachment{
		{BranchID: "b1", GroupID: "g1", Tasks: []TaskNodeSpec{
			{TaskInstanceID: "g1-c1", TaskKind: "k1"},
			{TaskInstanceID: "g1-c2", TaskKind: "k2"},
		}},
		{BranchID: "b2", GroupID: "g2", Tasks: []TaskNodeSpec{{TaskInstanceID: "single", TaskKind: "k3"}}},
	}))

	require.NoError(t, doc.Branch("g1-c1", []BranchAttachment{
		{BranchID: "b3", GroupID: "g3", Tasks: []TaskNodeSpec{{TaskInstanceID: "b3-child", TaskKind: "k4"}}},
	}))

	parent, ok := doc.ParentBranchID("b3")
	require.True(t, ok)
	assert.Equal(t, ports.BranchID("b1"), parent)

	_, ok = doc.ParentBranchID("b1")
	assert.False(t, ok, "top-level branch has no enclosing branch")
}

func TestRekeyAgentNode_RelocatesNode(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")
	require.NoError(t, doc.Branch("root-1", []BranchAttachment{
		{BranchID: "b1", GroupID: "g1", Tasks: []TaskNodeSpec{{TaskInstanceID: "c1", TaskKind: "k1"}}},
	}))

	require.NoError(t, doc.RekeyAgentNode("c1", "c1-resumed"))

	assert.Nil(t, doc.FindAgentNode("c1"), "old instance id no longer resolves")
	found := doc.FindAgentNode("c1-resumed")
	require.NotNil(t, found)
	assert.Equal(t, ports.TaskKind("k1"), found.TaskKind)
}

func TestRekeyAgentNode_MissingNode(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")
	err := doc.RekeyAgentNode("does-not-exist", "new-id")
	assert.ErrorIs(t, err, ErrParentNotFound)
}

// TestBranch_AppendsAcrossResumes reproduces spec §8 S4/S5: a parent branches,
// gets rekeyed onto a fresh instance id by a resumption, and branches again.
// Both rounds must stay reachable off the same parent position.
func TestBranch_AppendsAcrossResumes(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")
	require.NoError(t, doc.Branch("root-1", []BranchAttachment{
		{BranchID: "b1", GroupID: "g1", Tasks: []TaskNodeSpec{{TaskInstanceID: "c1", TaskKind: "k1"}}},
	}))

	require.NoError(t, doc.RekeyAgentNode("root-1", "root-1-resumed"))

	err := doc.Branch("root-1-resumed", []BranchAttachment{
		{BranchID: "b2", GroupID: "g2", Tasks: []TaskNodeSpec{{TaskInstanceID: "c2", TaskKind: "k2"}}},
	})
	require.NoError(t, err)

	assert.NotNil(t, doc.FindBranchNode("b1"), "first branch must survive the second round")
	assert.NotNil(t, doc.FindBranchNode("b2"))
	assert.NotNil(t, doc.FindAgentNode("c1"))
	assert.NotNil(t, doc.FindAgentNode("c2"))
}

func TestRoundTrip_SerializeDeserialize(t *testing.T) {
	doc := NewDocument("cid-1", "orch", "root-1")
	require.NoError(t, doc.Branch("root-1", []BranchAttachment{
		{BranchID: "b1", GroupID: "g1", Tasks: []TaskNodeSpec{
			{TaskInstanceID: "c1", TaskKind: "k1"},
			{TaskInstanceID: "c2", TaskKind: "k2"},
		}},
		{BranchID: "b2", GroupID: "g2", Tasks: []TaskNodeSpec{{TaskInstanceID: "single", TaskKind: "k3"}}},
	}))

	raw, err := ToSerialized(doc.Root)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"prev"`)

	reloaded, err := FromSerialized(raw)
	require.NoError(t, err)

	reloadedDoc := &Document{CorrelationID: doc.CorrelationID, Root: reloaded}

	// P5: reconstructed Prev links satisfy node.Prev.Next == node, or node
	// sits in a Group's Agents array whose Prev matches.
	wrapper := reloadedDoc.Root.Next
	require.NotNil(t, wrapper)
	assert.Equal(t, reloadedDoc.Root, wrapper.Prev)
	assert.Equal(t, wrapper.Prev.Next, wrapper)

	group := wrapper.Branches[0].Node
	assert.Equal(t, wrapper, group.Prev)
	for _, agent := range group.Agents {
		assert.Equal(t, group, agent.Prev)
	}

	// Navigation still works after a round trip.
	parent, ok := reloadedDoc.ParentBranchID("b1")
	assert.False(t, ok)
	_ = parent
	assert.NotNil(t, reloadedDoc.FindAgentNode("c1"))
	assert.ElementsMatch(t, []ports.BranchID{"b1", "b2"}, reloadedDoc.SiblingBranches("b2"))
}
