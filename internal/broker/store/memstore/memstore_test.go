package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

func TestMarkGroupResumed_AtMostOnce(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	first, err := s.MarkGroupResumed(ctx, "parent-1", "group-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkGroupResumed(ctx, "parent-1", "group-1")
	require.NoError(t, err)
	assert.False(t, second, "a second caller for the same group must lose the gate")

	third, err := s.MarkGroupResumed(ctx, "parent-1", "group-2")
	require.NoError(t, err)
	assert.True(t, third, "a different group id on the same parent is independent")
}

func TestMarkGroupResumed_ConcurrentCallersExactlyOneWins(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ok, err := s.MarkGroupResumed(ctx, "parent-1", "group-1")
			require.NoError(t, err)
			wins[idx] = ok
		}(i)
	}
	wg.Wait()

	winCount := 0
	for _, w := range wins {
		if w {
			winCount++
		}
	}
	assert.Equal(t, 1, winCount)
}

func TestMarkBranchCompleted_SingleTransition(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.CreateBranches(ctx, "parent-1", []ports.BranchSpec{{BranchID: "b1"}}))

	first, err := s.MarkBranchCompleted(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkBranchCompleted(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, second, "completing an already-completed branch is a no-op")
}

func TestMarkBranchCompleted_UnknownBranch(t *testing.T) {
	s := New(nil)
	ok, err := s.MarkBranchCompleted(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAreBranchesCompleted(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.CreateBranches(ctx, "parent-1", []ports.BranchSpec{
		{BranchID: "b1"}, {BranchID: "b2"},
	}))

	done, err := s.AreBranchesCompleted(ctx, []ports.BranchID{"b1", "b2"})
	require.NoError(t, err)
	assert.False(t, done)

	_, err = s.MarkBranchCompleted(ctx, "b1")
	require.NoError(t, err)

	done, err = s.AreBranchesCompleted(ctx, []ports.BranchID{"b1", "b2"})
	require.NoError(t, err)
	assert.False(t, done, "b2 is still active")

	_, err = s.MarkBranchCompleted(ctx, "b2")
	require.NoError(t, err)

	done, err = s.AreBranchesCompleted(ctx, []ports.BranchID{"b1", "b2"})
	require.NoError(t, err)
	assert.True(t, done)
}

func TestTaskLifecycle_PublishStartComplete(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.MarkPublished(ctx, []ports.TaskSpec{
		{TaskInstanceID: "t1", TaskKind: "k1", GroupID: "g1", BranchID: "b1"},
	}, "cid-1"))

	rec, ok, err := s.FindByInstanceID(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ports.StatusPublished, rec.Status)

	require.NoError(t, s.MarkStarted(ctx, ports.Task{
		CorrelationID: "cid-1", TaskKind: "k1", TaskInstanceID: "t1",
	}, "agent-x"))

	rec, _, err = s.FindByInstanceID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, ports.StatusStarted, rec.Status)
	assert.Equal(t, "agent-x", rec.AgentName)

	require.NoError(t, s.MarkCompleted(ctx, "t1", ports.AgentTaskResponse{
		StopReason: ports.StopCompleted,
		TaskOutput: map[string]any{"ok": true},
	}))

	rec, _, err = s.FindByInstanceID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, ports.StatusCompleted, rec.Status)
	require.NotNil(t, rec.StoppedAt)
	assert.Equal(t, true, rec.Output["ok"])
}

func TestFindGroupTasks(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.MarkPublished(ctx, []ports.TaskSpec{
		{TaskInstanceID: "t1", TaskKind: "k1", GroupID: "g1"},
		{TaskInstanceID: "t2", TaskKind: "k2", GroupID: "g1"},
		{TaskInstanceID: "t3", TaskKind: "k3", GroupID: "g2"},
	}, "cid-1"))

	group1, err := s.FindGroupTasks(ctx, "cid-1", "g1")
	require.NoError(t, err)
	assert.Len(t, group1, 2)
}

func TestFlowStore_RoundTrip(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.CreateFlow(ctx, "cid-1", []byte(`{"kind":"agent"}`)))

	raw, ok, err := s.LoadFlow(ctx, "cid-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"kind":"agent"}`, string(raw))

	require.NoError(t, s.SaveFlow(ctx, "cid-1", []byte(`{"kind":"group"}`)))
	raw, _, err = s.LoadFlow(ctx, "cid-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"group"}`, string(raw))

	_, ok, err = s.LoadFlow(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLock_AcquireReleaseAndContention(t *testing.T) {
	s := New(nil)
	s.LockAttempts = 2
	ctx := context.Background()

	require.NoError(t, s.AcquireLock(ctx, "cid-1"))

	err := s.AcquireLock(ctx, "cid-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindLockContention))

	require.NoError(t, s.ReleaseLock(ctx, "cid-1"))
	require.NoError(t, s.AcquireLock(ctx, "cid-1"))
}
