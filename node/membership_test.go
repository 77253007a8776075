package node

import (
	"testing"
	"time"

	"github.com/oceanraft/raftcore"
)

// becomeLeaderTwoNode drives a 2-major-peer cluster (n1 self, n2) to the
// point where n1 is Leader at term 1 with its election NoOp committed.
func becomeLeaderTwoNode(t *testing.T) *harness {
	h := newHarness(t, "n1", []raftcore.NodeEndpoint{endpoint("n2")})
	h.sch.FireLatest()
	h.n.Deliver(raftcore.RequestVoteResult{Term: 1, VoteGranted: true, From: "n2"})
	if snap := h.n.RoleState(); snap.Tag != RoleLeader {
		t.Fatalf("setup: expected Leader, got %v", snap.Tag)
	}
	h.n.Deliver(raftcore.AppendEntriesResult{
		Term: 1, Success: true, PrevLogIndex: 0, NumEntries: 1, From: "n2",
	})
	if h.n.logStore.CommitIndex() != 1 {
		t.Fatalf("setup: expected the election NoOp committed, commitIndex=%d", h.n.logStore.CommitIndex())
	}
	return h
}

func TestAddNodeCatchesUpAndCommitsAfterQuorum(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	ref, err := h.n.AddNode(endpoint("n3"))
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	task := h.n.taskHolder.Active()
	if task == nil || task.Kind != TaskAddNode || task.State != TaskCatchingUp {
		t.Fatalf("expected an active catching-up AddNode task, got %+v", task)
	}

	// n3 immediately reports itself caught up to the round's target.
	h.n.Deliver(raftcore.AppendEntriesResult{
		Term: 1, Success: true, PrevLogIndex: 1, NumEntries: 0, From: "n3",
	})

	task = h.n.taskHolder.Active()
	if task == nil || task.State != TaskReplicating {
		t.Fatalf("expected the task to move to Replicating after catch-up, got %+v", task)
	}

	// n2 acks the new AddNode log entry, reaching quorum (self + n2).
	h.n.Deliver(raftcore.AppendEntriesResult{
		Term: 1, Success: true, PrevLogIndex: 1, NumEntries: 1, From: "n2",
	})

	result, err := ref.GetResult(time.Second)
	if err != nil || result != TaskOK {
		t.Fatalf("GetResult = %v, %v; want TaskOK, nil", result, err)
	}

	peer, ok := h.n.group.Get("n3")
	if !ok || !peer.Major {
		t.Fatalf("expected n3 to be a major member after commit, got %+v", peer)
	}
	if h.n.taskHolder.Active() != nil {
		t.Fatal("expected the task holder to be cleared after settlement")
	}
}

func TestAddNodeFailsAfterExhaustingRounds(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	ref, err := h.n.AddNode(endpoint("n3"))
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	// n3 never replies; every round times out until newNodeMaxRound is hit.
	for i := 0; i < h.n.opts.NewNodeMaxRound; i++ {
		if !h.sch.FireLatest() {
			t.Fatalf("expected a pending round timer at round %d", i)
		}
	}

	result, err := ref.GetResult(time.Second)
	if err != raftcore.ErrTimeout || result != TaskTimeout {
		t.Fatalf("GetResult = %v, %v; want TaskTimeout, ErrTimeout", result, err)
	}
	if _, ok := h.n.group.Get("n3"); ok {
		t.Fatal("expected the never-caught-up peer to be dropped from the group")
	}
	if h.n.taskHolder.Active() != nil {
		t.Fatal("expected the task holder to be cleared after failure")
	}
}

func TestAddNodeRejectedOnNonLeader(t *testing.T) {
	h := newHarness(t, "n1", []raftcore.NodeEndpoint{endpoint("n2")})

	ref, err := h.n.AddNode(endpoint("n3"))
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	result, _ := ref.GetResult(time.Second)
	if result != TaskError {
		t.Fatalf("result = %v, want TaskError for a non-leader", result)
	}
}

func TestAddNodeRejectsSecondConcurrentTask(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	if _, err := h.n.AddNode(endpoint("n3")); err != nil {
		t.Fatalf("first AddNode: %v", err)
	}

	h.n.opts.PreviousGroupConfigChangeTimeout = 10 * time.Millisecond
	ref2, err := h.n.AddNode(endpoint("n4"))
	if err != nil {
		t.Fatalf("second AddNode: %v", err)
	}
	result, _ := ref2.GetResult(time.Second)
	if result != TaskTimeout {
		t.Fatalf("result = %v, want TaskTimeout while a prior task is in flight", result)
	}
}

func TestRemoveNodeCommitsAfterQuorumAndDropsMember(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	// Promote n3 to major by hand, as if a prior AddNode had already
	// committed, so removal has a target with quorum weight.
	h.n.group.Add(endpoint("n3"), true, h.n.logStore.LastIndex()+1)

	ref, err := h.n.RemoveNode("n3")
	if err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}

	peer, ok := h.n.group.Get("n3")
	if !ok || !peer.Removing {
		t.Fatal("expected n3 to be marked Removing immediately")
	}

	h.n.Deliver(raftcore.AppendEntriesResult{
		Term: 1, Success: true, PrevLogIndex: 1, NumEntries: 1, From: "n2",
	})

	result, err := ref.GetResult(time.Second)
	if err != nil || result != TaskOK {
		t.Fatalf("GetResult = %v, %v; want TaskOK, nil", result, err)
	}
	if _, ok := h.n.group.Get("n3"); ok {
		t.Fatal("expected n3 to be removed from the group after commit")
	}
}

func TestRemoveNodeUnknownTargetFails(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	ref, err := h.n.RemoveNode("ghost")
	if err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	result, _ := ref.GetResult(time.Second)
	if result != TaskError {
		t.Fatalf("result = %v, want TaskError for an unknown target", result)
	}
}

func TestSelfRemovalStepsLeaderDownOnCommit(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	ref, err := h.n.RemoveNode("n1")
	if err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}

	h.n.Deliver(raftcore.AppendEntriesResult{
		Term: 1, Success: true, PrevLogIndex: 1, NumEntries: 1, From: "n2",
	})

	result, err := ref.GetResult(time.Second)
	if err != nil || result != TaskOK {
		t.Fatalf("GetResult = %v, %v; want TaskOK, nil", result, err)
	}
	if snap := h.n.RoleState(); snap.Tag != RoleFollower {
		t.Fatalf("expected the self-removed leader to step down, got %v", snap.Tag)
	}
}

func TestSelfRemovalUpdatesCountOfMajor(t *testing.T) {
	h := newHarness(t, "n1", []raftcore.NodeEndpoint{endpoint("n2"), endpoint("n3")})
	h.sch.FireLatest()
	h.n.Deliver(raftcore.RequestVoteResult{Term: 1, VoteGranted: true, From: "n2"})
	if snap := h.n.RoleState(); snap.Tag != RoleLeader {
		t.Fatalf("setup: expected Leader, got %v", snap.Tag)
	}
	h.n.Deliver(raftcore.AppendEntriesResult{
		Term: 1, Success: true, PrevLogIndex: 0, NumEntries: 1, From: "n2",
	})
	if got := h.n.group.CountOfMajor(); got != 3 {
		t.Fatalf("CountOfMajor = %d, want 3 (self, n2, n3) before self-removal", got)
	}

	ref, err := h.n.RemoveNode("n1")
	if err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}

	// n2's ack alone reaches the 3-member cluster's quorum of 2 (self + n2).
	h.n.Deliver(raftcore.AppendEntriesResult{
		Term: 1, Success: true, PrevLogIndex: 1, NumEntries: 1, From: "n2",
	})

	result, err := ref.GetResult(time.Second)
	if err != nil || result != TaskOK {
		t.Fatalf("GetResult = %v, %v; want TaskOK, nil", result, err)
	}
	if got := h.n.group.CountOfMajor(); got != 2 {
		t.Fatalf("CountOfMajor = %d, want 2 (n2, n3) after self-removal commits", got)
	}
}

func TestCancelGroupConfigChangeTaskSettlesCancelled(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	ref, err := h.n.AddNode(endpoint("n3"))
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	h.n.CancelGroupConfigChangeTask()

	result, err := ref.GetResult(time.Second)
	if err != raftcore.ErrCancelled || result != TaskCancelled {
		t.Fatalf("GetResult = %v, %v; want TaskCancelled, ErrCancelled", result, err)
	}
	if h.n.taskHolder.Active() != nil {
		t.Fatal("expected the task holder to be cleared after cancellation")
	}
}

func TestTruncateRevertsOptimisticallyAppliedMembershipChange(t *testing.T) {
	h := newHarness(t, "n1", []raftcore.NodeEndpoint{endpoint("leader"), endpoint("n3")})

	preChange := map[raftcore.NodeId]raftcore.NodeEndpoint{
		"leader": endpoint("leader"),
		"n3":     endpoint("n3"),
	}

	// The follower receives an uncommitted AddNode entry from the leader...
	h.n.Deliver(raftcore.AppendEntries{
		Term: 1, LeaderId: "leader",
		PrevLogIndex: 0, PrevLogTerm: 0,
		Entries: []raftcore.LogEntry{
			{
				Index: 1, Term: 1, Kind: raftcore.AddNode,
				GroupConfig: &raftcore.GroupConfigEntry{
					TargetEndpoint:   endpoint("n4"),
					TargetId:         "n4",
					PreChangeMembers: preChange,
				},
			},
		},
		LeaderCommit: 0,
	})

	if _, ok := h.n.group.Get("n4"); !ok {
		t.Fatal("expected the follower to optimistically apply the uncommitted AddNode entry")
	}

	// ...then a new leader at a higher term overwrites it before it commits.
	h.n.Deliver(raftcore.AppendEntries{
		Term: 2, LeaderId: "leader",
		PrevLogIndex: 0, PrevLogTerm: 0,
		Entries: []raftcore.LogEntry{
			{Index: 1, Term: 2, Kind: raftcore.General, Payload: []byte("z")},
		},
		LeaderCommit: 0,
	})

	if _, ok := h.n.group.Get("n4"); ok {
		t.Fatal("expected the reverted AddNode to remove n4 from the group")
	}
	if _, ok := h.n.group.Get("n3"); !ok {
		t.Fatal("expected the pre-change major member n3 to survive the revert")
	}
}
