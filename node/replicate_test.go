package node

import (
	"testing"
	"time"

	"github.com/oceanraft/raftcore"
)

func TestAdvanceCommitIndexRequiresCurrentTermEntry(t *testing.T) {
	h := newHarness(t, "n1", []raftcore.NodeEndpoint{endpoint("n2"), endpoint("n3")})
	h.sch.FireLatest()
	h.n.Deliver(raftcore.RequestVoteResult{Term: 1, VoteGranted: true, From: "n2"})
	// n1 is now Leader at term 1 with a NoOp at index 1.

	// A majority (n2) acks index 1 at term 1 but no term-2 entry exists yet;
	// commitIndex should advance to 1 via the direct current-term match.
	h.n.Deliver(raftcore.AppendEntriesResult{Term: 1, Success: true, PrevLogIndex: 0, NumEntries: 1, From: "n2"})
	if h.n.logStore.CommitIndex() != 1 {
		t.Fatalf("CommitIndex = %d, want 1", h.n.logStore.CommitIndex())
	}

	// Force a term bump without a new election (as if this leader observed
	// a higher term and later regained leadership — simulated directly to
	// exercise the "only the current term's entries directly count"
	// clause): an uncommitted term-1 entry at index 2, then a term-2 entry
	// at index 3 on top of it.
	h.n.logStore.AppendLeader(raftcore.General, 1, []byte("y"), nil)
	h.n.role.Term = 2
	entry := h.n.logStore.AppendLeader(raftcore.General, 2, []byte("z"), nil)
	if entry.Index != 3 {
		t.Fatalf("expected the new entry at index 3, got %d", entry.Index)
	}

	// n2 acks only the term-1 entry at index 2: a quorum holds it, but it is
	// not from the current term, so it must not commit on its own.
	h.n.Deliver(raftcore.AppendEntriesResult{Term: 2, Success: true, PrevLogIndex: 1, NumEntries: 1, From: "n2"})
	if h.n.logStore.CommitIndex() != 1 {
		t.Fatalf("CommitIndex = %d, want 1 (a quorum on an earlier-term entry alone must not commit it)", h.n.logStore.CommitIndex())
	}

	// n3 has matchIndex 0 and has never acked anything; only n2 acks the
	// term-2 entry, which is still enough for a 3-member cluster's quorum of
	// 2 (self + n2).
	h.n.Deliver(raftcore.AppendEntriesResult{Term: 2, Success: true, PrevLogIndex: 2, NumEntries: 1, From: "n2"})

	if h.n.logStore.CommitIndex() != 3 {
		t.Fatalf("CommitIndex = %d, want 3 (the term-2 quorum must pull index 2 along with it)", h.n.logStore.CommitIndex())
	}
}

func TestAdvanceCommitIndexWithholdsWithoutQuorum(t *testing.T) {
	h := newHarness(t, "n1", []raftcore.NodeEndpoint{endpoint("n2"), endpoint("n3")})
	h.sch.FireLatest()
	h.n.Deliver(raftcore.RequestVoteResult{Term: 1, VoteGranted: true, From: "n2"})

	// Neither peer has acked anything yet; commitIndex must stay at 0.
	if h.n.logStore.CommitIndex() != 0 {
		t.Fatalf("CommitIndex = %d, want 0 before any replica acks", h.n.logStore.CommitIndex())
	}
}

func TestMatchIndexNeverMovesBackwardOnReorderedReplies(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	h.n.Deliver(raftcore.AppendEntriesResult{Term: 1, Success: true, PrevLogIndex: 0, NumEntries: 1, From: "n2"})
	peer, _ := h.n.group.Get("n2")
	if peer.Replicating.MatchIndex != 1 {
		t.Fatalf("MatchIndex = %d, want 1", peer.Replicating.MatchIndex)
	}

	// A stale, reordered reply for an earlier point in the log must not
	// move matchIndex backward.
	h.n.Deliver(raftcore.AppendEntriesResult{Term: 1, Success: true, PrevLogIndex: 0, NumEntries: 0, From: "n2"})
	if peer.Replicating.MatchIndex != 1 {
		t.Fatalf("MatchIndex regressed to %d after a stale reply", peer.Replicating.MatchIndex)
	}
}

func TestFailedAppendEntriesDecrementsNextIndexAndRetries(t *testing.T) {
	h := becomeLeaderTwoNode(t)
	peer, _ := h.n.group.Get("n2")
	peer.Replicating.NextIndex = 5
	h.conn.reset()

	h.n.Deliver(raftcore.AppendEntriesResult{Term: 1, Success: false, From: "n2"})

	if peer.Replicating.NextIndex != 4 {
		t.Fatalf("NextIndex = %d, want 4 after a failed probe", peer.Replicating.NextIndex)
	}
	if h.conn.count("n2") != 1 {
		t.Fatalf("expected exactly one retry sent to n2, got %d", h.conn.count("n2"))
	}
}

func TestSendReplicationFallsBackToSnapshotWhenPrefixCompacted(t *testing.T) {
	h := becomeLeaderTwoNode(t)

	h.n.logStore.InstallSnapshot(1, 1, []byte("snap"))
	peer, _ := h.n.group.Get("n2")
	peer.Replicating.NextIndex = 1 // n2 still needs everything up to and including index 1.
	h.conn.reset()

	h.n.sendReplicationTo(peer)

	msg := h.conn.last("n2")
	snap, ok := msg.(raftcore.InstallSnapshot)
	if !ok {
		t.Fatalf("expected an InstallSnapshot fallback, got %T", msg)
	}
	if snap.LastIncludedIndex != 1 || !snap.Done || string(snap.Data) != "snap" {
		t.Fatalf("unexpected snapshot message: %+v", snap)
	}
}

func TestInstallSnapshotResultDoneAdvancesNextIndex(t *testing.T) {
	h := becomeLeaderTwoNode(t)
	h.n.logStore.InstallSnapshot(3, 1, []byte("snap"))
	peer, _ := h.n.group.Get("n2")

	h.n.Deliver(raftcore.InstallSnapshotResult{Term: 1, Done: true, From: "n2"})

	if peer.Replicating.NextIndex != 4 {
		t.Fatalf("NextIndex = %d, want 4 after a done snapshot reply", peer.Replicating.NextIndex)
	}
}

func TestReplicationSkipsPeerWithinMinReplicationInterval(t *testing.T) {
	h := becomeLeaderTwoNode(t)
	h.n.opts.MinReplicationInterval = time.Hour
	peer, _ := h.n.group.Get("n2")
	peer.Replicating.Replicating = true
	h.conn.reset()

	h.n.replicateToAll()

	if h.conn.count("n2") != 0 {
		t.Fatalf("expected no resend within MinReplicationInterval, got %d sends", h.conn.count("n2"))
	}
}
