package node

import (
	"github.com/oceanraft/raftcore"
)

// onReceiveRequestVote handles an inbound vote request.
func (n *nodeImpl) onReceiveRequestVote(rpc raftcore.RequestVote) {
	peer, known := n.group.Get(rpc.CandidateId)
	if !known || !peer.Major {
		n.connector.Send(rpc.CandidateId, raftcore.RequestVoteResult{
			Term: n.currentTerm(), VoteGranted: false, From: n.id,
		})
		return
	}

	if !n.applyAnyTermBump(rpc.Term, false, "") {
		n.connector.Send(rpc.CandidateId, raftcore.RequestVoteResult{
			Term: n.currentTerm(), VoteGranted: false, From: n.id,
		})
		return
	}

	// A leader never grants a vote at its own term; it stays Leader.
	granted := n.role.Tag != RoleLeader &&
		(n.role.VotedFor == "" || n.role.VotedFor == rpc.CandidateId)
	if granted {
		lastIndex := n.logStore.LastIndex()
		lastTerm := n.logStore.LastTerm()
		upToDate := rpc.LastLogTerm > lastTerm ||
			(rpc.LastLogTerm == lastTerm && rpc.LastLogIndex >= lastIndex)
		granted = upToDate
	}

	if granted {
		n.persist(n.role.Term, rpc.CandidateId)
		n.role.VotedFor = rpc.CandidateId
		n.logger.Printf("granted vote to %s for term %d", rpc.CandidateId, n.role.Term)
	}

	n.connector.Send(rpc.CandidateId, raftcore.RequestVoteResult{
		Term: n.role.Term, VoteGranted: granted, From: n.id,
	})
}

// onReceiveRequestVoteResult tallies a vote reply against the candidate's
// current term and quorum.
func (n *nodeImpl) onReceiveRequestVoteResult(rpc raftcore.RequestVoteResult) {
	if rpc.Term > n.currentTerm() {
		n.applyAnyTermBump(rpc.Term, false, "")
		return
	}
	if rpc.Term < n.currentTerm() {
		return
	}
	if n.role.Tag != RoleCandidate {
		return
	}
	if !rpc.VoteGranted {
		return
	}
	n.role.VotesCount++
	n.maybeWinElection()
}

// onReceiveAppendEntries handles an inbound AppendEntries as a follower or
// candidate: log-matching against prevLogIndex/prevLogTerm, then
// truncate-and-append.
func (n *nodeImpl) onReceiveAppendEntries(rpc raftcore.AppendEntries) {
	if !n.applyAnyTermBump(rpc.Term, true, rpc.LeaderId) {
		n.connector.Send(rpc.LeaderId, raftcore.AppendEntriesResult{
			Term: n.currentTerm(), Success: false, From: n.id,
		})
		return
	}

	switch n.role.Tag {
	case RoleCandidate:
		n.becomeFollowerSameTerm(rpc.LeaderId, true)
	case RoleLeader:
		// Two leaders can't coexist at the same term; this is defensive.
		n.connector.Send(rpc.LeaderId, raftcore.AppendEntriesResult{
			Term: n.role.Term, Success: false, From: n.id,
		})
		return
	default:
		n.role.LeaderId = rpc.LeaderId
		n.armElectionTimer()
	}

	if !n.logStore.Exists(rpc.PrevLogIndex, rpc.PrevLogTerm) {
		n.connector.Send(rpc.LeaderId, raftcore.AppendEntriesResult{
			Term: n.role.Term, Success: false, PrevLogIndex: rpc.PrevLogIndex, From: n.id,
		})
		return
	}

	n.logStore.TruncateFrom(rpc.PrevLogIndex + 1)
	if len(rpc.Entries) > 0 {
		n.logStore.AppendFollower(rpc.Entries)
	}

	lastNewIndex := rpc.PrevLogIndex + uint64(len(rpc.Entries))
	newCommit := rpc.LeaderCommit
	if lastNewIndex < newCommit {
		newCommit = lastNewIndex
	}
	n.logStore.AdvanceCommit(newCommit)
	n.drainLogEvents()

	n.connector.Send(rpc.LeaderId, raftcore.AppendEntriesResult{
		Term:         n.role.Term,
		Success:      true,
		PrevLogIndex: rpc.PrevLogIndex,
		NumEntries:   len(rpc.Entries),
		From:         n.id,
	})
}

// onReceiveAppendEntriesResult applies a follower's AppendEntries reply:
// advances matchIndex/nextIndex on success, backs off nextIndex on
// failure.
func (n *nodeImpl) onReceiveAppendEntriesResult(rpc raftcore.AppendEntriesResult) {
	if rpc.Term > n.currentTerm() {
		n.applyAnyTermBump(rpc.Term, false, "")
		return
	}
	if n.role == nil || n.role.Tag != RoleLeader {
		return
	}

	peer, known := n.group.Get(rpc.From)
	if !known {
		return
	}

	if peer.Removing {
		peer.Replicating.Replicating = false
		return
	}

	rs := &peer.Replicating
	if rpc.Success {
		matchIndex := rpc.PrevLogIndex + uint64(rpc.NumEntries)
		if matchIndex > rs.MatchIndex {
			rs.MatchIndex = matchIndex
		}
		rs.NextIndex = rs.MatchIndex + 1
		if rs.MatchIndex >= n.logStore.LastIndex() {
			rs.Replicating = false
		} else {
			n.sendReplicationTo(peer)
		}
		n.advanceCommitIndex()
		n.onCatchUpProgress(peer)
	} else {
		if rs.NextIndex > 1 {
			rs.NextIndex--
			n.sendReplicationTo(peer)
		} else {
			rs.Replicating = false
		}
	}
}

// onReceiveInstallSnapshot handles an inbound snapshot chunk, installing
// it once the leader marks it Done.
func (n *nodeImpl) onReceiveInstallSnapshot(rpc raftcore.InstallSnapshot) {
	if !n.applyAnyTermBump(rpc.Term, true, rpc.LeaderId) {
		n.connector.Send(rpc.LeaderId, raftcore.InstallSnapshotResult{
			Term: n.currentTerm(), From: n.id,
		})
		return
	}

	switch n.role.Tag {
	case RoleCandidate:
		n.becomeFollowerSameTerm(rpc.LeaderId, true)
	case RoleLeader:
		n.connector.Send(rpc.LeaderId, raftcore.InstallSnapshotResult{
			Term: n.role.Term, From: n.id,
		})
		return
	default:
		n.role.LeaderId = rpc.LeaderId
		n.armElectionTimer()
	}

	if rpc.Done {
		n.logStore.InstallSnapshot(rpc.LastIncludedIndex, rpc.LastIncludedTerm, rpc.Data)
		n.logger.Printf("installed snapshot through index %d (term %d)", rpc.LastIncludedIndex, rpc.LastIncludedTerm)
	}

	n.connector.Send(rpc.LeaderId, raftcore.InstallSnapshotResult{
		Term: n.role.Term, Done: rpc.Done, From: n.id,
	})
}

// onReceiveInstallSnapshotResult advances a peer's nextIndex once its
// snapshot install completes, or retries otherwise.
func (n *nodeImpl) onReceiveInstallSnapshotResult(rpc raftcore.InstallSnapshotResult) {
	if rpc.Term > n.currentTerm() {
		n.applyAnyTermBump(rpc.Term, false, "")
		return
	}
	if n.role == nil || n.role.Tag != RoleLeader {
		return
	}

	peer, known := n.group.Get(rpc.From)
	if !known {
		return
	}
	if peer.Removing {
		peer.Replicating.Replicating = false
		return
	}

	rs := &peer.Replicating
	if rpc.Done {
		lastIncludedIndex, _, _ := n.logStore.SnapshotData()
		rs.NextIndex = lastIncludedIndex + 1
		n.sendReplicationTo(peer)
	} else {
		// A non-done reply means retry: snapshots are always sent as a
		// single whole chunk, never split across multiple RPCs.
		n.sendInstallSnapshotTo(peer)
	}
}
