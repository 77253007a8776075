package node

import (
	"time"

	"github.com/oceanraft/raftcore"
)

// onReplicationTick is the leader's replication-timer handler: re-arms
// itself and sends AppendEntries/InstallSnapshot to every peer not
// currently within minReplicationInterval of its last send.
func (n *nodeImpl) onReplicationTick() {
	if n.role == nil || n.role.Tag != RoleLeader {
		return
	}
	n.armReplicationTimer()
	n.replicateToAll()
}

// replicateToAll sends to every known peer (major or catching-up),
// skipping ones within minReplicationInterval of their last send unless
// they are not currently replicating at all.
func (n *nodeImpl) replicateToAll() {
	now := time.Now()
	for _, peer := range n.group.All() {
		rs := &peer.Replicating
		if rs.Replicating && now.Sub(rs.LastReplicatedAt) < n.opts.MinReplicationInterval {
			continue
		}
		n.sendReplicationTo(peer)
	}
}

// sendReplicationTo sends one AppendEntries or InstallSnapshot to peer,
// chosen by whether the peer's required prevLogIndex still falls within
// the log's retained prefix.
func (n *nodeImpl) sendReplicationTo(peer *NodeState) {
	rs := &peer.Replicating
	prevLogIndex := rs.NextIndex - 1
	firstIndex := n.logStore.FirstIndex()

	if firstIndex > 1 && prevLogIndex < firstIndex-1 {
		n.sendInstallSnapshotTo(peer)
		return
	}

	prevLogTerm, ok := n.logStore.Term(prevLogIndex)
	if !ok {
		// The entry backing prevLogIndex is gone (raced with a concurrent
		// snapshot); fall back to streaming the snapshot instead.
		n.sendInstallSnapshotTo(peer)
		return
	}

	lastIndex := n.logStore.LastIndex()
	var entries []raftcore.LogEntry
	for idx := rs.NextIndex; idx <= lastIndex; idx++ {
		e, err := n.logStore.Get(idx)
		if err != nil {
			break
		}
		entries = append(entries, e)
	}

	req := raftcore.AppendEntries{
		Term:         n.role.Term,
		LeaderId:     n.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: n.logStore.CommitIndex(),
	}
	rs.Replicating = true
	rs.LastReplicatedAt = time.Now()
	n.connector.Send(peer.Endpoint.Id, req)
}

// sendInstallSnapshotTo streams the log's current snapshot to peer as a
// single offset-0, done=true chunk rather than splitting it across
// multiple RPCs.
func (n *nodeImpl) sendInstallSnapshotTo(peer *NodeState) {
	lastIncludedIndex, lastIncludedTerm, data := n.logStore.SnapshotData()
	rs := &peer.Replicating
	req := raftcore.InstallSnapshot{
		Term:              n.role.Term,
		LeaderId:          n.id,
		LastIncludedIndex: lastIncludedIndex,
		LastIncludedTerm:  lastIncludedTerm,
		Offset:            0,
		Data:              data,
		Done:              true,
	}
	rs.Replicating = true
	rs.LastReplicatedAt = time.Now()
	n.connector.Send(peer.Endpoint.Id, req)
}

// advanceCommitIndex recomputes and applies the leader's commit index:
// the largest N > commitIndex such that a majority of majors have
// matchIndex >= N and log[N].term == currentTerm.
func (n *nodeImpl) advanceCommitIndex() {
	majors := n.group.Majors()
	quorum := n.group.Quorum()

	lastIndex := n.logStore.LastIndex()
	current := n.logStore.CommitIndex()

	best := current
	for N := lastIndex; N > current; N-- {
		term, ok := n.logStore.Term(N)
		if !ok || term != n.role.Term {
			continue
		}
		acks := 1 // the leader itself always has matchIndex == lastIndex.
		for _, peer := range majors {
			if peer.Replicating.MatchIndex >= N {
				acks++
			}
		}
		if acks >= quorum {
			best = N
			break
		}
	}
	if best > current {
		n.logStore.AdvanceCommit(best)
		n.drainLogEvents()
	}
}
