package node

import (
	"github.com/oceanraft/raftcore"
)

// armElectionTimer arms a fresh randomized election timer for the current
// role, cancelling whatever timer it already holds first.
func (n *nodeImpl) armElectionTimer() {
	n.role.cancelTimer()
	n.role.Timer = n.sched.AfterFunc(n.randomElectionTimeout(), func() {
		n.exec.Submit(n.onElectionTimeout)
	})
}

func (n *nodeImpl) armReplicationTimer() {
	n.role.cancelTimer()
	n.role.Timer = n.sched.AfterFunc(n.opts.ReplicationInterval, func() {
		n.exec.Submit(n.onReplicationTick)
	})
}

// onElectionTimeout fires when a Follower or Candidate's election timer
// expires without having observed a valid leader.
func (n *nodeImpl) onElectionTimeout() {
	if n.role == nil || n.role.Tag == RoleLeader {
		return
	}
	if n.opts.Standby {
		// Cancel: the timer already fired, nothing to re-arm. Role stays
		// Follower, term unchanged.
		n.role.Timer = nil
		return
	}
	n.startElection()
}

// startElection transitions to Candidate: increments term, votes for
// self, broadcasts RequestVote to every major peer, arms a new election
// timer. Handles the single-node-cluster edge case inline: if the local
// vote alone already reaches quorum, the node becomes Leader immediately
// without waiting on any reply.
func (n *nodeImpl) startElection() {
	term := n.currentTerm() + 1
	n.persist(term, n.id)

	newRole := &Role{
		Tag:        RoleCandidate,
		Term:       term,
		VotedFor:   n.id,
		VotesCount: 1,
	}
	n.role.cancelTimer()
	n.role = newRole
	n.armElectionTimer()

	n.logger.Printf("starting election for term %d", term)

	lastIndex := n.logStore.LastIndex()
	lastTerm := n.logStore.LastTerm()
	req := raftcore.RequestVote{
		Term:         term,
		CandidateId:  n.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	}
	for _, peer := range n.group.Majors() {
		n.connector.Send(peer.Endpoint.Id, req)
	}

	n.maybeWinElection()
}

func (n *nodeImpl) currentTerm() raftcore.Term {
	if n.role == nil {
		return 0
	}
	return n.role.Term
}

// maybeWinElection transitions Candidate -> Leader once VotesCount
// reaches quorum.
func (n *nodeImpl) maybeWinElection() {
	if n.role.Tag != RoleCandidate {
		return
	}
	if n.role.VotesCount < n.group.Quorum() {
		return
	}
	n.becomeLeader()
}

// becomeLeader transitions a winning Candidate to Leader.
func (n *nodeImpl) becomeLeader() {
	term := n.role.Term
	n.role.cancelTimer()
	n.role = &Role{
		Tag:      RoleLeader,
		Term:     term,
		LeaderId: n.id,
	}

	lastIndex := n.logStore.LastIndex()
	for _, peer := range n.group.All() {
		peer.Replicating = ReplicatingState{NextIndex: lastIndex + 1}
	}

	entry := n.logStore.AppendLeader(raftcore.NoOp, term, nil, nil)
	n.logger.Printf("became leader for term %d, noop at index %d", term, entry.Index)

	n.armReplicationTimer()
	n.replicateToAll()
}

// becomeFollowerOnTermBump applies the any-term-bump rule: a message with
// a strictly larger term demotes the node to Follower at that term,
// clearing votedFor and, unless the message itself carries leader
// authority, clearing leaderId too. Persistence happens before this
// method returns, and therefore before any RPC reflecting the new term
// is sent by the caller.
func (n *nodeImpl) becomeFollowerOnTermBump(term raftcore.Term, leaderId raftcore.NodeId) {
	n.persist(term, "")
	n.role.cancelTimer()
	n.role = &Role{
		Tag:      RoleFollower,
		Term:     term,
		LeaderId: leaderId,
	}
	n.armElectionTimer()
}

// becomeFollowerSameTerm demotes a Candidate or Leader to Follower without
// changing the term (used when a Candidate observes a valid AppendEntries
// at its own election term, or when a leader completes a self-removal).
func (n *nodeImpl) becomeFollowerSameTerm(leaderId raftcore.NodeId, armTimer bool) {
	term := n.role.Term
	votedFor := n.role.VotedFor
	n.role.cancelTimer()
	n.role = &Role{
		Tag:      RoleFollower,
		Term:     term,
		VotedFor: votedFor,
		LeaderId: leaderId,
	}
	if armTimer {
		n.armElectionTimer()
	}
}

// applyAnyTermBump checks msgTerm against the local term and applies the
// any-term-bump rule if needed. It returns false if msgTerm is strictly
// smaller than the local term (caller must reject the message with the
// current term and otherwise ignore it) and true otherwise (caller may
// proceed).
func (n *nodeImpl) applyAnyTermBump(msgTerm raftcore.Term, leaderAuthority bool, leaderId raftcore.NodeId) bool {
	local := n.currentTerm()
	if msgTerm < local {
		return false
	}
	if msgTerm > local {
		if leaderAuthority {
			n.becomeFollowerOnTermBump(msgTerm, leaderId)
		} else {
			n.becomeFollowerOnTermBump(msgTerm, "")
		}
	}
	return true
}
