package node

import (
	"github.com/oceanraft/raftcore"
	"github.com/oceanraft/raftcore/scheduler"
)

// RoleTag is the discriminant of Role. Exactly one Role is active on a
// node at any instant.
type RoleTag int

const (
	RoleFollower RoleTag = iota
	RoleCandidate
	RoleLeader
)

func (t RoleTag) String() string {
	switch t {
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// Role is modeled as a tagged variant with per-tag fields: role-specific
// behavior is dispatched on Tag inside nodeImpl rather than through
// virtual methods, so every transition is visible in one place. A Role
// owns the one timer handle currently armed for it; transitioning to a
// new Role always cancels the old one's timer first.
type Role struct {
	Tag RoleTag
	Term raftcore.Term

	// Follower/Candidate only.
	VotedFor raftcore.NodeId
	// Follower/Candidate/Leader: who the node currently believes leads
	// this term, empty if unknown.
	LeaderId raftcore.NodeId

	// Candidate only.
	VotesCount int

	Timer scheduler.Handle
}

func (r *Role) cancelTimer() {
	if r.Timer != nil {
		r.Timer.Cancel()
		r.Timer = nil
	}
}

// RoleSnapshot is the immutable value returned by Node.RoleState: a
// point-in-time read of the current Role, safe to hand to a caller outside
// the serial executor.
type RoleSnapshot struct {
	Tag        RoleTag
	Term       raftcore.Term
	VotedFor   raftcore.NodeId
	LeaderId   raftcore.NodeId
	VotesCount int
}

func (r *Role) snapshot() RoleSnapshot {
	return RoleSnapshot{
		Tag:        r.Tag,
		Term:       r.Term,
		VotedFor:   r.VotedFor,
		LeaderId:   r.LeaderId,
		VotesCount: r.VotesCount,
	}
}
