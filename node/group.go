package node

import (
	"time"

	"github.com/oceanraft/raftcore"
)

// ReplicatingState is a leader's view of one peer's replication progress.
// MatchIndex < NextIndex always; MatchIndex is monotone non-decreasing
// within a leader term.
type ReplicatingState struct {
	NextIndex        uint64
	MatchIndex       uint64
	Replicating      bool
	LastReplicatedAt time.Time
	Round            int
}

// NodeState is one member's entry in the NodeGroup: its endpoint, whether
// it counts for quorum, whether it is being removed, and its replication
// progress as seen by a leader.
type NodeState struct {
	Endpoint raftcore.NodeEndpoint
	Major    bool
	Removing bool
	Replicating ReplicatingState
}

// NodeGroup is the node's view of cluster membership: major (voting) and
// non-major (catching-up or being-removed) peers. The local node's own id
// is tracked separately (nodeImpl.id) and is never itself a NodeState
// entry in this map — NodeGroup only holds the *other* members. selfMajor
// tracks whether the local node is still a voter itself; it starts true
// and is cleared once the local node's own removal commits.
type NodeGroup struct {
	members   map[raftcore.NodeId]*NodeState
	selfMajor bool
}

// NewNodeGroup builds a NodeGroup from the given major peers, all at the
// given starting nextIndex/matchIndex=0.
func NewNodeGroup(peers []raftcore.NodeEndpoint, nextIndex uint64) *NodeGroup {
	g := &NodeGroup{members: make(map[raftcore.NodeId]*NodeState), selfMajor: true}
	for _, p := range peers {
		g.members[p.Id] = &NodeState{
			Endpoint: p,
			Major:    true,
			Replicating: ReplicatingState{
				NextIndex: nextIndex,
			},
		}
	}
	return g
}

func (g *NodeGroup) Get(id raftcore.NodeId) (*NodeState, bool) {
	s, ok := g.members[id]
	return s, ok
}

func (g *NodeGroup) Add(endpoint raftcore.NodeEndpoint, major bool, nextIndex uint64) *NodeState {
	s := &NodeState{
		Endpoint: endpoint,
		Major:    major,
		Replicating: ReplicatingState{
			NextIndex: nextIndex,
		},
	}
	g.members[endpoint.Id] = s
	return s
}

func (g *NodeGroup) Remove(id raftcore.NodeId) {
	delete(g.members, id)
}

// Majors returns every major (voting) peer.
func (g *NodeGroup) Majors() []*NodeState {
	var out []*NodeState
	for _, s := range g.members {
		if s.Major {
			out = append(out, s)
		}
	}
	return out
}

// All returns every known peer, major or not.
func (g *NodeGroup) All() []*NodeState {
	out := make([]*NodeState, 0, len(g.members))
	for _, s := range g.members {
		out = append(out, s)
	}
	return out
}

// CountOfMajor returns the number of voting members, including the local
// node itself if it is still a voter (see selfMajor).
func (g *NodeGroup) CountOfMajor() int {
	n := 0
	if g.selfMajor {
		n = 1
	}
	for _, s := range g.members {
		if s.Major {
			n++
		}
	}
	return n
}

// RemoveSelf marks the local node as no longer a voting member, once its
// own removal commits. CountOfMajor/Quorum stop counting it afterward.
func (g *NodeGroup) RemoveSelf() {
	g.selfMajor = false
}

// Quorum returns the number of votes/acks required for a majority of the
// current major set, including the local node.
func (g *NodeGroup) Quorum() int {
	return g.CountOfMajor()/2 + 1
}

// RestoreMembers replaces the major membership set with preChange,
// preserving replication progress for members that survive and dropping
// anyone not in preChange. Used to undo an optimistically-applied config
// entry that was truncated away before it committed.
func (g *NodeGroup) RestoreMembers(preChange map[raftcore.NodeId]raftcore.NodeEndpoint) {
	next := make(map[raftcore.NodeId]*NodeState, len(preChange))
	for id, ep := range preChange {
		if existing, ok := g.members[id]; ok {
			existing.Major = true
			existing.Removing = false
			next[id] = existing
			continue
		}
		next[id] = &NodeState{Endpoint: ep, Major: true}
	}
	g.members = next
}
