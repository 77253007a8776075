package raftcore

import "time"

// Options holds every node tunable. Zero-value Options is not valid; use
// DefaultOptions and override what you need.
type Options struct {
	// ElectionTimeoutMin/Max bound the randomized follower/candidate
	// election delay.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// MinReplicationInterval throttles how often a leader will re-send
	// AppendEntries to a peer that already has a replication round in
	// flight.
	MinReplicationInterval time.Duration

	// ReplicationInterval is the leader's replication tick period.
	ReplicationInterval time.Duration

	// NewNodeMaxRound bounds how many catch-up rounds addNode will attempt
	// before giving up with TIMEOUT.
	NewNodeMaxRound int

	// NewNodeAdvanceTimeout is the per-round deadline of a catching-up
	// node's replication round. A round that misses it counts toward
	// NewNodeMaxRound and is followed by another round.
	NewNodeAdvanceTimeout time.Duration

	// PreviousGroupConfigChangeTimeout bounds how long addNode/removeNode
	// will wait for a prior in-flight group config change task.
	PreviousGroupConfigChangeTimeout time.Duration

	// Standby disables election timeouts: the node stays Follower forever
	// and never bids for leadership.
	Standby bool
}

// DefaultOptions returns the option set a node ships with out of the box.
func DefaultOptions() Options {
	return Options{
		ElectionTimeoutMin:               150 * time.Millisecond,
		ElectionTimeoutMax:               300 * time.Millisecond,
		MinReplicationInterval:           100 * time.Millisecond,
		ReplicationInterval:              50 * time.Millisecond,
		NewNodeMaxRound:                  10,
		NewNodeAdvanceTimeout:            1 * time.Second,
		PreviousGroupConfigChangeTimeout: 5 * time.Second,
		Standby:                          false,
	}
}
