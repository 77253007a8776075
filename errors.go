package raftcore

import "github.com/pkg/errors"

// Error kinds surfaced to callers of the public core API. Protocol-level
// rejections (stale term, unknown peer, log mismatch) are never among
// these: they are replied to on the wire and never reach a caller as an
// error value.
var (
	// ErrNotLeader is returned by AppendLog when issued against a node that
	// is not currently the leader. AddNode and RemoveNode do not return it:
	// on a non-leader their TaskReference settles with TaskError instead.
	ErrNotLeader = errors.New("raftcore: not leader")

	// ErrNotReady is returned by AppendLog, AddNode and RemoveNode when
	// called before Start or after Stop.
	ErrNotReady = errors.New("raftcore: node not started")

	// ErrTimeout is the TaskReference result when a membership change
	// exceeds its configured deadline.
	ErrTimeout = errors.New("raftcore: group config change timed out")

	// ErrReplicationFailed is the TaskReference result when the task's
	// membership entry is truncated by a log-matching conflict before it
	// commits. A catching-up node that exhausts NewNodeMaxRound rounds
	// settles with ErrTimeout instead.
	ErrReplicationFailed = errors.New("raftcore: replication failed")

	// ErrCancelled is the TaskReference result for an explicitly cancelled
	// group config change task.
	ErrCancelled = errors.New("raftcore: group config change cancelled")

	// ErrTaskInFlight is returned internally while waiting for a prior
	// group config change task to finish; it never reaches a caller
	// directly, it is folded into ErrTimeout once the wait deadline
	// passes.
	ErrTaskInFlight = errors.New("raftcore: group config change already in flight")
)
