package node

import (
	"github.com/pkg/errors"

	"github.com/oceanraft/raftcore"
	"github.com/oceanraft/raftcore/corelog"
)

// errUnknownTarget is the internal signal that removeNode named a peer
// absent from the group (and not self). It never reaches a caller: only
// its nilness is inspected before settling the task with TaskError.
var errUnknownTarget = errors.New("raftcore: removeNode target unknown")

// AppendLog appends a client payload to the log if this node is currently
// leader.
func (n *nodeImpl) AppendLog(payload []byte) (uint64, error) {
	if !n.requireStarted() {
		return 0, raftcore.ErrNotReady
	}
	type outcome struct {
		index uint64
		err   error
	}
	ch := make(chan outcome, 1)
	n.exec.Submit(func() {
		if n.role == nil || n.role.Tag != RoleLeader {
			ch <- outcome{0, raftcore.ErrNotLeader}
			return
		}
		entry := n.logStore.AppendLeader(raftcore.General, n.role.Term, payload, nil)
		n.replicateToAll()
		ch <- outcome{entry.Index, nil}
	})
	o := <-ch
	return o.index, o.err
}

// AddNode starts adding endpoint as a new group member. It is serialized
// through the membership executor so that a caller waiting on a prior
// task blocks its own goroutine, not the main loop.
func (n *nodeImpl) AddNode(endpoint raftcore.NodeEndpoint) (*TaskReference, error) {
	if !n.requireStarted() {
		return nil, raftcore.ErrNotReady
	}
	ch := make(chan *TaskReference, 1)
	n.memberExec.Submit(func() {
		ch <- n.runAddNode(endpoint)
	})
	return <-ch, nil
}

// RemoveNode starts removing id from the group.
func (n *nodeImpl) RemoveNode(id raftcore.NodeId) (*TaskReference, error) {
	if !n.requireStarted() {
		return nil, raftcore.ErrNotReady
	}
	ch := make(chan *TaskReference, 1)
	n.memberExec.Submit(func() {
		ch <- n.runRemoveNode(id)
	})
	return <-ch, nil
}

// awaitPriorTask blocks the membership executor's own goroutine (not the
// main loop) on whatever task is currently active, up to
// previousGroupConfigChangeTimeout. Returns a pre-settled Timeout
// TaskReference if the prior task is still in flight after the wait.
func (n *nodeImpl) awaitPriorTask() *TaskReference {
	prior := n.taskHolder.Active()
	if prior == nil {
		return nil
	}
	if err := prior.Ref.waitForSettle(n.opts.PreviousGroupConfigChangeTimeout); err == raftcore.ErrTaskInFlight {
		ref := newTaskReference()
		ref.settle(TaskTimeout)
		return ref
	}
	return nil
}

func (n *nodeImpl) runAddNode(endpoint raftcore.NodeEndpoint) *TaskReference {
	if timedOut := n.awaitPriorTask(); timedOut != nil {
		return timedOut
	}

	task := newAddTask(endpoint)
	if !n.taskHolder.TrySet(task) {
		task.Ref.settle(TaskTimeout)
		return task.Ref
	}

	errCh := make(chan error, 1)
	n.exec.Submit(func() {
		if n.role == nil || n.role.Tag != RoleLeader {
			errCh <- raftcore.ErrNotLeader
			return
		}
		lastIndex := n.logStore.LastIndex()
		peer := n.group.Add(endpoint, false, lastIndex+1)
		task.State = TaskCatchingUp
		task.cancel = func() {
			if task.roundTimer != nil {
				task.roundTimer.Cancel()
			}
		}
		errCh <- nil
		n.startCatchUpRound(task, peer)
	})
	if err := <-errCh; err != nil {
		n.taskHolder.Clear(task)
		task.Ref.settle(TaskError)
		return task.Ref
	}
	return task.Ref
}

func (n *nodeImpl) runRemoveNode(id raftcore.NodeId) *TaskReference {
	if timedOut := n.awaitPriorTask(); timedOut != nil {
		return timedOut
	}

	task := newRemoveTask(id)
	if !n.taskHolder.TrySet(task) {
		task.Ref.settle(TaskTimeout)
		return task.Ref
	}

	errCh := make(chan error, 1)
	n.exec.Submit(func() {
		if n.role == nil || n.role.Tag != RoleLeader {
			errCh <- raftcore.ErrNotLeader
			return
		}
		if id != n.id {
			peer, ok := n.group.Get(id)
			if !ok {
				errCh <- errUnknownTarget
				return
			}
			peer.Removing = true
		}
		task.State = TaskReplicating
		entry := n.logStore.AppendLeader(raftcore.RemoveNode, n.role.Term, nil, &raftcore.GroupConfigEntry{
			TargetId:         id,
			PreChangeMembers: n.preChangeMembers(),
		})
		n.logger.Printf("appended RemoveNode(%s) at index %d", id, entry.Index)
		errCh <- nil
		n.replicateToAll()
	})
	if err := <-errCh; err != nil {
		n.taskHolder.Clear(task)
		task.Ref.settle(TaskError)
		return task.Ref
	}
	return task.Ref
}

// CancelGroupConfigChangeTask cancels the active membership-change task,
// if any. Runs on the main executor so the task's State mutation is
// serialized with every other writer of that field.
func (n *nodeImpl) CancelGroupConfigChangeTask() {
	done := make(chan struct{})
	n.exec.Submit(func() {
		n.taskHolder.Cancel()
		close(done)
	})
	<-done
}

// preChangeMembers snapshots the current major peer set, carried on a
// GroupConfigEntry so a later truncation can restore it exactly.
func (n *nodeImpl) preChangeMembers() map[raftcore.NodeId]raftcore.NodeEndpoint {
	out := make(map[raftcore.NodeId]raftcore.NodeEndpoint)
	for _, p := range n.group.Majors() {
		out[p.Endpoint.Id] = p.Endpoint
	}
	return out
}

// startCatchUpRound begins one addNode catch-up round targeting the log's
// current last index, arming a deadline timer.
func (n *nodeImpl) startCatchUpRound(task *GroupConfigChangeTask, peer *NodeState) {
	task.roundTarget = n.logStore.LastIndex()
	n.sendReplicationTo(peer)
	task.roundTimer = n.sched.AfterFunc(n.opts.NewNodeAdvanceTimeout, func() {
		n.exec.Submit(func() { n.onAddNodeRoundTimeout(task) })
	})
}

// onAddNodeRoundTimeout fires when a catch-up round misses its
// newNodeAdvanceTimeout deadline. A missed round still counts toward
// newNodeMaxRound; exhausting the budget settles TIMEOUT.
func (n *nodeImpl) onAddNodeRoundTimeout(task *GroupConfigChangeTask) {
	if n.taskHolder.Active() != task || task.State != TaskCatchingUp {
		return
	}
	peer, ok := n.group.Get(task.TargetId)
	if !ok {
		return
	}
	peer.Replicating.Round++
	if peer.Replicating.Round >= n.opts.NewNodeMaxRound {
		n.abandonAddNode(task, TaskTimeout)
		return
	}
	n.startCatchUpRound(task, peer)
}

// onCatchUpProgress is called after every successful AppendEntriesResult:
// it checks whether the replying peer is the target of an in-flight
// addNode catch-up and, if so, advances or concludes the round.
func (n *nodeImpl) onCatchUpProgress(peer *NodeState) {
	task := n.taskHolder.Active()
	if task == nil || task.Kind != TaskAddNode || task.TargetId != peer.Endpoint.Id {
		return
	}
	if task.State != TaskCatchingUp {
		return
	}
	if peer.Replicating.MatchIndex < task.roundTarget {
		return
	}
	if task.roundTimer != nil {
		task.roundTimer.Cancel()
		task.roundTimer = nil
	}

	currentLast := n.logStore.LastIndex()
	if currentLast == task.roundTarget {
		n.finishCatchUp(task, peer)
		return
	}

	peer.Replicating.Round++
	if peer.Replicating.Round >= n.opts.NewNodeMaxRound {
		n.abandonAddNode(task, TaskTimeout)
		return
	}
	n.startCatchUpRound(task, peer)
}

// abandonAddNode drops the never-caught-up catching-up peer from the
// group and settles the task.
func (n *nodeImpl) abandonAddNode(task *GroupConfigChangeTask, result TaskResult) {
	n.group.Remove(task.TargetId)
	n.taskHolder.Clear(task)
	task.State = TaskTimedOut
	task.Ref.settle(result)
}

// finishCatchUp appends the AddNode GroupConfigEntry once a round
// completes with no new entries having arrived in the meantime — the
// peer is now fully caught up.
func (n *nodeImpl) finishCatchUp(task *GroupConfigChangeTask, peer *NodeState) {
	task.State = TaskReplicating
	entry := n.logStore.AppendLeader(raftcore.AddNode, n.role.Term, nil, &raftcore.GroupConfigEntry{
		TargetEndpoint:   task.TargetEndpoint,
		TargetId:         task.TargetId,
		PreChangeMembers: n.preChangeMembers(),
	})
	n.logger.Printf("appended AddNode(%s) at index %d", task.TargetId, entry.Index)
	n.replicateToAll()
}

// drainLogEvents consumes every event currently buffered on the Log's
// single-reader channel without blocking. Called inline from within the
// main executor right after any log call that might have published one,
// so every event is handled on the same serialized goroutine as the
// mutation that produced it.
func (n *nodeImpl) drainLogEvents() {
	for {
		select {
		case ev := <-n.logStore.Events():
			n.handleLogEvent(ev)
		default:
			return
		}
	}
}

func (n *nodeImpl) handleLogEvent(ev corelog.Event) {
	switch ev.Kind {
	case corelog.EventConfigFromLeaderAppend:
		n.applyConfigOptimistically(ev.Entry)
	case corelog.EventConfigCommitted:
		n.finalizeConfigCommit(ev.Entry)
	case corelog.EventConfigBatchRemoved:
		n.revertConfig(ev.Entries)
	}
}

// applyConfigOptimistically handles a membership entry a follower observed
// from the leader before it committed: the change is applied optimistically,
// ahead of commit.
func (n *nodeImpl) applyConfigOptimistically(entry raftcore.LogEntry) {
	cfg := entry.GroupConfig
	if cfg == nil {
		return
	}
	switch entry.Kind {
	case raftcore.AddNode:
		if _, ok := n.group.Get(cfg.TargetId); !ok {
			n.group.Add(cfg.TargetEndpoint, false, entry.Index+1)
		}
	case raftcore.RemoveNode:
		if peer, ok := n.group.Get(cfg.TargetId); ok {
			peer.Removing = true
		}
	}
}

// finalizeConfigCommit finalizes a committed membership change and
// settles any matching active task.
func (n *nodeImpl) finalizeConfigCommit(entry raftcore.LogEntry) {
	cfg := entry.GroupConfig
	if cfg == nil {
		return
	}
	switch entry.Kind {
	case raftcore.AddNode:
		if peer, ok := n.group.Get(cfg.TargetId); ok {
			peer.Major = true
		}
	case raftcore.RemoveNode:
		wasSelf := cfg.TargetId == n.id
		if wasSelf {
			n.group.RemoveSelf()
		} else {
			n.group.Remove(cfg.TargetId)
		}
		if wasSelf && n.role.Tag == RoleLeader {
			n.becomeFollowerSameTerm("", false)
		}
	}

	if task := n.taskHolder.Active(); task != nil && task.TargetId == cfg.TargetId {
		n.taskHolder.Clear(task)
		task.State = TaskCommitted
		task.Ref.settle(TaskOK)
	}
}

// revertConfig handles a log-matching conflict that truncated one or more
// membership entries before they committed: the group reverts to the
// pre-change member set the first entry carried.
func (n *nodeImpl) revertConfig(entries []raftcore.LogEntry) {
	if len(entries) == 0 {
		return
	}
	if cfg := entries[0].GroupConfig; cfg != nil {
		n.group.RestoreMembers(cfg.PreChangeMembers)
	}
	for _, e := range entries {
		cfg := e.GroupConfig
		if cfg == nil {
			continue
		}
		if task := n.taskHolder.Active(); task != nil && task.TargetId == cfg.TargetId {
			n.taskHolder.Clear(task)
			task.State = TaskCancelledState
			task.Ref.settle(TaskReplicationFailed)
		}
	}
}
