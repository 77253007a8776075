package node

import (
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/oceanraft/raftcore"
	"github.com/oceanraft/raftcore/scheduler"
)

// TaskResult is the settled outcome of a GroupConfigChangeTask.
type TaskResult int

const (
	TaskOK TaskResult = iota
	TaskTimeout
	TaskError
	TaskReplicationFailed
	TaskCancelled
)

func (r TaskResult) String() string {
	switch r {
	case TaskOK:
		return "OK"
	case TaskTimeout:
		return "TIMEOUT"
	case TaskError:
		return "ERROR"
	case TaskReplicationFailed:
		return "REPLICATION_FAILED"
	case TaskCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// TaskReference is the handle addNode/removeNode return to a caller. Its
// future settles exactly once; GetResult may be called any number of
// times and after the first settlement always returns the same value.
type TaskReference struct {
	id string

	once   sync.Once
	done   chan struct{}
	result TaskResult
}

func newTaskReference() *TaskReference {
	return &TaskReference{
		id:   uuid.NewV4().String(),
		done: make(chan struct{}),
	}
}

func (t *TaskReference) settle(result TaskResult) {
	t.once.Do(func() {
		t.result = result
		close(t.done)
	})
}

// GetResult blocks until the task settles or timeout elapses, whichever
// comes first. A zero or negative timeout waits forever.
func (t *TaskReference) GetResult(timeout time.Duration) (TaskResult, error) {
	if timeout <= 0 {
		<-t.done
		return t.result, resultErr(t.result)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return t.result, resultErr(t.result)
	case <-timer.C:
		return TaskTimeout, raftcore.ErrTimeout
	}
}

// resultErr maps a settled TaskResult to the error GetResult reports for
// it.
func resultErr(r TaskResult) error {
	switch r {
	case TaskReplicationFailed:
		return raftcore.ErrReplicationFailed
	case TaskCancelled:
		return raftcore.ErrCancelled
	case TaskTimeout:
		return raftcore.ErrTimeout
	default:
		return nil
	}
}

// waitForSettle blocks until the task settles or timeout elapses. Unlike
// GetResult, a still-active task after timeout is reported as
// ErrTaskInFlight rather than ErrTimeout: this is used internally by a
// new task waiting its turn behind this one, not by a caller waiting on
// this task's own outcome.
func (t *TaskReference) waitForSettle(timeout time.Duration) error {
	if timeout <= 0 {
		<-t.done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
		return raftcore.ErrTaskInFlight
	}
}

// TaskKind discriminates an add from a remove membership change.
type TaskKind int

const (
	TaskAddNode TaskKind = iota
	TaskRemoveNode
)

// TaskState is the GroupConfigChangeTask's progress through its lifecycle.
type TaskState int

const (
	TaskAwaiting TaskState = iota
	TaskCatchingUp
	TaskReplicating
	TaskCommitted
	TaskTimedOut
	TaskCancelledState
)

// GroupConfigChangeTask tracks the one in-flight membership change a node
// may have at a time.
type GroupConfigChangeTask struct {
	Kind           TaskKind
	TargetEndpoint raftcore.NodeEndpoint
	TargetId       raftcore.NodeId
	State          TaskState
	Ref            *TaskReference

	// roundTarget and roundTimer back the addNode catch-up loop:
	// roundTarget is the last log index the current round must reach;
	// roundTimer fires if it doesn't within newNodeAdvanceTimeout.
	roundTarget uint64
	roundTimer  scheduler.Handle

	// cancel, set by the node package, lets cancelGroupConfigChangeTask
	// interrupt an in-progress catch-up loop.
	cancel func()
}

func newAddTask(endpoint raftcore.NodeEndpoint) *GroupConfigChangeTask {
	return &GroupConfigChangeTask{
		Kind:           TaskAddNode,
		TargetEndpoint: endpoint,
		TargetId:       endpoint.Id,
		State:          TaskAwaiting,
		Ref:            newTaskReference(),
	}
}

func newRemoveTask(id raftcore.NodeId) *GroupConfigChangeTask {
	return &GroupConfigChangeTask{
		Kind:     TaskRemoveNode,
		TargetId: id,
		State:    TaskAwaiting,
		Ref:      newTaskReference(),
	}
}

// GroupConfigChangeTaskHolder holds the at-most-one in-flight membership
// change task a node may run at a time.
type GroupConfigChangeTaskHolder struct {
	mu     sync.Mutex
	active *GroupConfigChangeTask
}

func (h *GroupConfigChangeTaskHolder) Active() *GroupConfigChangeTask {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// TrySet installs task as the active task iff none is active. Returns
// false (without installing) if one is already active.
func (h *GroupConfigChangeTaskHolder) TrySet(task *GroupConfigChangeTask) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil {
		return false
	}
	h.active = task
	return true
}

// Clear removes the active task iff it is the one given (prevents a
// stale completion from clobbering a newer task).
func (h *GroupConfigChangeTaskHolder) Clear(task *GroupConfigChangeTask) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == task {
		h.active = nil
	}
}

// Cancel resolves the active task's future with Cancelled and releases
// the holder.
func (h *GroupConfigChangeTaskHolder) Cancel() {
	h.mu.Lock()
	task := h.active
	h.active = nil
	h.mu.Unlock()

	if task == nil {
		return
	}
	if task.cancel != nil {
		task.cancel()
	}
	task.State = TaskCancelledState
	task.Ref.settle(TaskCancelled)
}
