// Package node implements the consensus core: the per-node decision
// engine that takes role-based actions in response to timer events,
// client requests and inbound RPCs, coordinating log replication, leader
// election, membership changes and snapshot installation.
//
// Every public entry point submits a closure to a serial Executor and
// returns; all state mutation happens inside that executor, in submission
// order, so that every transition is observable and testable. Tests drive
// the engine with DirectExecutor, which runs a submitted closure
// synchronously on the caller's goroutine.
package node

import (
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/oceanraft/raftcore"
	"github.com/oceanraft/raftcore/corelog"
	"github.com/oceanraft/raftcore/scheduler"
	"github.com/oceanraft/raftcore/store"
)

// Node is the public core API: start/stop, appending to the log,
// adding/removing members, cancelling an in-flight membership change, and
// reading the current role.
type Node interface {
	Start()
	Stop()

	AppendLog(payload []byte) (uint64, error)
	AddNode(endpoint raftcore.NodeEndpoint) (*TaskReference, error)
	RemoveNode(id raftcore.NodeId) (*TaskReference, error)
	CancelGroupConfigChangeTask()

	RoleState() RoleSnapshot

	// Deliver hands an inbound wire message to the node. Transports call
	// this; it is the only way a Connector's peer feeds events back in.
	Deliver(msg raftcore.Message)
}

// Config bundles every collaborator and option NewNode needs. Peers is
// the initial major member set, excluding Self.
type Config struct {
	Self  raftcore.NodeEndpoint
	Peers []raftcore.NodeEndpoint

	Store     store.NodeStore
	Log       corelog.Log
	Connector raftcore.Connector
	Scheduler scheduler.Scheduler
	Executor  Executor

	// MembershipExecutor serializes addNode/removeNode calls so that
	// waiters block the caller, not the main executor.
	MembershipExecutor Executor

	Options raftcore.Options

	Logger *log.Logger
}

type nodeImpl struct {
	id    raftcore.NodeId
	self  raftcore.NodeEndpoint

	logStore corelog.Log
	nodeStore store.NodeStore
	connector raftcore.Connector
	sched     scheduler.Scheduler
	exec      Executor
	memberExec Executor
	opts      raftcore.Options
	logger    *log.Logger

	mu sync.Mutex // guards started/stopped flags only; role/group mutation is executor-confined.
	started bool
	stopped bool

	role  *Role
	group *NodeGroup

	taskHolder *GroupConfigChangeTaskHolder

	// cachedHardState lets reads from outside the executor (e.g. a status
	// endpoint) observe (term, votedFor) without a torn read.
	cachedHardState store.HardState
	cachedMu        sync.RWMutex
}

// NewNode builds a Node from cfg. It does not start any timers; call
// Start for that.
func NewNode(cfg Config) Node {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "raftcore["+string(cfg.Self.Id)+"]: ", log.LstdFlags)
	}

	n := &nodeImpl{
		id:         cfg.Self.Id,
		self:       cfg.Self,
		logStore:   cfg.Log,
		nodeStore:  cfg.Store,
		connector:  cfg.Connector,
		sched:      cfg.Scheduler,
		exec:       cfg.Executor,
		memberExec: cfg.MembershipExecutor,
		opts:       cfg.Options,
		logger:     logger,
		group:      NewNodeGroup(cfg.Peers, 1),
		taskHolder: &GroupConfigChangeTaskHolder{},
	}
	return n
}

func (n *nodeImpl) setCachedHardState(hs store.HardState) {
	n.cachedMu.Lock()
	n.cachedHardState = hs
	n.cachedMu.Unlock()
}

// persist writes (term, votedFor) to the durable store and updates the
// read-outside-executor mirror, before returning. Every caller of persist
// must complete this call before emitting any RPC that reflects the new
// term/vote. A store write failure is fatal: the node cannot safely
// proceed without durable term/vote.
func (n *nodeImpl) persist(term raftcore.Term, votedFor raftcore.NodeId) {
	hs := store.HardState{Term: term, VotedFor: votedFor}
	if err := n.nodeStore.Save(hs); err != nil {
		n.logger.Fatalf("fatal: couldn't persist hard state: %v", err)
	}
	n.setCachedHardState(hs)
}

func (n *nodeImpl) Start() {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return
	}
	n.started = true
	n.mu.Unlock()

	n.exec.Submit(func() {
		hs, err := n.nodeStore.Load()
		if err != nil {
			n.logger.Fatalf("fatal: couldn't load hard state: %v", err)
		}
		n.setCachedHardState(hs)

		n.role = &Role{Tag: RoleFollower, Term: hs.Term, VotedFor: hs.VotedFor}
		n.armElectionTimer()
		n.logger.Printf("started at term %d", hs.Term)
	})
}

func (n *nodeImpl) Stop() {
	n.mu.Lock()
	if n.stopped || !n.started {
		n.stopped = true
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.mu.Unlock()

	n.exec.Submit(func() {
		if n.role != nil {
			n.role.cancelTimer()
		}
	})
	n.exec.Stop()
	n.memberExec.Stop()
}

func (n *nodeImpl) requireStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started && !n.stopped
}

func (n *nodeImpl) RoleState() RoleSnapshot {
	n.cachedMu.RLock()
	hs := n.cachedHardState
	n.cachedMu.RUnlock()

	result := make(chan RoleSnapshot, 1)
	n.exec.Submit(func() {
		if n.role == nil {
			result <- RoleSnapshot{Tag: RoleFollower, Term: hs.Term, VotedFor: hs.VotedFor}
			return
		}
		result <- n.role.snapshot()
	})
	return <-result
}

func (n *nodeImpl) Deliver(msg raftcore.Message) {
	if !n.requireStarted() {
		return
	}
	n.exec.Submit(func() {
		n.dispatch(msg)
	})
}

func (n *nodeImpl) dispatch(msg raftcore.Message) {
	if n.role == nil {
		// Start's closure hasn't run yet, or Stop already tore the role
		// down; either way there is nothing to dispatch against.
		n.logger.Printf("dropping message of type %T before the role is initialized", msg)
		return
	}
	switch m := msg.(type) {
	case raftcore.RequestVote:
		n.onReceiveRequestVote(m)
	case raftcore.RequestVoteResult:
		n.onReceiveRequestVoteResult(m)
	case raftcore.AppendEntries:
		n.onReceiveAppendEntries(m)
	case raftcore.AppendEntriesResult:
		n.onReceiveAppendEntriesResult(m)
	case raftcore.InstallSnapshot:
		n.onReceiveInstallSnapshot(m)
	case raftcore.InstallSnapshotResult:
		n.onReceiveInstallSnapshotResult(m)
	default:
		n.logger.Printf("dropping message of unknown type %T", msg)
	}
}

// randomElectionTimeout picks a duration uniformly in
// [ElectionTimeoutMin, ElectionTimeoutMax].
func (n *nodeImpl) randomElectionTimeout() time.Duration {
	lo := n.opts.ElectionTimeoutMin
	hi := n.opts.ElectionTimeoutMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}
