package node

import "sync"

// Executor runs submitted closures one at a time, in submission order.
// Every mutation to Role, NodeGroup, per-peer ReplicatingState and the
// cached (term, votedFor) flows through exactly one Executor per node,
// so that no two transitions can race.
type Executor interface {
	// Submit enqueues fn to run on the executor and returns immediately.
	Submit(fn func())
	// Stop shuts the executor down; closures still queued when it is
	// called may or may not run. Submit after Stop is a no-op.
	Stop()
}

// goExecutor is a single-goroutine-backed Executor: a buffered channel of
// closures drained by one worker goroutine. It accepts both periodic
// ticks and ad hoc submissions (RPC handlers, client calls) through the
// same queue, so every one runs serialized against every other.
type goExecutor struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// NewExecutor returns a production Executor backed by one worker
// goroutine.
func NewExecutor() Executor {
	e := &goExecutor{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *goExecutor) loop() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.done:
			return
		}
	}
}

func (e *goExecutor) Submit(fn func()) {
	select {
	case <-e.done:
		return
	default:
	}
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

func (e *goExecutor) Stop() {
	e.once.Do(func() {
		close(e.done)
	})
}

// DirectExecutor runs every submitted closure synchronously, on the
// caller's goroutine. It makes every role transition and RPC handler
// deterministic and single-threaded, which is what tests want: no
// timing-dependent interleaving to reason about.
type DirectExecutor struct{}

func (DirectExecutor) Submit(fn func()) { fn() }
func (DirectExecutor) Stop()            {}
