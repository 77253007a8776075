// Package corelog implements the Log collaborator: append, truncate,
// commit-index tracking and snapshot installation, plus three
// membership-change events it publishes as membership entries are
// appended from a leader, truncated, or committed. It carries a snapshot boundary alongside the entry slice and
// discerns leader-local appends from follower-applied ones, the
// distinction EventConfigFromLeaderAppend needs.
package corelog

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/uber-go/atomic"

	"github.com/oceanraft/raftcore"
)

// ErrNoSuchEntry is returned by Get for an index outside [firstIndex,
// lastIndex]. Term reports the same case with ok == false.
var ErrNoSuchEntry = errors.New("corelog: no such entry")

// EventKind discriminates the values delivered on Log.Events().
type EventKind int

const (
	// EventConfigFromLeaderAppend fires when a follower appends an
	// AddNode/RemoveNode entry replicated from the leader, before it is
	// committed. The core applies the membership change optimistically.
	EventConfigFromLeaderAppend EventKind = iota
	// EventConfigCommitted fires when an AddNode/RemoveNode entry crosses
	// the commit index. The core finalizes the membership change.
	EventConfigCommitted
	// EventConfigBatchRemoved fires when a truncated suffix contained one
	// or more AddNode/RemoveNode entries. The core reverts to the
	// pre-change member set carried by the first such entry.
	EventConfigBatchRemoved
)

// Event is delivered on the single-reader channel returned by Log.Events.
// Only one of Entry/Entries is populated, matching Kind.
type Event struct {
	Kind    EventKind
	Entry   raftcore.LogEntry
	Entries []raftcore.LogEntry
}

// Log is the durable, append-only replicated log plus its commit-index and
// snapshot bookkeeping. Implementations synchronize internally; all
// operations are safe to call from the node package's serial executor
// without any additional locking.
type Log interface {
	// AppendLeader appends a single entry authored locally by a leader
	// (NoOp, General, or a membership-change proposal) and returns its
	// index. No event is published for this path: the leader already
	// knows about its own proposal.
	AppendLeader(kind raftcore.EntryKind, term raftcore.Term, payload []byte, cfg *raftcore.GroupConfigEntry) raftcore.LogEntry

	// AppendFollower appends entries replicated from a leader (log-matching
	// truncation must already have happened via TruncateFrom). Publishes
	// EventConfigFromLeaderAppend for every membership-change entry
	// appended.
	AppendFollower(entries []raftcore.LogEntry)

	// TruncateFrom removes every entry at index >= from, returning the
	// removed entries. Publishes EventConfigBatchRemoved if any removed
	// entry carried a membership change.
	TruncateFrom(from uint64) []raftcore.LogEntry

	// AdvanceCommit moves the commit index forward to newCommit (a no-op
	// if newCommit <= CommitIndex()). The commit index is updated before
	// EventConfigCommitted is published for every membership-change entry
	// newly committed, in index order.
	AdvanceCommit(newCommit uint64)

	Get(index uint64) (raftcore.LogEntry, error)
	Exists(index uint64, term raftcore.Term) bool
	Term(index uint64) (raftcore.Term, bool)

	FirstIndex() uint64
	LastIndex() uint64
	LastTerm() raftcore.Term
	CommitIndex() uint64

	// InstallSnapshot resets the log to begin at lastIncludedIndex+1; any
	// entries at or below lastIncludedIndex are discarded, and entries
	// above it are kept if their term matches the new prefix. data is
	// retained verbatim and handed back by SnapshotData, covering both the
	// leader side (recording a snapshot the out-of-scope state machine
	// produced, to serve to lagging peers) and the follower side (storing
	// what InstallSnapshot RPCs delivered).
	InstallSnapshot(lastIncludedIndex uint64, lastIncludedTerm raftcore.Term, data []byte)

	// SnapshotData returns the most recent snapshot's boundary and bytes.
	// lastIncludedIndex is 0 if no snapshot has ever been installed.
	SnapshotData() (lastIncludedIndex uint64, lastIncludedTerm raftcore.Term, data []byte)

	// Events returns the single-reader event channel. Only the node
	// package's serial executor may read from it.
	Events() <-chan Event
}

type memoryLog struct {
	mu sync.Mutex

	// entries[i] holds the entry at index firstIndex+i.
	entries     []raftcore.LogEntry
	firstIndex  uint64
	snapshotTerm raftcore.Term
	snapshotIndex uint64
	snapshotData []byte

	commitIndex *atomic.Uint64

	events chan Event
}

// NewMemoryLog returns a Log starting empty at firstIndex 1 (no snapshot).
func NewMemoryLog() Log {
	return &memoryLog{
		entries:     nil,
		firstIndex:  1,
		commitIndex: atomic.NewUint64(0),
		events:      make(chan Event, 64),
	}
}

func (l *memoryLog) Events() <-chan Event {
	return l.events
}

func (l *memoryLog) publish(ev Event) {
	// Buffered best-effort delivery: the node's serial executor is the
	// only reader and drains this promptly. A full channel would mean the
	// executor is stuck, which is already a fatal condition.
	select {
	case l.events <- ev:
	default:
		l.events <- ev
	}
}

func (l *memoryLog) indexOf(index uint64) (int, bool) {
	if index < l.firstIndex {
		return 0, false
	}
	i := int(index - l.firstIndex)
	if i >= len(l.entries) {
		return 0, false
	}
	return i, true
}

func (l *memoryLog) AppendLeader(kind raftcore.EntryKind, term raftcore.Term, payload []byte, cfg *raftcore.GroupConfigEntry) raftcore.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := raftcore.LogEntry{
		Index:       l.lastIndexLocked() + 1,
		Term:        term,
		Kind:        kind,
		Payload:     payload,
		GroupConfig: cfg,
	}
	l.entries = append(l.entries, entry)
	return entry
}

func (l *memoryLog) AppendFollower(entries []raftcore.LogEntry) {
	l.mu.Lock()
	var configEntries []raftcore.LogEntry
	for _, e := range entries {
		l.entries = append(l.entries, e)
		if e.Kind == raftcore.AddNode || e.Kind == raftcore.RemoveNode {
			configEntries = append(configEntries, e)
		}
	}
	l.mu.Unlock()

	for _, e := range configEntries {
		l.publish(Event{Kind: EventConfigFromLeaderAppend, Entry: e})
	}
}

func (l *memoryLog) TruncateFrom(from uint64) []raftcore.LogEntry {
	l.mu.Lock()
	i, ok := l.indexOf(from)
	if !ok {
		l.mu.Unlock()
		return nil
	}
	removed := append([]raftcore.LogEntry(nil), l.entries[i:]...)
	l.entries = l.entries[:i]
	l.mu.Unlock()

	var configEntries []raftcore.LogEntry
	for _, e := range removed {
		if e.Kind == raftcore.AddNode || e.Kind == raftcore.RemoveNode {
			configEntries = append(configEntries, e)
		}
	}
	if len(configEntries) > 0 {
		l.publish(Event{Kind: EventConfigBatchRemoved, Entries: configEntries})
	}
	return removed
}

func (l *memoryLog) AdvanceCommit(newCommit uint64) {
	l.mu.Lock()
	old := l.commitIndex.Load()
	if newCommit <= old {
		l.mu.Unlock()
		return
	}
	var toNotify []raftcore.LogEntry
	for idx := old + 1; idx <= newCommit; idx++ {
		if i, ok := l.indexOf(idx); ok {
			e := l.entries[i]
			if e.Kind == raftcore.AddNode || e.Kind == raftcore.RemoveNode {
				toNotify = append(toNotify, e)
			}
		}
	}
	l.commitIndex.Store(newCommit)
	l.mu.Unlock()

	for _, e := range toNotify {
		l.publish(Event{Kind: EventConfigCommitted, Entry: e})
	}
}

func (l *memoryLog) Get(index uint64) (raftcore.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.indexOf(index)
	if !ok {
		return raftcore.LogEntry{}, ErrNoSuchEntry
	}
	return l.entries[i], nil
}

func (l *memoryLog) Exists(index uint64, term raftcore.Term) bool {
	if index == 0 {
		return true
	}
	t, ok := l.Term(index)
	return ok && t == term
}

func (l *memoryLog) Term(index uint64) (raftcore.Term, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index == l.firstIndex-1 {
		return l.snapshotTerm, true
	}
	i, ok := l.indexOf(index)
	if !ok {
		return 0, false
	}
	return l.entries[i].Term, true
}

func (l *memoryLog) FirstIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstIndex
}

func (l *memoryLog) lastIndexLocked() uint64 {
	return l.firstIndex - 1 + uint64(len(l.entries))
}

func (l *memoryLog) LastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIndexLocked()
}

func (l *memoryLog) LastTerm() raftcore.Term {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return l.snapshotTerm
	}
	return l.entries[len(l.entries)-1].Term
}

func (l *memoryLog) CommitIndex() uint64 {
	return l.commitIndex.Load()
}

func (l *memoryLog) InstallSnapshot(lastIncludedIndex uint64, lastIncludedTerm raftcore.Term, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lastIncludedIndex >= l.firstIndex-1 {
		if i, ok := l.indexOf(lastIncludedIndex); ok && l.entries[i].Term == lastIncludedTerm {
			l.entries = l.entries[i+1:]
		} else {
			l.entries = nil
		}
		l.firstIndex = lastIncludedIndex + 1
		l.snapshotTerm = lastIncludedTerm
		if l.commitIndex.Load() < lastIncludedIndex {
			l.commitIndex.Store(lastIncludedIndex)
		}
	}
	l.snapshotIndex = lastIncludedIndex
	l.snapshotData = data
}

func (l *memoryLog) SnapshotData() (uint64, raftcore.Term, []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotIndex, l.snapshotTerm, l.snapshotData
}
