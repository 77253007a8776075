package raftcore

// MessageKind discriminates the wire messages a Connector carries. It lets
// a transport pick the right concrete type out of an Envelope without
// resorting to a Go type switch over every RPC struct at the call site.
type MessageKind int

const (
	KindRequestVote MessageKind = iota
	KindRequestVoteResult
	KindAppendEntries
	KindAppendEntriesResult
	KindInstallSnapshot
	KindInstallSnapshotResult
)

// Message is satisfied by every RPC and RPC-result struct below. It exists
// only to let Connector.Send take a single argument type. The core
// dispatches on the concrete type; Kind is what the transport uses to
// route the wire encoding.
type Message interface {
	Kind() MessageKind
}

// RequestVote is sent by a candidate to every major peer when it starts an
// election.
type RequestVote struct {
	Term         Term
	CandidateId  NodeId
	LastLogIndex uint64
	LastLogTerm  Term
}

func (RequestVote) Kind() MessageKind { return KindRequestVote }

// RequestVoteResult is the reply to a RequestVote.
type RequestVoteResult struct {
	Term        Term
	VoteGranted bool

	// From is not part of the Raft paper's wire format; it lets the
	// receiving node's transport layer route the reply back into the
	// right NodeImpl without a response channel, since Connector is
	// send-only in both directions.
	From NodeId
}

func (RequestVoteResult) Kind() MessageKind { return KindRequestVoteResult }

// AppendEntries replicates zero or more log entries, or serves as a
// heartbeat when Entries is empty.
type AppendEntries struct {
	Term         Term
	LeaderId     NodeId
	PrevLogIndex uint64
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit uint64
}

func (AppendEntries) Kind() MessageKind { return KindAppendEntries }

// AppendEntriesResult is the reply to an AppendEntries. PrevLogIndex and
// NumEntries echo enough of the original request that the leader can
// recompute matchIndex idempotently even if replies are reordered or
// duplicated.
type AppendEntriesResult struct {
	Term    Term
	Success bool

	PrevLogIndex uint64
	NumEntries   int

	From NodeId
}

func (AppendEntriesResult) Kind() MessageKind { return KindAppendEntriesResult }

// InstallSnapshot streams a snapshot chunk to a peer whose required log
// prefix has been compacted away on the leader.
type InstallSnapshot struct {
	Term              Term
	LeaderId          NodeId
	LastIncludedIndex uint64
	LastIncludedTerm  Term
	Offset            uint64
	Data              []byte
	Done              bool
}

func (InstallSnapshot) Kind() MessageKind { return KindInstallSnapshot }

// InstallSnapshotResult is the reply to an InstallSnapshot chunk.
type InstallSnapshotResult struct {
	Term Term
	Done bool

	From NodeId
}

func (InstallSnapshotResult) Kind() MessageKind { return KindInstallSnapshotResult }
