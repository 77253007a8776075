package raftcore

// Connector is the out-of-scope wire-transport collaborator: a send-only
// sink for RPCs addressed by NodeId. The core never waits synchronously
// for a response — a reply (RequestVoteResult, AppendEntriesResult,
// InstallSnapshotResult) travels back to the sender as its own Send call,
// routed by the transport into the receiving node the same way a request
// is.
type Connector interface {
	Send(to NodeId, msg Message)
}
