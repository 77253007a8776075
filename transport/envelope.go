// Package transport implements raftcore.Connector over gRPC, wire-encoded
// with encoding/gob instead of protobuf — there is no protoc toolchain
// available to generate message stubs in this environment, so the
// service is described by hand (grpc.ServiceDesc) and every message is
// carried inside a single gob-encoded Envelope. Peer discovery rides on
// HashiCorp Serf.
package transport

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/oceanraft/raftcore"
)

// envelopeKind mirrors raftcore.MessageKind so a decoded Envelope can be
// turned back into the right concrete Message without a type switch over
// every possibility at the call site.
type envelopeKind = raftcore.MessageKind

// Envelope is the only thing that ever crosses the wire: one message,
// tagged with its kind, gob-encoded as opaque bytes. gob needs a
// concrete, addressable type to decode into, which is why Payload is
// bytes rather than a raftcore.Message interface value directly:
// DecodeEnvelope picks the concrete type from Kind and decodes Payload
// into it. The init below also registers every concrete message type
// with gob.
type Envelope struct {
	Kind    envelopeKind
	Payload []byte
}

func init() {
	gob.Register(raftcore.RequestVote{})
	gob.Register(raftcore.RequestVoteResult{})
	gob.Register(raftcore.AppendEntries{})
	gob.Register(raftcore.AppendEntriesResult{})
	gob.Register(raftcore.InstallSnapshot{})
	gob.Register(raftcore.InstallSnapshotResult{})
}

// EncodeEnvelope builds the Envelope for an outbound Message.
func EncodeEnvelope(msg raftcore.Message) (Envelope, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return Envelope{}, errors.Wrap(err, "transport: encode message payload")
	}
	return Envelope{Kind: msg.Kind(), Payload: buf.Bytes()}, nil
}

// DecodeEnvelope recovers the concrete Message an Envelope carries.
func DecodeEnvelope(env Envelope) (raftcore.Message, error) {
	dec := gob.NewDecoder(bytes.NewReader(env.Payload))
	switch env.Kind {
	case raftcore.KindRequestVote:
		var m raftcore.RequestVote
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "transport: decode RequestVote")
		}
		return m, nil
	case raftcore.KindRequestVoteResult:
		var m raftcore.RequestVoteResult
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "transport: decode RequestVoteResult")
		}
		return m, nil
	case raftcore.KindAppendEntries:
		var m raftcore.AppendEntries
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "transport: decode AppendEntries")
		}
		return m, nil
	case raftcore.KindAppendEntriesResult:
		var m raftcore.AppendEntriesResult
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "transport: decode AppendEntriesResult")
		}
		return m, nil
	case raftcore.KindInstallSnapshot:
		var m raftcore.InstallSnapshot
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "transport: decode InstallSnapshot")
		}
		return m, nil
	case raftcore.KindInstallSnapshotResult:
		var m raftcore.InstallSnapshotResult
		if err := dec.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "transport: decode InstallSnapshotResult")
		}
		return m, nil
	default:
		return nil, errors.Errorf("transport: unknown message kind %v", env.Kind)
	}
}
