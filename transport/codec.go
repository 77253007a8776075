package transport

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// gobCodec is a google.golang.org/grpc/encoding.Codec backed by
// encoding/gob. grpc.ForceCodec/grpc.ForceServerCodec (dial/server
// options set up in NewServer/dial) make every call on the Raft service
// use it instead of the default proto codec, so Envelope never needs to
// implement proto.Message.
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("transport: gob marshal: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("transport: gob unmarshal: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return "gob" }
