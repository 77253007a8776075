package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/oceanraft/raftcore"
)

// parsePeer parses "id@host:port" into a NodeEndpoint.
func parsePeer(raw string) (raftcore.NodeEndpoint, error) {
	idAndAddr := strings.SplitN(raw, "@", 2)
	if len(idAndAddr) != 2 {
		return raftcore.NodeEndpoint{}, errors.Errorf("config: malformed peer %q, want id@host:port", raw)
	}

	hostAndPort := strings.SplitN(idAndAddr[1], ":", 2)
	if len(hostAndPort) != 2 {
		return raftcore.NodeEndpoint{}, errors.Errorf("config: malformed peer %q, want id@host:port", raw)
	}
	port, err := strconv.Atoi(hostAndPort[1])
	if err != nil {
		return raftcore.NodeEndpoint{}, errors.Wrapf(err, "config: malformed peer port in %q", raw)
	}

	return raftcore.NodeEndpoint{
		Id:   raftcore.NodeId(idAndAddr[0]),
		Host: hostAndPort[0],
		Port: port,
	}, nil
}
