package transport

import (
	"fmt"
	"log"
	"strconv"

	"github.com/hashicorp/serf/serf"
	"github.com/pkg/errors"

	"github.com/oceanraft/raftcore"
)

// raftPortTag is the Serf member tag a Directory publishes so peers
// learn each other's gRPC listen port over gossip, not just their Serf
// gossip port (grounded on raft/cluster/cluster.go's setupCluster, widened
// with a tag since that corpus hardcodes a single well-known gRPC port).
const raftPortTag = "raftcore_port"

// Directory resolves a NodeId to a dialable "host:port" using a
// HashiCorp Serf cluster as the membership gossip layer.
type Directory struct {
	cluster *serf.Serf
}

// NewDirectory starts (or joins, via joinAddr) a Serf cluster under
// nodeName, advertising raftPort as this node's gRPC listen port.
func NewDirectory(nodeName string, raftPort int, joinAddr string) (*Directory, error) {
	conf := serf.DefaultConfig()
	conf.Init()
	conf.MemberlistConfig.Name = nodeName
	conf.Tags = map[string]string{raftPortTag: strconv.Itoa(raftPort)}

	cluster, err := serf.Create(conf)
	if err != nil {
		return nil, errors.Wrap(err, "transport: couldn't create serf cluster")
	}

	if joinAddr != "" {
		if _, err := cluster.Join([]string{joinAddr}, true); err != nil {
			log.Printf("transport: couldn't join cluster via %s, starting own: %v", joinAddr, err)
		}
	}

	return &Directory{cluster: cluster}, nil
}

// Resolve returns the dialable address of the named member, or an error
// if it is unknown or not currently alive.
func (d *Directory) Resolve(id raftcore.NodeId) (string, error) {
	for _, m := range d.cluster.Members() {
		if m.Name != string(id) || m.Status != serf.StatusAlive {
			continue
		}
		port := m.Tags[raftPortTag]
		if port == "" {
			return "", errors.Errorf("transport: member %s has no %s tag", id, raftPortTag)
		}
		return fmt.Sprintf("%s:%s", m.Addr, port), nil
	}
	return "", errors.Errorf("transport: no such member: %s", id)
}

// Leave removes this node from the Serf cluster gracefully.
func (d *Directory) Leave() error {
	return d.cluster.Leave()
}
