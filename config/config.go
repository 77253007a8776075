// Package config loads cmd/raftnode's settings from the environment via
// envconfig: struct-tag defaults under an env var prefix, log.Fatal on a
// bad load.
package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/oceanraft/raftcore"
)

// Config is every cmd/raftnode setting, loaded from RAFTCORE_*
// environment variables.
type Config struct {
	NodeId   string `required:"true"`
	Host     string `default:"127.0.0.1"`
	RPCPort  int    `default:"8001" split_words:"true"`
	HTTPPort int    `default:"8002" split_words:"true"`

	// JoinAddress is an existing cluster member's Serf gossip address;
	// empty starts a fresh cluster.
	JoinAddress string `split_words:"true"`

	// Peers is a comma-separated "id@host:port" list of the cluster's
	// initial major members, envconfig-split from RAFTCORE_PEERS.
	Peers []string

	StorePath string `default:"raftcore-state.json" split_words:"true"`

	ElectionTimeoutMin               time.Duration `default:"150ms" split_words:"true"`
	ElectionTimeoutMax               time.Duration `default:"300ms" split_words:"true"`
	MinReplicationInterval           time.Duration `default:"100ms" split_words:"true"`
	ReplicationInterval              time.Duration `default:"50ms" split_words:"true"`
	NewNodeMaxRound                  int           `default:"10" split_words:"true"`
	NewNodeAdvanceTimeout            time.Duration `default:"1s" split_words:"true"`
	PreviousGroupConfigChangeTimeout time.Duration `default:"5s" split_words:"true"`
	Standby                          bool          `default:"false"`
}

// Load reads Config from the environment under the RAFTCORE_ prefix,
// exiting the process on a malformed value.
func Load() *Config {
	var c Config
	if err := envconfig.Process("raftcore", &c); err != nil {
		log.Fatal(err)
	}
	log.Printf("raftcore: using config: %+v", c)
	return &c
}

// Options projects the replication/timeout settings into raftcore.Options.
func (c *Config) Options() raftcore.Options {
	return raftcore.Options{
		ElectionTimeoutMin:               c.ElectionTimeoutMin,
		ElectionTimeoutMax:               c.ElectionTimeoutMax,
		MinReplicationInterval:           c.MinReplicationInterval,
		ReplicationInterval:              c.ReplicationInterval,
		NewNodeMaxRound:                  c.NewNodeMaxRound,
		NewNodeAdvanceTimeout:            c.NewNodeAdvanceTimeout,
		PreviousGroupConfigChangeTimeout: c.PreviousGroupConfigChangeTimeout,
		Standby:                          c.Standby,
	}
}

// ParsePeers turns the "id@host:port" Peers strings into NodeEndpoints,
// excluding selfId (NodeGroup never carries an entry for the local node).
func (c *Config) ParsePeers(selfId raftcore.NodeId) ([]raftcore.NodeEndpoint, error) {
	var out []raftcore.NodeEndpoint
	for _, raw := range c.Peers {
		ep, err := parsePeer(raw)
		if err != nil {
			return nil, err
		}
		if ep.Id == selfId {
			continue
		}
		out = append(out, ep)
	}
	return out, nil
}
