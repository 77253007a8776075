// Package store persists the one thing a Raft node cannot afford to lose
// across a crash-restart: (currentTerm, votedFor). It is written atomically
// from the node's serial executor and may be read from other goroutines.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/oceanraft/raftcore"
)

// HardState is the durable (currentTerm, votedFor) cell. VotedFor is empty
// when the node has not voted this term.
type HardState struct {
	Term     raftcore.Term  `json:"term"`
	VotedFor raftcore.NodeId `json:"voted_for"`
}

// NodeStore is the durable (currentTerm, votedFor) collaborator. Writes
// must be atomic: a reader must never observe a torn write.
type NodeStore interface {
	Load() (HardState, error)
	Save(state HardState) error
}

// fileStore persists HardState as JSON, writing to a temp file and
// renaming over the target so a crash mid-write never leaves a torn file
// behind.
type fileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a NodeStore backed by a JSON file at path. The file
// need not exist yet; Load returns the zero HardState (term 0, no vote)
// until the first Save.
func NewFileStore(path string) NodeStore {
	return &fileStore{path: path}
}

func (s *fileStore) Load() (HardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hs HardState
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return hs, nil
		}
		return hs, errors.Wrap(err, "couldn't open persisted hard state")
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&hs); err != nil {
		return HardState{}, errors.Wrap(err, "hard state file corrupted")
	}
	return hs, nil
}

func (s *fileStore) Save(state HardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "hardstate-*.tmp")
	if err != nil {
		return errors.Wrap(err, "couldn't create temp file to persist hard state")
	}
	tmpPath := tmp.Name()

	if err := json.NewEncoder(tmp).Encode(&state); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "couldn't encode hard state")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "couldn't fsync hard state")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "couldn't close temp hard state file")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "couldn't persist hard state")
	}
	return nil
}

// memStore is an in-memory NodeStore used by tests that don't want to touch
// the filesystem.
type memStore struct {
	mu    sync.Mutex
	state HardState
}

// NewMemStore returns a NodeStore that keeps HardState only in memory; it
// does not survive a restart and is meant for tests.
func NewMemStore() NodeStore {
	return &memStore{}
}

func (s *memStore) Load() (HardState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *memStore) Save(state HardState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}
