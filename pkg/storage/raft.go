package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// RaftStorage bundles what a raft node persists
// logstore : raft log entries (room inserts)
// stablestore : raft metadata that must survive restarts (term, vote)
// snapshotstore : snapshots of the room registry
type RaftStorage struct {
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore

	db *raftboltdb.BoltStore
}

// retained registry snapshots
const snapshotsRetained = 3

func NewRaftStorage(dataDir string, logger hclog.Logger) (*RaftStorage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raft dir: %w", err)
	}

	//one bolt file serves as both log and stable store
	boltDB, err := raftboltdb.New(raftboltdb.Options{
		Path: filepath.Join(dataDir, "raft.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("open raft log: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStoreWithLogger(filepath.Join(dataDir, "snapshots"), snapshotsRetained, logger)
	if err != nil {
		boltDB.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	return &RaftStorage{
		LogStore:      boltDB,
		StableStore:   boltDB,
		SnapshotStore: snapshots,
		db:            boltDB,
	}, nil
}

func (s *RaftStorage) Close() error {
	return s.db.Close()
}
