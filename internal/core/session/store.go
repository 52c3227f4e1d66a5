package session

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/treesync/treesync/internal/core/dependency"
	"github.com/treesync/treesync/internal/core/observability/log"
)

const bucketSessions = "sessions"

// Checkpoint is the durable footprint of a session. It carries the
// sequence counters and the sent-dependency set, not the trees: after a
// restart the application rebuilds its trees and the client receives a
// full resynchronization, while already-delivered dependencies stay
// filtered out.
type Checkpoint struct {
	SessionID string                 `json:"sessionId"`
	SavedAt   time.Time              `json:"savedAt"`
	UIs       map[int]UICheckpoint   `json:"uis"`
	Sent      []dependency.SentEntry `json:"sent"`
}

// UICheckpoint preserves one UI's wire counters.
type UICheckpoint struct {
	SyncID       int `json:"syncId"`
	LastClientID int `json:"lastClientId"`
}

// Store persists session checkpoints in a bbolt file, one record per
// session id.
type Store struct {
	db  *bolt.DB
	log log.Log
}

// OpenStore opens (or creates) the checkpoint database at path.
func OpenStore(path string, logger log.Log) (*Store, error) {
	if logger == nil {
		logger = log.Nop()
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open session store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketSessions))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initialize session store")
	}
	return &Store{db: db, log: logger}, nil
}

// Save writes one session checkpoint, replacing any previous one.
func (st *Store) Save(cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrapf(err, "encode checkpoint %s", cp.SessionID)
	}
	return st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSessions)).Put([]byte(cp.SessionID), raw)
	})
}

// Load reads the checkpoint for a session id. The second return value
// reports whether one existed.
func (st *Store) Load(sessionID string) (Checkpoint, bool, error) {
	var cp Checkpoint
	found := false
	err := st.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketSessions)).Get([]byte(sessionID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &cp)
	})
	if err != nil {
		return Checkpoint{}, false, errors.Wrapf(err, "load checkpoint %s", sessionID)
	}
	return cp, found, nil
}

// Delete removes a session's checkpoint. Called when the session ends,
// so a closed session's dependency history dies with it.
func (st *Store) Delete(sessionID string) error {
	return st.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSessions)).Delete([]byte(sessionID))
	})
}

// SessionIDs lists every checkpointed session.
func (st *Store) SessionIDs() ([]string, error) {
	var ids []string
	err := st.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSessions)).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (st *Store) Close() error {
	return st.db.Close()
}
