// Package store persists the two values Fast Leader Election reads from
// "the transaction log / data tree" collaborator at the start of every
// round: the last logged zxid and the current peer epoch. It deliberately
// stores nothing else — in particular never the election-epoch/logical
// clock, which spec.md's design notes call out as a value that must stay
// in memory only (a restart should not be able to replay a stale round
// number back into a fresh election).
package store

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"quorumkeeper/internal/fle"
)

var (
	epochBucket   = []byte("epoch")
	zxidKey       = []byte("lastLoggedZxid")
	currentEpoch  = []byte("currentEpoch")
)

// EpochStore is a bbolt-backed fle.EpochSource, adapted from the ambient
// stack's metadata-bucket persistence pattern down to the two keys FLE
// itself needs.
type EpochStore struct {
	conn *bbolt.DB
}

// Open opens (creating if needed) a bbolt database at path and ensures the
// epoch bucket exists.
func Open(path string) (*EpochStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(epochBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating epoch bucket: %w", err)
	}

	return &EpochStore{conn: db}, nil
}

// LastLoggedZxid implements fle.EpochSource, defaulting to zxid 0 for a
// freshly created store.
func (s *EpochStore) LastLoggedZxid() (fle.Zxid, error) {
	var z fle.Zxid
	err := s.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(epochBucket).Get(zxidKey)
		if data == nil {
			return nil
		}
		z = fle.Zxid(binary.BigEndian.Uint64(data))
		return nil
	})
	return z, err
}

// SetLastLoggedZxid persists the highest zxid this peer has logged, called
// by the (out of scope) atomic broadcast layer as it commits transactions.
func (s *EpochStore) SetLastLoggedZxid(z fle.Zxid) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(z))
		return tx.Bucket(epochBucket).Put(zxidKey, buf)
	})
}

// CurrentEpoch implements fle.EpochSource, defaulting to epoch 0 for a
// freshly created store.
func (s *EpochStore) CurrentEpoch() (fle.Epoch, error) {
	var e fle.Epoch
	err := s.conn.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(epochBucket).Get(currentEpoch)
		if data == nil {
			return nil
		}
		e = fle.Epoch(binary.BigEndian.Uint64(data))
		return nil
	})
	return e, err
}

// SetCurrentEpoch persists the peer epoch this server last accepted,
// called once a round decides and the server enters FOLLOWING or LEADING
// under the new epoch.
func (s *EpochStore) SetCurrentEpoch(e fle.Epoch) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(e))
		return tx.Bucket(epochBucket).Put(currentEpoch, buf)
	})
}

// Close closes the underlying database.
func (s *EpochStore) Close() error {
	return s.conn.Close()
}
