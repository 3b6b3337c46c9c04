// Package histstore keeps the locally cached message history in a bbolt
// database so a restarted session can page backwards without refetching
// everything from the server.
package histstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketMessages = []byte("messages")
	bucketIndex    = []byte("message_index")
	bucketMeta     = []byte("meta")
)

var (
	keyRevision        = []byte("revision")
	keyHistoryRevision = []byte("history_revision")
	keyPageID          = []byte("page_id")
	keyAuthToken       = []byte("auth_token")
)

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketIndex, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertMessage stores a message keyed by its server timestamp and
// maintains the clientSideId index used for deletes and edits.
func (s *Store) UpsertMessage(msg DBMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := msg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := tx.Bucket(bucketMessages).Put(msg.Key(), data); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put([]byte(msg.ClientSideID), msg.Key())
	})
}

// DeleteMessage removes a message by its client-side ID. Unknown IDs are
// a no-op.
func (s *Store) DeleteMessage(clientSideID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketIndex)
		key := idx.Get([]byte(clientSideID))
		if key == nil {
			return nil
		}
		if err := tx.Bucket(bucketMessages).Delete(key); err != nil {
			return err
		}
		return idx.Delete([]byte(clientSideID))
	})
}

// ListBefore returns up to limit messages strictly older than the given
// timestamp, in server order (oldest first). A zero before means "from
// the newest end"; a non-positive limit means no limit.
func (s *Store) ListBefore(beforeMicros int64, limit int) ([]DBMessage, error) {
	var messages []DBMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()

		var k, v []byte
		if beforeMicros <= 0 {
			k, v = c.Last()
		} else {
			boundary := make([]byte, 8)
			binary.BigEndian.PutUint64(boundary, uint64(beforeMicros))
			k, v = c.Seek(boundary)
			if k == nil {
				k, v = c.Last()
			} else {
				// Seek lands on the first key >= boundary; step back to
				// the last strictly-older message.
				k, v = c.Prev()
			}
			for k != nil && bytes.Compare(k, boundary) >= 0 {
				k, v = c.Prev()
			}
		}

		for ; k != nil && (limit <= 0 || len(messages) < limit); k, v = c.Prev() {
			var msg DBMessage
			if err := msg.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Walked newest-to-oldest; flip into server order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SaveRevision persists the delta sync cursor so a resumed session can
// continue from where it left off.
func (s *Store) SaveRevision(revision string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyRevision, []byte(revision))
	})
}

func (s *Store) LoadRevision() (string, error) {
	var revision string
	err := s.db.View(func(tx *bbolt.Tx) error {
		revision = string(tx.Bucket(bucketMeta).Get(keyRevision))
		return nil
	})
	return revision, err
}

// SaveIdentity persists the backend-assigned page identity. The stored
// revision cursor is only meaningful together with it.
func (s *Store) SaveIdentity(pageID, authToken string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyPageID, []byte(pageID)); err != nil {
			return err
		}
		return meta.Put(keyAuthToken, []byte(authToken))
	})
}

func (s *Store) LoadIdentity() (pageID, authToken string, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		pageID = string(meta.Get(keyPageID))
		authToken = string(meta.Get(keyAuthToken))
		return nil
	})
	return pageID, authToken, err
}

func (s *Store) SaveHistoryRevision(revision string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyHistoryRevision, []byte(revision))
	})
}

func (s *Store) LoadHistoryRevision() (string, error) {
	var revision string
	err := s.db.View(func(tx *bbolt.Tx) error {
		revision = string(tx.Bucket(bucketMeta).Get(keyHistoryRevision))
		return nil
	})
	return revision, err
}

// DeleteAll drops every stored message and meta entry. Backing for
// Session.DestroyAndClearLocalData.
func (s *Store) DeleteAll() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketIndex, bucketMeta} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}
