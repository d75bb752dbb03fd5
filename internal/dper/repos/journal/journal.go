// Package journal keeps an audit trail of fetch and publish outcomes in a bbolt
// database. It is write-mostly; nothing in a run depends on what it holds.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/dper/internal/dper/common/clock"
)

var (
	bucketFetch   = []byte("fetch")
	bucketPublish = []byte("publish")

	keyLastPublish = []byte("last")
)

// FetchRecord is the outcome of the most recent fetch for one configured peer.
type FetchRecord struct {
	PeerID    string    `json:"peer_id"`
	URL       string    `json:"url"`
	FromCache bool      `json:"from_cache"`
	Status    int       `json:"status,omitempty"`
	Bytes     int       `json:"bytes"`
	Peers     int       `json:"peers"`
	At        time.Time `json:"at"`
}

// PublishRecord is the outcome of the most recent publish step.
type PublishRecord struct {
	Path    string    `json:"path"`
	Changed bool      `json:"changed"`
	Forced  bool      `json:"forced"`
	Peers   int       `json:"peers"`
	Zones   int       `json:"zones"`
	At      time.Time `json:"at"`
}

// Store is a bbolt backed journal.
type Store struct {
	db    *bbolt.DB
	clock clock.Clock
}

// Open opens (or creates) the journal at path and ensures buckets exist.
func Open(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketFetch); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketPublish); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal %s: %w", path, err)
	}
	return &Store{db: db, clock: clk}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordFetch stores rec as the latest fetch for rec.PeerID, stamping it with the
// current time when At is zero.
func (s *Store) RecordFetch(rec FetchRecord) error {
	if rec.At.IsZero() {
		rec.At = s.clock.Now()
	}
	return s.put(bucketFetch, []byte(rec.PeerID), rec)
}

// RecordPublish stores rec as the latest publish outcome.
func (s *Store) RecordPublish(rec PublishRecord) error {
	if rec.At.IsZero() {
		rec.At = s.clock.Now()
	}
	return s.put(bucketPublish, keyLastPublish, rec)
}

// LastFetch returns the latest fetch record for peerID.
func (s *Store) LastFetch(peerID string) (FetchRecord, bool, error) {
	var rec FetchRecord
	ok, err := s.get(bucketFetch, []byte(peerID), &rec)
	return rec, ok, err
}

// Fetches returns the latest fetch record of every peer, ordered by peer id.
func (s *Store) Fetches() ([]FetchRecord, error) {
	var out []FetchRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFetch)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec FetchRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode fetch record %s: %w", k, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// LastPublish returns the latest publish record.
func (s *Store) LastPublish() (PublishRecord, bool, error) {
	var rec PublishRecord
	ok, err := s.get(bucketPublish, keyLastPublish, &rec)
	return rec, ok, err
}

func (s *Store) put(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

func (s *Store) get(bucket, key []byte, v any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		data := b.Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}
