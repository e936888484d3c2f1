// Package bolt persists sessions in a single-file bbolt database. Values are
// JSON-encoded alongside an absolute deadline; expiry is enforced lazily on
// load and by a background sweeper.
package bolt

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	bolt "go.etcd.io/bbolt"
)

var bucketSessions = []byte("sessions")

type record struct {
	Data     map[string]any `json:"data"`
	Deadline int64          `json:"deadline"`
	TTL      int64          `json:"ttl"`
}

type Store struct {
	db     *bolt.DB
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// Open opens (or creates) the database at path and starts the expiry sweeper.
// sweepEvery <= 0 disables background sweeping; expired records are then only
// dropped when loaded.
func Open(path string, sweepEvery time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0o666, bolt.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("session/bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session/bolt: init: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{db: db, cancel: cancel, now: time.Now}

	if sweepEvery > 0 {
		s.wg.Add(1)
		go s.sweeper(ctx, sweepEvery)
	}

	return s, nil
}

func (s *Store) Load(_ context.Context, id string) (map[string]any, error) {
	empty := map[string]any{}
	if len(id) == 0 {
		return empty, nil
	}

	var rec record
	found := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)

		raw := b.Get([]byte(id))
		if raw == nil {
			return nil
		}

		if err := json.Unmarshal(raw, &rec); err != nil {
			// An unreadable record is as good as expired.
			return b.Delete([]byte(id))
		}

		if s.now().Unix() >= rec.Deadline {
			return b.Delete([]byte(id))
		}

		found = true

		// Expiry is measured from last access: push the deadline forward.
		rec.Deadline = s.now().Unix() + rec.TTL
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return b.Put([]byte(id), raw)
	})
	if err != nil {
		return nil, fmt.Errorf("session/bolt: load: %w", err)
	}

	if !found {
		return empty, nil
	}

	if rec.Data == nil {
		rec.Data = map[string]any{}
	}

	return rec.Data, nil
}

func (s *Store) Save(_ context.Context, id string, data map[string]any, ttl time.Duration) error {
	raw, err := json.Marshal(record{
		Data:     data,
		Deadline: s.now().Add(ttl).Unix(),
		TTL:      int64(ttl.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("session/bolt: encode: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(id), raw)
	})
	if err != nil {
		return fmt.Errorf("session/bolt: save: %w", err)
	}

	return nil
}

// Close stops the sweeper and closes the database.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()

	return s.db.Close()
}

func (s *Store) sweeper(ctx context.Context, every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep drops all records past their deadline.
func (s *Store) sweep() {
	now := s.now().Unix()

	_ = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		c := b.Cursor()

		var expired [][]byte

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil || now >= rec.Deadline {
				expired = append(expired, append([]byte(nil), k...))
			}
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}
