package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketPresence    = "presence_events"
	bucketScreen      = "screen_events"
	bucketAppSessions = "app_sessions"
	bucketIndexes     = "indexes"
	bucketIndexOpen   = "open_sessions"
	bucketSchedules   = "schedules"
	bucketSettings    = "settings"

	settingsKey = "overrides"

	// tsDigits is the width of the zero-padded timestamp key prefix.
	tsDigits = 20
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			[]byte(bucketPresence),
			[]byte(bucketScreen),
			[]byte(bucketAppSessions),
			[]byte(bucketIndexes),
			[]byte(bucketSchedules),
			[]byte(bucketSettings),
		}

		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		indexes := tx.Bucket([]byte(bucketIndexes))
		if indexes == nil {
			return fmt.Errorf("indexes bucket missing")
		}
		if _, err := indexes.CreateBucketIfNotExists([]byte(bucketIndexOpen)); err != nil {
			return fmt.Errorf("create open session index: %w", err)
		}

		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Presence returns the presence event log.
func (s *Store) Presence() storage.PresenceEventStore { return &presenceStore{db: s.db} }

// Screen returns the screen event store.
func (s *Store) Screen() storage.ScreenEventStore { return &screenStore{db: s.db} }

// AppUsage returns the app session store.
func (s *Store) AppUsage() storage.AppUsageStore { return &appUsageStore{db: s.db} }

// Schedules returns the schedule store.
func (s *Store) Schedules() storage.ScheduleStore { return &scheduleStore{db: s.db} }

// Settings returns the settings overrides store.
func (s *Store) Settings() settings.Store { return &settingsStore{db: s.db} }

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

// tsPrefix returns the sortable key prefix for ts. Keys are compared
// bytewise, so negative timestamps are rejected.
func tsPrefix(ts int64) ([]byte, error) {
	if ts < 0 {
		return nil, fmt.Errorf("negative timestamp %d", ts)
	}
	return []byte(fmt.Sprintf("%0*d-", tsDigits, ts)), nil
}

func eventKey(ts int64, seq uint64) ([]byte, error) {
	prefix, err := tsPrefix(ts)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(prefix, "%0*d", tsDigits, seq), nil
}

func keyTimestamp(key []byte) (int64, error) {
	if len(key) < tsDigits {
		return 0, fmt.Errorf("malformed key %q", key)
	}
	return strconv.ParseInt(string(key[:tsDigits]), 10, 64)
}

// seekFrom positions c at the first key with timestamp >= ts.
func seekFrom(c *bbolt.Cursor, ts int64) ([]byte, []byte) {
	if ts <= 0 {
		return c.First()
	}
	prefix, _ := tsPrefix(ts)
	return c.Seek(prefix)
}

// latestAtOrBefore returns the value of the last key with timestamp <= at.
func latestAtOrBefore(b *bbolt.Bucket, at int64) []byte {
	if at < 0 {
		return nil
	}
	c := b.Cursor()
	var k, v []byte
	if at == math.MaxInt64 {
		k, v = c.Last()
	} else {
		k, v = seekFrom(c, at+1)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
	}
	if k == nil {
		return nil
	}
	return v
}

// rangeValues calls fn for every value with start <= ts < end in key order.
func rangeValues(ctx context.Context, b *bbolt.Bucket, start, end int64, fn func(v []byte) error) error {
	c := b.Cursor()
	for k, v := seekFrom(c, start); k != nil; k, v = c.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ts, err := keyTimestamp(k)
		if err != nil {
			return err
		}
		if ts >= end {
			break
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// deleteBefore removes every key with timestamp < cutoff.
func deleteBefore(ctx context.Context, db *bbolt.DB, bucket string, cutoff int64) (int, error) {
	deleted := 0
	err := db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.First() {
			ts, err := keyTimestamp(k)
			if err != nil {
				return err
			}
			if ts >= cutoff {
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func hasPrefixValue(b *bbolt.Bucket, prefix []byte, match func(v []byte) bool) bool {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if match(v) {
			return true
		}
	}
	return false
}

func listBucket[T any](ctx context.Context, db *bbolt.DB, bucket string) ([]T, error) {
	items := make([]T, 0)
	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var item T
			if err := unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
	return items, err
}

func getBucketValue[T any](ctx context.Context, db *bbolt.DB, bucket string, key string) (*T, error) {
	var item *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		var result T
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		item = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func putBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

func deleteBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func indexBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	root := tx.Bucket([]byte(bucketIndexes))
	if root == nil {
		return nil, fmt.Errorf("indexes bucket missing")
	}
	b := root.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("index bucket missing: %s", name)
	}
	return b, nil
}
