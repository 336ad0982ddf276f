package bolt

import (
	"context"
	"fmt"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/usage"
	"go.etcd.io/bbolt"
)

// appendEvent stores value under a (timestamp, sequence) key so events with
// equal timestamps keep their append order. When dup reports an existing
// value under the same timestamp, nothing is written.
func appendEvent(ctx context.Context, db *bbolt.DB, bucket string, ts int64, value any, dup func(v []byte) bool) error {
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
		prefix, err := tsPrefix(ts)
		if err != nil {
			return err
		}
		if dup != nil && hasPrefixValue(b, prefix, dup) {
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key, err := eventKey(ts, seq)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func listEvents[T any](ctx context.Context, db *bbolt.DB, bucket string, start, end int64) ([]T, error) {
	items := make([]T, 0)
	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return rangeValues(ctx, b, start, end, func(v []byte) error {
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

func latestEvent[T any](ctx context.Context, db *bbolt.DB, bucket string, at int64) (*T, error) {
	var item *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		v := latestAtOrBefore(b, at)
		if v == nil {
			return storage.ErrNotFound
		}
		var result T
		if err := unmarshal(v, &result); err != nil {
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

type presenceStore struct {
	db *bbolt.DB
}

func (s *presenceStore) Append(ctx context.Context, ev presence.Event) error {
	return appendEvent(ctx, s.db, bucketPresence, ev.Timestamp, ev, nil)
}

func (s *presenceStore) ListRange(ctx context.Context, start, end int64) ([]presence.Event, error) {
	return listEvents[presence.Event](ctx, s.db, bucketPresence, start, end)
}

func (s *presenceStore) LatestAtOrBefore(ctx context.Context, at int64) (*presence.Event, error) {
	return latestEvent[presence.Event](ctx, s.db, bucketPresence, at)
}

func (s *presenceStore) DeleteBefore(ctx context.Context, cutoff int64) (int, error) {
	return deleteBefore(ctx, s.db, bucketPresence, cutoff)
}

type screenStore struct {
	db *bbolt.DB
}

func (s *screenStore) Append(ctx context.Context, ev usage.ScreenEvent) error {
	return appendEvent(ctx, s.db, bucketScreen, ev.Timestamp, ev, func(v []byte) bool {
		var existing usage.ScreenEvent
		return unmarshal(v, &existing) == nil && existing.Type == ev.Type
	})
}

func (s *screenStore) ListRange(ctx context.Context, start, end int64) ([]usage.ScreenEvent, error) {
	return listEvents[usage.ScreenEvent](ctx, s.db, bucketScreen, start, end)
}

func (s *screenStore) LatestAtOrBefore(ctx context.Context, at int64) (*usage.ScreenEvent, error) {
	return latestEvent[usage.ScreenEvent](ctx, s.db, bucketScreen, at)
}

func (s *screenStore) DeleteBefore(ctx context.Context, cutoff int64) (int, error) {
	return deleteBefore(ctx, s.db, bucketScreen, cutoff)
}
