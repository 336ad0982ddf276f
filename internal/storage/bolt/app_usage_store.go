package bolt

import (
	"context"

	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

type appUsageStore struct {
	db *bbolt.DB
}

func sessionKey(start int64, id string) ([]byte, error) {
	prefix, err := tsPrefix(start)
	if err != nil {
		return nil, err
	}
	return append(prefix, id...), nil
}

// closeOpen ends the open session for pkg at end and removes it from the
// open index. It returns nil when no session is open.
func closeOpen(tx *bbolt.Tx, pkg string, end int64) (*storage.AppSession, error) {
	index, err := indexBucket(tx, bucketIndexOpen)
	if err != nil {
		return nil, err
	}
	key := index.Get([]byte(pkg))
	if key == nil {
		return nil, nil
	}
	sessions := tx.Bucket([]byte(bucketAppSessions))
	value := sessions.Get(key)
	if value == nil {
		return nil, index.Delete([]byte(pkg))
	}

	var session storage.AppSession
	if err := unmarshal(value, &session); err != nil {
		return nil, err
	}
	closedAt := storage.SessionEnd(session.Start, end)
	session.End = &closedAt

	data, err := marshal(session)
	if err != nil {
		return nil, err
	}
	if err := sessions.Put(key, data); err != nil {
		return nil, err
	}
	return &session, index.Delete([]byte(pkg))
}

func (s *appUsageStore) OpenSession(ctx context.Context, pkg string, start int64) (*storage.AppSession, error) {
	session := &storage.AppSession{
		ID:            uuid.NewString(),
		AppUsageEvent: usage.AppUsageEvent{PackageName: pkg, Start: start},
	}
	key, err := sessionKey(start, session.ID)
	if err != nil {
		return nil, err
	}
	data, err := marshal(session)
	if err != nil {
		return nil, err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := closeOpen(tx, pkg, start); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(bucketAppSessions)).Put(key, data); err != nil {
			return err
		}
		index, err := indexBucket(tx, bucketIndexOpen)
		if err != nil {
			return err
		}
		return index.Put([]byte(pkg), key)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *appUsageStore) CloseSession(ctx context.Context, pkg string, end int64) (*storage.AppSession, error) {
	var closed *storage.AppSession
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var err error
		closed, err = closeOpen(tx, pkg, end)
		if err != nil {
			return err
		}
		if closed == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// ListOverlapping scans sessions in start order up to end. Open sessions may
// have started long before the range, so the scan begins at the oldest
// session; retention keeps the bucket bounded.
func (s *appUsageStore) ListOverlapping(ctx context.Context, start, end int64) ([]usage.AppUsageEvent, error) {
	events := make([]usage.AppUsageEvent, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketAppSessions))
		if b == nil {
			return nil
		}
		return rangeValues(ctx, b, 0, end, func(v []byte) error {
			var session storage.AppSession
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if storage.Overlaps(session.AppUsageEvent, start, end) {
				events = append(events, session.AppUsageEvent)
			}
			return nil
		})
	})
	return events, err
}

func (s *appUsageStore) DeleteEndedBefore(ctx context.Context, cutoff int64) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketAppSessions))
		if b == nil {
			return nil
		}
		var stale [][]byte
		err := rangeValues(ctx, b, 0, cutoff, func(v []byte) error {
			var session storage.AppSession
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if session.End != nil && *session.End < cutoff {
				key, err := sessionKey(session.Start, session.ID)
				if err != nil {
					return err
				}
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := b.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
