package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/redis/go-redis/v9"
)

var (
	appendEvent        = redis.NewScript(appendEventScript)
	appendScreen       = redis.NewScript(appendScreenScript)
	deleteScreenBefore = redis.NewScript(deleteScreenBeforeScript)
)

func exclusive(ts int64) string {
	return "(" + strconv.FormatInt(ts, 10)
}

func listRange[T any](ctx context.Context, client *redis.Client, key string, start, end int64) ([]T, error) {
	members, err := client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(start, 10),
		Max: exclusive(end),
	}).Result()
	if err != nil {
		return nil, err
	}

	items := make([]T, 0, len(members))
	for _, m := range members {
		var item T
		if err := decodeMember(m, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func latestAtOrBefore[T any](ctx context.Context, client *redis.Client, key string, at int64) (*T, error) {
	members, err := client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(at, 10),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, storage.ErrNotFound
	}

	var item T
	if err := decodeMember(members[0], &item); err != nil {
		return nil, err
	}
	return &item, nil
}

type presenceStore struct {
	client *redis.Client
}

// Append adds an event to the presence log
func (s *presenceStore) Append(ctx context.Context, ev presence.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	keys := []string{keyPresenceEvents, keyPresenceSeq}
	return appendEvent.Run(ctx, s.client, keys, ev.Timestamp, string(payload)).Err()
}

// ListRange returns events with start <= timestamp < end
func (s *presenceStore) ListRange(ctx context.Context, start, end int64) ([]presence.Event, error) {
	return listRange[presence.Event](ctx, s.client, keyPresenceEvents, start, end)
}

// LatestAtOrBefore returns the newest event at or before at
func (s *presenceStore) LatestAtOrBefore(ctx context.Context, at int64) (*presence.Event, error) {
	return latestAtOrBefore[presence.Event](ctx, s.client, keyPresenceEvents, at)
}

// DeleteBefore removes events older than cutoff
func (s *presenceStore) DeleteBefore(ctx context.Context, cutoff int64) (int, error) {
	n, err := s.client.ZRemRangeByScore(ctx, keyPresenceEvents, "-inf", exclusive(cutoff)).Result()
	return int(n), err
}

type screenStore struct {
	client *redis.Client
}

// Append adds a screen event unless the same (timestamp, type) is stored
func (s *screenStore) Append(ctx context.Context, ev usage.ScreenEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	keys := []string{keyScreenEvents, keyScreenSeq, keyScreenSeen}
	return appendScreen.Run(ctx, s.client, keys, ev.Timestamp, string(ev.Type), string(payload)).Err()
}

// ListRange returns screen events with start <= timestamp < end
func (s *screenStore) ListRange(ctx context.Context, start, end int64) ([]usage.ScreenEvent, error) {
	return listRange[usage.ScreenEvent](ctx, s.client, keyScreenEvents, start, end)
}

// LatestAtOrBefore returns the newest screen event at or before at
func (s *screenStore) LatestAtOrBefore(ctx context.Context, at int64) (*usage.ScreenEvent, error) {
	return latestAtOrBefore[usage.ScreenEvent](ctx, s.client, keyScreenEvents, at)
}

// DeleteBefore removes screen events older than cutoff
func (s *screenStore) DeleteBefore(ctx context.Context, cutoff int64) (int, error) {
	keys := []string{keyScreenEvents, keyScreenSeen}
	n, err := deleteScreenBefore.Run(ctx, s.client, keys, cutoff).Int()
	return n, err
}
