package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	openSession  = redis.NewScript(openSessionScript)
	closeSession = redis.NewScript(closeSessionScript)
)

type appUsageStore struct {
	client *redis.Client
}

// OpenSession starts a session, closing any open session for the package
func (s *appUsageStore) OpenSession(ctx context.Context, pkg string, start int64) (*storage.AppSession, error) {
	id := uuid.NewString()
	keys := []string{keyAppOpen, keyAppSessions, keyAppSession + id}
	if err := openSession.Run(ctx, s.client, keys, id, pkg, start, keyAppSession).Err(); err != nil {
		return nil, err
	}
	return &storage.AppSession{
		ID:            id,
		AppUsageEvent: usage.AppUsageEvent{PackageName: pkg, Start: start},
	}, nil
}

// CloseSession ends the open session for the package
func (s *appUsageStore) CloseSession(ctx context.Context, pkg string, end int64) (*storage.AppSession, error) {
	id, err := closeSession.Run(ctx, s.client, []string{keyAppOpen}, pkg, end, keyAppSession).Text()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	data, err := s.client.HGetAll(ctx, keyAppSession+id).Result()
	if err != nil {
		return nil, err
	}
	return parseAppSession(data)
}

// sessionsStartedBefore loads every session that started before end
func (s *appUsageStore) sessionsStartedBefore(ctx context.Context, end int64) ([]*storage.AppSession, error) {
	ids, err := s.client.ZRangeByScore(ctx, keyAppSessions, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(end, 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, keyAppSession+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	sessions := make([]*storage.AppSession, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		session, err := parseAppSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// ListOverlapping returns sessions intersecting [start, end)
func (s *appUsageStore) ListOverlapping(ctx context.Context, start, end int64) ([]usage.AppUsageEvent, error) {
	sessions, err := s.sessionsStartedBefore(ctx, end)
	if err != nil {
		return nil, err
	}

	events := make([]usage.AppUsageEvent, 0, len(sessions))
	for _, session := range sessions {
		if storage.Overlaps(session.AppUsageEvent, start, end) {
			events = append(events, session.AppUsageEvent)
		}
	}
	return events, nil
}

// DeleteEndedBefore removes closed sessions that ended before cutoff
func (s *appUsageStore) DeleteEndedBefore(ctx context.Context, cutoff int64) (int, error) {
	sessions, err := s.sessionsStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, session := range sessions {
			if session.End == nil || *session.End >= cutoff {
				continue
			}
			pipe.ZRem(ctx, keyAppSessions, session.ID)
			pipe.Del(ctx, keyAppSession+session.ID)
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
