package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/redis/go-redis/v9"
)

type scheduleStore struct {
	client *redis.Client
}

// Get retrieves a schedule by id
func (s *scheduleStore) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	data, err := s.client.HGet(ctx, keySchedules, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sched schedule.Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	return &sched, nil
}

// List returns every stored schedule
func (s *scheduleStore) List(ctx context.Context) ([]schedule.Schedule, error) {
	values, err := s.client.HVals(ctx, keySchedules).Result()
	if err != nil {
		return nil, err
	}

	schedules := make([]schedule.Schedule, 0, len(values))
	for _, v := range values {
		var sched schedule.Schedule
		if err := json.Unmarshal([]byte(v), &sched); err != nil {
			return nil, fmt.Errorf("failed to decode schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}

// Put validates and stores a schedule, replacing any with the same id
func (s *scheduleStore) Put(ctx context.Context, sched schedule.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	return s.client.HSet(ctx, keySchedules, sched.ID, data).Err()
}

// Delete removes a schedule by id
func (s *scheduleStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.HDel(ctx, keySchedules, id).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type settingsStore struct {
	client *redis.Client
}

// Get returns the stored overrides, or an empty record
func (s *settingsStore) Get(ctx context.Context) (*settings.Overrides, error) {
	data, err := s.client.Get(ctx, keySettings).Bytes()
	if errors.Is(err, redis.Nil) {
		return &settings.Overrides{}, nil
	}
	if err != nil {
		return nil, err
	}

	var o settings.Overrides
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &o, nil
}

// Put replaces the stored overrides
func (s *settingsStore) Put(ctx context.Context, o *settings.Overrides) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return s.client.Set(ctx, keySettings, data, 0).Err()
}
