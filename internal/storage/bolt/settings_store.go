package bolt

import (
	"context"
	"errors"

	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"go.etcd.io/bbolt"
)

type settingsStore struct {
	db *bbolt.DB
}

func (s *settingsStore) Get(ctx context.Context) (*settings.Overrides, error) {
	o, err := getBucketValue[settings.Overrides](ctx, s.db, bucketSettings, settingsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return &settings.Overrides{}, nil
	}
	return o, err
}

func (s *settingsStore) Put(ctx context.Context, o *settings.Overrides) error {
	return putBucketValue(ctx, s.db, bucketSettings, settingsKey, o)
}
