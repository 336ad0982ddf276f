package bolt

import (
	"context"

	"github.com/goodtune/restwell/internal/schedule"
	"go.etcd.io/bbolt"
)

type scheduleStore struct {
	db *bbolt.DB
}

func (s *scheduleStore) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	return getBucketValue[schedule.Schedule](ctx, s.db, bucketSchedules, id)
}

func (s *scheduleStore) List(ctx context.Context) ([]schedule.Schedule, error) {
	return listBucket[schedule.Schedule](ctx, s.db, bucketSchedules)
}

func (s *scheduleStore) Put(ctx context.Context, sched schedule.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	return putBucketValue(ctx, s.db, bucketSchedules, sched.ID, sched)
}

func (s *scheduleStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketSchedules, id)
}
