package jobs

import (
	"context"
	"log"
	"time"

	"smartlead/internal/services"
	"smartlead/internal/store"
)

// StoreHealthJob periodically verifies that the persistence store and
// Redis are reachable, so outages show up in logs before a cycle trips
// over them.
type StoreHealthJob struct {
	store    *store.Store
	redis    *services.RedisService
	interval time.Duration
}

// NewStoreHealthJob creates a store health job
func NewStoreHealthJob(st *store.Store, redis *services.RedisService) *StoreHealthJob {
	return &StoreHealthJob{
		store:    st,
		redis:    redis,
		interval: 5 * time.Minute,
	}
}

// Run performs one health probe
func (j *StoreHealthJob) Run(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := j.store.Ping(probeCtx); err != nil {
		log.Printf("❌ [HEALTH-JOB] Store unreachable: %v", err)
	}

	if j.redis != nil {
		if err := j.redis.Ping(probeCtx); err != nil {
			log.Printf("❌ [HEALTH-JOB] Redis unreachable: %v", err)
		}
	}

	return nil
}

// GetNextRunTime returns the next probe time
func (j *StoreHealthJob) GetNextRunTime() time.Time {
	return time.Now().Add(j.interval)
}
