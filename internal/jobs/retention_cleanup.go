package jobs

import (
	"context"
	"log"
	"time"

	"smartlead/internal/services"
)

// RetentionCleanupJob prunes conversation history: turns older than the
// retention window go first, then each owner is trimmed to the configured
// turn count. Runs nightly.
type RetentionCleanupJob struct {
	conversations *services.ConversationService
	maxAge        time.Duration
	keepPerOwner  int
}

// NewRetentionCleanupJob creates a retention cleanup job
func NewRetentionCleanupJob(conversations *services.ConversationService, maxAge time.Duration, keepPerOwner int) *RetentionCleanupJob {
	return &RetentionCleanupJob{
		conversations: conversations,
		maxAge:        maxAge,
		keepPerOwner:  keepPerOwner,
	}
}

// Run executes one retention pass
func (j *RetentionCleanupJob) Run(ctx context.Context) error {
	log.Println("[RETENTION] Starting conversation retention cleanup...")
	startTime := time.Now()

	removed, err := j.conversations.Prune(ctx, j.maxAge, j.keepPerOwner)
	if err != nil {
		log.Printf("[RETENTION] Cleanup failed: %v", err)
		return err
	}

	log.Printf("[RETENTION] Cleanup complete: removed %d turns in %v", removed, time.Since(startTime))
	return nil
}

// GetNextRunTime returns 03:00 UTC of the next day
func (j *RetentionCleanupJob) GetNextRunTime() time.Time {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
