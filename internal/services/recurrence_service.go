package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"smartlead/internal/models"
)

// RecurrenceService re-submits recurring intents on their cron schedule.
// Each firing is a fresh intent with a new ID, so every occurrence gets
// its own outcome record.
type RecurrenceService struct {
	scheduler    gocron.Scheduler
	orchestrator *Orchestrator
	redis        *RedisService // optional, guards against multi-instance double fire
	instanceID   string
	cycleCeiling time.Duration
	mu           sync.RWMutex
	jobs         map[string]gocron.Job // intentID -> job
}

// NewRecurrenceService creates a recurrence service.
func NewRecurrenceService(orchestrator *Orchestrator, redis *RedisService) (*RecurrenceService, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &RecurrenceService{
		scheduler:    scheduler,
		orchestrator: orchestrator,
		redis:        redis,
		instanceID:   uuid.NewString(),
		cycleCeiling: 5 * time.Minute,
		jobs:         make(map[string]gocron.Job),
	}, nil
}

// Start starts the underlying scheduler.
func (s *RecurrenceService) Start() {
	s.scheduler.Start()
	log.Println("⏰ Recurrence service started")
}

// Stop shuts the scheduler down and waits for running fires.
func (s *RecurrenceService) Stop() error {
	log.Println("⏹️ Stopping recurrence service...")
	return s.scheduler.Shutdown()
}

// Register schedules a recurring intent. The template's ID anchors the
// registration; each fire clones it under a new ID.
func (s *RecurrenceService) Register(template *models.Intent) error {
	if template.Recurrence == "" {
		return fmt.Errorf("intent %s has no recurrence expression", template.ID)
	}

	clone := *template
	job, err := s.scheduler.NewJob(
		gocron.CronJob(template.Recurrence, false),
		gocron.NewTask(func() {
			s.fire(&clone)
		}),
		gocron.WithName("recurring_"+template.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to register recurring intent: %w", err)
	}

	s.mu.Lock()
	s.jobs[template.ID] = job
	s.mu.Unlock()

	log.Printf("⏰ [RECURRENCE] Registered intent %s (%s) with schedule %q", template.ID, template.Kind, template.Recurrence)
	return nil
}

// Unregister removes a recurring intent.
func (s *RecurrenceService) Unregister(intentID string) {
	s.mu.Lock()
	job, ok := s.jobs[intentID]
	if ok {
		delete(s.jobs, intentID)
	}
	s.mu.Unlock()

	if ok {
		if err := s.scheduler.RemoveJob(job.ID()); err != nil {
			log.Printf("⚠️ [RECURRENCE] Failed to remove job for intent %s: %v", intentID, err)
		}
	}
}

// fire runs one occurrence. With Redis configured, a short lock keyed on
// the template and minute ensures only one instance fires it.
func (s *RecurrenceService) fire(template *models.Intent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cycleCeiling)
	defer cancel()

	if s.redis != nil {
		lockKey := fmt.Sprintf("recurrence:%s:%s", template.ID, time.Now().UTC().Format("200601021504"))
		acquired, err := s.redis.AcquireLock(ctx, lockKey, s.instanceID, 2*time.Minute)
		if err == nil && !acquired {
			return
		}
	}

	occurrence := *template
	occurrence.ID = uuid.NewString()
	occurrence.Recurrence = ""
	occurrence.ReceivedAt = time.Now()

	if _, err := s.orchestrator.Process(ctx, &occurrence); err != nil {
		log.Printf("⚠️ [RECURRENCE] Occurrence %s of intent %s failed: %v", occurrence.ID, template.ID, err)
	}
}
