package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"smartlead/internal/middleware"
	"smartlead/internal/models"
	"smartlead/internal/services"
	"smartlead/internal/store"
)

// IntentHandler accepts intents and reports their outcomes. Cycles that
// finish inside the latency budget answer synchronously; slower ones get
// a 202 and are polled by ID.
type IntentHandler struct {
	orchestrator *services.Orchestrator
	recurrence   *services.RecurrenceService
	store        *store.Store
	redis        *services.RedisService

	syncWaitBudget time.Duration
	cycleCeiling   time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewIntentHandler creates a new intent handler
func NewIntentHandler(orchestrator *services.Orchestrator, recurrence *services.RecurrenceService, st *store.Store, redis *services.RedisService, syncWaitBudget time.Duration) *IntentHandler {
	return &IntentHandler{
		orchestrator:   orchestrator,
		recurrence:     recurrence,
		store:          st,
		redis:          redis,
		syncWaitBudget: syncWaitBudget,
		cycleCeiling:   5 * time.Minute,
		inflight:       make(map[string]context.CancelFunc),
	}
}

type createIntentRequest struct {
	Kind       models.IntentKind `json:"kind"`
	Payload    map[string]any    `json:"payload"`
	Recurrence string            `json:"recurrence,omitempty"`
}

// Create handles POST /api/intents
func (h *IntentHandler) Create(c *fiber.Ctx) error {
	var req createIntentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	intent := &models.Intent{
		ID:         uuid.NewString(),
		OwnerID:    middleware.OwnerID(c),
		Kind:       req.Kind,
		Payload:    req.Payload,
		Recurrence: req.Recurrence,
		ReceivedAt: time.Now(),
	}
	if intent.Payload == nil {
		intent.Payload = map[string]any{}
	}

	if err := intent.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	// Recurring intents are registered, not run immediately.
	if intent.Recurrence != "" {
		if err := h.recurrence.Register(intent); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"intent_id":  intent.ID,
			"recurrence": intent.Recurrence,
			"registered": true,
		})
	}

	// The cycle runs detached from the request so a dropped client does
	// not abort it; DELETE /api/intents/:id is the explicit cancel path.
	ctx, cancel := context.WithTimeout(context.Background(), h.cycleCeiling)
	h.track(intent.ID, cancel)

	outcomeCh := make(chan *models.Outcome, 1)
	errCh := make(chan error, 1)
	go func() {
		defer h.untrack(intent.ID)
		defer cancel()
		outcome, err := h.orchestrator.Process(ctx, intent)
		if err != nil {
			errCh <- err
			return
		}
		h.cacheOutcome(outcome)
		outcomeCh <- outcome
	}()

	select {
	case outcome := <-outcomeCh:
		return c.JSON(outcomeResponse(outcome))
	case err := <-errCh:
		if errors.Is(err, store.ErrUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "persistence store unavailable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	case <-time.After(h.syncWaitBudget):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"intent_id": intent.ID,
			"state":     "processing",
		})
	}
}

// Get handles GET /api/intents/:id
func (h *IntentHandler) Get(c *fiber.Ctx) error {
	intentID := c.Params("id")

	// Fast path: recently finished cycles sit in Redis.
	if h.redis != nil {
		if cached, err := h.redis.Get(c.Context(), "outcome:"+intentID); err == nil {
			var outcome models.Outcome
			if json.Unmarshal([]byte(cached), &outcome) == nil && outcome.OwnerID == middleware.OwnerID(c) {
				return c.JSON(outcomeResponse(&outcome))
			}
		}
	}

	outcome, err := h.store.GetOutcome(c.Context(), intentID)
	if err == nil {
		if outcome.OwnerID != middleware.OwnerID(c) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "intent not found"})
		}
		return c.JSON(outcomeResponse(outcome))
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}

	state, err := h.store.GetIntentState(c.Context(), intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "intent not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"intent_id": intentID,
		"state":     state,
	})
}

// Cancel handles DELETE /api/intents/:id. Cancelling an in-flight cycle
// discards its results; nothing is persisted for it.
func (h *IntentHandler) Cancel(c *fiber.Ctx) error {
	intentID := c.Params("id")

	h.mu.Lock()
	cancel, ok := h.inflight[intentID]
	h.mu.Unlock()

	if !ok {
		// May be a registered recurring intent.
		h.recurrence.Unregister(intentID)
		return c.JSON(fiber.Map{"intent_id": intentID, "cancelled": false})
	}

	cancel()
	return c.JSON(fiber.Map{"intent_id": intentID, "cancelled": true})
}

func (h *IntentHandler) track(intentID string, cancel context.CancelFunc) {
	h.mu.Lock()
	h.inflight[intentID] = cancel
	h.mu.Unlock()
}

func (h *IntentHandler) untrack(intentID string) {
	h.mu.Lock()
	delete(h.inflight, intentID)
	h.mu.Unlock()
}

// cacheOutcome stores the outcome in Redis for the polling fast path.
func (h *IntentHandler) cacheOutcome(outcome *models.Outcome) {
	if h.redis == nil || outcome == nil {
		return
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.redis.Set(ctx, "outcome:"+outcome.IntentID, string(data), 10*time.Minute)
}

func outcomeResponse(outcome *models.Outcome) fiber.Map {
	return fiber.Map{
		"intent_id":   outcome.IntentID,
		"kind":        outcome.Kind,
		"status":      outcome.Status,
		"results":     outcome.Results,
		"summary":     outcome.Summary,
		"finished_at": outcome.FinishedAt.Format(time.RFC3339),
	}
}
