package health

import (
	"log"
	"strings"
	"sync"
	"time"

	"smartlead/internal/models"
)

const (
	defaultFailureThreshold = 3
	defaultCooldown         = 5 * time.Minute
)

// Status represents the health state of an adapter
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusCooldown  Status = "cooldown"
	StatusUnknown   Status = "unknown"
)

// AdapterHealth tracks the observed health of a single adapter
type AdapterHealth struct {
	Adapter       string          `json:"adapter"`
	Provider      models.Provider `json:"provider"`
	Status        Status          `json:"status"`
	LastChecked   time.Time       `json:"last_checked,omitempty"`
	LastSuccessAt time.Time       `json:"last_success_at,omitempty"`
	FailureCount  int             `json:"failure_count"`
	LastError     string          `json:"last_error,omitempty"`
	CooldownUntil time.Time       `json:"cooldown_until,omitempty"`
}

// Tracker keeps per-adapter health derived from dispatch results.
// It is observational only and never blocks a dispatch.
type Tracker struct {
	mu               sync.RWMutex
	adapters         map[string]*AdapterHealth
	failureThreshold int
	cooldown         time.Duration
}

// NewTracker creates a health tracker
func NewTracker(failureThreshold int, cooldown time.Duration) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = defaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Tracker{
		adapters:         make(map[string]*AdapterHealth),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Register adds an adapter to the tracker with status unknown
func (t *Tracker) Register(name string, provider models.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.adapters[name]; !exists {
		t.adapters[name] = &AdapterHealth{
			Adapter:  name,
			Provider: provider,
			Status:   StatusUnknown,
		}
		log.Printf("[HEALTH] Registered adapter %s (provider=%s)", name, provider)
	}
}

// Record folds one dispatch result into the adapter's health entry.
func (t *Tracker) Record(name string, result models.CallResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, exists := t.adapters[name]
	if !exists {
		return
	}

	now := time.Now()
	h.LastChecked = now

	if result.OK() {
		if h.Status != StatusHealthy && h.Status != StatusUnknown {
			log.Printf("[HEALTH] Adapter %s recovered", name)
		}
		h.Status = StatusHealthy
		h.LastSuccessAt = now
		h.FailureCount = 0
		h.LastError = ""
		h.CooldownUntil = time.Time{}
		return
	}

	h.FailureCount++
	h.LastError = truncate(result.Detail, 200)

	if result.ErrorKind == models.ErrKindRateLimited {
		h.Status = StatusCooldown
		h.CooldownUntil = now.Add(errorCooldown(result.Detail, t.cooldown))
		log.Printf("[HEALTH] Adapter %s in COOLDOWN until %s: %s",
			name, h.CooldownUntil.Format(time.RFC3339), h.LastError)
		return
	}

	if h.FailureCount >= t.failureThreshold {
		h.Status = StatusUnhealthy
		log.Printf("[HEALTH] Adapter %s marked UNHEALTHY after %d failures: %s",
			name, h.FailureCount, h.LastError)
	} else {
		log.Printf("[HEALTH] Adapter %s failure %d/%d: %s",
			name, h.FailureCount, t.failureThreshold, h.LastError)
	}
}

// InCooldown reports whether the adapter is currently cooling down
func (t *Tracker) InCooldown(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.adapters[name]
	if !exists || h.Status != StatusCooldown {
		return false
	}
	return time.Now().Before(h.CooldownUntil)
}

// Snapshot returns a copy of every adapter entry. Expired cooldowns read
// back as unknown so a stale entry does not look permanently throttled.
func (t *Tracker) Snapshot() []AdapterHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := time.Now()
	out := make([]AdapterHealth, 0, len(t.adapters))
	for _, h := range t.adapters {
		entry := *h
		if entry.Status == StatusCooldown && now.After(entry.CooldownUntil) {
			entry.Status = StatusUnknown
		}
		out = append(out, entry)
	}
	return out
}

// errorCooldown picks a cooldown length from the failure detail. Daily
// quota and billing exhaustion cool down much longer than per-minute
// rate limits.
func errorCooldown(detail string, fallback time.Duration) time.Duration {
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "daily limit") ||
		strings.Contains(lower, "billing") ||
		strings.Contains(lower, "insufficient_quota") {
		return 24 * time.Hour
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
