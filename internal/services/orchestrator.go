package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"smartlead/internal/adapters"
	"smartlead/internal/health"
	"smartlead/internal/logging"
	"smartlead/internal/models"
	"smartlead/internal/store"
)

// Orchestrator runs full intent-to-outcome cycles: resolve credentials,
// fan out to adapters with bounded retries, aggregate, persist.
type Orchestrator struct {
	store         *store.Store
	credentials   *CredentialService
	policy        *PolicyService
	conversations *ConversationService
	leads         *LeadService
	adapters      map[string]adapters.Adapter
	health        *health.Tracker

	maxAttempts  int
	baseDelay    time.Duration
	dedupeWindow time.Duration
}

// NewOrchestrator wires an orchestrator over the given adapters.
func NewOrchestrator(st *store.Store, creds *CredentialService, policy *PolicyService, convs *ConversationService, leads *LeadService, adapterList []adapters.Adapter, maxAttempts int, baseDelay time.Duration) *Orchestrator {
	byName := make(map[string]adapters.Adapter, len(adapterList))
	for _, a := range adapterList {
		byName[a.Name()] = a
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	return &Orchestrator{
		store:         st,
		credentials:   creds,
		policy:        policy,
		conversations: convs,
		leads:         leads,
		adapters:      byName,
		maxAttempts:   maxAttempts,
		baseDelay:     baseDelay,
		dedupeWindow:  10 * time.Minute,
	}
}

// SetHealthTracker attaches an adapter health tracker. Dispatch results are
// folded into it; a nil tracker leaves health reporting off.
func (o *Orchestrator) SetHealthTracker(t *health.Tracker) {
	o.health = t
	if t == nil {
		return
	}
	for name, a := range o.adapters {
		t.Register(name, a.Provider())
	}
}

// stepOutcome pairs a plan step with its result.
type stepOutcome struct {
	step   Step
	result models.CallResult
}

// Process runs one cycle to completion. The returned outcome is already
// persisted unless ctx was cancelled, in which case nothing is written
// and the context error is returned.
func (o *Orchestrator) Process(ctx context.Context, intent *models.Intent) (*models.Outcome, error) {
	logger := logging.WithIntent(intent.ID, intent.OwnerID, string(intent.Kind))
	started := time.Now()

	GetMetricsSafe(func(m *Metrics) {
		m.IntentsReceived.WithLabelValues(string(intent.Kind)).Inc()
		m.ActiveCycles.Inc()
	})
	defer GetMetricsSafe(func(m *Metrics) {
		m.ActiveCycles.Dec()
		m.IntentDuration.Observe(time.Since(started).Seconds())
	})

	plan, ok := o.policy.Get(intent.Kind)
	if !ok {
		return nil, fmt.Errorf("no dispatch plan for kind %q", intent.Kind)
	}

	if err := o.store.SaveIntent(ctx, intent); err != nil {
		return nil, err
	}
	logger.Info("intent received", "state", models.StateReceived)

	// An identical completed intent inside the dedupe window short-circuits
	// the cycle; no adapter is touched.
	hash := payloadHash(intent)
	if prior, err := o.store.PriorOutcome(ctx, intent.OwnerID, intent.Kind, hash, started.Add(-o.dedupeWindow)); err == nil && prior != nil {
		logger.Info("duplicate of completed intent, skipping dispatch", "prior_intent_id", prior.IntentID)
		outcome := &models.Outcome{
			IntentID:   intent.ID,
			OwnerID:    intent.OwnerID,
			Kind:       intent.Kind,
			Status:     models.OutcomeCompleted,
			Results:    prior.Results,
			Summary:    "matched recently completed identical intent " + prior.IntentID,
			FinishedAt: time.Now(),
		}
		return outcome, o.finish(ctx, intent, outcome, hash)
	}

	// Resolve every credential the plan needs before dispatching anything.
	// A single missing or unrefreshable credential fails the whole intent
	// with zero provider calls.
	o.transition(ctx, logger, intent, models.StateResolvingCredentials)
	creds, err := o.resolveCredentials(ctx, intent, plan)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("credential resolution failed", "error", err)
		outcome := &models.Outcome{
			IntentID:   intent.ID,
			OwnerID:    intent.OwnerID,
			Kind:       intent.Kind,
			Status:     models.OutcomeFailed,
			Summary:    "credential resolution failed: " + err.Error(),
			FinishedAt: time.Now(),
		}
		return outcome, o.finish(ctx, intent, outcome, hash)
	}

	o.transition(ctx, logger, intent, models.StateDispatching)
	outcomes := o.dispatch(ctx, logger, intent, plan, creds)
	if ctx.Err() != nil {
		// Cancellation discards everything produced so far. The store
		// keeps no outcome and the intent stays in its last state.
		logger.Warn("cycle cancelled, discarding results")
		return nil, ctx.Err()
	}

	o.transition(ctx, logger, intent, models.StateAggregating)

	critical := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		critical[s.Adapter] = s.Critical
	}
	results := make([]models.CallResult, 0, len(outcomes))
	for _, so := range outcomes {
		results = append(results, so.result)
		GetMetricsSafe(func(m *Metrics) {
			m.AdapterCalls.WithLabelValues(so.result.Adapter, string(so.result.Status)).Inc()
		})
	}

	outcome := &models.Outcome{
		IntentID:   intent.ID,
		OwnerID:    intent.OwnerID,
		Kind:       intent.Kind,
		Status:     models.Aggregate(results, critical),
		Results:    results,
		Summary:    summarize(intent, results),
		FinishedAt: time.Now(),
	}

	o.recordSideEffects(ctx, intent, outcomes)

	logger.Info("cycle finished", "status", outcome.Status, "elapsed", time.Since(started))
	GetMetricsSafe(func(m *Metrics) {
		m.IntentOutcomes.WithLabelValues(string(intent.Kind), string(outcome.Status)).Inc()
	})

	return outcome, o.finish(ctx, intent, outcome, hash)
}

// finish persists the outcome and final intent state.
func (o *Orchestrator) finish(ctx context.Context, intent *models.Intent, outcome *models.Outcome, hash string) error {
	if err := o.store.SaveOutcome(ctx, outcome, hash); err != nil {
		return err
	}
	var state models.IntentState
	switch outcome.Status {
	case models.OutcomeCompleted:
		state = models.StateCompleted
	case models.OutcomePartial:
		state = models.StatePartial
	default:
		state = models.StateFailed
	}
	return o.store.UpdateIntentState(ctx, intent.ID, state)
}

func (o *Orchestrator) transition(ctx context.Context, logger *slog.Logger, intent *models.Intent, state models.IntentState) {
	logger.Info("state transition", "state", state)
	if err := o.store.UpdateIntentState(ctx, intent.ID, state); err != nil {
		logger.Warn("state persist failed", "state", state, "error", err)
	}
}

// resolveCredentials returns a credential per adapter in the plan.
func (o *Orchestrator) resolveCredentials(ctx context.Context, intent *models.Intent, plan KindPolicy) (map[string]*models.Credential, error) {
	creds := make(map[string]*models.Credential, len(plan.Steps))
	for _, step := range plan.Steps {
		adapter, ok := o.adapters[step.Adapter]
		if !ok {
			return nil, fmt.Errorf("adapter %q is not registered", step.Adapter)
		}
		cred, err := o.credentials.GetValid(ctx, intent.OwnerID, adapter.Provider())
		if err != nil {
			return nil, err
		}
		creds[step.Adapter] = cred
	}
	return creds, nil
}

// dispatch runs the plan. Independent steps run concurrently; a step with
// a dependency runs after it and receives the dependency's output under
// Params["upstream"]. A step whose dependency failed is not invoked.
func (o *Orchestrator) dispatch(ctx context.Context, logger *slog.Logger, intent *models.Intent, plan KindPolicy, creds map[string]*models.Credential) []stepOutcome {
	done := make(map[string]models.CallResult, len(plan.Steps))
	var mu sync.Mutex

	remaining := append([]Step(nil), plan.Steps...)
	for len(remaining) > 0 {
		// Collect the steps whose dependencies are settled.
		var ready []Step
		var blocked []Step
		for _, step := range remaining {
			if step.DependsOn == "" {
				ready = append(ready, step)
				continue
			}
			mu.Lock()
			_, settled := done[step.DependsOn]
			mu.Unlock()
			if settled {
				ready = append(ready, step)
			} else {
				blocked = append(blocked, step)
			}
		}
		remaining = blocked
		if len(ready) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, step := range ready {
			wg.Add(1)
			go func(step Step) {
				defer wg.Done()

				var upstream map[string]any
				if step.DependsOn != "" {
					mu.Lock()
					dep := done[step.DependsOn]
					mu.Unlock()
					if !dep.OK() {
						mu.Lock()
						done[step.Adapter] = models.CallResult{
							Adapter:   step.Adapter,
							Status:    models.CallPermanentFailure,
							ErrorKind: models.ErrKindProvider,
							Detail:    fmt.Sprintf("not invoked: upstream step %q failed", step.DependsOn),
						}
						mu.Unlock()
						return
					}
					upstream = dep.Output
				}

				result := o.runStep(ctx, logger, intent, step, creds[step.Adapter], upstream)
				if o.health != nil {
					o.health.Record(step.Adapter, result)
				}
				mu.Lock()
				done[step.Adapter] = result
				mu.Unlock()
			}(step)
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	// Preserve plan order in the result list.
	outcomes := make([]stepOutcome, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if result, ok := done[step.Adapter]; ok {
			outcomes = append(outcomes, stepOutcome{step: step, result: result})
		}
	}
	return outcomes
}

// runStep invokes one adapter with bounded exponential backoff. On an auth
// failure the credential is re-resolved once before the next attempt.
// Retryable failures that outlive the attempt budget are demoted to
// permanent so aggregation treats them as settled.
func (o *Orchestrator) runStep(ctx context.Context, logger *slog.Logger, intent *models.Intent, step Step, cred *models.Credential, upstream map[string]any) models.CallResult {
	adapter := o.adapters[step.Adapter]

	params := make(map[string]any, len(intent.Payload)+1)
	for k, v := range intent.Payload {
		params[k] = v
	}
	if upstream != nil {
		params["upstream"] = upstream
	}
	if step.Adapter == "ai" && intent.Kind == models.IntentQuery && o.conversations != nil {
		if history, err := o.conversations.Context(ctx, intent.OwnerID); err == nil && len(history) > 0 {
			params["history"] = history
		}
	}
	req := adapters.Request{
		Operation: step.Operation,
		OwnerID:   intent.OwnerID,
		Params:    params,
	}

	var last models.CallResult
	reResolved := false

	// Cycle cancellation must not abort a call already on the wire; the
	// provider side effect happens either way. The call context keeps the
	// adapter's own timeout but drops the cycle's cancel signal. Retries
	// and backoff still observe ctx.
	callCtx := context.WithoutCancel(ctx)

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		stepLogger := logging.WithStep(logger, step.Adapter, attempt)

		last = adapter.Invoke(callCtx, req, cred)
		last.Attempts = attempt

		if last.Status != models.CallRetryableFailure {
			return last
		}
		stepLogger.Info("attempt failed", "error_kind", last.ErrorKind, "detail", last.Detail)

		if last.ErrorKind == models.ErrKindAuth && !reResolved {
			reResolved = true
			o.credentials.Invalidate(intent.OwnerID, adapter.Provider())
			fresh, err := o.credentials.GetValid(ctx, intent.OwnerID, adapter.Provider())
			if err != nil {
				last.Detail = "credential re-resolution failed: " + err.Error()
				break
			}
			cred = fresh
		}

		if attempt == o.maxAttempts {
			break
		}
		GetMetricsSafe(func(m *Metrics) { m.AdapterRetries.WithLabelValues(step.Adapter).Inc() })

		delay := o.baseDelay << (attempt - 1)
		select {
		case <-ctx.Done():
			return last
		case <-time.After(delay):
		}
	}

	last.Status = models.CallPermanentFailure
	if last.Detail != "" {
		last.Detail += "; "
	}
	last.Detail += fmt.Sprintf("gave up after %d attempts", last.Attempts)
	return last
}

// recordSideEffects appends conversation turns and lead activities for the
// steps that succeeded. Failures here are logged by the services and never
// change the outcome.
func (o *Orchestrator) recordSideEffects(ctx context.Context, intent *models.Intent, outcomes []stepOutcome) {
	for _, so := range outcomes {
		if !so.result.OK() {
			continue
		}
		switch so.step.Adapter {
		case "ai":
			if o.conversations != nil && intent.Kind == models.IntentQuery {
				content, _ := so.result.Output["content"].(string)
				o.conversations.RecordExchange(ctx, intent, intent.PayloadString("prompt"), content)
			}
		case "calendar":
			o.recordActivity(ctx, intent, models.ActivityMeetingScheduled, so.result)
		case "email":
			o.recordActivity(ctx, intent, models.ActivityEmailSent, so.result)
		case "messaging":
			typ := models.ActivityMessageSent
			if so.step.Operation == "call" {
				typ = models.ActivityCallPlaced
			}
			o.recordActivity(ctx, intent, typ, so.result)
		}
	}
}

func (o *Orchestrator) recordActivity(ctx context.Context, intent *models.Intent, typ models.ActivityType, result models.CallResult) {
	if o.leads == nil {
		return
	}
	leadID := intent.PayloadString("lead_id")
	if leadID == "" {
		return
	}
	detail, _ := json.Marshal(result.Output)
	o.leads.RecordActivity(ctx, intent.OwnerID, leadID, typ, string(detail))
}

// summarize produces the human-readable outcome summary.
func summarize(intent *models.Intent, results []models.CallResult) string {
	for _, r := range results {
		if r.Adapter == "ai" && r.OK() {
			if content, ok := r.Output["content"].(string); ok && content != "" {
				return content
			}
		}
	}
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprintf("%d step(s) completed", len(results))
	}
	return fmt.Sprintf("%d of %d step(s) failed", failed, len(results))
}

// payloadHash canonicalizes the payload for duplicate detection. Key order
// does not affect the hash.
func payloadHash(intent *models.Intent) string {
	keys := make([]string, 0, len(intent.Payload))
	for k := range intent.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(intent.Kind))
	for _, k := range keys {
		v, _ := json.Marshal(intent.Payload[k])
		h.Write([]byte(k))
		h.Write(v)
	}
	return hex.EncodeToString(h.Sum(nil))
}
