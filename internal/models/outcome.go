package models

import "time"

// CallStatus classifies a single adapter invocation.
type CallStatus string

const (
	CallSuccess          CallStatus = "success"
	CallRetryableFailure CallStatus = "retryable_failure"
	CallPermanentFailure CallStatus = "permanent_failure"
)

// ErrorKind narrows a failed call for retry policy and reporting.
type ErrorKind string

const (
	ErrKindTimeout      ErrorKind = "timeout"
	ErrKindRateLimited  ErrorKind = "rate_limited"
	ErrKindAuth         ErrorKind = "auth"
	ErrKindInvalidInput ErrorKind = "invalid_input"
	ErrKindProvider     ErrorKind = "provider_error"
	ErrKindNetwork      ErrorKind = "network"
)

// CallResult is what one adapter step produced. Exactly one of Output or
// ErrorKind is meaningful depending on Status.
type CallResult struct {
	Adapter   string         `json:"adapter"`
	Status    CallStatus     `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Attempts  int            `json:"attempts"`
	Elapsed   time.Duration  `json:"elapsed_ms"`
}

// OK reports whether the call succeeded.
func (r CallResult) OK() bool { return r.Status == CallSuccess }

// OutcomeStatus is the aggregate verdict for a whole intent.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomePartial   OutcomeStatus = "partial"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is the durable record of one finished cycle.
type Outcome struct {
	IntentID   string        `json:"intent_id"`
	OwnerID    string        `json:"owner_id"`
	Kind       IntentKind    `json:"kind"`
	Status     OutcomeStatus `json:"status"`
	Results    []CallResult  `json:"results"`
	Summary    string        `json:"summary,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Aggregate folds per-step results into the outcome status. All critical
// steps succeeding yields completed; any critical step failing yields
// failed; otherwise a failed optional step degrades to partial.
func Aggregate(results []CallResult, critical map[string]bool) OutcomeStatus {
	status := OutcomeCompleted
	for _, r := range results {
		if r.OK() {
			continue
		}
		if critical[r.Adapter] {
			return OutcomeFailed
		}
		status = OutcomePartial
	}
	return status
}
