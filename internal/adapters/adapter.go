package adapters

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"smartlead/internal/models"
)

// Request is one unit of provider work handed to an adapter.
type Request struct {
	Operation string
	OwnerID   string
	Params    map[string]any
}

// Adapter translates one Request into exactly one outbound provider call
// and classifies whatever comes back. Adapters never retry, never touch
// storage, and never refresh credentials; that is the orchestrator's job.
type Adapter interface {
	Name() string
	Provider() models.Provider
	Invoke(ctx context.Context, req Request, cred *models.Credential) models.CallResult
}

// String returns a string request param, or "" when absent.
func (r Request) String(key string) string {
	if v, ok := r.Params[key].(string); ok {
		return v
	}
	return ""
}

// classifyHTTP maps a provider response status to a call classification.
func classifyHTTP(statusCode int, body string) (models.CallStatus, models.ErrorKind) {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		// Auth failures are retryable so the orchestrator can re-resolve
		// credentials once before giving up.
		return models.CallRetryableFailure, models.ErrKindAuth
	case statusCode == http.StatusTooManyRequests || isQuotaBody(body):
		return models.CallRetryableFailure, models.ErrKindRateLimited
	case statusCode == http.StatusRequestTimeout || statusCode >= 500:
		return models.CallRetryableFailure, models.ErrKindProvider
	default:
		return models.CallPermanentFailure, models.ErrKindInvalidInput
	}
}

// isQuotaBody detects quota exhaustion phrasing that some providers return
// with a 200-family or 400-family status.
func isQuotaBody(body string) bool {
	lower := strings.ToLower(body)
	for _, pattern := range []string{
		"quota exceeded",
		"rate limit",
		"too many requests",
		"insufficient_quota",
		"rate_limit_exceeded",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// classifyTransport maps a transport-level error. Deadline and cancellation
// map to timeout; everything else is a network fault. Both are retryable.
func classifyTransport(err error) (models.CallStatus, models.ErrorKind) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.CallRetryableFailure, models.ErrKindTimeout
	}
	return models.CallRetryableFailure, models.ErrKindNetwork
}

// transportFailure builds a CallResult for a request that never produced a
// provider response.
func transportFailure(name string, start time.Time, err error) models.CallResult {
	status, kind := classifyTransport(err)
	return models.CallResult{
		Adapter:   name,
		Status:    status,
		ErrorKind: kind,
		Detail:    err.Error(),
		Attempts:  1,
		Elapsed:   time.Since(start),
	}
}

// httpFailure builds a CallResult for a non-2xx provider response.
func httpFailure(name string, start time.Time, statusCode int, body string) models.CallResult {
	status, kind := classifyHTTP(statusCode, body)
	detail := body
	if len(detail) > 512 {
		detail = detail[:512]
	}
	return models.CallResult{
		Adapter:   name,
		Status:    status,
		ErrorKind: kind,
		Detail:    detail,
		Attempts:  1,
		Elapsed:   time.Since(start),
	}
}

// success builds a CallResult for a completed call.
func success(name string, start time.Time, output map[string]any) models.CallResult {
	return models.CallResult{
		Adapter:  name,
		Status:   models.CallSuccess,
		Output:   output,
		Attempts: 1,
		Elapsed:  time.Since(start),
	}
}

// invalid builds a permanent failure for requests rejected before any
// outbound call is made.
func invalid(name string, detail string) models.CallResult {
	return models.CallResult{
		Adapter:   name,
		Status:    models.CallPermanentFailure,
		ErrorKind: models.ErrKindInvalidInput,
		Detail:    detail,
		Attempts:  1,
	}
}

// readBody drains a response body with a hard cap.
func readBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64*1024))
	return string(data)
}
