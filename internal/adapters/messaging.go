package adapters

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"smartlead/internal/models"
)

const defaultMessagingBaseURL = "https://api.twilio.com/2010-04-01"

// MessagingAdapter sends SMS and places voice calls through Twilio.
// The account SID and default from-number are service-level settings; the
// per-owner credential carries the auth token.
type MessagingAdapter struct {
	baseURL    string
	accountSID string
	fromNumber string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewMessagingAdapter creates a messaging adapter. baseURL is overridable
// for tests; pass "" for the Twilio API.
func NewMessagingAdapter(baseURL, accountSID, fromNumber string, timeout time.Duration) *MessagingAdapter {
	if baseURL == "" {
		baseURL = defaultMessagingBaseURL
	}
	return &MessagingAdapter{
		baseURL:    baseURL,
		accountSID: accountSID,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (a *MessagingAdapter) Name() string              { return "messaging" }
func (a *MessagingAdapter) Provider() models.Provider { return models.ProviderMessaging }

// Invoke sends one message or places one call.
// Operation "send": Params "to" and "body" required, "from" optional.
// Operation "call": Params "to" and "script" required; the script is read
// to the callee as synthesized speech.
func (a *MessagingAdapter) Invoke(ctx context.Context, req Request, cred *models.Credential) models.CallResult {
	start := time.Now()

	to := req.String("to")
	if to == "" {
		return invalid(a.Name(), "'to' phone number is required")
	}
	from := req.String("from")
	if from == "" {
		from = a.fromNumber
	}
	if from == "" {
		return invalid(a.Name(), "'from' phone number is required")
	}

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", from)

	var endpoint string
	switch req.Operation {
	case "call":
		script := req.String("script")
		if script == "" {
			return invalid(a.Name(), "'script' is required for calls")
		}
		data.Set("Twiml", fmt.Sprintf("<Response><Say>%s</Say></Response>", xmlEscape(script)))
		endpoint = fmt.Sprintf("%s/Accounts/%s/Calls.json", a.baseURL, a.accountSID)
	default:
		body := req.String("body")
		if body == "" {
			return invalid(a.Name(), "'body' message content is required")
		}
		data.Set("Body", body)
		endpoint = fmt.Sprintf("%s/Accounts/%s/Messages.json", a.baseURL, a.accountSID)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return transportFailure(a.Name(), start, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return invalid(a.Name(), fmt.Sprintf("build request: %v", err))
	}
	auth := base64.StdEncoding.EncodeToString([]byte(a.accountSID + ":" + cred.AccessToken))
	httpReq.Header.Set("Authorization", "Basic "+auth)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure(a.Name(), start, err)
	}
	defer resp.Body.Close()

	body := readBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpFailure(a.Name(), start, resp.StatusCode, body)
	}

	var created struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		return models.CallResult{
			Adapter:   a.Name(),
			Status:    models.CallRetryableFailure,
			ErrorKind: models.ErrKindProvider,
			Detail:    "malformed messaging response",
			Attempts:  1,
			Elapsed:   time.Since(start),
		}
	}

	return success(a.Name(), start, map[string]any{
		"sid":    created.SID,
		"status": created.Status,
	})
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return replacer.Replace(s)
}
