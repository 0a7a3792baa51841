package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"smartlead/internal/models"
)

const defaultGmailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// EmailAdapter sends mail through the owner's Gmail account. It shares
// the Google credential with the calendar adapter.
type EmailAdapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewEmailAdapter creates an email adapter. baseURL is overridable for
// tests; pass "" for the Gmail API.
func NewEmailAdapter(baseURL string, timeout time.Duration) *EmailAdapter {
	if baseURL == "" {
		baseURL = defaultGmailBaseURL
	}
	return &EmailAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (a *EmailAdapter) Name() string              { return "email" }
func (a *EmailAdapter) Provider() models.Provider { return models.ProviderGoogle }

// Invoke sends one message. Params: "to" (required), "subject" (required),
// "body" (required), "cc" and "bcc" (optional).
func (a *EmailAdapter) Invoke(ctx context.Context, req Request, cred *models.Credential) models.CallResult {
	start := time.Now()

	to := req.String("to")
	subject := req.String("subject")
	body := req.String("body")
	if to == "" || subject == "" || body == "" {
		return invalid(a.Name(), "'to', 'subject' and 'body' are required")
	}

	raw := encodeMessage(to, req.String("cc"), req.String("bcc"), subject, body)
	payload, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return invalid(a.Name(), fmt.Sprintf("marshal message: %v", err))
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return transportFailure(a.Name(), start, err)
	}

	endpoint := a.baseURL + "/users/me/messages/send"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return invalid(a.Name(), fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure(a.Name(), start, err)
	}
	defer resp.Body.Close()

	respBody := readBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpFailure(a.Name(), start, resp.StatusCode, respBody)
	}

	var sent struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal([]byte(respBody), &sent); err != nil {
		return models.CallResult{
			Adapter:   a.Name(),
			Status:    models.CallRetryableFailure,
			ErrorKind: models.ErrKindProvider,
			Detail:    "malformed send response",
			Attempts:  1,
			Elapsed:   time.Since(start),
		}
	}

	return success(a.Name(), start, map[string]any{
		"message_id": sent.ID,
		"thread_id":  sent.ThreadID,
	})
}

// encodeMessage builds an RFC 822 plain-text message and encodes it the
// way the Gmail API expects raw payloads: base64url, no padding stripped.
func encodeMessage(to, cc, bcc, subject, body string) string {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	if cc != "" {
		fmt.Fprintf(&msg, "Cc: %s\r\n", cc)
	}
	if bcc != "" {
		fmt.Fprintf(&msg, "Bcc: %s\r\n", bcc)
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return base64.URLEncoding.EncodeToString(msg.Bytes())
}
