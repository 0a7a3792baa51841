package jobs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"smartlead/internal/models"
	"smartlead/internal/services"
	"smartlead/internal/store"
)

// EmailIngestJob polls each owner's Gmail inbox for unread messages and
// turns unknown senders into leads. Processed messages are marked read so
// the next pass skips them.
type EmailIngestJob struct {
	store       *store.Store
	credentials *services.CredentialService
	leads       *services.LeadService
	baseURL     string
	interval    time.Duration
	httpClient  *http.Client
}

// NewEmailIngestJob creates an email ingest job. baseURL is overridable
// for tests; pass "" for the Gmail API.
func NewEmailIngestJob(st *store.Store, creds *services.CredentialService, leads *services.LeadService, baseURL string, interval time.Duration) *EmailIngestJob {
	if baseURL == "" {
		baseURL = "https://gmail.googleapis.com/gmail/v1"
	}
	return &EmailIngestJob{
		store:       st,
		credentials: creds,
		leads:       leads,
		baseURL:     baseURL,
		interval:    interval,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Run processes unread mail for every owner with a Google credential.
// One owner failing never blocks the rest.
func (j *EmailIngestJob) Run(ctx context.Context) error {
	owners, err := j.store.ListCredentialOwners(ctx, models.ProviderGoogle)
	if err != nil {
		log.Printf("⚠️ [EMAIL-INGEST] Failed to list owners: %v", err)
		return err
	}

	var processed int
	for _, owner := range owners {
		n, err := j.processOwner(ctx, owner)
		if err != nil {
			log.Printf("⚠️ [EMAIL-INGEST] Owner %s: %v", owner, err)
			continue
		}
		processed += n
	}
	if processed > 0 {
		log.Printf("📧 [EMAIL-INGEST] Processed %d inbound emails", processed)
	}
	return nil
}

// GetNextRunTime returns the next poll time
func (j *EmailIngestJob) GetNextRunTime() time.Time {
	return time.Now().Add(j.interval)
}

func (j *EmailIngestJob) processOwner(ctx context.Context, ownerID string) (int, error) {
	cred, err := j.credentials.GetValid(ctx, ownerID, models.ProviderGoogle)
	if err != nil {
		return 0, fmt.Errorf("resolve credential: %w", err)
	}

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := j.call(ctx, cred.AccessToken, "GET",
		"/users/me/messages?q=is%3Aunread&maxResults=25", nil, &list); err != nil {
		return 0, fmt.Errorf("list unread: %w", err)
	}

	var processed int
	for _, m := range list.Messages {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := j.processMessage(ctx, ownerID, cred.AccessToken, m.ID); err != nil {
			log.Printf("⚠️ [EMAIL-INGEST] Message %s: %v", m.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (j *EmailIngestJob) processMessage(ctx context.Context, ownerID, token, messageID string) error {
	var msg gmailMessage
	if err := j.call(ctx, token, "GET", "/users/me/messages/"+messageID+"?format=full", nil, &msg); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	from := senderAddress(msg.header("From"))
	if from == "" {
		return fmt.Errorf("no sender address")
	}

	if _, err := j.leads.IngestInboundEmail(ctx, ownerID, from, msg.header("Subject"), msg.textBody()); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	// Mark read only after the lead side is recorded; a crash in between
	// reprocesses the message, which IngestInboundEmail tolerates.
	modify := map[string]any{"removeLabelIds": []string{"UNREAD"}}
	if err := j.call(ctx, token, "POST", "/users/me/messages/"+messageID+"/modify", modify, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// call performs one Gmail API request and decodes the JSON response into
// out when it is non-nil.
func (j *EmailIngestJob) call(ctx context.Context, token, method, path string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, j.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gmail returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type gmailMessage struct {
	Payload gmailPart `json:"payload"`
}

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

func (m *gmailMessage) header(name string) string {
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// textBody returns the decoded text/plain body, preferring the first
// matching part of a multipart message.
func (m *gmailMessage) textBody() string {
	if len(m.Payload.Parts) > 0 {
		for _, p := range m.Payload.Parts {
			if p.MimeType == "text/plain" {
				return decodeBody(p.Body.Data)
			}
		}
	}
	return decodeBody(m.Payload.Body.Data)
}

func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

var addressPattern = regexp.MustCompile(`<(.+?)>`)

// senderAddress extracts the bare address from a From header, which may be
// either "Name <addr>" or a bare address.
func senderAddress(from string) string {
	if match := addressPattern.FindStringSubmatch(from); match != nil {
		return strings.TrimSpace(match[1])
	}
	return strings.TrimSpace(from)
}
