package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"smartlead/internal/models"
)

const defaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"

// CalendarAdapter creates events on the owner's primary Google calendar.
type CalendarAdapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewCalendarAdapter creates a calendar adapter. baseURL is overridable
// for tests; pass "" for the Google API.
func NewCalendarAdapter(baseURL string, timeout time.Duration) *CalendarAdapter {
	if baseURL == "" {
		baseURL = defaultCalendarBaseURL
	}
	return &CalendarAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (a *CalendarAdapter) Name() string              { return "calendar" }
func (a *CalendarAdapter) Provider() models.Provider { return models.ProviderGoogle }

type calendarEvent struct {
	Summary     string             `json:"summary"`
	Description string             `json:"description,omitempty"`
	Start       calendarEventTime  `json:"start"`
	End         calendarEventTime  `json:"end"`
	Attendees   []calendarAttendee `json:"attendees,omitempty"`
}

type calendarEventTime struct {
	DateTime string `json:"dateTime"`
}

type calendarAttendee struct {
	Email string `json:"email"`
}

// Invoke creates one event. Params: "title" (required), "start" and "end"
// (RFC 3339, required), "description", "attendees" ([]string emails).
func (a *CalendarAdapter) Invoke(ctx context.Context, req Request, cred *models.Credential) models.CallResult {
	start := time.Now()

	title := req.String("title")
	startsAt := req.String("start")
	endsAt := req.String("end")
	if title == "" || startsAt == "" || endsAt == "" {
		return invalid(a.Name(), "'title', 'start' and 'end' are required")
	}
	if _, err := time.Parse(time.RFC3339, startsAt); err != nil {
		return invalid(a.Name(), fmt.Sprintf("invalid 'start': %v", err))
	}
	if _, err := time.Parse(time.RFC3339, endsAt); err != nil {
		return invalid(a.Name(), fmt.Sprintf("invalid 'end': %v", err))
	}

	event := calendarEvent{
		Summary:     title,
		Description: req.String("description"),
		Start:       calendarEventTime{DateTime: startsAt},
		End:         calendarEventTime{DateTime: endsAt},
	}
	if attendees, ok := req.Params["attendees"].([]string); ok {
		for _, email := range attendees {
			event.Attendees = append(event.Attendees, calendarAttendee{Email: email})
		}
	}

	bodyBytes, err := json.Marshal(event)
	if err != nil {
		return invalid(a.Name(), fmt.Sprintf("marshal event: %v", err))
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return transportFailure(a.Name(), start, err)
	}

	endpoint := a.baseURL + "/calendars/primary/events"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(bodyBytes))
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

	body := readBody(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpFailure(a.Name(), start, resp.StatusCode, body)
	}

	var created struct {
		ID       string `json:"id"`
		HTMLLink string `json:"htmlLink"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		return models.CallResult{
			Adapter:   a.Name(),
			Status:    models.CallRetryableFailure,
			ErrorKind: models.ErrKindProvider,
			Detail:    "malformed event response",
			Attempts:  1,
			Elapsed:   time.Since(start),
		}
	}

	return success(a.Name(), start, map[string]any{
		"event_id":  created.ID,
		"html_link": created.HTMLLink,
	})
}
