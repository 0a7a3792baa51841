package adapters

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smartlead/internal/models"
)

func testCredential() *models.Credential {
	return &models.Credential{
		OwnerID:     "owner-1",
		Provider:    models.ProviderAI,
		AccessToken: "test-token",
	}
}

func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		code   int
		body   string
		status models.CallStatus
		kind   models.ErrorKind
	}{
		{401, "", models.CallRetryableFailure, models.ErrKindAuth},
		{403, "", models.CallRetryableFailure, models.ErrKindAuth},
		{429, "", models.CallRetryableFailure, models.ErrKindRateLimited},
		{400, "quota exceeded for project", models.CallRetryableFailure, models.ErrKindRateLimited},
		{408, "", models.CallRetryableFailure, models.ErrKindProvider},
		{500, "", models.CallRetryableFailure, models.ErrKindProvider},
		{503, "", models.CallRetryableFailure, models.ErrKindProvider},
		{400, "bad request", models.CallPermanentFailure, models.ErrKindInvalidInput},
		{404, "", models.CallPermanentFailure, models.ErrKindInvalidInput},
	}

	for _, tc := range cases {
		status, kind := classifyHTTP(tc.code, tc.body)
		if status != tc.status || kind != tc.kind {
			t.Errorf("classifyHTTP(%d, %q) = (%s, %s), want (%s, %s)",
				tc.code, tc.body, status, kind, tc.status, tc.kind)
		}
	}
}

func TestAIAdapterSuccess(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Hello there"}}],"usage":{"total_tokens":12}}`))
	}))
	defer server.Close()

	adapter := NewAIAdapter(server.URL, "test-model", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Operation: "complete",
		OwnerID:   "owner-1",
		Params:    map[string]any{"prompt": "say hello"},
	}, testCredential())

	if !result.OK() {
		t.Fatalf("Expected success, got %s (%s: %s)", result.Status, result.ErrorKind, result.Detail)
	}
	if result.Output["content"] != "Hello there" {
		t.Errorf("Unexpected content: %v", result.Output["content"])
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
}

func TestAIAdapterMissingPrompt(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	adapter := NewAIAdapter(server.URL, "test-model", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{OwnerID: "owner-1"}, testCredential())

	if result.Status != models.CallPermanentFailure || result.ErrorKind != models.ErrKindInvalidInput {
		t.Errorf("Expected permanent invalid_input, got %s/%s", result.Status, result.ErrorKind)
	}
	if called {
		t.Error("No outbound call should be made for invalid input")
	}
}

func TestAIAdapterAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer server.Close()

	adapter := NewAIAdapter(server.URL, "test-model", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Params: map[string]any{"prompt": "hi"},
	}, testCredential())

	if result.Status != models.CallRetryableFailure || result.ErrorKind != models.ErrKindAuth {
		t.Errorf("Expected retryable auth failure, got %s/%s", result.Status, result.ErrorKind)
	}
}

func TestAIAdapterTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	adapter := NewAIAdapter(server.URL, "test-model", 50*time.Millisecond)
	result := adapter.Invoke(context.Background(), Request{
		Params: map[string]any{"prompt": "hi"},
	}, testCredential())

	if result.Status != models.CallRetryableFailure {
		t.Errorf("Expected retryable failure, got %s", result.Status)
	}
	if result.ErrorKind != models.ErrKindTimeout && result.ErrorKind != models.ErrKindNetwork {
		t.Errorf("Expected timeout or network kind, got %s", result.ErrorKind)
	}
}

func TestAIAdapterMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	adapter := NewAIAdapter(server.URL, "test-model", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Params: map[string]any{"prompt": "hi"},
	}, testCredential())

	if result.Status != models.CallRetryableFailure || result.ErrorKind != models.ErrKindProvider {
		t.Errorf("Expected retryable provider failure for empty choices, got %s/%s", result.Status, result.ErrorKind)
	}
}

func TestCalendarAdapterCreatesEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/primary/events" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"evt_123","htmlLink":"https://calendar.example/evt_123"}`))
	}))
	defer server.Close()

	adapter := NewCalendarAdapter(server.URL, 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Operation: "create_event",
		Params: map[string]any{
			"title": "Demo call",
			"start": "2026-09-01T10:00:00Z",
			"end":   "2026-09-01T10:30:00Z",
		},
	}, testCredential())

	if !result.OK() {
		t.Fatalf("Expected success, got %s: %s", result.Status, result.Detail)
	}
	if result.Output["event_id"] != "evt_123" {
		t.Errorf("Unexpected event id: %v", result.Output["event_id"])
	}
}

func TestCalendarAdapterRejectsBadTimes(t *testing.T) {
	adapter := NewCalendarAdapter("http://unused.invalid", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Params: map[string]any{
			"title": "Demo call",
			"start": "tomorrow at noon",
			"end":   "2026-09-01T10:30:00Z",
		},
	}, testCredential())

	if result.Status != models.CallPermanentFailure || result.ErrorKind != models.ErrKindInvalidInput {
		t.Errorf("Expected permanent invalid_input, got %s/%s", result.Status, result.ErrorKind)
	}
}

func TestMessagingAdapterSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Messages.json" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("To") != "+15550001111" || r.PostForm.Get("Body") != "hello" {
			t.Errorf("Unexpected form values: %v", r.PostForm)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM001","status":"queued"}`))
	}))
	defer server.Close()

	adapter := NewMessagingAdapter(server.URL, "AC123", "+15559990000", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Operation: "send",
		Params:    map[string]any{"to": "+15550001111", "body": "hello"},
	}, testCredential())

	if !result.OK() {
		t.Fatalf("Expected success, got %s: %s", result.Status, result.Detail)
	}
	if result.Output["sid"] != "SM001" {
		t.Errorf("Unexpected sid: %v", result.Output["sid"])
	}
}

func TestMessagingAdapterCallEscapesScript(t *testing.T) {
	var gotTwiml string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC123/Calls.json" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		r.ParseForm()
		gotTwiml = r.PostForm.Get("Twiml")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA001","status":"queued"}`))
	}))
	defer server.Close()

	adapter := NewMessagingAdapter(server.URL, "AC123", "+15559990000", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Operation: "call",
		Params:    map[string]any{"to": "+15550001111", "script": "Deals < 30% off & more"},
	}, testCredential())

	if !result.OK() {
		t.Fatalf("Expected success, got %s: %s", result.Status, result.Detail)
	}
	want := "<Response><Say>Deals &lt; 30% off &amp; more</Say></Response>"
	if gotTwiml != want {
		t.Errorf("Twiml = %q, want %q", gotTwiml, want)
	}
}

func TestEmailAdapterSendsMail(t *testing.T) {
	var gotRaw string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/send" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Raw string `json:"raw"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("Malformed payload: %v", err)
		}
		gotRaw = payload.Raw
		w.Write([]byte(`{"id":"msg_123","threadId":"thr_456"}`))
	}))
	defer server.Close()

	adapter := NewEmailAdapter(server.URL, 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Operation: "send",
		Params: map[string]any{
			"to":      "grace@navy.mil",
			"subject": "Demo follow-up",
			"body":    "Thanks for your time today.",
		},
	}, testCredential())

	if !result.OK() {
		t.Fatalf("Expected success, got %s: %s", result.Status, result.Detail)
	}
	if result.Output["message_id"] != "msg_123" || result.Output["thread_id"] != "thr_456" {
		t.Errorf("Unexpected output: %v", result.Output)
	}

	decoded, err := base64.URLEncoding.DecodeString(gotRaw)
	if err != nil {
		t.Fatalf("Raw payload is not base64url: %v", err)
	}
	mime := string(decoded)
	for _, want := range []string{"To: grace@navy.mil", "Subject: Demo follow-up", "Thanks for your time today."} {
		if !strings.Contains(mime, want) {
			t.Errorf("Encoded message missing %q:\n%s", want, mime)
		}
	}
}

func TestEmailAdapterMissingFields(t *testing.T) {
	adapter := NewEmailAdapter("http://unused.invalid", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Operation: "send",
		Params:    map[string]any{"to": "grace@navy.mil"},
	}, testCredential())

	if result.Status != models.CallPermanentFailure || result.ErrorKind != models.ErrKindInvalidInput {
		t.Errorf("Expected permanent invalid_input, got %s/%s", result.Status, result.ErrorKind)
	}
}

func TestMessagingAdapterMissingRecipient(t *testing.T) {
	adapter := NewMessagingAdapter("http://unused.invalid", "AC123", "+15559990000", 5*time.Second)
	result := adapter.Invoke(context.Background(), Request{
		Operation: "send",
		Params:    map[string]any{"body": "hello"},
	}, testCredential())

	if result.Status != models.CallPermanentFailure || result.ErrorKind != models.ErrKindInvalidInput {
		t.Errorf("Expected permanent invalid_input, got %s/%s", result.Status, result.ErrorKind)
	}
}
