package jobs

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"smartlead/internal/crypto"
	"smartlead/internal/database"
	"smartlead/internal/models"
	"smartlead/internal/services"
	"smartlead/internal/store"
)

func newIngestFixture(t *testing.T) (*store.Store, *services.CredentialService, *services.LeadService) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	st := store.New(db)

	key, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("Failed to generate master key: %v", err)
	}
	enc, err := crypto.NewEncryptionService(key)
	if err != nil {
		t.Fatalf("Failed to create encryption service: %v", err)
	}
	creds := services.NewCredentialService(st, enc, nil, services.RefreshConfig{})
	leads := services.NewLeadService(st, creds, nil)
	return st, creds, leads
}

func TestEmailIngestCreatesLeadAndMarksRead(t *testing.T) {
	body := base64.RawURLEncoding.EncodeToString([]byte("Hi, Grace here from the Navy. Interested in a demo."))
	var unread atomic.Bool
	unread.Store(true)
	var modifyCalls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/users/me/messages":
			if unread.Load() {
				fmt.Fprint(w, `{"messages":[{"id":"m1"}]}`)
			} else {
				fmt.Fprint(w, `{}`)
			}
		case r.Method == "GET" && r.URL.Path == "/users/me/messages/m1":
			fmt.Fprintf(w, `{"payload":{"mimeType":"text/plain","headers":[{"name":"From","value":"Grace Hopper <grace@navy.mil>"},{"name":"Subject","value":"Demo request"}],"body":{"data":"%s"}}}`, body)
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/m1/modify"):
			modifyCalls.Add(1)
			unread.Store(false)
			fmt.Fprint(w, `{}`)
		default:
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	st, creds, leads := newIngestFixture(t)
	ctx := context.Background()
	if err := creds.Store(ctx, &models.Credential{
		OwnerID:     "owner-1",
		Provider:    models.ProviderGoogle,
		AccessToken: "ya29.token",
	}); err != nil {
		t.Fatalf("Failed to store credential: %v", err)
	}

	job := NewEmailIngestJob(st, creds, leads, server.URL, 0)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	lead, err := st.FindLeadByEmail(ctx, "owner-1", "grace@navy.mil")
	if err != nil {
		t.Fatalf("Expected a lead for the sender: %v", err)
	}
	if lead.LeadSource != "email" {
		t.Errorf("Expected email source, got %q", lead.LeadSource)
	}
	if modifyCalls.Load() != 1 {
		t.Errorf("Expected the message to be marked read once, got %d", modifyCalls.Load())
	}

	// A second pass finds nothing unread and creates no duplicate.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Second Run failed: %v", err)
	}
	all, err := st.ListLeads(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 lead, got %d", len(all))
	}
}

func TestEmailIngestSkipsOwnersWithoutCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("No request expected, got %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	st, creds, leads := newIngestFixture(t)
	job := NewEmailIngestJob(st, creds, leads, server.URL, 0)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestSenderAddress(t *testing.T) {
	cases := map[string]string{
		"Grace Hopper <grace@navy.mil>": "grace@navy.mil",
		"grace@navy.mil":                "grace@navy.mil",
		"  ada@analytical.example  ":    "ada@analytical.example",
	}
	for in, want := range cases {
		if got := senderAddress(in); got != want {
			t.Errorf("senderAddress(%q) = %q, want %q", in, got, want)
		}
	}
}
