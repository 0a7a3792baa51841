package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"smartlead/internal/crypto"
	"smartlead/internal/database"
	"smartlead/internal/models"
	"smartlead/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return store.New(db)
}

func newTestEncryption(t *testing.T) *crypto.EncryptionService {
	t.Helper()
	key, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("Failed to generate master key: %v", err)
	}
	enc, err := crypto.NewEncryptionService(key)
	if err != nil {
		t.Fatalf("Failed to create encryption service: %v", err)
	}
	return enc
}

func newTestCredentialService(t *testing.T, tokenURL string) *CredentialService {
	t.Helper()
	return NewCredentialService(newTestStore(t), newTestEncryption(t), nil, RefreshConfig{
		TokenURL:     tokenURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		ExpirySkew:   time.Minute,
	})
}

func TestCredentialStoreAndGetValid(t *testing.T) {
	svc := newTestCredentialService(t, "http://unused.invalid/token")
	ctx := context.Background()

	cred := &models.Credential{
		OwnerID:     "owner-1",
		Provider:    models.ProviderAI,
		AccessToken: "sk-test",
	}
	if err := svc.Store(ctx, cred); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := svc.GetValid(ctx, "owner-1", models.ProviderAI)
	if err != nil {
		t.Fatalf("GetValid failed: %v", err)
	}
	if got.AccessToken != "sk-test" {
		t.Errorf("Expected sk-test, got %q", got.AccessToken)
	}

	// The returned credential is a copy; mutating it cannot poison the cache.
	got.AccessToken = "tampered"
	again, err := svc.GetValid(ctx, "owner-1", models.ProviderAI)
	if err != nil {
		t.Fatalf("Second GetValid failed: %v", err)
	}
	if again.AccessToken != "sk-test" {
		t.Errorf("Cache was mutated through the returned copy: %q", again.AccessToken)
	}
}

func TestGetValidNotFound(t *testing.T) {
	svc := newTestCredentialService(t, "http://unused.invalid/token")

	_, err := svc.GetValid(context.Background(), "owner-1", models.ProviderGoogle)
	if !errors.Is(err, models.ErrCredentialNotFound) {
		t.Errorf("Expected ErrCredentialNotFound, got %v", err)
	}
}

func TestStoreRejectsInvalidCredential(t *testing.T) {
	svc := newTestCredentialService(t, "http://unused.invalid/token")
	ctx := context.Background()

	cases := []*models.Credential{
		{Provider: models.ProviderAI, AccessToken: "tok"},
		{OwnerID: "owner-1", Provider: "fax", AccessToken: "tok"},
		{OwnerID: "owner-1", Provider: models.ProviderAI},
	}
	for i, cred := range cases {
		if err := svc.Store(ctx, cred); err == nil {
			t.Errorf("Case %d: expected validation error", i)
		}
	}
}

func TestGetValidRefreshesExpiredCredential(t *testing.T) {
	var refreshCalls int64
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&refreshCalls, 1)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("Unexpected grant_type: %s", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "1//refresh" {
			t.Errorf("Unexpected refresh_token: %s", r.PostForm.Get("refresh_token"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"ya29.renewed","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	svc := newTestCredentialService(t, tokenServer.URL)
	ctx := context.Background()

	if err := svc.Store(ctx, &models.Credential{
		OwnerID:      "owner-1",
		Provider:     models.ProviderGoogle,
		AccessToken:  "ya29.stale",
		RefreshToken: "1//refresh",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := svc.GetValid(ctx, "owner-1", models.ProviderGoogle)
	if err != nil {
		t.Fatalf("GetValid failed: %v", err)
	}
	if got.AccessToken != "ya29.renewed" {
		t.Errorf("Expected renewed token, got %q", got.AccessToken)
	}
	if atomic.LoadInt64(&refreshCalls) != 1 {
		t.Errorf("Expected 1 refresh call, got %d", refreshCalls)
	}

	// A second call serves the renewed credential from cache.
	got, err = svc.GetValid(ctx, "owner-1", models.ProviderGoogle)
	if err != nil {
		t.Fatalf("Second GetValid failed: %v", err)
	}
	if got.AccessToken != "ya29.renewed" {
		t.Errorf("Expected renewed token from cache, got %q", got.AccessToken)
	}
	if atomic.LoadInt64(&refreshCalls) != 1 {
		t.Errorf("Renewed credential should not trigger another refresh, got %d calls", refreshCalls)
	}
}

func TestConcurrentGetValidSharesOneRefresh(t *testing.T) {
	var refreshCalls int64
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&refreshCalls, 1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"ya29.renewed","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	svc := newTestCredentialService(t, tokenServer.URL)
	ctx := context.Background()

	if err := svc.Store(ctx, &models.Credential{
		OwnerID:      "owner-1",
		Provider:     models.ProviderGoogle,
		AccessToken:  "ya29.stale",
		RefreshToken: "1//refresh",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := svc.GetValid(ctx, "owner-1", models.ProviderGoogle)
			errs[i] = err
			if cred != nil {
				tokens[i] = cred.AccessToken
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "ya29.renewed" {
			t.Errorf("Caller %d got %q", i, tokens[i])
		}
	}
	if n := atomic.LoadInt64(&refreshCalls); n != 1 {
		t.Errorf("Expected exactly 1 outbound refresh for %d callers, got %d", callers, n)
	}
}

func TestGetValidRefreshFailureLeavesStoredCredential(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	svc := newTestCredentialService(t, tokenServer.URL)
	ctx := context.Background()

	if err := svc.Store(ctx, &models.Credential{
		OwnerID:      "owner-1",
		Provider:     models.ProviderGoogle,
		AccessToken:  "ya29.stale",
		RefreshToken: "1//revoked",
		ExpiresAt:    time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, err := svc.GetValid(ctx, "owner-1", models.ProviderGoogle)
	if !errors.Is(err, models.ErrCredentialExpired) {
		t.Fatalf("Expected ErrCredentialExpired, got %v", err)
	}

	// The stored credential survives a failed refresh so a later attempt
	// against a recovered endpoint can still succeed.
	statuses, err := svc.List(ctx, "owner-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Provider != models.ProviderGoogle {
		t.Errorf("Stored credential was lost after failed refresh: %+v", statuses)
	}
}

func TestGetValidExpiredWithoutRefreshToken(t *testing.T) {
	svc := newTestCredentialService(t, "http://unused.invalid/token")
	ctx := context.Background()

	if err := svc.Store(ctx, &models.Credential{
		OwnerID:     "owner-1",
		Provider:    models.ProviderGoogle,
		AccessToken: "ya29.stale",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	_, err := svc.GetValid(ctx, "owner-1", models.ProviderGoogle)
	if !errors.Is(err, models.ErrCredentialExpired) {
		t.Errorf("Expected ErrCredentialExpired for unrefreshable credential, got %v", err)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc := newTestCredentialService(t, "http://unused.invalid/token")
	ctx := context.Background()

	if err := svc.Store(ctx, &models.Credential{
		OwnerID:     "owner-1",
		Provider:    models.ProviderMessaging,
		AccessToken: "twilio-auth-token",
	}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	if err := svc.Revoke(ctx, "owner-1", models.ProviderMessaging); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := svc.Revoke(ctx, "owner-1", models.ProviderMessaging); err != nil {
		t.Errorf("Second revoke should succeed, got %v", err)
	}
	if _, err := svc.GetValid(ctx, "owner-1", models.ProviderMessaging); !errors.Is(err, models.ErrCredentialNotFound) {
		t.Errorf("Expected ErrCredentialNotFound after revoke, got %v", err)
	}
}

func TestExchangeAuthCode(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("grant_type") != "authorization_code" {
			t.Errorf("Unexpected grant_type: %s", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("code") != "auth-code-123" {
			t.Errorf("Unexpected code: %s", r.PostForm.Get("code"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"ya29.fresh","refresh_token":"1//new","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	svc := newTestCredentialService(t, tokenServer.URL)
	ctx := context.Background()

	if err := svc.ExchangeAuthCode(ctx, "owner-1", "auth-code-123", "https://app.example/callback"); err != nil {
		t.Fatalf("ExchangeAuthCode failed: %v", err)
	}

	cred, err := svc.GetValid(ctx, "owner-1", models.ProviderGoogle)
	if err != nil {
		t.Fatalf("GetValid after exchange failed: %v", err)
	}
	if cred.AccessToken != "ya29.fresh" || cred.RefreshToken != "1//new" {
		t.Errorf("Exchanged credential mismatch: %+v", cred)
	}
}
