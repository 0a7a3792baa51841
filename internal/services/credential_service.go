package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"smartlead/internal/crypto"
	"smartlead/internal/models"
	"smartlead/internal/store"
)

// RefreshConfig carries the OAuth endpoint settings used to renew
// expiring Google credentials.
type RefreshConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	ExpirySkew   time.Duration
}

// CredentialService manages encrypted credentials for all providers. It is
// the only component that sees decrypted token material; callers above the
// adapter layer only ever see metadata.
type CredentialService struct {
	store      *store.Store
	encryption *crypto.EncryptionService
	redis      *RedisService // optional, nil when Redis is not configured
	refresh    RefreshConfig
	httpClient *http.Client
	cache      *gocache.Cache
	flight     singleflight.Group
}

// NewCredentialService creates a new credential service
func NewCredentialService(st *store.Store, encryption *crypto.EncryptionService, redis *RedisService, refresh RefreshConfig) *CredentialService {
	if refresh.ExpirySkew == 0 {
		refresh.ExpirySkew = time.Minute
	}
	return &CredentialService{
		store:      st,
		encryption: encryption,
		redis:      redis,
		refresh:    refresh,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      gocache.New(5*time.Minute, 10*time.Minute),
	}
}

func cacheKey(ownerID string, provider models.Provider) string {
	return ownerID + "|" + string(provider)
}

// Store validates, encrypts and upserts a credential, replacing any
// existing one for the same (owner, provider).
func (s *CredentialService) Store(ctx context.Context, cred *models.Credential) error {
	if cred.OwnerID == "" {
		return fmt.Errorf("owner ID is required")
	}
	if !models.ValidProvider(cred.Provider) {
		return fmt.Errorf("unknown provider: %q", cred.Provider)
	}
	if cred.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}

	cred.UpdatedAt = time.Now()

	blobJSON, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to serialize credential: %w", err)
	}

	blob, err := s.encryption.Encrypt(cred.OwnerID, blobJSON)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	if err := s.store.UpsertCredential(ctx, cred.OwnerID, cred.Provider, blob, cred.ExpiresAt, cred.UpdatedAt); err != nil {
		return err
	}

	s.cache.Delete(cacheKey(cred.OwnerID, cred.Provider))
	log.Printf("🔐 [CREDENTIAL] Stored %s credential for owner %s", cred.Provider, cred.OwnerID)
	return nil
}

// Revoke removes a credential. Revoking a provider that was never
// connected is not an error.
func (s *CredentialService) Revoke(ctx context.Context, ownerID string, provider models.Provider) error {
	if err := s.store.DeleteCredential(ctx, ownerID, provider); err != nil {
		return err
	}
	s.cache.Delete(cacheKey(ownerID, provider))
	log.Printf("🔐 [CREDENTIAL] Revoked %s credential for owner %s", provider, ownerID)
	return nil
}

// List returns metadata-only statuses for an owner's credentials.
func (s *CredentialService) List(ctx context.Context, ownerID string) ([]models.CredentialStatus, error) {
	return s.store.ListCredentialStatuses(ctx, ownerID)
}

// GetValid returns a usable credential for (owner, provider). Expiring
// credentials with a refresh token are renewed transparently; concurrent
// callers share one refresh. The returned credential is a copy callers
// may not mutate through.
func (s *CredentialService) GetValid(ctx context.Context, ownerID string, provider models.Provider) (*models.Credential, error) {
	key := cacheKey(ownerID, provider)
	now := time.Now()

	if cached, found := s.cache.Get(key); found {
		cred := cached.(*models.Credential)
		if !cred.Expired(now, s.refresh.ExpirySkew) {
			out := *cred
			return &out, nil
		}
		s.cache.Delete(key)
	}

	cred, err := s.load(ctx, ownerID, provider)
	if err != nil {
		return nil, err
	}

	if !cred.Expired(now, s.refresh.ExpirySkew) {
		s.cache.Set(key, cred, gocache.DefaultExpiration)
		out := *cred
		return &out, nil
	}

	if !cred.Refreshable() {
		return nil, fmt.Errorf("%s credential for owner %s: %w", provider, ownerID, models.ErrCredentialExpired)
	}

	// All concurrent callers for the same (owner, provider) share one
	// refresh; the stored credential is only replaced on success.
	refreshed, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.refreshCredential(ctx, ownerID, provider)
	})
	if err != nil {
		return nil, err
	}

	cred = refreshed.(*models.Credential)
	s.cache.Set(key, cred, gocache.DefaultExpiration)
	out := *cred
	return &out, nil
}

// Invalidate drops the cached credential so the next GetValid reloads
// from the store. Used after a provider rejects a token mid-cycle.
func (s *CredentialService) Invalidate(ownerID string, provider models.Provider) {
	s.cache.Delete(cacheKey(ownerID, provider))
}

// load fetches and decrypts the stored credential.
func (s *CredentialService) load(ctx context.Context, ownerID string, provider models.Provider) (*models.Credential, error) {
	blob, err := s.store.GetCredentialBlob(ctx, ownerID, provider)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.encryption.Decrypt(ownerID, blob)
	if err != nil {
		log.Printf("⚠️ [CREDENTIAL] Decryption failed for owner %s provider %s: %v", ownerID, provider, err)
		return nil, fmt.Errorf("failed to decrypt credential")
	}

	var cred models.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}
	return &cred, nil
}

// refreshCredential exchanges the refresh token for a new access token and
// persists the result. A failed exchange leaves the stored credential
// untouched so a later attempt can still succeed.
func (s *CredentialService) refreshCredential(ctx context.Context, ownerID string, provider models.Provider) (*models.Credential, error) {
	// Another instance may have refreshed while we waited; reload first.
	cred, err := s.load(ctx, ownerID, provider)
	if err != nil {
		return nil, err
	}
	if !cred.Expired(time.Now(), s.refresh.ExpirySkew) {
		return cred, nil
	}

	// Cross-instance guard. Without Redis the in-process single-flight
	// is the only coalescing, which is still correct for one instance.
	if s.redis != nil {
		lockKey := "credlock:" + cacheKey(ownerID, provider)
		lockValue := uuid.NewString()
		acquired, lockErr := s.redis.AcquireLock(ctx, lockKey, lockValue, 30*time.Second)
		if lockErr == nil && acquired {
			defer s.redis.ReleaseLock(context.Background(), lockKey, lockValue)
		} else if lockErr == nil && !acquired {
			// Someone else is refreshing; poll the store briefly.
			if waited := s.waitForRefresh(ctx, ownerID, provider); waited != nil {
				return waited, nil
			}
		}
	}

	renewed, err := s.exchangeRefreshToken(ctx, cred)
	if err != nil {
		GetMetricsSafe(func(m *Metrics) { m.TokenRefreshes.WithLabelValues("failure").Inc() })
		log.Printf("⚠️ [CREDENTIAL] Refresh failed for owner %s provider %s: %v", ownerID, provider, err)
		return nil, fmt.Errorf("%s credential for owner %s: %w", provider, ownerID, models.ErrCredentialExpired)
	}

	if err := s.Store(ctx, renewed); err != nil {
		return nil, err
	}

	GetMetricsSafe(func(m *Metrics) { m.TokenRefreshes.WithLabelValues("success").Inc() })
	log.Printf("🔄 [CREDENTIAL] Refreshed %s credential for owner %s", provider, ownerID)
	return renewed, nil
}

// waitForRefresh polls the store while another instance holds the refresh
// lock. Returns the renewed credential or nil on timeout.
func (s *CredentialService) waitForRefresh(ctx context.Context, ownerID string, provider models.Provider) *models.Credential {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(250 * time.Millisecond):
		}
		cred, err := s.load(ctx, ownerID, provider)
		if err == nil && !cred.Expired(time.Now(), s.refresh.ExpirySkew) {
			return cred
		}
	}
	return nil
}

// ExchangeAuthCode turns an OAuth authorization code into a stored Google
// credential for the owner.
func (s *CredentialService) ExchangeAuthCode(ctx context.Context, ownerID, code, redirectURI string) error {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", s.refresh.ClientID)
	form.Set("client_secret", s.refresh.ClientSecret)
	form.Set("redirect_uri", redirectURI)

	req, err := http.NewRequestWithContext(ctx, "POST", s.refresh.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange rejected with status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to parse exchange response: %w", err)
	}
	if parsed.AccessToken == "" {
		return fmt.Errorf("exchange response missing access token")
	}

	cred := &models.Credential{
		OwnerID:      ownerID,
		Provider:     models.ProviderGoogle,
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	if parsed.ExpiresIn > 0 {
		cred.ExpiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	return s.Store(ctx, cred)
}

// exchangeRefreshToken performs the OAuth refresh grant.
func (s *CredentialService) exchangeRefreshToken(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)
	form.Set("client_id", s.refresh.ClientID)
	form.Set("client_secret", s.refresh.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", s.refresh.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access token")
	}

	renewed := *cred
	renewed.AccessToken = parsed.AccessToken
	if parsed.RefreshToken != "" {
		renewed.RefreshToken = parsed.RefreshToken
	}
	if parsed.ExpiresIn > 0 {
		renewed.ExpiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	return &renewed, nil
}

// GetMetricsSafe runs fn against the global metrics when initialized.
// Tests construct services without metrics; this keeps them quiet.
func GetMetricsSafe(fn func(*Metrics)) {
	if m := GetMetrics(); m != nil {
		fn(m)
	}
}
