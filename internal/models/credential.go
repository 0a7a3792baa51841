package models

import (
	"errors"
	"time"
)

// Provider identifies an external system a credential grants access to.
type Provider string

const (
	ProviderGoogle    Provider = "google"    // calendar + identity (OAuth access/refresh pair)
	ProviderAI        Provider = "ai"        // completion endpoint (static API key)
	ProviderMessaging Provider = "messaging" // SMS/voice gateway (static API key)
)

// Credential lifecycle errors. Callers branch on these with errors.Is.
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExpired  = errors.New("credential expired and could not be refreshed")
)

// ValidProvider reports whether p names a known provider.
func ValidProvider(p Provider) bool {
	switch p {
	case ProviderGoogle, ProviderAI, ProviderMessaging:
		return true
	}
	return false
}

// Credential is a decrypted token bundle for one (owner, provider) pair.
// API-key style credentials carry a zero ExpiresAt and no refresh token.
type Credential struct {
	OwnerID      string    `json:"owner_id"`
	Provider     Provider  `json:"provider"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Expired reports whether the credential is past (or within skew of) its
// expiry. Credentials without an expiry never expire.
func (c *Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// Refreshable reports whether the credential carries a refresh token.
func (c *Credential) Refreshable() bool {
	return c.RefreshToken != ""
}

// CredentialStatus is the metadata-only view returned by the API.
// Token material never leaves the service.
type CredentialStatus struct {
	Provider  Provider  `json:"provider"`
	Connected bool      `json:"connected"`
	Expired   bool      `json:"expired"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
