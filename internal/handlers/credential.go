package handlers

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"smartlead/internal/middleware"
	"smartlead/internal/models"
	"smartlead/internal/services"
)

const googleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

// GoogleOAuthConfig carries the settings for the connect/callback flow.
type GoogleOAuthConfig struct {
	ClientID    string
	RedirectURL string
	Scopes      string
}

// CredentialHandler manages credential lifecycle over HTTP. Token material
// flows in but never back out; reads return metadata only.
type CredentialHandler struct {
	credentials *services.CredentialService
	google      GoogleOAuthConfig
	// pending OAuth states: state -> owner ID
	states *gocache.Cache
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(credentials *services.CredentialService, google GoogleOAuthConfig) *CredentialHandler {
	if google.Scopes == "" {
		google.Scopes = "https://www.googleapis.com/auth/calendar.events " +
			"https://www.googleapis.com/auth/gmail.send " +
			"https://www.googleapis.com/auth/gmail.modify openid email"
	}
	return &CredentialHandler{
		credentials: credentials,
		google:      google,
		states:      gocache.New(10*time.Minute, time.Minute),
	}
}

// List handles GET /api/credentials
func (h *CredentialHandler) List(c *fiber.Ctx) error {
	statuses, err := h.credentials.List(c.Context(), middleware.OwnerID(c))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}
	if statuses == nil {
		statuses = []models.CredentialStatus{}
	}
	return c.JSON(fiber.Map{"credentials": statuses})
}

type upsertCredentialRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"` // RFC 3339
}

// Upsert handles PUT /api/credentials/:provider for API-key style
// providers (ai, messaging). Google credentials go through OAuth.
func (h *CredentialHandler) Upsert(c *fiber.Ctx) error {
	provider := models.Provider(c.Params("provider"))
	if !models.ValidProvider(provider) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown provider"})
	}

	var req upsertCredentialRequest
	if err := c.BodyParser(&req); err != nil || req.AccessToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "access_token is required"})
	}

	cred := &models.Credential{
		OwnerID:      middleware.OwnerID(c),
		Provider:     provider,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid expires_at"})
		}
		cred.ExpiresAt = expires
	}

	if err := h.credentials.Store(c.Context(), cred); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"provider": provider, "connected": true})
}

// Delete handles DELETE /api/credentials/:provider
func (h *CredentialHandler) Delete(c *fiber.Ctx) error {
	provider := models.Provider(c.Params("provider"))
	if !models.ValidProvider(provider) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown provider"})
	}

	if err := h.credentials.Revoke(c.Context(), middleware.OwnerID(c), provider); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}
	return c.JSON(fiber.Map{"provider": provider, "connected": false})
}

// GoogleConnect handles GET /api/credentials/google/connect. Returns the
// consent URL; the state parameter ties the later callback to this owner.
func (h *CredentialHandler) GoogleConnect(c *fiber.Ctx) error {
	if h.google.ClientID == "" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Google OAuth is not configured",
		})
	}

	state := uuid.NewString()
	h.states.Set(state, middleware.OwnerID(c), gocache.DefaultExpiration)

	params := url.Values{}
	params.Set("client_id", h.google.ClientID)
	params.Set("redirect_uri", h.google.RedirectURL)
	params.Set("response_type", "code")
	params.Set("scope", h.google.Scopes)
	params.Set("access_type", "offline")
	params.Set("prompt", "consent")
	params.Set("state", state)

	return c.JSON(fiber.Map{"auth_url": googleAuthURL + "?" + params.Encode()})
}

// GoogleCallback handles GET /api/credentials/google/callback. This route
// is unauthenticated; the state parameter identifies the owner.
func (h *CredentialHandler) GoogleCallback(c *fiber.Ctx) error {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing state or code"})
	}

	ownerVal, found := h.states.Get(state)
	if !found {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown or expired state"})
	}
	h.states.Delete(state)
	ownerID := ownerVal.(string)

	if err := h.credentials.ExchangeAuthCode(c.Context(), ownerID, code, h.google.RedirectURL); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "token exchange failed"})
	}

	return c.JSON(fiber.Map{"provider": models.ProviderGoogle, "connected": true})
}
