package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"log"
	"sort"

	"github.com/gofiber/fiber/v2"

	"smartlead/internal/services"
)

// WebhookHandler receives inbound messages from the messaging provider.
// Twilio signs each request with HMAC-SHA1 over the full URL plus the
// sorted form parameters; unsigned or mis-signed requests are dropped.
type WebhookHandler struct {
	leads      *services.LeadService
	authToken  string
	publicBase string // externally visible base URL used in signatures
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(leads *services.LeadService, authToken, publicBase string) *WebhookHandler {
	return &WebhookHandler{
		leads:      leads,
		authToken:  authToken,
		publicBase: publicBase,
	}
}

// InboundMessage handles POST /webhooks/messaging/:owner
func (h *WebhookHandler) InboundMessage(c *fiber.Ctx) error {
	form, err := parseForm(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("invalid form body")
	}

	if h.authToken != "" {
		signature := c.Get("X-Twilio-Signature")
		requestURL := h.publicBase + c.OriginalURL()
		if !validSignature(h.authToken, requestURL, form, signature) {
			log.Printf("⚠️ [WEBHOOK] Rejected inbound message with bad signature from %s", c.IP())
			return c.Status(fiber.StatusForbidden).SendString("invalid signature")
		}
	}

	ownerID := c.Params("owner")
	from := form["From"]
	body := form["Body"]
	if from == "" || body == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing From or Body")
	}

	lead, err := h.leads.IngestInbound(c.Context(), ownerID, from, body)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("store unavailable")
	}

	log.Printf("📩 [WEBHOOK] Inbound message from %s routed to lead %s", from, lead.ID)

	// Twilio expects TwiML; an empty response means no reply.
	c.Set("Content-Type", "text/xml")
	return c.SendString(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
}

func parseForm(c *fiber.Ctx) (map[string]string, error) {
	args, err := c.MultipartForm()
	if err == nil && args != nil {
		form := make(map[string]string)
		for k, v := range args.Value {
			if len(v) > 0 {
				form[k] = v[0]
			}
		}
		return form, nil
	}

	form := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		form[string(key)] = string(value)
	})
	return form, nil
}

// validSignature checks the X-Twilio-Signature header: base64 of
// HMAC-SHA1(authToken, url + sorted(key+value)).
func validSignature(authToken, requestURL string, form map[string]string, signature string) bool {
	if signature == "" {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := requestURL
	for _, k := range keys {
		payload += k + form[k]
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
