package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"smartlead/internal/middleware"
	"smartlead/internal/models"
	"smartlead/internal/services"
	"smartlead/internal/store"
)

// LeadHandler exposes the lead pipeline over HTTP
type LeadHandler struct {
	leads *services.LeadService
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(leads *services.LeadService) *LeadHandler {
	return &LeadHandler{leads: leads}
}

type createLeadRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Company    string `json:"company,omitempty"`
	Title      string `json:"title,omitempty"`
	LeadSource string `json:"lead_source,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Create handles POST /api/leads
func (h *LeadHandler) Create(c *fiber.Ctx) error {
	var req createLeadRequest
	if err := c.BodyParser(&req); err != nil || req.FirstName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "first_name is required"})
	}

	lead, err := h.leads.Create(c.Context(), &models.Lead{
		OwnerID:    middleware.OwnerID(c),
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Email:      req.Email,
		Phone:      req.Phone,
		Company:    req.Company,
		Title:      req.Title,
		LeadSource: req.LeadSource,
		Notes:      req.Notes,
	})
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(lead)
}

// List handles GET /api/leads
func (h *LeadHandler) List(c *fiber.Ctx) error {
	leads, err := h.leads.List(c.Context(), middleware.OwnerID(c))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}
	if leads == nil {
		leads = []models.Lead{}
	}
	return c.JSON(fiber.Map{"leads": leads})
}

// Get handles GET /api/leads/:id
func (h *LeadHandler) Get(c *fiber.Ctx) error {
	lead, err := h.leads.Get(c.Context(), middleware.OwnerID(c), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrLeadNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "lead not found"})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}
	return c.JSON(lead)
}

type updateLeadStatusRequest struct {
	Status models.LeadStatus `json:"status"`
}

// UpdateStatus handles PATCH /api/leads/:id/status
func (h *LeadHandler) UpdateStatus(c *fiber.Ctx) error {
	var req updateLeadStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	switch req.Status {
	case models.LeadNew, models.LeadContacted, models.LeadQualified, models.LeadLost:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown status"})
	}

	err := h.leads.UpdateStatus(c.Context(), middleware.OwnerID(c), c.Params("id"), req.Status)
	if err != nil {
		if errors.Is(err, store.ErrLeadNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "lead not found"})
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}
	return c.JSON(fiber.Map{"id": c.Params("id"), "status": req.Status})
}

// Timeline handles GET /api/leads/:id/activities
func (h *LeadHandler) Timeline(c *fiber.Ctx) error {
	activities, err := h.leads.Timeline(c.Context(), middleware.OwnerID(c), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "persistence store unavailable",
		})
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	return c.JSON(fiber.Map{"activities": activities})
}
