// Package web provides HTTP handlers and REST API endpoints for actions and analyses.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/montracker/pkg/models"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/dukex/montracker/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultNotificationLimit = 50

type APIHandlers struct {
	actionService   *services.Action
	analysisService *services.Analysis
	catalog         persistence.Catalog
	notifications   *services.Notifications
	validator       *validator.Validate
}

func NewAPIHandlers(
	actionService *services.Action,
	analysisService *services.Analysis,
	catalog persistence.Catalog,
	notifications *services.Notifications,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		actionService:   actionService,
		analysisService: analysisService,
		catalog:         catalog,
		notifications:   notifications,
		validator:       validator,
	}
}

// Register mounts every endpoint on the router.
func (h *APIHandlers) Register(router fiber.Router) {
	a := router.Group("/actions")
	a.Get("/", h.GetActions)
	a.Post("/", h.CreateAction)
	a.Get("/:id", h.GetAction)
	a.Patch("/:id", h.UpdateAction)
	a.Delete("/:id", h.DeleteAction)

	an := router.Group("/analyses")
	an.Get("/", h.GetAnalyses)
	an.Post("/", h.CreateAnalysis)
	an.Get("/:id", h.GetAnalysis)
	an.Patch("/:id", h.UpdateAnalysis)
	an.Delete("/:id", h.DeleteAnalysis)
	an.Post("/:id/start", h.StartAnalysis)

	router.Get("/model-types", h.GetModelTypes)
	router.Get("/person-types", h.GetPersonTypes)
	router.Get("/notifications", h.GetNotifications)
}

func (h *APIHandlers) GetActions(c fiber.Ctx) error {
	opts := persistence.ListActionsOptions{Name: c.Query("name")}

	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	opts.Statuses = statuses

	if archivedStr := c.Query("archived"); archivedStr != "" {
		archived, err := strconv.ParseBool(archivedStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		opts.Archived = &archived
	}

	if opts.Created, err = parseRange(c, "created"); err != nil {
		return badRequest(c, err.Error())
	}

	if opts.Lost, err = parseRange(c, "lost"); err != nil {
		return badRequest(c, err.Error())
	}

	actions, err := h.actionService.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"actions":     actions,
		"total_count": len(actions),
	})
}

func (h *APIHandlers) CreateAction(c fiber.Ctx) error {
	var req CreateActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.actionService.Create(c.Context(), &models.Action{
		Name:         req.Name,
		Description:  req.Description,
		IPPLatitude:  req.IPPLatitude,
		IPPLongitude: req.IPPLongitude,
		RPLatitude:   req.RPLatitude,
		RPLongitude:  req.RPLongitude,
		LostTime:     req.LostTime.UTC(),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetAction(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "Action ID must be a number")
	}

	action, err := h.actionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(action)
}

func (h *APIHandlers) UpdateAction(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "Action ID must be a number")
	}

	var req UpdateActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.actionService.Update(c.Context(), id, services.UpdateActionRequest{
		Name:         req.Name,
		Description:  req.Description,
		IPPLatitude:  req.IPPLatitude,
		IPPLongitude: req.IPPLongitude,
		RPLatitude:   req.RPLatitude,
		RPLongitude:  req.RPLongitude,
		LostTime:     req.LostTime,
		Archived:     req.Archived,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteAction(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "Action ID must be a number")
	}

	if err := h.actionService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetAnalyses(c fiber.Ctx) error {
	opts := persistence.ListAnalysesOptions{Name: c.Query("name")}

	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	opts.Statuses = statuses

	if actionStr := c.Query("action_id"); actionStr != "" {
		actionID, err := strconv.ParseInt(actionStr, 10, 64)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		opts.ActionID = actionID
	}

	if opts.Created, err = parseRange(c, "created"); err != nil {
		return badRequest(c, err.Error())
	}

	if opts.Lost, err = parseRange(c, "lost"); err != nil {
		return badRequest(c, err.Error())
	}

	analyses, err := h.analysisService.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"analyses":    analyses,
		"total_count": len(analyses),
	})
}

// CreateAnalysis creates an analysis, or duplicates one when analysis_id is given.
func (h *APIHandlers) CreateAnalysis(c fiber.Ctx) error {
	var req CreateAnalysisRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	var (
		detail *services.AnalysisDetail
		err    error
	)

	if req.AnalysisID != nil {
		detail, err = h.analysisService.Duplicate(c.Context(), *req.AnalysisID, req.overrides())
	} else {
		detail, err = h.analysisService.Create(c.Context(), services.CreateAnalysisRequest{
			Analysis: req.analysis(),
			Models:   desiredModels(req.Models),
			Profiles: desiredProfiles(req.Profiles),
		})
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(detail)
}

func (h *APIHandlers) GetAnalysis(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "Analysis ID must be a number")
	}

	detail, err := h.analysisService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) UpdateAnalysis(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "Analysis ID must be a number")
	}

	var req UpdateAnalysisRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	detail, err := h.analysisService.Update(c.Context(), id, services.UpdateAnalysisRequest{
		Name:         req.Name,
		Description:  req.Description,
		IPPLatitude:  req.IPPLatitude,
		IPPLongitude: req.IPPLongitude,
		RPLatitude:   req.RPLatitude,
		RPLongitude:  req.RPLongitude,
		LostTime:     req.LostTime,
		Models:       desiredModels(req.Models),
		Profiles:     desiredProfiles(req.Profiles),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(detail)
}

func (h *APIHandlers) DeleteAnalysis(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "Analysis ID must be a number")
	}

	if err := h.analysisService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartAnalysis(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, "Analysis ID must be a number")
	}

	detail, err := h.analysisService.Start(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(detail)
}

func (h *APIHandlers) GetModelTypes(c fiber.Ctx) error {
	types, err := h.catalog.ModelTypes(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(types)
}

func (h *APIHandlers) GetPersonTypes(c fiber.Ctx) error {
	types, err := h.catalog.PersonTypes(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(types)
}

// GetNotifications lists the latest model status changes, optionally for one action.
func (h *APIHandlers) GetNotifications(c fiber.Ctx) error {
	if h.notifications == nil {
		return c.JSON(fiber.Map{"notifications": []any{}})
	}

	limit := defaultNotificationLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "limit must be a positive number")
		}

		limit = parsed
	}

	var actionID int64

	if actionStr := c.Query("action_id"); actionStr != "" {
		parsed, err := strconv.ParseInt(actionStr, 10, 64)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		actionID = parsed
	}

	return c.JSON(fiber.Map{"notifications": h.notifications.Recent(actionID, limit)})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.actionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Montracker API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Montracker API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func pathID(c fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

// parseStatuses reads a comma separated status filter.
func parseStatuses(raw string) ([]models.ModelStatus, error) {
	if raw == "" {
		return nil, nil
	}

	var statuses []models.ModelStatus

	for _, part := range strings.Split(raw, ",") {
		status := models.ModelStatus(strings.TrimSpace(part))
		if !status.Valid() {
			return nil, &services.ServiceError{
				Op:      "ParseStatuses",
				Code:    "INVALID_STATUS",
				Message: "unknown status " + strconv.Quote(string(status)),
				Err:     services.ErrInvalidRequest,
			}
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// parseRange reads the <field>_from and <field>_to query parameters.
func parseRange(c fiber.Ctx, field string) (persistence.TimeRange, error) {
	var r persistence.TimeRange

	for key, bound := range map[string]**time.Time{field + "_from": &r.From, field + "_to": &r.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}

		t, err := parseTimestamp(raw)
		if err != nil {
			return persistence.TimeRange{}, &services.ServiceError{
				Op:      "ParseRange",
				Code:    "INVALID_TIMESTAMP",
				Message: key + " must be unix seconds or RFC3339",
				Err:     services.ErrInvalidRequest,
			}
		}

		*bound = &t
	}

	return r, nil
}

// parseTimestamp accepts unix seconds or an RFC3339 time.
func parseTimestamp(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	return time.Parse(time.RFC3339, raw)
}
