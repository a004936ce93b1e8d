package web

import (
	"github.com/dukex/montracker/pkg/calcserver"
	"github.com/dukex/montracker/pkg/persistence"
	"github.com/dukex/montracker/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsIncompleteData(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("incomplete_data").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case calcserver.IsServiceUnavailable(err):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("service_unavailable").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	case persistence.IsActionNotFound(err):
		return notFound(c, "action_not_found", "action not found")

	case persistence.IsAnalysisNotFound(err):
		return notFound(c, "analysis_not_found", "analysis not found")

	case persistence.IsModelNotFound(err):
		return notFound(c, "model_not_found", "model not found")

	default:
		return internalError(c, err)
	}
}
