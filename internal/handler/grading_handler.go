package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ikhtibar/assessment-api/internal/dto"
	"github.com/ikhtibar/assessment-api/internal/service"
	"github.com/ikhtibar/assessment-api/internal/utils"
)

// GradingHandler wires the examiner-facing grading endpoints.
type GradingHandler struct {
	grading  service.GradingService
	manual   service.ManualGradingService
	attempts service.AttemptService
	logger   zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(grading service.GradingService, manual service.ManualGradingService, attempts service.AttemptService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		grading:  grading,
		manual:   manual,
		attempts: attempts,
		logger:   logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches grading endpoints to the router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Post("/attempts/:id/initiate", h.initiate)
	router.Post("/attempts/:id/force-submit", h.forceSubmit)
	router.Get("/sessions/:id", h.getSession)
	router.Post("/sessions/:id/grades", h.submitGrade)
	router.Post("/sessions/:id/regrade", h.regrade)
	router.Post("/sessions/:id/complete", h.complete)
	router.Get("/sessions/:id/suggestions/:questionId", h.suggest)
}

func (h *GradingHandler) initiate(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	actor := activityActorFromContext(c)
	session, err := h.grading.Initiate(c.Context(), attemptID, actor)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "attempt not found")
		case errors.Is(err, service.ErrAttemptNotGradable):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		case errors.Is(err, service.ErrGradingSessionExists):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("attempt_id", attemptID).Msg("failed to initiate grading")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to initiate grading")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "grading session created", session)
}

func (h *GradingHandler) forceSubmit(c *fiber.Ctx) error {
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	actor := activityActorFromContext(c)
	attempt, err := h.attempts.ForceSubmit(c.Context(), attemptID, actor)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "attempt not found")
		case errors.Is(err, service.ErrAttemptEnded), errors.Is(err, service.ErrLateSubmission):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("attempt_id", attemptID).Msg("failed to force submit attempt")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to force submit attempt")
		}
	}

	return utils.SendSuccess(c, "attempt force submitted", attempt)
}

func (h *GradingHandler) getSession(c *fiber.Ctx) error {
	sessionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	session, err := h.grading.GetSession(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrGradingSessionNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grading session not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Uint("session_id", sessionID).Msg("failed to load grading session")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load grading session")
	}

	return utils.SendSuccess(c, "grading session", session)
}

func (h *GradingHandler) submitGrade(c *fiber.Ctx) error {
	sessionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.ManualGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	actor := activityActorFromContext(c)
	graded, err := h.manual.SubmitGrade(c.Context(), sessionID, payload, actor)
	if err != nil {
		return h.mapManualError(c, sessionID, err, "failed to submit grade")
	}

	return utils.SendSuccess(c, "grade recorded", graded)
}

func (h *GradingHandler) regrade(c *fiber.Ctx) error {
	sessionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.RegradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	actor := activityActorFromContext(c)
	result, err := h.manual.Regrade(c.Context(), sessionID, payload, actor)
	if err != nil {
		return h.mapManualError(c, sessionID, err, "failed to regrade answer")
	}

	return utils.SendSuccess(c, "answer regraded", result)
}

func (h *GradingHandler) complete(c *fiber.Ctx) error {
	sessionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	actor := activityActorFromContext(c)
	session, err := h.grading.Complete(c.Context(), sessionID, actor)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGradingSessionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "grading session not found")
		case errors.Is(err, service.ErrGradingCompleted):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		case errors.Is(err, service.ErrManualGradingPending):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("session_id", sessionID).Msg("failed to complete grading session")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to complete grading session")
		}
	}

	return utils.SendSuccess(c, "grading session completed", session)
}

func (h *GradingHandler) suggest(c *fiber.Ctx) error {
	sessionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}
	questionID, err := parseUintParam(c, "questionId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	suggestion, err := h.manual.Suggest(c.Context(), sessionID, questionID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrGradingSessionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "grading session not found")
		case errors.Is(err, service.ErrGradedAnswerNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "graded answer not found")
		case errors.Is(err, service.ErrSuggesterUnavailable):
			return utils.SendError(c, fiber.StatusServiceUnavailable, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("session_id", sessionID).Msg("failed to build grading suggestion")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to build grading suggestion")
		}
	}

	return utils.SendSuccess(c, "grading suggestion", suggestion)
}

func (h *GradingHandler) mapManualError(c *fiber.Ctx, sessionID uint, err error, message string) error {
	switch {
	case errors.Is(err, service.ErrGradingSessionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "grading session not found")
	case errors.Is(err, service.ErrGradedAnswerNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "graded answer not found")
	case errors.Is(err, service.ErrSessionCompleted):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrScoreExceedsMax):
		return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Uint("session_id", sessionID).Msg(message)
		return utils.SendError(c, fiber.StatusInternalServerError, message)
	}
}
