package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/ikhtibar/assessment-api/internal/dto"
	"github.com/ikhtibar/assessment-api/internal/service"
	"github.com/ikhtibar/assessment-api/internal/utils"
)

// AttemptHandler wires the candidate-facing attempt endpoints.
type AttemptHandler struct {
	service service.AttemptService
	logger  zerolog.Logger
}

// NewAttemptHandler constructs the handler.
func NewAttemptHandler(service service.AttemptService, logger zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		service: service,
		logger:  logger.With().Str("component", "attempt_handler").Logger(),
	}
}

// Register attaches attempt endpoints to the router group.
func (h *AttemptHandler) Register(router fiber.Router) {
	router.Post("/start", h.start)
	router.Get("/:id", h.get)
	router.Put("/:id/answers", h.saveAnswer)
	router.Post("/:id/submit", h.submit)
	router.Post("/:id/cancel", h.cancel)
}

func (h *AttemptHandler) start(c *fiber.Ctx) error {
	candidateID := userIDFromContext(c)
	if candidateID == 0 {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.StartAttemptRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	attempt, err := h.service.StartOrResume(c.Context(), candidateID, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrExamNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "exam not found")
		case errors.Is(err, service.ErrExamInactive),
			errors.Is(err, service.ErrExamUnpublished),
			errors.Is(err, service.ErrExamNotAvailable):
			return utils.SendError(c, fiber.StatusForbidden, err.Error())
		case errors.Is(err, service.ErrAccessCodeInvalid):
			return utils.SendError(c, fiber.StatusForbidden, "access code is invalid")
		case errors.Is(err, service.ErrMaxAttemptsReached):
			return utils.SendError(c, fiber.StatusConflict, err.Error())
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("candidate_id", candidateID).Msg("failed to start attempt")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to start attempt")
		}
	}

	return utils.SendSuccess(c, "attempt session ready", attempt)
}

func (h *AttemptHandler) get(c *fiber.Ctx) error {
	candidateID := userIDFromContext(c)
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	attempt, err := h.service.GetSession(c.Context(), attemptID, candidateID)
	if err != nil {
		return h.mapSessionError(c, attemptID, err, "failed to load attempt")
	}

	return utils.SendSuccess(c, "attempt session", attempt)
}

func (h *AttemptHandler) saveAnswer(c *fiber.Ctx) error {
	candidateID := userIDFromContext(c)
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.SaveAnswerRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	attempt, err := h.service.SaveAnswer(c.Context(), attemptID, candidateID, payload)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQuestionNotInScope):
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		case isAnswerContractError(err):
			return utils.SendError(c, fiber.StatusUnprocessableEntity, err.Error())
		default:
			return h.mapSessionError(c, attemptID, err, "failed to save answer")
		}
	}

	return utils.SendSuccess(c, "answer saved", attempt)
}

func (h *AttemptHandler) submit(c *fiber.Ctx) error {
	candidateID := userIDFromContext(c)
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	attempt, err := h.service.Submit(c.Context(), attemptID, candidateID)
	if err != nil {
		return h.mapSessionError(c, attemptID, err, "failed to submit attempt")
	}

	return utils.SendSuccess(c, "attempt submitted", attempt)
}

func (h *AttemptHandler) cancel(c *fiber.Ctx) error {
	candidateID := userIDFromContext(c)
	attemptID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	attempt, err := h.service.Cancel(c.Context(), attemptID, candidateID)
	if err != nil {
		return h.mapSessionError(c, attemptID, err, "failed to cancel attempt")
	}

	return utils.SendSuccess(c, "attempt cancelled", attempt)
}

func (h *AttemptHandler) mapSessionError(c *fiber.Ctx, attemptID uint, err error, message string) error {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "attempt not found")
	case errors.Is(err, service.ErrAttemptForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "attempt belongs to another candidate")
	case errors.Is(err, service.ErrAttemptEnded):
		return utils.SendError(c, fiber.StatusConflict, "attempt has already ended")
	case errors.Is(err, service.ErrLateSubmission):
		return utils.SendError(c, fiber.StatusConflict, service.ErrLateSubmission.Error())
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Uint("attempt_id", attemptID).Msg(message)
		return utils.SendError(c, fiber.StatusInternalServerError, message)
	}
}

func isAnswerContractError(err error) bool {
	contract := []error{
		service.ErrUnknownQuestionType,
		service.ErrSingleOptionRequired,
		service.ErrOptionRequired,
		service.ErrOptionNotInQuestion,
		service.ErrTextNotAllowed,
		service.ErrOptionsNotAllowed,
		service.ErrTextRequired,
	}
	for _, sentinel := range contract {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
