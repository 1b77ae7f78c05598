package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ikhtibar/assessment-api/internal/dto"
	"github.com/ikhtibar/assessment-api/internal/handler"
	"github.com/ikhtibar/assessment-api/internal/service"
)

type mockGradingService struct {
	lastAttemptID uint
	lastSessionID uint
	lastActor     service.ActivityActor
	response      dto.GradingSessionResponse
	err           error
}

func (m *mockGradingService) Initiate(_ context.Context, attemptID uint, actor service.ActivityActor) (dto.GradingSessionResponse, error) {
	m.lastAttemptID = attemptID
	m.lastActor = actor
	if m.err != nil {
		return dto.GradingSessionResponse{}, m.err
	}
	return m.response, nil
}

func (m *mockGradingService) GetSession(_ context.Context, sessionID uint) (dto.GradingSessionResponse, error) {
	m.lastSessionID = sessionID
	if m.err != nil {
		return dto.GradingSessionResponse{}, m.err
	}
	return m.response, nil
}

func (m *mockGradingService) Complete(_ context.Context, sessionID uint, actor service.ActivityActor) (dto.GradingSessionResponse, error) {
	m.lastSessionID = sessionID
	m.lastActor = actor
	if m.err != nil {
		return dto.GradingSessionResponse{}, m.err
	}
	return m.response, nil
}

type mockManualGradingService struct {
	lastSessionID  uint
	lastGrade      dto.ManualGradeRequest
	lastRegrade    dto.RegradeRequest
	lastQuestionID uint
	graded         dto.GradedAnswerResponse
	regraded       dto.RegradeResponse
	suggestion     dto.GradingSuggestionResponse
	err            error
}

func (m *mockManualGradingService) SubmitGrade(_ context.Context, sessionID uint, payload dto.ManualGradeRequest, _ service.ActivityActor) (dto.GradedAnswerResponse, error) {
	m.lastSessionID = sessionID
	m.lastGrade = payload
	if m.err != nil {
		return dto.GradedAnswerResponse{}, m.err
	}
	return m.graded, nil
}

func (m *mockManualGradingService) Regrade(_ context.Context, sessionID uint, payload dto.RegradeRequest, _ service.ActivityActor) (dto.RegradeResponse, error) {
	m.lastSessionID = sessionID
	m.lastRegrade = payload
	if m.err != nil {
		return dto.RegradeResponse{}, m.err
	}
	return m.regraded, nil
}

func (m *mockManualGradingService) Suggest(_ context.Context, sessionID, attemptQuestionID uint) (dto.GradingSuggestionResponse, error) {
	m.lastSessionID = sessionID
	m.lastQuestionID = attemptQuestionID
	if m.err != nil {
		return dto.GradingSuggestionResponse{}, m.err
	}
	return m.suggestion, nil
}

func newGradingApp(grading *mockGradingService, manual *mockManualGradingService, attempts service.AttemptService) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/admin/grading", func(c *fiber.Ctx) error {
		c.Locals("user_id", uint(50))
		c.Locals("user_role", "examiner")
		return c.Next()
	})
	if attempts == nil {
		attempts = &mockAttemptService{}
	}
	handler.NewGradingHandler(grading, manual, attempts, zerolog.New(io.Discard)).Register(group)
	return app
}

func TestGradingHandler_InitiateCreated(t *testing.T) {
	grading := &mockGradingService{response: dto.GradingSessionResponse{
		ID:                 3,
		AttemptID:          9,
		Status:             "manual_required",
		PendingManualCount: 1,
	}}
	app := newGradingApp(grading, &mockManualGradingService{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/admin/grading/attempts/9/initiate", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var response struct {
		Success bool                       `json:"success"`
		Data    dto.GradingSessionResponse `json:"data"`
		Message string                     `json:"message"`
	}
	decodeResponse(t, resp, &response)
	require.True(t, response.Success)
	require.Equal(t, "grading session created", response.Message)
	require.Equal(t, uint(9), grading.lastAttemptID)
	require.Equal(t, uint(50), grading.lastActor.ID)
	require.Equal(t, "examiner", grading.lastActor.Role)
	require.Equal(t, 1, response.Data.PendingManualCount)
}

func TestGradingHandler_InitiateConflicts(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"attempt still active", service.ErrAttemptNotGradable, fiber.StatusConflict},
		{"duplicate session", service.ErrGradingSessionExists, fiber.StatusConflict},
		{"attempt missing", service.ErrAttemptNotFound, fiber.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newGradingApp(&mockGradingService{err: tc.err}, &mockManualGradingService{}, nil)
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/admin/grading/attempts/9/initiate", nil))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestGradingHandler_SubmitGradeRecordsPayload(t *testing.T) {
	manual := &mockManualGradingService{graded: dto.GradedAnswerResponse{AttemptQuestionID: 12, Score: 2, IsGraded: true}}
	app := newGradingApp(&mockGradingService{}, manual, nil)

	payload := dto.ManualGradeRequest{AttemptQuestionID: 12, Score: 2, Comment: "Good effort"}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/grading/sessions/3/grades", jsonBody(t, payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(3), manual.lastSessionID)
	require.Equal(t, uint(12), manual.lastGrade.AttemptQuestionID)
	require.Equal(t, 2.0, manual.lastGrade.Score)
}

func TestGradingHandler_SubmitGradeErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"session completed", service.ErrSessionCompleted, fiber.StatusConflict},
		{"score too high", service.ErrScoreExceedsMax, fiber.StatusUnprocessableEntity},
		{"answer missing", service.ErrGradedAnswerNotFound, fiber.StatusNotFound},
		{"session missing", service.ErrGradingSessionNotFound, fiber.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newGradingApp(&mockGradingService{}, &mockManualGradingService{err: tc.err}, nil)

			payload := dto.ManualGradeRequest{AttemptQuestionID: 12, Score: 2}
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/grading/sessions/3/grades", jsonBody(t, payload))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestGradingHandler_CompletePendingManual(t *testing.T) {
	app := newGradingApp(&mockGradingService{err: service.ErrManualGradingPending}, &mockManualGradingService{}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/admin/grading/sessions/3/complete", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestGradingHandler_RegradeReportsTotals(t *testing.T) {
	previous := 9.0
	manual := &mockManualGradingService{regraded: dto.RegradeResponse{
		Session:       dto.GradingSessionResponse{ID: 3, Status: "completed"},
		PreviousTotal: &previous,
		NewTotal:      10,
	}}
	app := newGradingApp(&mockGradingService{}, manual, nil)

	payload := dto.RegradeRequest{AttemptQuestionID: 12, Score: 3}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/grading/sessions/3/regrade", jsonBody(t, payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var response struct {
		Success bool                `json:"success"`
		Data    dto.RegradeResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.NotNil(t, response.Data.PreviousTotal)
	require.Equal(t, 9.0, *response.Data.PreviousTotal)
	require.Equal(t, 10.0, response.Data.NewTotal)
	require.Equal(t, uint(12), manual.lastRegrade.AttemptQuestionID)
}

func TestGradingHandler_ForceSubmitUsesActor(t *testing.T) {
	attempts := &mockAttemptService{response: dto.AttemptResponse{ID: 9, Status: "submitted"}}
	app := newGradingApp(&mockGradingService{}, &mockManualGradingService{}, attempts)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/admin/grading/attempts/9/force-submit", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(9), attempts.lastAttemptID)
	require.Equal(t, uint(50), attempts.lastActor.ID)
	require.Equal(t, "examiner", attempts.lastActor.Role)
}

func TestGradingHandler_SuggestUnavailable(t *testing.T) {
	app := newGradingApp(&mockGradingService{}, &mockManualGradingService{err: service.ErrSuggesterUnavailable}, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/grading/sessions/3/suggestions/12", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestGradingHandler_SuggestSuccess(t *testing.T) {
	manual := &mockManualGradingService{suggestion: dto.GradingSuggestionResponse{
		AttemptQuestionID: 12,
		SuggestedScore:    2.5,
		Confidence:        0.8,
		Model:             "gpt-4o-mini",
	}}
	app := newGradingApp(&mockGradingService{}, manual, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/admin/grading/sessions/3/suggestions/12", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, uint(3), manual.lastSessionID)
	require.Equal(t, uint(12), manual.lastQuestionID)

	var response struct {
		Data dto.GradingSuggestionResponse `json:"data"`
	}
	decodeResponse(t, resp, &response)
	require.Equal(t, 2.5, response.Data.SuggestedScore)
}
