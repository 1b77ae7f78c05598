package dto

import (
	"time"

	"github.com/ikhtibar/assessment-api/internal/models"
)

// ManualGradeRequest carries an examiner-entered score for one question.
type ManualGradeRequest struct {
	AttemptQuestionID uint    `json:"attempt_question_id" validate:"required,gt=0"`
	Score             float64 `json:"score" validate:"gte=0"`
	IsCorrect         bool    `json:"is_correct"`
	Comment           string  `json:"comment"`
}

// RegradeRequest corrects an already-graded answer, including on completed
// sessions.
type RegradeRequest struct {
	AttemptQuestionID uint    `json:"attempt_question_id" validate:"required,gt=0"`
	Score             float64 `json:"score" validate:"gte=0"`
	IsCorrect         bool    `json:"is_correct"`
	Comment           string  `json:"comment"`
}

// GradedAnswerResponse serializes the grading outcome of one question.
type GradedAnswerResponse struct {
	ID                uint       `json:"id"`
	AttemptQuestionID uint       `json:"attempt_question_id"`
	QuestionID        uint       `json:"question_id"`
	QuestionType      string     `json:"question_type"`
	Score             float64    `json:"score"`
	MaxPoints         float64    `json:"max_points"`
	IsCorrect         bool       `json:"is_correct"`
	IsManuallyGraded  bool       `json:"is_manually_graded"`
	IsGraded          bool       `json:"is_graded"`
	GraderComment     string     `json:"grader_comment,omitempty"`
	GradedAt          *time.Time `json:"graded_at"`
}

// GradingSessionResponse serializes a grading session with its answers.
type GradingSessionResponse struct {
	ID                 uint                   `json:"id"`
	AttemptID          uint                   `json:"attempt_id"`
	Status             string                 `json:"status"`
	TotalScore         *float64               `json:"total_score"`
	IsPassed           *bool                  `json:"is_passed"`
	GradedBy           *uint                  `json:"graded_by"`
	GradedAt           *time.Time             `json:"graded_at"`
	PendingManualCount int                    `json:"pending_manual_count"`
	Answers            []GradedAnswerResponse `json:"answers,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

// RegradeResponse reports the previous and recomputed totals so callers can
// display the delta.
type RegradeResponse struct {
	Session       GradingSessionResponse `json:"session"`
	PreviousTotal *float64               `json:"previous_total"`
	NewTotal      float64                `json:"new_total"`
}

// GradingSuggestionResponse is the advisory output of the AI suggester. It is
// never authoritative.
type GradingSuggestionResponse struct {
	AttemptQuestionID uint    `json:"attempt_question_id"`
	SuggestedScore    float64 `json:"suggested_score"`
	Comment           string  `json:"comment"`
	Confidence        float64 `json:"confidence"`
	Model             string  `json:"model"`
}

// NewGradedAnswerResponse converts a graded answer model into its DTO.
func NewGradedAnswerResponse(answer models.GradedAnswer) GradedAnswerResponse {
	return GradedAnswerResponse{
		ID:                answer.ID,
		AttemptQuestionID: answer.AttemptQuestionID,
		QuestionID:        answer.AttemptQuestion.QuestionID,
		QuestionType:      answer.AttemptQuestion.QuestionType,
		Score:             answer.Score,
		MaxPoints:         answer.MaxPoints,
		IsCorrect:         answer.IsCorrect,
		IsManuallyGraded:  answer.IsManuallyGraded,
		IsGraded:          answer.IsGraded,
		GraderComment:     answer.GraderComment,
		GradedAt:          answer.GradedAt,
	}
}

// NewGradingSessionResponse converts a session model into its DTO.
func NewGradingSessionResponse(session models.GradingSession) GradingSessionResponse {
	response := GradingSessionResponse{
		ID:         session.ID,
		AttemptID:  session.AttemptID,
		Status:     session.Status,
		TotalScore: session.TotalScore,
		IsPassed:   session.IsPassed,
		GradedBy:   session.GradedBy,
		GradedAt:   session.GradedAt,
		CreatedAt:  session.CreatedAt,
	}

	for _, answer := range session.Answers {
		if answer.IsPendingManual() {
			response.PendingManualCount++
		}
		response.Answers = append(response.Answers, NewGradedAnswerResponse(answer))
	}

	return response
}
