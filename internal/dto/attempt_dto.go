package dto

import (
	"time"

	"github.com/ikhtibar/assessment-api/internal/models"
)

// StartAttemptRequest is the payload for starting or resuming an attempt.
type StartAttemptRequest struct {
	ExamID     uint   `json:"exam_id" validate:"required,gt=0"`
	AccessCode string `json:"access_code"`
}

// SaveAnswerRequest records or replaces the answer to one attempt question.
// SelectedOptionIDs and TextAnswer are mutually exclusive by question type.
type SaveAnswerRequest struct {
	QuestionID        uint   `json:"question_id" validate:"required,gt=0"`
	SelectedOptionIDs []uint `json:"selected_option_ids"`
	TextAnswer        string `json:"text_answer"`
}

// AttemptOptionResponse is a selectable option presented to the candidate.
// The correctness flag is deliberately absent.
type AttemptOptionResponse struct {
	ID       uint   `json:"id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// AttemptQuestionResponse is one snapshotted question within an attempt.
type AttemptQuestionResponse struct {
	ID           uint                    `json:"id"`
	QuestionID   uint                    `json:"question_id"`
	QuestionType string                  `json:"question_type"`
	Text         string                  `json:"text"`
	Position     int                     `json:"position"`
	Points       float64                 `json:"points"`
	Options      []AttemptOptionResponse `json:"options,omitempty"`
}

// AttemptAnswerResponse serializes a saved answer.
type AttemptAnswerResponse struct {
	AttemptQuestionID uint      `json:"attempt_question_id"`
	SelectedOptionIDs []uint    `json:"selected_option_ids,omitempty"`
	TextAnswer        string    `json:"text_answer,omitempty"`
	AnsweredAt        time.Time `json:"answered_at"`
}

// AttemptResponse is returned by every attempt lifecycle operation.
type AttemptResponse struct {
	ID               uint                      `json:"id"`
	ExamID           uint                      `json:"exam_id"`
	ExamTitle        string                    `json:"exam_title,omitempty"`
	CandidateID      uint                      `json:"candidate_id"`
	AttemptNumber    int                       `json:"attempt_number"`
	Status           string                    `json:"status"`
	StartedAt        time.Time                 `json:"started_at"`
	ExpiresAt        time.Time                 `json:"expires_at"`
	SubmittedAt      *time.Time                `json:"submitted_at"`
	RemainingSeconds int64                     `json:"remaining_seconds"`
	TotalScore       *float64                  `json:"total_score"`
	IsPassed         *bool                     `json:"is_passed"`
	Questions        []AttemptQuestionResponse `json:"questions,omitempty"`
	Answers          []AttemptAnswerResponse   `json:"answers,omitempty"`
}

// ExpireSweepResponse reports the outcome of an overdue-attempt sweep.
type ExpireSweepResponse struct {
	ExpiredCount int       `json:"expired_count"`
	SweptAt      time.Time `json:"swept_at"`
}

// NewAttemptResponse converts an attempt model into its response DTO.
// Remaining time is clamped at zero for overdue or terminal attempts.
func NewAttemptResponse(attempt models.Attempt, reference time.Time) AttemptResponse {
	response := AttemptResponse{
		ID:            attempt.ID,
		ExamID:        attempt.ExamID,
		ExamTitle:     attempt.Exam.Title,
		CandidateID:   attempt.CandidateID,
		AttemptNumber: attempt.AttemptNumber,
		Status:        attempt.Status,
		StartedAt:     attempt.StartedAt,
		ExpiresAt:     attempt.ExpiresAt,
		SubmittedAt:   attempt.SubmittedAt,
		TotalScore:    attempt.TotalScore,
		IsPassed:      attempt.IsPassed,
	}

	if attempt.IsActive() {
		if remaining := attempt.ExpiresAt.Sub(reference); remaining > 0 {
			response.RemainingSeconds = int64(remaining.Seconds())
		}
	}

	for _, question := range attempt.Questions {
		response.Questions = append(response.Questions, NewAttemptQuestionResponse(question))
	}

	for _, answer := range attempt.Answers {
		response.Answers = append(response.Answers, NewAttemptAnswerResponse(answer))
	}

	return response
}

// NewAttemptQuestionResponse converts a snapshot row into its DTO.
func NewAttemptQuestionResponse(question models.AttemptQuestion) AttemptQuestionResponse {
	response := AttemptQuestionResponse{
		ID:           question.ID,
		QuestionID:   question.QuestionID,
		QuestionType: question.QuestionType,
		Text:         question.Question.Text,
		Position:     question.Position,
		Points:       question.Points,
	}

	for _, option := range question.Question.Options {
		response.Options = append(response.Options, AttemptOptionResponse{
			ID:       option.ID,
			Text:     option.Text,
			Position: option.Position,
		})
	}

	return response
}

// NewAttemptAnswerResponse converts an answer row into its DTO.
func NewAttemptAnswerResponse(answer models.AttemptAnswer) AttemptAnswerResponse {
	return AttemptAnswerResponse{
		AttemptQuestionID: answer.AttemptQuestionID,
		SelectedOptionIDs: optionIDsFromJSON(answer.SelectedOptionIDs),
		TextAnswer:        answer.TextAnswer,
		AnsweredAt:        answer.AnsweredAt,
	}
}
