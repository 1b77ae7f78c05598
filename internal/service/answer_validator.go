package service

import (
	"errors"
	"strings"

	"github.com/ikhtibar/assessment-api/internal/models"
)

// Answer validation rejection reasons. Each violation maps to a specific
// error so callers can surface actionable feedback instead of a generic
// failure.
var (
	ErrUnknownQuestionType  = errors.New("unknown question type")
	ErrSingleOptionRequired = errors.New("exactly one option must be selected")
	ErrOptionRequired       = errors.New("at least one option must be selected")
	ErrOptionNotInQuestion  = errors.New("selected option does not belong to this question")
	ErrTextNotAllowed       = errors.New("a text answer is not allowed for choice questions")
	ErrOptionsNotAllowed    = errors.New("option selections are not allowed for text questions")
	ErrTextRequired         = errors.New("a non-empty text answer is required")
)

// AnswerPayload is the candidate-submitted answer shape handed to the
// validator and the auto grader.
type AnswerPayload struct {
	SelectedOptionIDs []uint
	TextAnswer        string
}

// ValidateAnswer checks a submitted answer against the question-type
// contract. It is pure: no side effects, no persistence access beyond the
// option set passed in.
func ValidateAnswer(questionType string, options []models.QuestionOption, payload AnswerPayload) error {
	switch NormalizeQuestionType(questionType) {
	case models.QuestionTypeSingleChoice, models.QuestionTypeTrueFalse:
		if strings.TrimSpace(payload.TextAnswer) != "" {
			return ErrTextNotAllowed
		}
		if len(payload.SelectedOptionIDs) != 1 {
			return ErrSingleOptionRequired
		}
		return validateOptionMembership(options, payload.SelectedOptionIDs)
	case models.QuestionTypeMultipleChoice:
		if strings.TrimSpace(payload.TextAnswer) != "" {
			return ErrTextNotAllowed
		}
		if len(payload.SelectedOptionIDs) == 0 {
			return ErrOptionRequired
		}
		return validateOptionMembership(options, payload.SelectedOptionIDs)
	case models.QuestionTypeShortAnswer, models.QuestionTypeEssay:
		if len(payload.SelectedOptionIDs) > 0 {
			return ErrOptionsNotAllowed
		}
		if strings.TrimSpace(payload.TextAnswer) == "" {
			return ErrTextRequired
		}
		return nil
	default:
		return ErrUnknownQuestionType
	}
}

// NormalizeQuestionType canonicalises a question-type name for comparisons.
func NormalizeQuestionType(questionType string) string {
	normalized := strings.ToLower(strings.TrimSpace(questionType))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	return normalized
}

func validateOptionMembership(options []models.QuestionOption, selected []uint) error {
	known := make(map[uint]struct{}, len(options))
	for _, option := range options {
		known[option.ID] = struct{}{}
	}

	for _, id := range selected {
		if _, ok := known[id]; !ok {
			return ErrOptionNotInQuestion
		}
	}

	return nil
}
