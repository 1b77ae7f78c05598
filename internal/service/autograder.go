package service

import (
	"encoding/json"
	"strings"

	"github.com/ikhtibar/assessment-api/internal/models"
)

// AutoGradeResult is the deterministic scoring outcome for one question.
type AutoGradeResult struct {
	Score     float64
	IsCorrect bool
}

// IsAutoGradable reports whether a question can be scored without human
// judgment. Choice questions always can; short-answer questions only when an
// answer key with at least one accepted answer exists. Essays never can.
func IsAutoGradable(questionType string, question models.Question) bool {
	switch NormalizeQuestionType(questionType) {
	case models.QuestionTypeSingleChoice, models.QuestionTypeMultipleChoice, models.QuestionTypeTrueFalse:
		return true
	case models.QuestionTypeShortAnswer:
		return len(acceptedAnswers(question.AnswerKey)) > 0
	default:
		return false
	}
}

// AutoGrade scores an answered question deterministically. The caller must
// have established auto-gradability first; unknown types score zero.
func AutoGrade(questionType string, question models.Question, points float64, payload AnswerPayload) AutoGradeResult {
	switch NormalizeQuestionType(questionType) {
	case models.QuestionTypeSingleChoice, models.QuestionTypeMultipleChoice, models.QuestionTypeTrueFalse:
		return gradeChoice(question.Options, points, payload.SelectedOptionIDs)
	case models.QuestionTypeShortAnswer:
		return gradeShortAnswer(question.AnswerKey, points, payload.TextAnswer)
	default:
		return AutoGradeResult{}
	}
}

// gradeChoice awards full points only when the selected set equals the set of
// options flagged correct. Subsets and supersets score zero; there is no
// partial credit.
func gradeChoice(options []models.QuestionOption, points float64, selected []uint) AutoGradeResult {
	correct := make(map[uint]struct{})
	for _, option := range options {
		if option.IsCorrect {
			correct[option.ID] = struct{}{}
		}
	}

	chosen := make(map[uint]struct{}, len(selected))
	for _, id := range selected {
		chosen[id] = struct{}{}
	}

	if len(correct) == 0 || len(chosen) != len(correct) {
		return AutoGradeResult{}
	}
	for id := range chosen {
		if _, ok := correct[id]; !ok {
			return AutoGradeResult{}
		}
	}

	return AutoGradeResult{Score: points, IsCorrect: true}
}

// gradeShortAnswer compares the candidate text against every accepted answer,
// applying the key's normalization flags identically to both sides. The first
// match in either language list wins.
func gradeShortAnswer(key *models.AnswerKey, points float64, text string) AutoGradeResult {
	if key == nil {
		return AutoGradeResult{}
	}

	candidate := normalizeAnswerText(text, *key)
	for _, accepted := range acceptedAnswers(key) {
		if normalizeAnswerText(accepted, *key) == candidate {
			return AutoGradeResult{Score: points, IsCorrect: true}
		}
	}

	return AutoGradeResult{}
}

func normalizeAnswerText(text string, key models.AnswerKey) string {
	if key.TrimWhitespace {
		text = strings.TrimSpace(text)
	}
	if key.CollapseWhitespace {
		text = strings.Join(strings.Fields(text), " ")
	}
	if !key.CaseSensitive {
		text = strings.ToLower(text)
	}
	return text
}

func acceptedAnswers(key *models.AnswerKey) []string {
	if key == nil {
		return nil
	}

	var answers []string
	answers = append(answers, decodeStringList(key.AcceptedEnglish)...)
	answers = append(answers, decodeStringList(key.AcceptedArabic)...)

	result := answers[:0]
	for _, answer := range answers {
		if strings.TrimSpace(answer) != "" {
			result = append(result, answer)
		}
	}
	return result
}

func decodeStringList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}
