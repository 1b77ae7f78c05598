package ai

import "context"

// SuggestionInput contains the artefacts needed to propose a grade for a
// manually graded question.
type SuggestionInput struct {
	QuestionText    string
	QuestionType    string
	MaxPoints       float64
	AcceptedAnswers []string
	RubricNotes     string
	CandidateAnswer string
}

// SuggestionResult is the structured, advisory output of a grading suggester.
// It never overrides an examiner's judgment.
type SuggestionResult struct {
	Score      float64                `json:"score"`
	Comment    string                 `json:"comment"`
	Confidence float64                `json:"confidence"`
	Model      string                 `json:"model"`
	Raw        map[string]interface{} `json:"raw,omitempty"`
}

// Suggester describes an AI model capable of proposing a score and comment
// for a candidate answer.
type Suggester interface {
	Suggest(ctx context.Context, input SuggestionInput) (SuggestionResult, error)
}
