package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Question type names recognised by the answer validator and auto grader.
const (
	QuestionTypeSingleChoice   = "single_choice"
	QuestionTypeMultipleChoice = "multiple_choice"
	QuestionTypeTrueFalse      = "true_false"
	QuestionTypeShortAnswer    = "short_answer"
	QuestionTypeEssay          = "essay"
)

// Exam defines a timed assessment with ordered sections of questions.
type Exam struct {
	ID               uint          `gorm:"primaryKey" json:"id"`
	Title            string        `gorm:"size:255;not null" json:"title"`
	IsActive         bool          `gorm:"not null;default:true" json:"is_active"`
	IsPublished      bool          `gorm:"not null;default:false" json:"is_published"`
	DurationMinutes  int           `gorm:"not null" json:"duration_minutes"`
	StartAt          *time.Time    `json:"start_at"`
	EndAt            *time.Time    `json:"end_at"`
	MaxAttempts      int           `gorm:"not null;default:0" json:"max_attempts"`
	PassScore        float64       `gorm:"not null;default:0" json:"pass_score"`
	ShuffleQuestions bool          `gorm:"not null;default:false" json:"shuffle_questions"`
	ShuffleOptions   bool          `gorm:"not null;default:false" json:"shuffle_options"`
	AccessCode       string        `gorm:"size:64" json:"-"`
	Sections         []ExamSection `json:"sections"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ExamSection groups questions inside an exam in a fixed order.
type ExamSection struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ExamID    uint           `gorm:"not null;index" json:"exam_id"`
	Title     string         `gorm:"size:255" json:"title"`
	Position  int            `gorm:"not null" json:"position"`
	Questions []Question     `gorm:"foreignKey:SectionID" json:"questions"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Question is a question-bank entry referenced by attempt snapshots.
type Question struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	SectionID uint             `gorm:"not null;index" json:"section_id"`
	Type      string           `gorm:"size:32;not null" json:"type"`
	Text      string           `gorm:"type:text;not null" json:"text"`
	Points    float64          `gorm:"not null" json:"points"`
	Position  int              `gorm:"not null" json:"position"`
	Options   []QuestionOption `json:"options"`
	AnswerKey *AnswerKey       `json:"answer_key,omitempty"`
	DeletedAt gorm.DeletedAt   `gorm:"index" json:"-"`
}

// QuestionOption is one selectable choice of an MCQ or true/false question.
type QuestionOption struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	QuestionID uint   `gorm:"not null;index" json:"question_id"`
	Text       string `gorm:"type:text;not null" json:"text"`
	IsCorrect  bool   `gorm:"not null;default:false" json:"-"`
	Position   int    `gorm:"not null" json:"position"`
}

// AnswerKey stores the accepted answers and normalization flags for a
// short-answer question. Accepted answers are kept as separate English and
// Arabic lists; a key with both lists empty cannot be auto graded.
type AnswerKey struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	QuestionID         uint           `gorm:"not null;uniqueIndex" json:"question_id"`
	AcceptedEnglish    datatypes.JSON `gorm:"type:json" json:"accepted_english"`
	AcceptedArabic     datatypes.JSON `gorm:"type:json" json:"accepted_arabic"`
	TrimWhitespace     bool           `gorm:"not null;default:true" json:"trim_whitespace"`
	CollapseWhitespace bool           `gorm:"not null;default:false" json:"collapse_whitespace"`
	CaseSensitive      bool           `gorm:"not null;default:false" json:"case_sensitive"`
}

// HasChoices reports whether the question type carries an option set.
func HasChoices(questionType string) bool {
	switch questionType {
	case QuestionTypeSingleChoice, QuestionTypeMultipleChoice, QuestionTypeTrueFalse:
		return true
	default:
		return false
	}
}

// IsWithinWindow reports whether the reference time falls inside the exam's
// availability window. A nil bound leaves that side open.
func (e Exam) IsWithinWindow(reference time.Time) bool {
	if e.StartAt != nil && reference.Before(*e.StartAt) {
		return false
	}
	if e.EndAt != nil && reference.After(*e.EndAt) {
		return false
	}
	return true
}
