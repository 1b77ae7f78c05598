package models

import (
	"time"

	"gorm.io/datatypes"
)

// Attempt statuses. Submitted, expired and cancelled are terminal.
const (
	AttemptStatusStarted    = "started"
	AttemptStatusInProgress = "in_progress"
	AttemptStatusSubmitted  = "submitted"
	AttemptStatusExpired    = "expired"
	AttemptStatusCancelled  = "cancelled"
)

// Attempt event kinds recorded in the append-only attempt log.
const (
	AttemptEventStarted        = "started"
	AttemptEventAnswerSaved    = "answer_saved"
	AttemptEventSubmitted      = "submitted"
	AttemptEventTimedOut       = "timed_out"
	AttemptEventCancelled      = "cancelled"
	AttemptEventForceSubmitted = "force_submitted"
)

// Attempt is one candidate's timed instance of taking an exam.
type Attempt struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	ExamID        uint              `gorm:"not null;index" json:"exam_id"`
	CandidateID   uint              `gorm:"not null;index" json:"candidate_id"`
	AttemptNumber int               `gorm:"not null" json:"attempt_number"`
	Status        string            `gorm:"size:32;not null" json:"status"`
	StartedAt     time.Time         `gorm:"not null" json:"started_at"`
	ExpiresAt     time.Time         `gorm:"not null" json:"expires_at"`
	SubmittedAt   *time.Time        `json:"submitted_at"`
	TotalScore    *float64          `json:"total_score"`
	IsPassed      *bool             `json:"is_passed"`
	Version       int64             `gorm:"not null;default:0" json:"-"`
	Exam          Exam              `gorm:"constraint:OnUpdate:CASCADE" json:"-"`
	Questions     []AttemptQuestion `gorm:"constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	Answers       []AttemptAnswer   `gorm:"constraint:OnDelete:CASCADE" json:"answers,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsTerminal reports whether the attempt reached a final status.
func (a Attempt) IsTerminal() bool {
	switch a.Status {
	case AttemptStatusSubmitted, AttemptStatusExpired, AttemptStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the attempt still accepts answers.
func (a Attempt) IsActive() bool {
	return a.Status == AttemptStatusStarted || a.Status == AttemptStatusInProgress
}

// IsOverdue reports whether the attempt deadline has passed.
func (a Attempt) IsOverdue(reference time.Time) bool {
	return reference.After(a.ExpiresAt)
}

// AttemptQuestion is the immutable per-attempt snapshot of a question.
// Position and Points are frozen at attempt creation and never re-read from
// the live question bank.
type AttemptQuestion struct {
	ID           uint     `gorm:"primaryKey" json:"id"`
	AttemptID    uint     `gorm:"not null;index:idx_attempt_question,unique" json:"attempt_id"`
	QuestionID   uint     `gorm:"not null;index:idx_attempt_question,unique" json:"question_id"`
	QuestionType string   `gorm:"size:32;not null" json:"question_type"`
	Position     int      `gorm:"not null" json:"position"`
	Points       float64  `gorm:"not null" json:"points"`
	Question     Question `json:"-"`
}

// AttemptAnswer records a candidate's answer to one snapshotted question.
// SelectedOptionIDs and TextAnswer are mutually exclusive by question type.
// Score and IsCorrect are copied back by the auto grader for traceability.
type AttemptAnswer struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	AttemptID         uint           `gorm:"not null;index" json:"attempt_id"`
	AttemptQuestionID uint           `gorm:"not null;uniqueIndex" json:"attempt_question_id"`
	SelectedOptionIDs datatypes.JSON `gorm:"type:json" json:"selected_option_ids"`
	TextAnswer        string         `gorm:"type:text" json:"text_answer"`
	AnsweredAt        time.Time      `gorm:"not null" json:"answered_at"`
	Score             *float64       `json:"score"`
	IsCorrect         *bool          `json:"is_correct"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// AttemptEvent is an append-only log entry for an attempt. Rows are never
// mutated or deleted.
type AttemptEvent struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	AttemptID  uint              `gorm:"not null;index" json:"attempt_id"`
	Kind       string            `gorm:"size:32;not null" json:"kind"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	OccurredAt time.Time         `gorm:"not null;index" json:"occurred_at"`
}
