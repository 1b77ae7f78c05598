package models

import "time"

// Grading session statuses.
const (
	GradingStatusPending        = "pending"
	GradingStatusAutoGraded     = "auto_graded"
	GradingStatusManualRequired = "manual_required"
	GradingStatusCompleted      = "completed"
)

// GradingSession coordinates auto and manual grading of one attempt. The
// unique index on AttemptID enforces the 1:1 relationship.
type GradingSession struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	AttemptID  uint           `gorm:"not null;uniqueIndex" json:"attempt_id"`
	Status     string         `gorm:"size:32;not null" json:"status"`
	TotalScore *float64       `json:"total_score"`
	IsPassed   *bool          `json:"is_passed"`
	GradedBy   *uint          `json:"graded_by"`
	GradedAt   *time.Time     `json:"graded_at"`
	Version    int64          `gorm:"not null;default:0" json:"-"`
	Attempt    Attempt        `json:"-"`
	Answers    []GradedAnswer `gorm:"constraint:OnDelete:CASCADE" json:"answers,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// IsCompleted reports whether the session reached its final status.
func (s GradingSession) IsCompleted() bool {
	return s.Status == GradingStatusCompleted
}

// GradedAnswer holds the grading outcome for one snapshotted question.
// MaxPoints is copied from the attempt snapshot so bound checks never consult
// the live question bank. IsGraded is an explicit flag: a legitimate zero
// score with no comment still counts as graded once an examiner recorded it.
type GradedAnswer struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	GradingSessionID  uint            `gorm:"not null;index:idx_session_question,unique" json:"grading_session_id"`
	AttemptQuestionID uint            `gorm:"not null;index:idx_session_question,unique" json:"attempt_question_id"`
	Score             float64         `gorm:"not null;default:0" json:"score"`
	MaxPoints         float64         `gorm:"not null" json:"max_points"`
	IsCorrect         bool            `gorm:"not null;default:false" json:"is_correct"`
	IsManuallyGraded  bool            `gorm:"not null;default:false" json:"is_manually_graded"`
	IsGraded          bool            `gorm:"not null;default:false" json:"is_graded"`
	GraderComment     string          `gorm:"type:text" json:"grader_comment"`
	GradedAt          *time.Time      `json:"graded_at"`
	AttemptQuestion   AttemptQuestion `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsPendingManual reports whether the answer still blocks session completion.
func (g GradedAnswer) IsPendingManual() bool {
	return g.IsManuallyGraded && !g.IsGraded
}
