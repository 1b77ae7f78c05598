package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ikhtibar/assessment-api/internal/models"
)

// GradingSessionRepository persists grading sessions and their answers.
type GradingSessionRepository interface {
	Create(ctx context.Context, session *models.GradingSession) error
	GetByID(ctx context.Context, id uint) (models.GradingSession, error)
	GetByAttemptID(ctx context.Context, attemptID uint) (models.GradingSession, error)
	UpdateWithVersion(ctx context.Context, session *models.GradingSession) error
	GetAnswer(ctx context.Context, sessionID, attemptQuestionID uint) (models.GradedAnswer, error)
	SaveAnswer(ctx context.Context, answer *models.GradedAnswer) error
}

type gradingSessionRepository struct {
	db *gorm.DB
}

// NewGradingSessionRepository instantiates the repository.
func NewGradingSessionRepository(db *gorm.DB) GradingSessionRepository {
	return &gradingSessionRepository{db: db}
}

func (r *gradingSessionRepository) Create(ctx context.Context, session *models.GradingSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *gradingSessionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.GradingSession{}).
		Preload("Answers", func(tx *gorm.DB) *gorm.DB {
			return tx.Joins("JOIN attempt_questions ON attempt_questions.id = graded_answers.attempt_question_id").
				Order("attempt_questions.position ASC")
		}).
		Preload("Answers.AttemptQuestion").
		Preload("Attempt").
		Preload("Attempt.Exam")
}

func (r *gradingSessionRepository) GetByID(ctx context.Context, id uint) (models.GradingSession, error) {
	var session models.GradingSession
	if err := r.baseQuery(ctx).First(&session, id).Error; err != nil {
		return models.GradingSession{}, err
	}

	return session, nil
}

func (r *gradingSessionRepository) GetByAttemptID(ctx context.Context, attemptID uint) (models.GradingSession, error) {
	var session models.GradingSession
	if err := r.baseQuery(ctx).Where("attempt_id = ?", attemptID).First(&session).Error; err != nil {
		return models.GradingSession{}, err
	}

	return session, nil
}

// UpdateWithVersion performs an optimistic compare-and-swap on the session
// row, mirroring the attempt repository's discipline.
func (r *gradingSessionRepository) UpdateWithVersion(ctx context.Context, session *models.GradingSession) error {
	previous := session.Version
	session.Version = previous + 1

	result := r.db.WithContext(ctx).Model(&models.GradingSession{}).
		Where("id = ?", session.ID).
		Where("version = ?", previous).
		Select("status", "total_score", "is_passed", "graded_by", "graded_at", "version").
		Updates(session)
	if result.Error != nil {
		session.Version = previous
		return result.Error
	}
	if result.RowsAffected == 0 {
		session.Version = previous
		return ErrVersionConflict
	}

	return nil
}

func (r *gradingSessionRepository) GetAnswer(ctx context.Context, sessionID, attemptQuestionID uint) (models.GradedAnswer, error) {
	var answer models.GradedAnswer
	if err := r.db.WithContext(ctx).
		Preload("AttemptQuestion").
		Where("grading_session_id = ?", sessionID).
		Where("attempt_question_id = ?", attemptQuestionID).
		First(&answer).Error; err != nil {
		return models.GradedAnswer{}, err
	}

	return answer, nil
}

func (r *gradingSessionRepository) SaveAnswer(ctx context.Context, answer *models.GradedAnswer) error {
	return r.db.WithContext(ctx).Save(answer).Error
}
