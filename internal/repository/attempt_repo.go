package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ikhtibar/assessment-api/internal/models"
)

// ErrVersionConflict indicates a compare-and-swap write lost against a
// concurrent update of the same row.
var ErrVersionConflict = errors.New("version conflict")

// AttemptRepository persists attempts, their question snapshots, answers and
// the append-only event log.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.Attempt) error
	GetByID(ctx context.Context, id uint) (models.Attempt, error)
	// GetWithAnswers loads the attempt with its snapshot, question content
	// and saved answers. This is the canonical "attempt with answers" read
	// model shared by session reads and grading.
	GetWithAnswers(ctx context.Context, id uint) (models.Attempt, error)
	FindActive(ctx context.Context, examID, candidateID uint) (models.Attempt, error)
	CountByCandidate(ctx context.Context, examID, candidateID uint) (int64, error)
	UpdateWithVersion(ctx context.Context, attempt *models.Attempt) error
	ListOverdue(ctx context.Context, reference time.Time, limit int) ([]models.Attempt, error)
	GetAnswer(ctx context.Context, attemptQuestionID uint) (models.AttemptAnswer, error)
	SaveAnswer(ctx context.Context, answer *models.AttemptAnswer) error
	CreateEvent(ctx context.Context, event *models.AttemptEvent) error
	ListEvents(ctx context.Context, attemptID uint) ([]models.AttemptEvent, error)
}

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository instantiates the repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) Create(ctx context.Context, attempt *models.Attempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *attemptRepository) GetByID(ctx context.Context, id uint) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.db.WithContext(ctx).Preload("Exam").First(&attempt, id).Error; err != nil {
		return models.Attempt{}, err
	}

	return attempt, nil
}

func (r *attemptRepository) GetWithAnswers(ctx context.Context, id uint) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.db.WithContext(ctx).
		Preload("Exam").
		Preload("Questions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Questions.Question").
		Preload("Questions.Question.Options", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Questions.Question.AnswerKey").
		Preload("Answers").
		First(&attempt, id).Error; err != nil {
		return models.Attempt{}, err
	}

	return attempt, nil
}

func (r *attemptRepository) FindActive(ctx context.Context, examID, candidateID uint) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.db.WithContext(ctx).
		Where("exam_id = ?", examID).
		Where("candidate_id = ?", candidateID).
		Where("status IN ?", []string{models.AttemptStatusStarted, models.AttemptStatusInProgress}).
		Order("started_at DESC").
		First(&attempt).Error; err != nil {
		return models.Attempt{}, err
	}

	return attempt, nil
}

func (r *attemptRepository) CountByCandidate(ctx context.Context, examID, candidateID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Attempt{}).
		Where("exam_id = ?", examID).
		Where("candidate_id = ?", candidateID).
		Count(&count).Error; err != nil {
		return 0, err
	}

	return count, nil
}

// UpdateWithVersion performs an optimistic compare-and-swap on the attempt
// row. The write only lands when the stored version still matches the one the
// caller read; otherwise ErrVersionConflict is returned and the caller must
// reload and decide.
func (r *attemptRepository) UpdateWithVersion(ctx context.Context, attempt *models.Attempt) error {
	previous := attempt.Version
	attempt.Version = previous + 1

	result := r.db.WithContext(ctx).Model(&models.Attempt{}).
		Where("id = ?", attempt.ID).
		Where("version = ?", previous).
		Select("status", "submitted_at", "expires_at", "total_score", "is_passed", "version").
		Updates(attempt)
	if result.Error != nil {
		attempt.Version = previous
		return result.Error
	}
	if result.RowsAffected == 0 {
		attempt.Version = previous
		return ErrVersionConflict
	}

	return nil
}

func (r *attemptRepository) ListOverdue(ctx context.Context, reference time.Time, limit int) ([]models.Attempt, error) {
	query := r.db.WithContext(ctx).
		Where("status IN ?", []string{models.AttemptStatusStarted, models.AttemptStatusInProgress}).
		Where("expires_at < ?", reference).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var attempts []models.Attempt
	if err := query.Find(&attempts).Error; err != nil {
		return nil, err
	}

	return attempts, nil
}

func (r *attemptRepository) GetAnswer(ctx context.Context, attemptQuestionID uint) (models.AttemptAnswer, error) {
	var answer models.AttemptAnswer
	if err := r.db.WithContext(ctx).
		Where("attempt_question_id = ?", attemptQuestionID).
		First(&answer).Error; err != nil {
		return models.AttemptAnswer{}, err
	}

	return answer, nil
}

func (r *attemptRepository) SaveAnswer(ctx context.Context, answer *models.AttemptAnswer) error {
	return r.db.WithContext(ctx).Save(answer).Error
}

func (r *attemptRepository) CreateEvent(ctx context.Context, event *models.AttemptEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *attemptRepository) ListEvents(ctx context.Context, attemptID uint) ([]models.AttemptEvent, error) {
	var events []models.AttemptEvent
	if err := r.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("occurred_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}

	return events, nil
}
