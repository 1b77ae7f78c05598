package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ikhtibar/assessment-api/internal/models"
)

// ExamRepository reads exam definitions from the question bank. Content
// management lives elsewhere; attempts only ever read.
type ExamRepository interface {
	GetByID(ctx context.Context, id uint) (models.Exam, error)
	// GetWithStructure loads the exam together with its ordered, non-deleted
	// sections, questions, options and answer keys. This is the canonical
	// read model used when snapshotting an attempt.
	GetWithStructure(ctx context.Context, id uint) (models.Exam, error)
	GetQuestion(ctx context.Context, id uint) (models.Question, error)
}

type examRepository struct {
	db *gorm.DB
}

// NewExamRepository instantiates the repository.
func NewExamRepository(db *gorm.DB) ExamRepository {
	return &examRepository{db: db}
}

func (r *examRepository) GetByID(ctx context.Context, id uint) (models.Exam, error) {
	var exam models.Exam
	if err := r.db.WithContext(ctx).First(&exam, id).Error; err != nil {
		return models.Exam{}, err
	}

	return exam, nil
}

func (r *examRepository) GetWithStructure(ctx context.Context, id uint) (models.Exam, error) {
	var exam models.Exam
	if err := r.db.WithContext(ctx).
		Preload("Sections", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Sections.Questions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Sections.Questions.Options", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Sections.Questions.AnswerKey").
		First(&exam, id).Error; err != nil {
		return models.Exam{}, err
	}

	return exam, nil
}

func (r *examRepository) GetQuestion(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).
		Preload("Options", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("AnswerKey").
		First(&question, id).Error; err != nil {
		return models.Question{}, err
	}

	return question, nil
}
