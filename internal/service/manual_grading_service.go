package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/ikhtibar/assessment-api/internal/dto"
	"github.com/ikhtibar/assessment-api/internal/models"
	"github.com/ikhtibar/assessment-api/internal/repository"
	"github.com/ikhtibar/assessment-api/pkg/ai"
)

// Manual grading sentinel errors.
var (
	ErrScoreExceedsMax      = errors.New("score exceeds the question's max points")
	ErrGradedAnswerNotFound = errors.New("graded answer not found")
	ErrSessionCompleted     = errors.New("grading session already completed, use re-grade instead")
	ErrSuggesterUnavailable = errors.New("grading suggester is not configured")
)

// ManualGradingService records examiner-entered scores and handles post-hoc
// corrections, including on completed sessions.
type ManualGradingService interface {
	SubmitGrade(ctx context.Context, sessionID uint, payload dto.ManualGradeRequest, actor ActivityActor) (dto.GradedAnswerResponse, error)
	Regrade(ctx context.Context, sessionID uint, payload dto.RegradeRequest, actor ActivityActor) (dto.RegradeResponse, error)
	Suggest(ctx context.Context, sessionID, attemptQuestionID uint) (dto.GradingSuggestionResponse, error)
}

type manualGradingService struct {
	attempts  repository.AttemptRepository
	sessions  repository.GradingSessionRepository
	suggester ai.Suggester
	audit     AuditSink
	events    EventPublisher
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewManualGradingService constructs the manual grading recorder. The
// suggester may be nil, in which case Suggest reports unavailability.
func NewManualGradingService(attempts repository.AttemptRepository, sessions repository.GradingSessionRepository, suggester ai.Suggester, audit AuditSink, events EventPublisher, validate *validator.Validate, logger zerolog.Logger) ManualGradingService {
	return &manualGradingService{
		attempts:  attempts,
		sessions:  sessions,
		suggester: suggester,
		audit:     audit,
		events:    events,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "manual_grading_service").Logger(),
		tracer:    otel.Tracer("github.com/ikhtibar/assessment-api/internal/service/manual_grading"),
		now:       time.Now,
	}
}

func (s *manualGradingService) SubmitGrade(ctx context.Context, sessionID uint, payload dto.ManualGradeRequest, actor ActivityActor) (dto.GradedAnswerResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.submit_grade", trace.WithAttributes(
		attribute.Int64("grading.session_id", int64(sessionID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.GradedAnswerResponse{}, err
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return dto.GradedAnswerResponse{}, err
	}
	if session.IsCompleted() {
		span.SetStatus(codes.Error, "session_completed")
		return dto.GradedAnswerResponse{}, ErrSessionCompleted
	}

	answer, err := s.loadAnswer(ctx, sessionID, payload.AttemptQuestionID)
	if err != nil {
		return dto.GradedAnswerResponse{}, err
	}
	if payload.Score > answer.MaxPoints {
		span.SetStatus(codes.Error, "score_exceeds_max")
		return dto.GradedAnswerResponse{}, fmt.Errorf("score %.2f exceeds max %.2f: %w", payload.Score, answer.MaxPoints, ErrScoreExceedsMax)
	}

	now := s.now()
	answer.Score = payload.Score
	answer.IsCorrect = payload.IsCorrect
	answer.GraderComment = strings.TrimSpace(s.sanitizer.Sanitize(payload.Comment))
	answer.IsManuallyGraded = true
	answer.IsGraded = true
	answer.GradedAt = &now

	if err := s.sessions.SaveAnswer(ctx, &answer); err != nil {
		span.RecordError(err)
		return dto.GradedAnswerResponse{}, err
	}

	// Aggregation deliberately does not run here; totals are recomputed when
	// the session is completed.
	s.audit.LogSuccess(ctx, actor, "grading.submit_grade", "graded_answer", &answer.ID, map[string]interface{}{
		"grading_session_id":  sessionID,
		"attempt_question_id": payload.AttemptQuestionID,
		"score":               payload.Score,
	})

	return dto.NewGradedAnswerResponse(answer), nil
}

func (s *manualGradingService) Regrade(ctx context.Context, sessionID uint, payload dto.RegradeRequest, actor ActivityActor) (dto.RegradeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.regrade", trace.WithAttributes(
		attribute.Int64("grading.session_id", int64(sessionID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.RegradeResponse{}, err
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return dto.RegradeResponse{}, err
	}

	answer, err := s.loadAnswer(ctx, sessionID, payload.AttemptQuestionID)
	if err != nil {
		return dto.RegradeResponse{}, err
	}
	if payload.Score > answer.MaxPoints {
		span.SetStatus(codes.Error, "score_exceeds_max")
		return dto.RegradeResponse{}, fmt.Errorf("score %.2f exceeds max %.2f: %w", payload.Score, answer.MaxPoints, ErrScoreExceedsMax)
	}

	previousTotal := session.TotalScore

	now := s.now()
	answer.Score = payload.Score
	answer.IsCorrect = payload.IsCorrect
	answer.GraderComment = strings.TrimSpace(s.sanitizer.Sanitize(payload.Comment))
	answer.IsManuallyGraded = true
	answer.IsGraded = true
	answer.GradedAt = &now

	if err := s.sessions.SaveAnswer(ctx, &answer); err != nil {
		span.RecordError(err)
		return dto.RegradeResponse{}, err
	}

	// Unlike SubmitGrade, a re-grade recomputes immediately: it may correct
	// an already-completed session whose totals are live downstream.
	session, err = s.loadSession(ctx, sessionID)
	if err != nil {
		return dto.RegradeResponse{}, err
	}

	total, passed := AggregateScore(session.Answers, session.Attempt.Exam.PassScore)
	session.TotalScore = &total
	session.IsPassed = &passed
	if err := s.sessions.UpdateWithVersion(ctx, &session); err != nil {
		span.RecordError(err)
		return dto.RegradeResponse{}, err
	}

	if session.IsCompleted() {
		s.syncAttemptScore(ctx, session.AttemptID, total, passed)
		s.events.Publish(ctx, SubjectAttemptRegraded, map[string]interface{}{
			"grading_session_id": session.ID,
			"attempt_id":         session.AttemptID,
			"total_score":        total,
			"is_passed":          passed,
		})
	}

	s.audit.LogSuccess(ctx, actor, "grading.regrade", "graded_answer", &answer.ID, map[string]interface{}{
		"grading_session_id":  sessionID,
		"attempt_question_id": payload.AttemptQuestionID,
		"score":               payload.Score,
	})
	span.SetAttributes(attribute.Float64("grading.new_total", total))

	session, err = s.loadSession(ctx, sessionID)
	if err != nil {
		return dto.RegradeResponse{}, err
	}

	return dto.RegradeResponse{
		Session:       dto.NewGradingSessionResponse(session),
		PreviousTotal: previousTotal,
		NewTotal:      total,
	}, nil
}

// Suggest asks the configured AI model for an advisory score and comment.
// The suggestion is returned to the examiner, never written anywhere.
func (s *manualGradingService) Suggest(ctx context.Context, sessionID, attemptQuestionID uint) (dto.GradingSuggestionResponse, error) {
	if s.suggester == nil {
		return dto.GradingSuggestionResponse{}, ErrSuggesterUnavailable
	}

	answer, err := s.loadAnswer(ctx, sessionID, attemptQuestionID)
	if err != nil {
		return dto.GradingSuggestionResponse{}, err
	}

	question, err := s.attempts.GetWithAnswers(ctx, answer.AttemptQuestion.AttemptID)
	if err != nil {
		return dto.GradingSuggestionResponse{}, err
	}

	input := ai.SuggestionInput{
		QuestionType: answer.AttemptQuestion.QuestionType,
		MaxPoints:    answer.MaxPoints,
	}
	for _, snapshot := range question.Questions {
		if snapshot.ID == attemptQuestionID {
			input.QuestionText = snapshot.Question.Text
			if snapshot.Question.AnswerKey != nil {
				input.AcceptedAnswers = acceptedAnswers(snapshot.Question.AnswerKey)
			}
			break
		}
	}
	for _, saved := range question.Answers {
		if saved.AttemptQuestionID == attemptQuestionID {
			input.CandidateAnswer = saved.TextAnswer
			break
		}
	}

	result, err := s.suggester.Suggest(ctx, input)
	if err != nil {
		s.logger.Warn().Err(err).Uint("attempt_question_id", attemptQuestionID).Msg("grading suggestion failed")
		return dto.GradingSuggestionResponse{}, err
	}

	return dto.GradingSuggestionResponse{
		AttemptQuestionID: attemptQuestionID,
		SuggestedScore:    result.Score,
		Comment:           result.Comment,
		Confidence:        result.Confidence,
		Model:             result.Model,
	}, nil
}

func (s *manualGradingService) loadSession(ctx context.Context, sessionID uint) (models.GradingSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingSession{}, ErrGradingSessionNotFound
		}
		return models.GradingSession{}, err
	}
	return session, nil
}

func (s *manualGradingService) loadAnswer(ctx context.Context, sessionID, attemptQuestionID uint) (models.GradedAnswer, error) {
	answer, err := s.sessions.GetAnswer(ctx, sessionID, attemptQuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradedAnswer{}, ErrGradedAnswerNotFound
		}
		return models.GradedAnswer{}, err
	}
	return answer, nil
}

func (s *manualGradingService) syncAttemptScore(ctx context.Context, attemptID uint, total float64, passed bool) {
	for retry := 0; retry < 2; retry++ {
		attempt, err := s.attempts.GetByID(ctx, attemptID)
		if err != nil {
			s.logger.Error().Err(err).Uint("attempt_id", attemptID).Msg("failed to load attempt for score sync")
			return
		}
		attempt.TotalScore = &total
		attempt.IsPassed = &passed
		err = s.attempts.UpdateWithVersion(ctx, &attempt)
		if err == nil {
			return
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Error().Err(err).Uint("attempt_id", attemptID).Msg("failed to sync attempt score")
			return
		}
	}
	s.logger.Warn().Uint("attempt_id", attemptID).Msg("gave up syncing attempt score after version conflicts")
}
