package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ikhtibar/assessment-api/internal/dto"
	"github.com/ikhtibar/assessment-api/internal/models"
	"github.com/ikhtibar/assessment-api/internal/repository"
)

// Grading sentinel errors.
var (
	ErrGradingSessionNotFound = errors.New("grading session not found")
	ErrGradingSessionExists   = errors.New("grading session already exists for this attempt")
	ErrAttemptNotGradable     = errors.New("attempt must be submitted or expired before grading")
	ErrGradingCompleted       = errors.New("grading session is already completed")
	ErrManualGradingPending   = errors.New("manual grading still pending")
)

// GradingService builds grading sessions for finished attempts, runs the auto
// grader and finalizes sessions once every manual grade is in.
type GradingService interface {
	Initiate(ctx context.Context, attemptID uint, actor ActivityActor) (dto.GradingSessionResponse, error)
	GetSession(ctx context.Context, sessionID uint) (dto.GradingSessionResponse, error)
	Complete(ctx context.Context, sessionID uint, actor ActivityActor) (dto.GradingSessionResponse, error)
}

type gradingService struct {
	attempts repository.AttemptRepository
	sessions repository.GradingSessionRepository
	cache    *redis.Client
	audit    AuditSink
	events   EventPublisher
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewGradingService constructs the grading orchestrator.
func NewGradingService(attempts repository.AttemptRepository, sessions repository.GradingSessionRepository, cache *redis.Client, audit AuditSink, events EventPublisher, logger zerolog.Logger) GradingService {
	return &gradingService{
		attempts: attempts,
		sessions: sessions,
		cache:    cache,
		audit:    audit,
		events:   events,
		logger:   logger.With().Str("component", "grading_service").Logger(),
		tracer:   otel.Tracer("github.com/ikhtibar/assessment-api/internal/service/grading"),
		now:      time.Now,
	}
}

func (s *gradingService) Initiate(ctx context.Context, attemptID uint, actor ActivityActor) (dto.GradingSessionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.initiate", trace.WithAttributes(
		attribute.Int64("grading.attempt_id", int64(attemptID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	attempt, err := s.attempts.GetWithAnswers(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradingSessionResponse{}, ErrAttemptNotFound
		}
		return dto.GradingSessionResponse{}, err
	}

	if attempt.Status != models.AttemptStatusSubmitted && attempt.Status != models.AttemptStatusExpired {
		span.SetStatus(codes.Error, "attempt_not_gradable")
		return dto.GradingSessionResponse{}, ErrAttemptNotGradable
	}

	if _, err := s.sessions.GetByAttemptID(ctx, attemptID); err == nil {
		span.SetStatus(codes.Error, "session_exists")
		return dto.GradingSessionResponse{}, ErrGradingSessionExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.GradingSessionResponse{}, err
	}

	now := s.now()
	answersByQuestion := make(map[uint]models.AttemptAnswer, len(attempt.Answers))
	for _, answer := range attempt.Answers {
		answersByQuestion[answer.AttemptQuestionID] = answer
	}

	session := models.GradingSession{
		AttemptID: attempt.ID,
		Status:    models.GradingStatusAutoGraded,
	}

	manualCount := 0
	for _, snapshot := range attempt.Questions {
		graded := models.GradedAnswer{
			AttemptQuestionID: snapshot.ID,
			MaxPoints:         snapshot.Points,
		}

		switch {
		case !IsAutoGradable(snapshot.QuestionType, snapshot.Question):
			graded.IsManuallyGraded = true
			manualCount++
		default:
			answer, answered := answersByQuestion[snapshot.ID]
			if !answered {
				graded.IsGraded = true
				graded.GraderComment = "Unanswered"
				graded.GradedAt = &now
				break
			}

			result := AutoGrade(snapshot.QuestionType, snapshot.Question, snapshot.Points, AnswerPayload{
				SelectedOptionIDs: decodeOptionIDs(answer.SelectedOptionIDs),
				TextAnswer:        answer.TextAnswer,
			})
			graded.Score = result.Score
			graded.IsCorrect = result.IsCorrect
			graded.IsGraded = true
			graded.GradedAt = &now

			// Copy the outcome back onto the historical answer row for
			// traceability.
			score := result.Score
			correct := result.IsCorrect
			answer.Score = &score
			answer.IsCorrect = &correct
			if err := s.attempts.SaveAnswer(ctx, &answer); err != nil {
				s.logger.Warn().Err(err).Uint("attempt_question_id", snapshot.ID).Msg("failed to copy auto grade onto answer")
			}
		}

		session.Answers = append(session.Answers, graded)
	}

	if manualCount > 0 {
		session.Status = models.GradingStatusManualRequired
	} else {
		total, passed := AggregateScore(session.Answers, attempt.Exam.PassScore)
		session.TotalScore = &total
		session.IsPassed = &passed
	}

	if err := s.sessions.Create(ctx, &session); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.GradingSessionResponse{}, ErrGradingSessionExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "session_create_failed")
		return dto.GradingSessionResponse{}, err
	}

	s.audit.LogSuccess(ctx, actor, "grading.initiate", "grading_session", &session.ID, map[string]interface{}{
		"attempt_id":     attempt.ID,
		"status":         session.Status,
		"manual_pending": manualCount,
	})
	span.SetAttributes(
		attribute.Int64("grading.session_id", int64(session.ID)),
		attribute.String("grading.status", session.Status),
	)

	return s.sessionResponse(ctx, session.ID)
}

func (s *gradingService) GetSession(ctx context.Context, sessionID uint) (dto.GradingSessionResponse, error) {
	return s.sessionResponse(ctx, sessionID)
}

func (s *gradingService) Complete(ctx context.Context, sessionID uint, actor ActivityActor) (dto.GradingSessionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.complete", trace.WithAttributes(
		attribute.Int64("grading.session_id", int64(sessionID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradingSessionResponse{}, ErrGradingSessionNotFound
		}
		return dto.GradingSessionResponse{}, err
	}

	if session.IsCompleted() {
		return dto.GradingSessionResponse{}, ErrGradingCompleted
	}

	pending := 0
	for _, answer := range session.Answers {
		if answer.IsPendingManual() {
			pending++
		}
	}
	if pending > 0 {
		span.SetStatus(codes.Error, "manual_pending")
		return dto.GradingSessionResponse{}, fmt.Errorf("%d question(s) still require manual grading: %w", pending, ErrManualGradingPending)
	}

	now := s.now()
	total, passed := AggregateScore(session.Answers, session.Attempt.Exam.PassScore)
	session.Status = models.GradingStatusCompleted
	session.TotalScore = &total
	session.IsPassed = &passed
	graderID := actor.ID
	session.GradedBy = &graderID
	session.GradedAt = &now

	if err := s.sessions.UpdateWithVersion(ctx, &session); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			reloaded, loadErr := s.sessions.GetByID(ctx, sessionID)
			if loadErr == nil && reloaded.IsCompleted() {
				return dto.GradingSessionResponse{}, ErrGradingCompleted
			}
			return dto.GradingSessionResponse{}, err
		}
		span.RecordError(err)
		return dto.GradingSessionResponse{}, err
	}

	s.syncAttemptScore(ctx, session.AttemptID, total, passed)
	s.finalizeResult(ctx, session, total, passed)
	s.audit.LogSuccess(ctx, actor, "grading.complete", "grading_session", &session.ID, map[string]interface{}{
		"total_score": total,
		"is_passed":   passed,
	})

	return s.sessionResponse(ctx, session.ID)
}

// syncAttemptScore updates the attempt's denormalized total and pass flag.
// One retry covers the common conflict with a concurrent sweep write.
func (s *gradingService) syncAttemptScore(ctx context.Context, attemptID uint, total float64, passed bool) {
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

// finalizeResult notifies the downstream result consumer exactly once per
// session. The redis key makes re-delivery after racing completions a no-op;
// without redis we publish anyway and rely on the consumer being idempotent.
func (s *gradingService) finalizeResult(ctx context.Context, session models.GradingSession, total float64, passed bool) {
	if s.cache != nil {
		key := fmt.Sprintf("grading:finalized:%d", session.ID)
		created, err := s.cache.SetNX(ctx, key, s.now().Unix(), 0).Result()
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to mark grading finalization")
		} else if !created {
			return
		}
	}

	s.events.Publish(ctx, SubjectAttemptGraded, map[string]interface{}{
		"grading_session_id": session.ID,
		"attempt_id":         session.AttemptID,
		"total_score":        total,
		"is_passed":          passed,
	})
}

func (s *gradingService) sessionResponse(ctx context.Context, sessionID uint) (dto.GradingSessionResponse, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradingSessionResponse{}, ErrGradingSessionNotFound
		}
		return dto.GradingSessionResponse{}, err
	}
	return dto.NewGradingSessionResponse(session), nil
}

func decodeOptionIDs(raw datatypes.JSON) []uint {
	if len(raw) == 0 {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}
