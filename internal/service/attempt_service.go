package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
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

// Attempt lifecycle sentinel errors.
var (
	ErrExamNotFound       = errors.New("exam not found")
	ErrExamInactive       = errors.New("exam is not active")
	ErrExamUnpublished    = errors.New("exam is not published")
	ErrExamNotAvailable   = errors.New("exam is outside its availability window")
	ErrAccessCodeInvalid  = errors.New("access code is invalid")
	ErrMaxAttemptsReached = errors.New("maximum attempts reached")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrAttemptForbidden   = errors.New("attempt belongs to another candidate")
	ErrAttemptEnded       = errors.New("attempt has already ended")
	ErrLateSubmission     = errors.New("attempt expired, cannot submit")
	ErrQuestionNotInScope = errors.New("question is not part of this attempt")
)

// AttemptService owns the attempt state machine from creation through
// submission, cancellation or expiry.
type AttemptService interface {
	StartOrResume(ctx context.Context, candidateID uint, payload dto.StartAttemptRequest) (dto.AttemptResponse, error)
	GetSession(ctx context.Context, attemptID, candidateID uint) (dto.AttemptResponse, error)
	SaveAnswer(ctx context.Context, attemptID, candidateID uint, payload dto.SaveAnswerRequest) (dto.AttemptResponse, error)
	Submit(ctx context.Context, attemptID, candidateID uint) (dto.AttemptResponse, error)
	Cancel(ctx context.Context, attemptID, candidateID uint) (dto.AttemptResponse, error)
	ForceSubmit(ctx context.Context, attemptID uint, actor ActivityActor) (dto.AttemptResponse, error)
	ExpireOverdue(ctx context.Context) (int, error)
}

type attemptService struct {
	exams      repository.ExamRepository
	attempts   repository.AttemptRepository
	cache      *redis.Client
	cacheTTL   time.Duration
	audit      AuditSink
	events     EventPublisher
	validator  *validator.Validate
	sanitizer  *bluemonday.Policy
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
	shuffle    func(n int, swap func(i, j int))
	sweepLimit int
}

// NewAttemptService constructs the attempt lifecycle service.
func NewAttemptService(exams repository.ExamRepository, attempts repository.AttemptRepository, cache *redis.Client, cacheTTL time.Duration, audit AuditSink, events EventPublisher, validate *validator.Validate, logger zerolog.Logger) AttemptService {
	return &attemptService{
		exams:      exams,
		attempts:   attempts,
		cache:      cache,
		cacheTTL:   cacheTTL,
		audit:      audit,
		events:     events,
		validator:  validate,
		sanitizer:  bluemonday.StrictPolicy(),
		logger:     logger.With().Str("component", "attempt_service").Logger(),
		tracer:     otel.Tracer("github.com/ikhtibar/assessment-api/internal/service/attempt"),
		now:        time.Now,
		shuffle:    rand.Shuffle,
		sweepLimit: 500,
	}
}

func (s *attemptService) StartOrResume(ctx context.Context, candidateID uint, payload dto.StartAttemptRequest) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.start_or_resume", trace.WithAttributes(
		attribute.Int64("attempt.exam_id", int64(payload.ExamID)),
		attribute.Int64("attempt.candidate_id", int64(candidateID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptResponse{}, err
	}

	exam, err := s.exams.GetByID(ctx, payload.ExamID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttemptResponse{}, ErrExamNotFound
		}
		return dto.AttemptResponse{}, err
	}

	now := s.now()
	if err := s.checkExamAccess(exam, payload.AccessCode, now); err != nil {
		span.SetStatus(codes.Error, "exam_access_denied")
		s.audit.LogFailure(ctx, ActivityActor{ID: candidateID, Role: "candidate"}, "attempt.start", "exam", &exam.ID, map[string]interface{}{"reason": err.Error()})
		return dto.AttemptResponse{}, err
	}

	if active, err := s.attempts.FindActive(ctx, exam.ID, candidateID); err == nil {
		if !active.IsOverdue(now) {
			span.SetAttributes(attribute.Bool("attempt.resumed", true))
			return s.sessionResponse(ctx, active.ID, now)
		}
		// The active attempt ran out while the candidate was away. Close it
		// and fall through to create a fresh one.
		s.expireAttempt(ctx, &active, now)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AttemptResponse{}, err
	}

	count, err := s.attempts.CountByCandidate(ctx, exam.ID, candidateID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}
	if exam.MaxAttempts > 0 && count >= int64(exam.MaxAttempts) {
		span.SetStatus(codes.Error, "max_attempts_reached")
		return dto.AttemptResponse{}, fmt.Errorf("maximum attempts (%d) reached: %w", exam.MaxAttempts, ErrMaxAttemptsReached)
	}

	structure, err := s.loadExamStructure(ctx, exam.ID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	attempt := models.Attempt{
		ExamID:        exam.ID,
		CandidateID:   candidateID,
		AttemptNumber: int(count) + 1,
		Status:        models.AttemptStatusStarted,
		StartedAt:     now,
		ExpiresAt:     computeExpiry(now, exam),
		Questions:     s.snapshotQuestions(structure),
	}

	if err := s.attempts.Create(ctx, &attempt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt_create_failed")
		return dto.AttemptResponse{}, err
	}

	s.recordEvent(ctx, attempt.ID, models.AttemptEventStarted, map[string]interface{}{
		"exam_id":        exam.ID,
		"attempt_number": attempt.AttemptNumber,
		"expires_at":     attempt.ExpiresAt,
	}, now)
	s.audit.LogSuccess(ctx, ActivityActor{ID: candidateID, Role: "candidate"}, "attempt.start", "attempt", &attempt.ID, map[string]interface{}{"exam_id": exam.ID})
	s.events.Publish(ctx, SubjectAttemptStarted, dto.NewAttemptResponse(attempt, now))

	span.SetAttributes(attribute.Int64("attempt.id", int64(attempt.ID)))
	return s.sessionResponse(ctx, attempt.ID, now)
}

func (s *attemptService) GetSession(ctx context.Context, attemptID, candidateID uint) (dto.AttemptResponse, error) {
	now := s.now()
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, candidateID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	if attempt.IsActive() && attempt.IsOverdue(now) {
		s.expireAttempt(ctx, &attempt, now)
		return dto.AttemptResponse{}, ErrAttemptEnded
	}
	if attempt.IsTerminal() {
		return dto.AttemptResponse{}, ErrAttemptEnded
	}

	return dto.NewAttemptResponse(attempt, now), nil
}

func (s *attemptService) SaveAnswer(ctx context.Context, attemptID, candidateID uint, payload dto.SaveAnswerRequest) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.save_answer", trace.WithAttributes(
		attribute.Int64("attempt.id", int64(attemptID)),
		attribute.Int64("attempt.question_id", int64(payload.QuestionID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		return dto.AttemptResponse{}, err
	}

	now := s.now()
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, candidateID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	if attempt.IsActive() && attempt.IsOverdue(now) {
		s.expireAttempt(ctx, &attempt, now)
		return dto.AttemptResponse{}, ErrAttemptEnded
	}
	if !attempt.IsActive() {
		return dto.AttemptResponse{}, ErrAttemptEnded
	}

	var snapshot *models.AttemptQuestion
	for i := range attempt.Questions {
		if attempt.Questions[i].QuestionID == payload.QuestionID {
			snapshot = &attempt.Questions[i]
			break
		}
	}
	if snapshot == nil {
		return dto.AttemptResponse{}, ErrQuestionNotInScope
	}

	answerPayload := AnswerPayload{
		SelectedOptionIDs: payload.SelectedOptionIDs,
		TextAnswer:        s.sanitizer.Sanitize(payload.TextAnswer),
	}
	if err := ValidateAnswer(snapshot.QuestionType, snapshot.Question.Options, answerPayload); err != nil {
		span.SetStatus(codes.Error, "answer_rejected")
		return dto.AttemptResponse{}, err
	}

	selected, err := json.Marshal(answerPayload.SelectedOptionIDs)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	answer, err := s.attempts.GetAnswer(ctx, snapshot.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.AttemptResponse{}, err
	}
	answer.AttemptID = attempt.ID
	answer.AttemptQuestionID = snapshot.ID
	answer.SelectedOptionIDs = datatypes.JSON(selected)
	answer.TextAnswer = answerPayload.TextAnswer
	answer.AnsweredAt = now
	if err := s.attempts.SaveAnswer(ctx, &answer); err != nil {
		span.RecordError(err)
		return dto.AttemptResponse{}, err
	}

	if attempt.Status == models.AttemptStatusStarted {
		attempt.Status = models.AttemptStatusInProgress
		if err := s.attempts.UpdateWithVersion(ctx, &attempt); err != nil {
			if !errors.Is(err, repository.ErrVersionConflict) {
				return dto.AttemptResponse{}, err
			}
			// Lost the race against a concurrent transition. The answer row
			// is already persisted, so just reload and report the truth.
			attempt, err = s.attempts.GetWithAnswers(ctx, attempt.ID)
			if err != nil {
				return dto.AttemptResponse{}, err
			}
		}
	}

	s.recordEvent(ctx, attempt.ID, models.AttemptEventAnswerSaved, map[string]interface{}{
		"attempt_question_id": snapshot.ID,
		"question_id":         snapshot.QuestionID,
	}, now)

	return s.sessionResponse(ctx, attempt.ID, now)
}

func (s *attemptService) Submit(ctx context.Context, attemptID, candidateID uint) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.submit", trace.WithAttributes(
		attribute.Int64("attempt.id", int64(attemptID)),
	))
	defer span.End()

	now := s.now()
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, candidateID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	return s.finishAttempt(ctx, attempt, ActivityActor{ID: candidateID, Role: "candidate"}, models.AttemptEventSubmitted, now)
}

func (s *attemptService) ForceSubmit(ctx context.Context, attemptID uint, actor ActivityActor) (dto.AttemptResponse, error) {
	ctx, span := s.tracer.Start(ctx, "attempt.force_submit", trace.WithAttributes(
		attribute.Int64("attempt.id", int64(attemptID)),
		attribute.Int64("attempt.actor_id", int64(actor.ID)),
	))
	defer span.End()

	now := s.now()
	attempt, err := s.attempts.GetWithAnswers(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttemptResponse{}, ErrAttemptNotFound
		}
		return dto.AttemptResponse{}, err
	}

	return s.finishAttempt(ctx, attempt, actor, models.AttemptEventForceSubmitted, now)
}

// finishAttempt drives a Submit or ForceSubmit to a terminal state. Saved
// answers are always retained; when the deadline already passed only the
// status flips to expired and the submission is rejected as late.
func (s *attemptService) finishAttempt(ctx context.Context, attempt models.Attempt, actor ActivityActor, eventKind string, now time.Time) (dto.AttemptResponse, error) {
	if attempt.Status == models.AttemptStatusExpired {
		return dto.AttemptResponse{}, ErrLateSubmission
	}
	if attempt.IsTerminal() {
		return dto.AttemptResponse{}, ErrAttemptEnded
	}

	if attempt.IsOverdue(now) {
		s.expireAttempt(ctx, &attempt, now)
		s.audit.LogFailure(ctx, actor, "attempt.submit", "attempt", &attempt.ID, map[string]interface{}{"reason": "late submission"})
		return dto.AttemptResponse{}, ErrLateSubmission
	}

	attempt.Status = models.AttemptStatusSubmitted
	submittedAt := now
	attempt.SubmittedAt = &submittedAt
	if err := s.attempts.UpdateWithVersion(ctx, &attempt); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// A concurrent transition landed first, most likely the expiry
			// sweep. Reload and report the terminal truth.
			reloaded, loadErr := s.attempts.GetByID(ctx, attempt.ID)
			if loadErr != nil {
				return dto.AttemptResponse{}, loadErr
			}
			if reloaded.Status == models.AttemptStatusExpired {
				return dto.AttemptResponse{}, ErrLateSubmission
			}
			return dto.AttemptResponse{}, ErrAttemptEnded
		}
		return dto.AttemptResponse{}, err
	}

	s.recordEvent(ctx, attempt.ID, eventKind, map[string]interface{}{"actor_id": actor.ID}, now)
	s.audit.LogSuccess(ctx, actor, "attempt.submit", "attempt", &attempt.ID, map[string]interface{}{"event": eventKind})
	s.events.Publish(ctx, SubjectAttemptSubmitted, dto.NewAttemptResponse(attempt, now))

	return s.sessionResponse(ctx, attempt.ID, now)
}

func (s *attemptService) Cancel(ctx context.Context, attemptID, candidateID uint) (dto.AttemptResponse, error) {
	now := s.now()
	attempt, err := s.loadOwnedAttempt(ctx, attemptID, candidateID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	if !attempt.IsActive() {
		return dto.AttemptResponse{}, ErrAttemptEnded
	}

	attempt.Status = models.AttemptStatusCancelled
	if err := s.attempts.UpdateWithVersion(ctx, &attempt); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return dto.AttemptResponse{}, ErrAttemptEnded
		}
		return dto.AttemptResponse{}, err
	}

	s.recordEvent(ctx, attempt.ID, models.AttemptEventCancelled, map[string]interface{}{"candidate_id": candidateID}, now)
	s.audit.LogSuccess(ctx, ActivityActor{ID: candidateID, Role: "candidate"}, "attempt.cancel", "attempt", &attempt.ID, nil)
	s.events.Publish(ctx, SubjectAttemptCancelled, dto.NewAttemptResponse(attempt, now))

	return dto.NewAttemptResponse(attempt, now), nil
}

// ExpireOverdue sweeps all running attempts whose deadline has passed and
// marks them expired. Re-running when nothing is overdue is a no-op, and an
// attempt that reached a terminal state between the read and the write is
// skipped rather than treated as an error.
func (s *attemptService) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.attempts.ListOverdue(ctx, now, s.sweepLimit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range overdue {
		if s.expireAttempt(ctx, &overdue[i], now) {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info().Int("count", expired).Msg("expired overdue attempts")
	}
	return expired, nil
}

// expireAttempt transitions one attempt to expired via compare-and-swap.
// Losing the race to another terminal transition is treated as a no-op.
func (s *attemptService) expireAttempt(ctx context.Context, attempt *models.Attempt, now time.Time) bool {
	attempt.Status = models.AttemptStatusExpired
	if err := s.attempts.UpdateWithVersion(ctx, attempt); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return false
		}
		s.logger.Error().Err(err).Uint("attempt_id", attempt.ID).Msg("failed to expire attempt")
		return false
	}

	s.recordEvent(ctx, attempt.ID, models.AttemptEventTimedOut, map[string]interface{}{"expires_at": attempt.ExpiresAt}, now)
	s.events.Publish(ctx, SubjectAttemptExpired, dto.NewAttemptResponse(*attempt, now))
	return true
}

func (s *attemptService) checkExamAccess(exam models.Exam, accessCode string, now time.Time) error {
	if !exam.IsActive {
		return ErrExamInactive
	}
	if !exam.IsPublished {
		return ErrExamUnpublished
	}
	if !exam.IsWithinWindow(now) {
		return ErrExamNotAvailable
	}
	if exam.AccessCode != "" && accessCode != exam.AccessCode {
		return ErrAccessCodeInvalid
	}
	return nil
}

// snapshotQuestions flattens the ordered exam structure into immutable
// per-attempt rows. When the exam shuffles questions a fresh permutation is
// drawn for this attempt; the stored positions then stay fixed for its
// lifetime.
func (s *attemptService) snapshotQuestions(exam models.Exam) []models.AttemptQuestion {
	var questions []models.AttemptQuestion
	for _, section := range exam.Sections {
		for _, question := range section.Questions {
			questions = append(questions, models.AttemptQuestion{
				QuestionID:   question.ID,
				QuestionType: NormalizeQuestionType(question.Type),
				Points:       question.Points,
			})
		}
	}

	if exam.ShuffleQuestions {
		s.shuffle(len(questions), func(i, j int) {
			questions[i], questions[j] = questions[j], questions[i]
		})
	}

	for i := range questions {
		questions[i].Position = i + 1
	}
	return questions
}

func (s *attemptService) loadOwnedAttempt(ctx context.Context, attemptID, candidateID uint) (models.Attempt, error) {
	attempt, err := s.attempts.GetWithAnswers(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, err
	}
	if attempt.CandidateID != candidateID {
		return models.Attempt{}, ErrAttemptForbidden
	}
	return attempt, nil
}

func (s *attemptService) sessionResponse(ctx context.Context, attemptID uint, now time.Time) (dto.AttemptResponse, error) {
	attempt, err := s.attempts.GetWithAnswers(ctx, attemptID)
	if err != nil {
		return dto.AttemptResponse{}, err
	}
	return dto.NewAttemptResponse(attempt, now), nil
}

func (s *attemptService) recordEvent(ctx context.Context, attemptID uint, kind string, metadata map[string]interface{}, occurredAt time.Time) {
	event := models.AttemptEvent{
		AttemptID:  attemptID,
		Kind:       kind,
		Metadata:   sanitizeMetadata(metadata),
		OccurredAt: occurredAt,
	}
	if err := s.attempts.CreateEvent(ctx, &event); err != nil {
		s.logger.Warn().Err(err).Uint("attempt_id", attemptID).Str("kind", kind).Msg("failed to record attempt event")
	}
}

// loadExamStructure reads the exam's sections, questions and keys, consulting
// the redis cache first. The cache only shortens hot StartOrResume paths; a
// TTL-stale structure is bounded by the configured cache lifetime.
func (s *attemptService) loadExamStructure(ctx context.Context, examID uint) (models.Exam, error) {
	cacheKey := fmt.Sprintf("exam:structure:%d", examID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var exam models.Exam
			if unmarshalErr := json.Unmarshal([]byte(cached), &exam); unmarshalErr == nil {
				s.logger.Debug().Uint("exam_id", examID).Msg("exam structure cache hit")
				return exam, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read exam structure cache")
		}
	}

	exam, err := s.exams.GetWithStructure(ctx, examID)
	if err != nil {
		return models.Exam{}, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(exam); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store exam structure cache")
			}
		}
	}

	return exam, nil
}

// computeExpiry derives the attempt deadline: started + duration, clamped to
// the exam window's end when one is set.
func computeExpiry(startedAt time.Time, exam models.Exam) time.Time {
	deadline := startedAt.Add(time.Duration(exam.DurationMinutes) * time.Minute)
	if exam.EndAt != nil && exam.EndAt.Before(deadline) {
		return *exam.EndAt
	}
	return deadline
}
