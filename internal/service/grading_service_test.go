package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/ikhtibar/assessment-api/internal/dto"
	"github.com/ikhtibar/assessment-api/internal/models"
)

// submitFixtureAttempt drives a candidate through the fixture exam and
// submits: correct single choice, correct short answer, an essay text.
func submitFixtureAttempt(t *testing.T, repo *fakeAttemptRepo, startedAt time.Time) uint {
	t.Helper()

	svc, _, _ := newTestAttemptService(fixtureExam(), repo, startedAt)

	attempt, err := svc.StartOrResume(context.Background(), 7, dto.StartAttemptRequest{ExamID: 1})
	require.NoError(t, err)

	_, err = svc.SaveAnswer(context.Background(), attempt.ID, 7, dto.SaveAnswerRequest{QuestionID: 100, SelectedOptionIDs: []uint{1000}})
	require.NoError(t, err)
	_, err = svc.SaveAnswer(context.Background(), attempt.ID, 7, dto.SaveAnswerRequest{QuestionID: 101, TextAnswer: "  paris "})
	require.NoError(t, err)
	_, err = svc.SaveAnswer(context.Background(), attempt.ID, 7, dto.SaveAnswerRequest{QuestionID: 102, TextAnswer: "The scheduler multiplexes goroutines onto OS threads."})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), attempt.ID, 7)
	require.NoError(t, err)
	return attempt.ID
}

func newTestGradingService(repo *fakeAttemptRepo, sessions *fakeSessionRepo) (*gradingService, *fakeEventPublisher) {
	events := &fakeEventPublisher{}
	svc := NewGradingService(repo, sessions, nil, &fakeAuditSink{}, events, testLogger()).(*gradingService)
	return svc, events
}

func TestInitiateGradesAutoQuestionsAndFlagsManual(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptID := submitFixtureAttempt(t, repo, startedAt)

	sessions := newFakeSessionRepo(repo)
	svc, _ := newTestGradingService(repo, sessions)

	session, err := svc.Initiate(context.Background(), attemptID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusManualRequired, session.Status)
	require.Equal(t, 1, session.PendingManualCount)
	require.Len(t, session.Answers, 3)
	require.Nil(t, session.TotalScore)

	byQuestion := make(map[string]dto.GradedAnswerResponse)
	for _, answer := range session.Answers {
		byQuestion[answer.QuestionType] = answer
	}
	require.Equal(t, 4.0, byQuestion[models.QuestionTypeSingleChoice].Score)
	require.True(t, byQuestion[models.QuestionTypeSingleChoice].IsGraded)
	require.Equal(t, 3.0, byQuestion[models.QuestionTypeShortAnswer].Score)
	require.False(t, byQuestion[models.QuestionTypeEssay].IsGraded)
	require.True(t, byQuestion[models.QuestionTypeEssay].IsManuallyGraded)
}

func TestInitiateCopiesAutoGradeOntoAnswerRows(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptID := submitFixtureAttempt(t, repo, startedAt)

	sessions := newFakeSessionRepo(repo)
	svc, _ := newTestGradingService(repo, sessions)

	_, err := svc.Initiate(context.Background(), attemptID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)

	attempt, err := repo.GetWithAnswers(context.Background(), attemptID)
	require.NoError(t, err)
	for _, answer := range attempt.Answers {
		for _, snapshot := range attempt.Questions {
			if snapshot.ID == answer.AttemptQuestionID && snapshot.QuestionID == 100 {
				require.NotNil(t, answer.Score)
				require.Equal(t, 4.0, *answer.Score)
				require.NotNil(t, answer.IsCorrect)
				require.True(t, *answer.IsCorrect)
			}
		}
	}
}

func TestInitiateMarksUnansweredAutoQuestionsZero(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptSvc, _, _ := newTestAttemptService(fixtureExam(), repo, startedAt)

	attempt, err := attemptSvc.StartOrResume(context.Background(), 7, dto.StartAttemptRequest{ExamID: 1})
	require.NoError(t, err)
	_, err = attemptSvc.Submit(context.Background(), attempt.ID, 7)
	require.NoError(t, err)

	sessions := newFakeSessionRepo(repo)
	svc, _ := newTestGradingService(repo, sessions)

	session, err := svc.Initiate(context.Background(), attempt.ID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)

	for _, answer := range session.Answers {
		if answer.QuestionType == models.QuestionTypeEssay {
			continue
		}
		require.True(t, answer.IsGraded)
		require.Zero(t, answer.Score)
		require.Equal(t, "Unanswered", answer.GraderComment)
	}
}

func TestInitiateRejectsActiveAttempt(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptSvc, _, _ := newTestAttemptService(fixtureExam(), repo, startedAt)

	attempt, err := attemptSvc.StartOrResume(context.Background(), 7, dto.StartAttemptRequest{ExamID: 1})
	require.NoError(t, err)

	sessions := newFakeSessionRepo(repo)
	svc, _ := newTestGradingService(repo, sessions)

	_, err = svc.Initiate(context.Background(), attempt.ID, ActivityActor{ID: 50, Role: "examiner"})
	require.ErrorIs(t, err, ErrAttemptNotGradable)
}

func TestInitiateRejectsDuplicateSession(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptID := submitFixtureAttempt(t, repo, startedAt)

	sessions := newFakeSessionRepo(repo)
	svc, _ := newTestGradingService(repo, sessions)

	_, err := svc.Initiate(context.Background(), attemptID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)

	_, err = svc.Initiate(context.Background(), attemptID, ActivityActor{ID: 50, Role: "examiner"})
	require.ErrorIs(t, err, ErrGradingSessionExists)
}

func TestCompleteBlocksWhileManualGradesPending(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptID := submitFixtureAttempt(t, repo, startedAt)

	sessions := newFakeSessionRepo(repo)
	svc, _ := newTestGradingService(repo, sessions)

	session, err := svc.Initiate(context.Background(), attemptID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), session.ID, ActivityActor{ID: 50, Role: "examiner"})
	require.ErrorIs(t, err, ErrManualGradingPending)
	require.Contains(t, err.Error(), "1 question(s) still require manual grading")
}

func TestCompleteAggregatesAndSyncsAttempt(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptID := submitFixtureAttempt(t, repo, startedAt)

	sessions := newFakeSessionRepo(repo)
	svc, events := newTestGradingService(repo, sessions)

	session, err := svc.Initiate(context.Background(), attemptID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)

	validate := validator.New(validator.WithRequiredStructEnabled())
	manual := NewManualGradingService(repo, sessions, nil, &fakeAuditSink{}, events, validate, testLogger())

	var essayQuestionID uint
	for _, answer := range session.Answers {
		if answer.QuestionType == models.QuestionTypeEssay {
			essayQuestionID = answer.AttemptQuestionID
		}
	}
	_, err = manual.SubmitGrade(context.Background(), session.ID, dto.ManualGradeRequest{
		AttemptQuestionID: essayQuestionID,
		Score:             2,
		IsCorrect:         false,
		Comment:           "Partially covers preemption.",
	}, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)

	completed, err := svc.Complete(context.Background(), session.ID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)
	require.Equal(t, models.GradingStatusCompleted, completed.Status)
	require.NotNil(t, completed.TotalScore)
	require.Equal(t, 9.0, *completed.TotalScore)
	require.NotNil(t, completed.IsPassed)
	require.True(t, *completed.IsPassed)
	require.Equal(t, uint(50), *completed.GradedBy)
	require.True(t, events.published(SubjectAttemptGraded))

	attempt, err := repo.GetByID(context.Background(), attemptID)
	require.NoError(t, err)
	require.NotNil(t, attempt.TotalScore)
	require.Equal(t, 9.0, *attempt.TotalScore)
	require.NotNil(t, attempt.IsPassed)
	require.True(t, *attempt.IsPassed)
}

func TestCompleteTwiceIsRejected(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptSvc, _, _ := newTestAttemptService(fixtureExam(), repo, startedAt)

	attempt, err := attemptSvc.StartOrResume(context.Background(), 7, dto.StartAttemptRequest{ExamID: 1})
	require.NoError(t, err)
	_, err = attemptSvc.Submit(context.Background(), attempt.ID, 7)
	require.NoError(t, err)

	sessions := newFakeSessionRepo(repo)
	svc, _ := newTestGradingService(repo, sessions)

	session, err := svc.Initiate(context.Background(), attempt.ID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)

	validate := validator.New(validator.WithRequiredStructEnabled())
	manual := NewManualGradingService(repo, sessions, nil, &fakeAuditSink{}, &fakeEventPublisher{}, validate, testLogger())
	for _, answer := range session.Answers {
		if answer.IsManuallyGraded && !answer.IsGraded {
			_, err = manual.SubmitGrade(context.Background(), session.ID, dto.ManualGradeRequest{AttemptQuestionID: answer.AttemptQuestionID, Score: 1}, ActivityActor{ID: 50})
			require.NoError(t, err)
		}
	}

	_, err = svc.Complete(context.Background(), session.ID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), session.ID, ActivityActor{ID: 50, Role: "examiner"})
	require.ErrorIs(t, err, ErrGradingCompleted)
}

func TestInitiateOnExpiredAttemptIsGradable(t *testing.T) {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo := newFakeAttemptRepo()
	attemptSvc, _, _ := newTestAttemptService(fixtureExam(), repo, startedAt)

	attempt, err := attemptSvc.StartOrResume(context.Background(), 7, dto.StartAttemptRequest{ExamID: 1})
	require.NoError(t, err)
	_, err = attemptSvc.SaveAnswer(context.Background(), attempt.ID, 7, dto.SaveAnswerRequest{QuestionID: 100, SelectedOptionIDs: []uint{1000}})
	require.NoError(t, err)

	attemptSvc.now = func() time.Time { return startedAt.Add(2 * time.Hour) }
	count, err := attemptSvc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	sessions := newFakeSessionRepo(repo)
	svc, _ := newTestGradingService(repo, sessions)

	session, err := svc.Initiate(context.Background(), attempt.ID, ActivityActor{ID: 50, Role: "examiner"})
	require.NoError(t, err)
	require.Len(t, session.Answers, 3)
}
