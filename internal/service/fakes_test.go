package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ikhtibar/assessment-api/internal/models"
	"github.com/ikhtibar/assessment-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type fakeExamRepo struct {
	exam models.Exam
}

func (f *fakeExamRepo) GetByID(ctx context.Context, id uint) (models.Exam, error) {
	if f.exam.ID != id {
		return models.Exam{}, gorm.ErrRecordNotFound
	}
	return f.exam, nil
}

func (f *fakeExamRepo) GetWithStructure(ctx context.Context, id uint) (models.Exam, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeExamRepo) GetQuestion(ctx context.Context, id uint) (models.Question, error) {
	for _, section := range f.exam.Sections {
		for _, question := range section.Questions {
			if question.ID == id {
				return question, nil
			}
		}
	}
	return models.Question{}, gorm.ErrRecordNotFound
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[uint]models.Attempt
	answers  map[uint]models.AttemptAnswer
	events   []models.AttemptEvent
	bank     map[uint]models.Question
	exam     models.Exam
	nextID   uint

	failNextUpdate bool
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{
		attempts: make(map[uint]models.Attempt),
		answers:  make(map[uint]models.AttemptAnswer),
		bank:     make(map[uint]models.Question),
	}
}

func (f *fakeAttemptRepo) seedBank(exam models.Exam) {
	f.exam = exam
	for _, section := range exam.Sections {
		for _, question := range section.Questions {
			f.bank[question.ID] = question
		}
	}
}

func (f *fakeAttemptRepo) Create(ctx context.Context, attempt *models.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	attempt.ID = f.nextID
	for i := range attempt.Questions {
		f.nextID++
		attempt.Questions[i].ID = f.nextID
		attempt.Questions[i].AttemptID = attempt.ID
	}
	f.attempts[attempt.ID] = *attempt
	return nil
}

func (f *fakeAttemptRepo) GetByID(ctx context.Context, id uint) (models.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[id]
	if !ok {
		return models.Attempt{}, gorm.ErrRecordNotFound
	}
	if attempt.ExamID == f.exam.ID {
		attempt.Exam = f.exam
	}
	return attempt, nil
}

func (f *fakeAttemptRepo) GetWithAnswers(ctx context.Context, id uint) (models.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[id]
	if !ok {
		return models.Attempt{}, gorm.ErrRecordNotFound
	}

	if attempt.ExamID == f.exam.ID {
		attempt.Exam = f.exam
	}
	for i := range attempt.Questions {
		if question, ok := f.bank[attempt.Questions[i].QuestionID]; ok {
			attempt.Questions[i].Question = question
		}
	}
	attempt.Answers = nil
	for _, answer := range f.answers {
		if answer.AttemptID == attempt.ID {
			attempt.Answers = append(attempt.Answers, answer)
		}
	}
	return attempt, nil
}

func (f *fakeAttemptRepo) FindActive(ctx context.Context, examID, candidateID uint) (models.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, attempt := range f.attempts {
		if attempt.ExamID == examID && attempt.CandidateID == candidateID && attempt.IsActive() {
			return attempt, nil
		}
	}
	return models.Attempt{}, gorm.ErrRecordNotFound
}

func (f *fakeAttemptRepo) CountByCandidate(ctx context.Context, examID, candidateID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, attempt := range f.attempts {
		if attempt.ExamID == examID && attempt.CandidateID == candidateID {
			count++
		}
	}
	return count, nil
}

func (f *fakeAttemptRepo) UpdateWithVersion(ctx context.Context, attempt *models.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNextUpdate {
		f.failNextUpdate = false
		return repository.ErrVersionConflict
	}

	stored, ok := f.attempts[attempt.ID]
	if !ok || stored.Version != attempt.Version {
		return repository.ErrVersionConflict
	}

	stored.Status = attempt.Status
	stored.SubmittedAt = attempt.SubmittedAt
	stored.ExpiresAt = attempt.ExpiresAt
	stored.TotalScore = attempt.TotalScore
	stored.IsPassed = attempt.IsPassed
	stored.Version++
	f.attempts[attempt.ID] = stored
	attempt.Version = stored.Version
	return nil
}

func (f *fakeAttemptRepo) ListOverdue(ctx context.Context, reference time.Time, limit int) ([]models.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var overdue []models.Attempt
	for _, attempt := range f.attempts {
		if attempt.IsActive() && attempt.IsOverdue(reference) {
			overdue = append(overdue, attempt)
			if len(overdue) >= limit {
				break
			}
		}
	}
	return overdue, nil
}

func (f *fakeAttemptRepo) GetAnswer(ctx context.Context, attemptQuestionID uint) (models.AttemptAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	answer, ok := f.answers[attemptQuestionID]
	if !ok {
		return models.AttemptAnswer{}, gorm.ErrRecordNotFound
	}
	return answer, nil
}

func (f *fakeAttemptRepo) SaveAnswer(ctx context.Context, answer *models.AttemptAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if answer.ID == 0 {
		f.nextID++
		answer.ID = f.nextID
	}
	f.answers[answer.AttemptQuestionID] = *answer
	return nil
}

func (f *fakeAttemptRepo) CreateEvent(ctx context.Context, event *models.AttemptEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	event.ID = f.nextID
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeAttemptRepo) ListEvents(ctx context.Context, attemptID uint) ([]models.AttemptEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var events []models.AttemptEvent
	for _, event := range f.events {
		if event.AttemptID == attemptID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (f *fakeAttemptRepo) eventKinds(attemptID uint) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var kinds []string
	for _, event := range f.events {
		if event.AttemptID == attemptID {
			kinds = append(kinds, event.Kind)
		}
	}
	return kinds
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uint]models.GradingSession
	answers  map[uint]models.GradedAnswer
	attempts *fakeAttemptRepo
	nextID   uint
}

func newFakeSessionRepo(attempts *fakeAttemptRepo) *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[uint]models.GradingSession),
		answers:  make(map[uint]models.GradedAnswer),
		attempts: attempts,
	}
}

func (f *fakeSessionRepo) Create(ctx context.Context, session *models.GradingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.sessions {
		if existing.AttemptID == session.AttemptID {
			return gorm.ErrDuplicatedKey
		}
	}
	f.nextID++
	session.ID = f.nextID
	for i := range session.Answers {
		f.nextID++
		session.Answers[i].ID = f.nextID
		session.Answers[i].GradingSessionID = session.ID
		f.answers[session.Answers[i].ID] = session.Answers[i]
	}
	f.sessions[session.ID] = *session
	return nil
}

func (f *fakeSessionRepo) GetByID(ctx context.Context, id uint) (models.GradingSession, error) {
	f.mu.Lock()
	session, ok := f.sessions[id]
	f.mu.Unlock()
	if !ok {
		return models.GradingSession{}, gorm.ErrRecordNotFound
	}
	return f.hydrate(ctx, session)
}

func (f *fakeSessionRepo) GetByAttemptID(ctx context.Context, attemptID uint) (models.GradingSession, error) {
	f.mu.Lock()
	var found *models.GradingSession
	for _, session := range f.sessions {
		if session.AttemptID == attemptID {
			copied := session
			found = &copied
			break
		}
	}
	f.mu.Unlock()
	if found == nil {
		return models.GradingSession{}, gorm.ErrRecordNotFound
	}
	return f.hydrate(ctx, *found)
}

func (f *fakeSessionRepo) hydrate(ctx context.Context, session models.GradingSession) (models.GradingSession, error) {
	f.mu.Lock()
	session.Answers = nil
	for _, answer := range f.answers {
		if answer.GradingSessionID == session.ID {
			session.Answers = append(session.Answers, answer)
		}
	}
	f.mu.Unlock()

	if f.attempts != nil {
		if attempt, err := f.attempts.GetWithAnswers(ctx, session.AttemptID); err == nil {
			session.Attempt = attempt
			for i := range session.Answers {
				for _, snapshot := range attempt.Questions {
					if snapshot.ID == session.Answers[i].AttemptQuestionID {
						session.Answers[i].AttemptQuestion = snapshot
					}
				}
			}
		}
	}
	return session, nil
}

func (f *fakeSessionRepo) UpdateWithVersion(ctx context.Context, session *models.GradingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.sessions[session.ID]
	if !ok || stored.Version != session.Version {
		return repository.ErrVersionConflict
	}

	stored.Status = session.Status
	stored.TotalScore = session.TotalScore
	stored.IsPassed = session.IsPassed
	stored.GradedBy = session.GradedBy
	stored.GradedAt = session.GradedAt
	stored.Version++
	f.sessions[session.ID] = stored
	session.Version = stored.Version
	return nil
}

func (f *fakeSessionRepo) GetAnswer(ctx context.Context, sessionID, attemptQuestionID uint) (models.GradedAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, answer := range f.answers {
		if answer.GradingSessionID == sessionID && answer.AttemptQuestionID == attemptQuestionID {
			if session, ok := f.sessions[sessionID]; ok && f.attempts != nil {
				if attempt, err := f.attempts.GetWithAnswers(ctx, session.AttemptID); err == nil {
					for _, snapshot := range attempt.Questions {
						if snapshot.ID == answer.AttemptQuestionID {
							answer.AttemptQuestion = snapshot
						}
					}
				}
			}
			return answer, nil
		}
	}
	return models.GradedAnswer{}, gorm.ErrRecordNotFound
}

func (f *fakeSessionRepo) SaveAnswer(ctx context.Context, answer *models.GradedAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if answer.ID == 0 {
		f.nextID++
		answer.ID = f.nextID
	}
	f.answers[answer.ID] = *answer
	return nil
}

type fakeAuditSink struct {
	mu       sync.Mutex
	success  []string
	failures []string
}

func (f *fakeAuditSink) LogSuccess(ctx context.Context, actor ActivityActor, action, entityType string, entityID *uint, metadata map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.success = append(f.success, action)
}

func (f *fakeAuditSink) LogFailure(ctx context.Context, actor ActivityActor, action, entityType string, entityID *uint, metadata map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, action)
}

type fakeEventPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakeEventPublisher) Publish(ctx context.Context, subject string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
}

func (f *fakeEventPublisher) published(subject string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subjects {
		if s == subject {
			return true
		}
	}
	return false
}
