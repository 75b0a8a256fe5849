package app

import (
	"context"
	"errors"
	"time"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
	"coach-assessment-service/internal/engine"
	"go.uber.org/zap"
)

// SessionRepository persists assessments and their responses (in-memory, Postgres).
// Writers pass the assessment with the Version it was loaded at; the stored version
// becomes Version+1 and a mismatch fails with domain.ErrConcurrentUpdate.
type SessionRepository interface {
	Create(ctx context.Context, a domain.Assessment) error
	Get(ctx context.Context, assessmentID string) (domain.Assessment, error)
	// FindActive returns the client's most recent IN_PROGRESS assessment.
	FindActive(ctx context.Context, clientID string) (domain.Assessment, bool, error)
	// Responses returns the assessment's responses in answer order.
	Responses(ctx context.Context, assessmentID string) ([]domain.ClientResponse, error)
	// CommitTurn inserts resp and saves a in one unit of work.
	CommitTurn(ctx context.Context, a domain.Assessment, resp domain.ClientResponse) error
	// RewindTurn deletes the response and saves a in one unit of work.
	RewindTurn(ctx context.Context, a domain.Assessment, responseID string) error
	Update(ctx context.Context, a domain.Assessment) error
}

// CatalogRepository resolves compiled catalogs; an empty version selects the active one.
type CatalogRepository interface {
	Catalog(ctx context.Context, version string) (*catalog.Catalog, error)
}

// SessionLocker serialises writers of one assessment. Lock fails fast with
// domain.ErrSessionBusy when the key is held.
type SessionLocker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// AssessmentService contains the assessment use cases.
type AssessmentService struct {
	sessions SessionRepository
	catalogs CatalogRepository
	locks    SessionLocker
	engine   *engine.Engine
	progress *ProgressHub
	logger   *zap.Logger
}

func NewAssessmentService(sessions SessionRepository, catalogs CatalogRepository, locks SessionLocker, eng *engine.Engine, logger *zap.Logger) *AssessmentService {
	if eng == nil {
		eng = engine.New(nil, engine.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssessmentService{
		sessions: sessions,
		catalogs: catalogs,
		locks:    locks,
		engine:   eng,
		progress: NewProgressHub(),
		logger:   logger,
	}
}

// Start returns the client's in-progress assessment, or creates one positioned on the
// first catalog question.
func (s *AssessmentService) Start(ctx context.Context, clientID string) (domain.Assessment, domain.Question, error) {
	if clientID == "" {
		return domain.Assessment{}, domain.Question{}, domain.ErrUnauthenticated
	}
	unlock, err := s.lock(ctx, "client:"+clientID)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, err
	}
	defer unlock()

	existing, ok, err := s.sessions.FindActive(ctx, clientID)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("find active assessment", clientID, err)
	}
	if ok {
		cat, err := s.catalogs.Catalog(ctx, existing.CatalogVersion)
		if err != nil {
			return domain.Assessment{}, domain.Question{}, s.fail("load catalog", existing.ID, err)
		}
		q, err := engine.CurrentQuestion(cat, existing)
		if err != nil {
			return domain.Assessment{}, domain.Question{}, s.fail("current question", existing.ID, err)
		}
		return existing, q, nil
	}

	cat, err := s.catalogs.Catalog(ctx, "")
	if err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("load catalog", clientID, err)
	}
	a, err := s.engine.Start(cat, clientID)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("start assessment", clientID, err)
	}
	if err := s.sessions.Create(ctx, a); err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("create assessment", a.ID, err)
	}
	q, _ := cat.Question(a.CurrentQuestionID)
	s.logger.Info("assessment started",
		zap.String("assessment_id", a.ID),
		zap.String("client_id", clientID),
		zap.String("catalog_version", a.CatalogVersion),
	)
	return a, q, nil
}

// SubmitAnswer processes one answer to the active question and commits the response and
// the new session state together. Nothing is written when processing fails.
func (s *AssessmentService) SubmitAnswer(ctx context.Context, clientID, assessmentID string, sub domain.AnswerSubmission) (domain.TurnResult, error) {
	unlock, err := s.lock(ctx, assessmentID)
	if err != nil {
		return domain.TurnResult{}, err
	}
	defer unlock()

	a, cat, history, err := s.load(ctx, clientID, assessmentID)
	if err != nil {
		return domain.TurnResult{}, err
	}
	started := time.Now()
	turn, err := s.engine.Process(ctx, cat, a, history, sub)
	if err != nil {
		return domain.TurnResult{}, s.fail("process answer", assessmentID, err)
	}
	if err := s.sessions.CommitTurn(ctx, turn.Assessment, turn.Response); err != nil {
		return domain.TurnResult{}, s.fail("commit answer", assessmentID, err)
	}
	turn.Assessment.Version++

	s.logger.Info("answer recorded",
		zap.String("assessment_id", assessmentID),
		zap.String("question_id", turn.Response.QuestionID),
		zap.String("next_question_id", turn.Assessment.CurrentQuestionID),
		zap.String("module", turn.Assessment.CurrentModule),
		zap.Int("questions_asked", turn.Assessment.QuestionsAsked),
		zap.Int("questions_saved", turn.Assessment.QuestionsSaved),
		zap.Strings("closed_modules", turn.ClosedModules),
		zap.Bool("deterministic", turn.Deterministic),
		zap.Bool("complete", turn.Result.Complete),
		zap.Duration("latency", time.Since(started)),
	)
	s.progress.Publish(progressOf(turn.Assessment, len(history)+1))
	return turn.Result, nil
}

// GoBack removes the most recent response and makes its question active again.
func (s *AssessmentService) GoBack(ctx context.Context, clientID, assessmentID string) (domain.Assessment, domain.Question, error) {
	unlock, err := s.lock(ctx, assessmentID)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, err
	}
	defer unlock()

	a, cat, history, err := s.load(ctx, clientID, assessmentID)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, err
	}
	next, removed, err := s.engine.Rewind(cat, a, history)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("rewind", assessmentID, err)
	}
	if err := s.sessions.RewindTurn(ctx, next, removed.ID); err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("commit rewind", assessmentID, err)
	}
	next.Version++
	q, err := engine.CurrentQuestion(cat, next)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("current question", assessmentID, err)
	}
	s.logger.Info("answer withdrawn",
		zap.String("assessment_id", assessmentID),
		zap.String("question_id", removed.QuestionID),
		zap.Int("questions_asked", next.QuestionsAsked),
	)
	s.progress.Publish(progressOf(next, len(history)-1))
	return next, q, nil
}

// Pause suspends an in-progress assessment.
func (s *AssessmentService) Pause(ctx context.Context, clientID, assessmentID string) (domain.Assessment, error) {
	unlock, err := s.lock(ctx, assessmentID)
	if err != nil {
		return domain.Assessment{}, err
	}
	defer unlock()

	a, err := s.owned(ctx, clientID, assessmentID)
	if err != nil {
		return domain.Assessment{}, err
	}
	next, err := s.engine.Pause(a)
	if err != nil {
		return domain.Assessment{}, s.fail("pause", assessmentID, err)
	}
	if err := s.sessions.Update(ctx, next); err != nil {
		return domain.Assessment{}, s.fail("save pause", assessmentID, err)
	}
	next.Version++
	s.logger.Info("assessment paused", zap.String("assessment_id", assessmentID))
	s.publish(ctx, next)
	return next, nil
}

// Resume re-enters a paused assessment. The returned question is zero when nothing was
// left to ask and the assessment completed on resume.
func (s *AssessmentService) Resume(ctx context.Context, clientID, assessmentID string) (domain.Assessment, domain.Question, error) {
	unlock, err := s.lock(ctx, assessmentID)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, err
	}
	defer unlock()

	a, cat, history, err := s.load(ctx, clientID, assessmentID)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, err
	}
	next, err := s.engine.Resume(cat, a, history)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("resume", assessmentID, err)
	}
	if err := s.sessions.Update(ctx, next); err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("save resume", assessmentID, err)
	}
	next.Version++
	s.logger.Info("assessment resumed",
		zap.String("assessment_id", assessmentID),
		zap.String("status", string(next.Status)),
		zap.String("question_id", next.CurrentQuestionID),
	)
	s.progress.Publish(progressOf(next, len(history)))
	if next.Status != domain.StatusInProgress {
		return next, domain.Question{}, nil
	}
	q, err := engine.CurrentQuestion(cat, next)
	if err != nil {
		return domain.Assessment{}, domain.Question{}, s.fail("current question", assessmentID, err)
	}
	return next, q, nil
}

// Progress reports the assessment's counters and status.
func (s *AssessmentService) Progress(ctx context.Context, clientID, assessmentID string) (domain.Progress, error) {
	a, err := s.owned(ctx, clientID, assessmentID)
	if err != nil {
		return domain.Progress{}, err
	}
	history, err := s.sessions.Responses(ctx, assessmentID)
	if err != nil {
		return domain.Progress{}, s.fail("load responses", assessmentID, err)
	}
	return progressOf(a, len(history)), nil
}

// CurrentQuestion returns the question awaiting an answer.
func (s *AssessmentService) CurrentQuestion(ctx context.Context, clientID, assessmentID string) (domain.Question, error) {
	a, err := s.owned(ctx, clientID, assessmentID)
	if err != nil {
		return domain.Question{}, err
	}
	cat, err := s.catalogs.Catalog(ctx, a.CatalogVersion)
	if err != nil {
		return domain.Question{}, s.fail("load catalog", assessmentID, err)
	}
	q, err := engine.CurrentQuestion(cat, a)
	if err != nil {
		return domain.Question{}, s.fail("current question", assessmentID, err)
	}
	return q, nil
}

// Scores computes every scoring rule of the assessment's catalog over its responses.
func (s *AssessmentService) Scores(ctx context.Context, clientID, assessmentID string) ([]domain.Score, error) {
	_, cat, history, err := s.load(ctx, clientID, assessmentID)
	if err != nil {
		return nil, err
	}
	return engine.Scores(cat, history), nil
}

// Subscribe returns a channel that receives progress updates for an assessment, starting
// with its current progress. The caller must invoke the returned cancel function.
func (s *AssessmentService) Subscribe(ctx context.Context, clientID, assessmentID string) (<-chan domain.Progress, func(), error) {
	initial, err := s.Progress(ctx, clientID, assessmentID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.progress.Subscribe(assessmentID, initial)
	return ch, cancel, nil
}

func (s *AssessmentService) owned(ctx context.Context, clientID, assessmentID string) (domain.Assessment, error) {
	if clientID == "" {
		return domain.Assessment{}, domain.ErrUnauthenticated
	}
	a, err := s.sessions.Get(ctx, assessmentID)
	if err != nil {
		return domain.Assessment{}, s.fail("load assessment", assessmentID, err)
	}
	// Another client's session is indistinguishable from a missing one.
	if a.ClientID != clientID {
		return domain.Assessment{}, domain.ErrAssessmentNotFound
	}
	return a, nil
}

func (s *AssessmentService) load(ctx context.Context, clientID, assessmentID string) (domain.Assessment, *catalog.Catalog, []domain.ClientResponse, error) {
	a, err := s.owned(ctx, clientID, assessmentID)
	if err != nil {
		return domain.Assessment{}, nil, nil, err
	}
	cat, err := s.catalogs.Catalog(ctx, a.CatalogVersion)
	if err != nil {
		return domain.Assessment{}, nil, nil, s.fail("load catalog", assessmentID, err)
	}
	history, err := s.sessions.Responses(ctx, assessmentID)
	if err != nil {
		return domain.Assessment{}, nil, nil, s.fail("load responses", assessmentID, err)
	}
	return a, cat, history, nil
}

func (s *AssessmentService) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, s.fail("lock", key, err)
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *AssessmentService) publish(ctx context.Context, a domain.Assessment) {
	history, err := s.sessions.Responses(ctx, a.ID)
	if err != nil {
		s.logger.Warn("progress update skipped", zap.String("assessment_id", a.ID), zap.Error(err))
		return
	}
	s.progress.Publish(progressOf(a, len(history)))
}

// fail logs dependency and configuration errors; client errors pass through silently.
func (s *AssessmentService) fail(op, id string, err error) error {
	if domain.IsClientError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Error(op+" failed", zap.String("id", id), zap.Error(err))
	return err
}

func progressOf(a domain.Assessment, responses int) domain.Progress {
	return domain.Progress{
		Assessment:     a,
		ResponsesCount: responses,
		QuestionsAsked: a.QuestionsAsked,
		QuestionsSaved: a.QuestionsSaved,
		CurrentModule:  a.CurrentModule,
		Status:         a.Status,
	}
}
