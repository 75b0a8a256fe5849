package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coach-assessment-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:assessment_sessions,alias:s"`

	ID                string                `bun:"id,pk"`
	ClientID          string                `bun:"client_id,notnull"`
	CatalogVersion    string                `bun:"catalog_version,notnull"`
	Status            string                `bun:"status,notnull"`
	State             string                `bun:"state,notnull"`
	CurrentModule     string                `bun:"current_module,notnull"`
	CurrentQuestionID string                `bun:"current_question_id,notnull"`
	QuestionsAsked    int                   `bun:"questions_asked,notnull"`
	QuestionsSaved    int                   `bun:"questions_saved,notnull"`
	QuestionsInModule int                   `bun:"questions_in_module,notnull"`
	SymptomProfile    domain.SymptomProfile `bun:"symptom_profile,type:jsonb"`
	AIContext         domain.AIContext      `bun:"ai_context,type:jsonb"`
	Traversal         domain.Traversal      `bun:"traversal,type:jsonb"`
	StartedAt         time.Time             `bun:"started_at,notnull"`
	LastActiveAt      time.Time             `bun:"last_active_at,notnull"`
	CompletedAt       *time.Time            `bun:"completed_at"`
	Version           int                   `bun:"version,notnull"`
}

type responseRow struct {
	bun.BaseModel `bun:"table:client_responses,alias:r"`

	ID            string    `bun:"id,pk"`
	AssessmentID  string    `bun:"assessment_id,notnull"`
	Seq           int       `bun:"seq,notnull"`
	QuestionID    string    `bun:"question_id,notnull"`
	QuestionText  string    `bun:"question_text,notnull"`
	Module        string    `bun:"module,notnull"`
	ResponseType  string    `bun:"response_type,notnull"`
	ResponseValue string    `bun:"response_value,notnull"`
	AnsweredAt    time.Time `bun:"answered_at,notnull"`
}

// Store is the Postgres implementation of app.SessionRepository. A turn's response and
// session update share one transaction; the version column guards concurrent writers.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, a domain.Assessment) error {
	row := toSessionRow(a)
	if _, err := s.db.NewInsert().Model(&row).Returning("NULL").Exec(ctx); err != nil {
		return fmt.Errorf("insert assessment %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, assessmentID string) (domain.Assessment, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).Where("s.id = ?", assessmentID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Assessment{}, domain.ErrAssessmentNotFound
	}
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("load assessment %s: %w", assessmentID, err)
	}
	return row.toDomain(), nil
}

func (s *Store) FindActive(ctx context.Context, clientID string) (domain.Assessment, bool, error) {
	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Where("s.client_id = ?", clientID).
		Where("s.status = ?", string(domain.StatusInProgress)).
		OrderExpr("s.started_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Assessment{}, false, nil
	}
	if err != nil {
		return domain.Assessment{}, false, fmt.Errorf("find active assessment: %w", err)
	}
	return row.toDomain(), true, nil
}

func (s *Store) Responses(ctx context.Context, assessmentID string) ([]domain.ClientResponse, error) {
	var rows []responseRow
	err := s.db.NewSelect().Model(&rows).
		Where("r.assessment_id = ?", assessmentID).
		OrderExpr("r.seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load responses %s: %w", assessmentID, err)
	}
	out := make([]domain.ClientResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CommitTurn(ctx context.Context, a domain.Assessment, resp domain.ClientResponse) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		row := toResponseRow(resp, a.QuestionsAsked)
		if _, err := tx.NewInsert().Model(&row).Returning("NULL").Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", domain.ErrDuplicateResponse, resp.QuestionID)
			}
			return fmt.Errorf("insert response: %w", err)
		}
		return saveSession(ctx, tx, a)
	})
}

func (s *Store) RewindTurn(ctx context.Context, a domain.Assessment, responseID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*responseRow)(nil)).
			Where("id = ?", responseID).
			Where("assessment_id = ?", a.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete response: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: response %s already removed", domain.ErrConcurrentUpdate, responseID)
		}
		return saveSession(ctx, tx, a)
	})
}

func (s *Store) Update(ctx context.Context, a domain.Assessment) error {
	return saveSession(ctx, s.db, a)
}

// saveSession writes a as version a.Version+1, provided the row is still at a.Version.
func saveSession(ctx context.Context, db bun.IDB, a domain.Assessment) error {
	row := toSessionRow(a)
	row.Version = a.Version + 1
	res, err := db.NewUpdate().Model(&row).
		ExcludeColumn("id", "client_id", "catalog_version", "started_at").
		WherePK().
		Where("s.version = ?", a.Version).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update assessment %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: assessment %s is no longer at version %d", domain.ErrConcurrentUpdate, a.ID, a.Version)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}

func toSessionRow(a domain.Assessment) sessionRow {
	return sessionRow{
		ID:                a.ID,
		ClientID:          a.ClientID,
		CatalogVersion:    a.CatalogVersion,
		Status:            string(a.Status),
		State:             string(a.State),
		CurrentModule:     a.CurrentModule,
		CurrentQuestionID: a.CurrentQuestionID,
		QuestionsAsked:    a.QuestionsAsked,
		QuestionsSaved:    a.QuestionsSaved,
		QuestionsInModule: a.QuestionsInModule,
		SymptomProfile:    a.SymptomProfile,
		AIContext:         a.AIContext,
		Traversal:         a.Traversal,
		StartedAt:         a.StartedAt,
		LastActiveAt:      a.LastActiveAt,
		CompletedAt:       a.CompletedAt,
		Version:           a.Version,
	}
}

func (r sessionRow) toDomain() domain.Assessment {
	a := domain.Assessment{
		ID:                r.ID,
		ClientID:          r.ClientID,
		CatalogVersion:    r.CatalogVersion,
		Status:            domain.Status(r.Status),
		State:             domain.EngineState(r.State),
		CurrentModule:     r.CurrentModule,
		CurrentQuestionID: r.CurrentQuestionID,
		QuestionsAsked:    r.QuestionsAsked,
		QuestionsSaved:    r.QuestionsSaved,
		QuestionsInModule: r.QuestionsInModule,
		SymptomProfile:    r.SymptomProfile,
		AIContext:         r.AIContext,
		Traversal:         r.Traversal,
		StartedAt:         r.StartedAt.UTC(),
		LastActiveAt:      r.LastActiveAt.UTC(),
		Version:           r.Version,
	}
	if a.SymptomProfile == nil {
		a.SymptomProfile = domain.SymptomProfile{}
	}
	if r.CompletedAt != nil {
		t := r.CompletedAt.UTC()
		a.CompletedAt = &t
	}
	return a
}

func toResponseRow(r domain.ClientResponse, seq int) responseRow {
	return responseRow{
		ID:            r.ID,
		AssessmentID:  r.AssessmentID,
		Seq:           seq,
		QuestionID:    r.QuestionID,
		QuestionText:  r.QuestionText,
		Module:        r.Module,
		ResponseType:  string(r.ResponseType),
		ResponseValue: r.ResponseValue,
		AnsweredAt:    r.AnsweredAt,
	}
}

func (r responseRow) toDomain() domain.ClientResponse {
	return domain.ClientResponse{
		ID:            r.ID,
		AssessmentID:  r.AssessmentID,
		QuestionID:    r.QuestionID,
		QuestionText:  r.QuestionText,
		Module:        r.Module,
		ResponseType:  domain.AnswerType(r.ResponseType),
		ResponseValue: r.ResponseValue,
		AnsweredAt:    r.AnsweredAt.UTC(),
	}
}
