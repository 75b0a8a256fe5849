package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"coach-assessment-service/internal/app"
	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
	"coach-assessment-service/internal/engine"
	pginfra "coach-assessment-service/internal/infra/postgres"
	pgmigrations "coach-assessment-service/internal/infra/postgres/migrations"
	infraredis "coach-assessment-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap/zaptest"
)

type stack struct {
	service *app.AssessmentService
	store   *pginfra.Store
	loader  *pginfra.CatalogLoader
	redis   *goredis.Client
}

func newStack(t *testing.T, ctx context.Context) *stack {
	t.Helper()
	requireDocker(t)

	pgURL := startPostgres(t, ctx)
	redisURL := startRedis(t, ctx)

	db := migrateDB(t, ctx, pgURL)
	pool, err := pgxpool.Connect(ctx, pgURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	loader := pginfra.NewCatalogLoader(pool)
	require.NoError(t, loader.Publish(ctx, sampleArtifact()))

	redisClient, err := redisClientFromURL(redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })

	store := pginfra.NewStore(db)
	catalogs := infraredis.NewCatalogCache(redisClient, loader, 5*time.Minute)
	locks := infraredis.NewSessionLocker(redisClient, 10*time.Second)
	service := app.NewAssessmentService(store, catalogs, locks, engine.New(nil, engine.Config{}), zaptest.NewLogger(t))
	return &stack{service: service, store: store, loader: loader, redis: redisClient}
}

func TestAssessmentEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	a, q, err := s.service.Start(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "it-v1", a.CatalogVersion)
	assert.Equal(t, "d_gate", q.ID)

	res, err := s.service.SubmitAnswer(ctx, "client-1", a.ID, domain.AnswerSubmission{QuestionID: "d_gate", Value: "no"})
	require.NoError(t, err)
	require.NotNil(t, res.NextQuestion)
	assert.Equal(t, "s_one", res.NextQuestion.ID)
	assert.Equal(t, 2, res.QuestionsSaved)

	_, err = s.service.SubmitAnswer(ctx, "client-1", a.ID, domain.AnswerSubmission{QuestionID: "d_gate", Value: "no"})
	assert.ErrorIs(t, err, domain.ErrDuplicateResponse)

	back, prev, err := s.service.GoBack(ctx, "client-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "d_gate", prev.ID)
	assert.Equal(t, 0, back.QuestionsAsked)

	_, err = s.service.SubmitAnswer(ctx, "client-1", a.ID, domain.AnswerSubmission{QuestionID: "d_gate", Value: "yes"})
	require.NoError(t, err)
	for _, step := range []struct {
		id    string
		value any
	}{{"d_a", 8}, {"d_b", 3}, {"s_one", 4}} {
		_, err := s.service.SubmitAnswer(ctx, "client-1", a.ID, domain.AnswerSubmission{QuestionID: step.id, Value: step.value})
		require.NoError(t, err, step.id)
	}

	progress, err := s.service.Progress(ctx, "client-1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, progress.Status)
	assert.Equal(t, 4, progress.ResponsesCount)
	require.Len(t, progress.Assessment.AIContext.HighSeveritySymptoms, 1)
	assert.Equal(t, "d_a", progress.Assessment.AIContext.HighSeveritySymptoms[0].QuestionID)

	history, err := s.store.Responses(ctx, a.ID)
	require.NoError(t, err)
	ids := make([]string, 0, len(history))
	for _, r := range history {
		ids = append(ids, r.QuestionID)
	}
	assert.Equal(t, []string{"d_gate", "d_a", "d_b", "s_one"}, ids)

	scores, err := s.service.Scores(ctx, "client-1", a.ID)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 11.0, scores[0].Score)

	_, err = s.redis.Get(ctx, "catalog:artifact:it-v1").Result()
	assert.NoError(t, err, "catalog artifact should be cached in redis")
}

func TestConcurrentSubmissionsCommitOnce(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	a, _, err := s.service.Start(ctx, "client-2")
	require.NoError(t, err)

	const writers = 5
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.SubmitAnswer(ctx, "client-2", a.ID, domain.AnswerSubmission{QuestionID: "d_gate", Value: "yes"})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, domain.IsClientError(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	history, err := s.store.Responses(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPublishSwitchesActiveCatalog(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	next := sampleArtifact()
	next.Version = "it-v2"
	require.NoError(t, s.loader.Publish(ctx, next))

	active, err := s.loader.LoadCatalog(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "it-v2", active.Version)

	old, err := s.loader.LoadCatalog(ctx, "it-v1")
	require.NoError(t, err)
	assert.Equal(t, "it-v1", old.Version)

	// republishing an older version reactivates it
	require.NoError(t, s.loader.Publish(ctx, sampleArtifact()))
	active, err = s.loader.LoadCatalog(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "it-v1", active.Version)
}

func sampleArtifact() catalog.Artifact {
	return catalog.Artifact{
		Version: "it-v1",
		Modules: []domain.Module{{ID: "digestive"}, {ID: "sleep"}},
		Questions: []domain.Question{
			{ID: "d_gate", Module: "digestive", Prompt: "Any digestive discomfort?", AnswerType: domain.AnswerYesNo},
			{ID: "d_a", Module: "digestive", Prompt: "Bloating severity", AnswerType: domain.AnswerScale},
			{ID: "d_b", Module: "digestive", Prompt: "Reflux severity", AnswerType: domain.AnswerScale},
			{ID: "s_one", Module: "sleep", Prompt: "Daytime fatigue", AnswerType: domain.AnswerScale},
		},
		Groups: []domain.QuestionGroup{
			{ID: "g_dig", GatewayQuestionID: "d_gate", MemberQuestionIDs: []string{"d_a", "d_b"}, TriggerValues: []string{"no"}},
		},
		ScoringRules: []domain.ScoringRule{
			{ID: "dig", Name: "Digestive", QuestionIDs: []string{"d_a", "d_b"}, Calculation: domain.CalcSum},
		},
	}
}

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "coach", "POSTGRES_PASSWORD": "coachpass", "POSTGRES_DB": "assessments"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://coach:coachpass@%s:%s/assessments?sslmode=disable", host, port.Port())
}

func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)
	return db
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
