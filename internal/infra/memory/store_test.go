package memory

import (
	"context"
	"testing"
	"time"

	"coach-assessment-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCommitTurnLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	a := domain.Assessment{ID: "a1", ClientID: "c1", Status: domain.StatusInProgress, CurrentQuestionID: "q1"}
	require.NoError(t, store.Create(ctx, a))

	next := a
	next.CurrentQuestionID = "q2"
	next.QuestionsAsked = 1
	require.NoError(t, store.CommitTurn(ctx, next, domain.ClientResponse{ID: "r1", AssessmentID: "a1", QuestionID: "q1", ResponseValue: "5"}))

	got, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "q2", got.CurrentQuestionID)
	assert.Equal(t, 1, got.Version)

	history, err := store.Responses(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "q1", history[0].QuestionID)

	// stale version
	err = store.CommitTurn(ctx, next, domain.ClientResponse{ID: "r2", AssessmentID: "a1", QuestionID: "q2"})
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)

	// same question twice
	err = store.CommitTurn(ctx, got, domain.ClientResponse{ID: "r3", AssessmentID: "a1", QuestionID: "q1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateResponse)

	history, _ = store.Responses(ctx, "a1")
	assert.Len(t, history, 1, "failed writes must not append")
}

func TestStoreRewindTurnRemovesOnlyLatest(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	a := domain.Assessment{ID: "a1", ClientID: "c1"}
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.CommitTurn(ctx, a, domain.ClientResponse{ID: "r1", QuestionID: "q1"}))
	a.Version = 1
	require.NoError(t, store.CommitTurn(ctx, a, domain.ClientResponse{ID: "r2", QuestionID: "q2"}))
	a.Version = 2

	assert.ErrorIs(t, store.RewindTurn(ctx, a, "r1"), domain.ErrConcurrentUpdate)
	require.NoError(t, store.RewindTurn(ctx, a, "r2"))

	history, _ := store.Responses(ctx, "a1")
	require.Len(t, history, 1)
	assert.Equal(t, "r1", history[0].ID)
}

func TestStoreGetUnknown(t *testing.T) {
	_, err := NewStore().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAssessmentNotFound)
}

func TestStoreFindActivePrefersLatestInProgress(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, domain.Assessment{ID: "old", ClientID: "c1", Status: domain.StatusInProgress, StartedAt: base}))
	require.NoError(t, store.Create(ctx, domain.Assessment{ID: "new", ClientID: "c1", Status: domain.StatusInProgress, StartedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Create(ctx, domain.Assessment{ID: "done", ClientID: "c1", Status: domain.StatusCompleted, StartedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, store.Create(ctx, domain.Assessment{ID: "other", ClientID: "c2", Status: domain.StatusInProgress, StartedAt: base.Add(3 * time.Hour)}))

	a, ok, err := store.FindActive(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", a.ID)

	_, ok, err = store.FindActive(ctx, "c3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Create(ctx, domain.Assessment{ID: "a1", SymptomProfile: domain.SymptomProfile{"m": {"q": 1}}}))

	a, _ := store.Get(ctx, "a1")
	a.SymptomProfile["m"]["q"] = 9

	again, _ := store.Get(ctx, "a1")
	assert.Equal(t, 1.0, again.SymptomProfile["m"]["q"])
}

func TestSessionLockerIsExclusive(t *testing.T) {
	ctx := context.Background()
	locks := NewSessionLocker()

	unlock, err := locks.Lock(ctx, "a1")
	require.NoError(t, err)
	_, err = locks.Lock(ctx, "a1")
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	other, err := locks.Lock(ctx, "a2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx))
	again, err := locks.Lock(ctx, "a1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}
