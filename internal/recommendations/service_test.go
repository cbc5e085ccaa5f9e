package recommendations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fdg312/metabolic-hub/internal/agent"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/storage/memory"
	"github.com/fdg312/metabolic-hub/internal/userlock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const user = "user-1"

var decidedAt = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *memory.MemoryStorage) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	_, err := store.UpsertProfile(ctx, storage.DefaultProfile(user))
	require.NoError(t, err)
	_, err = store.CreateAgentState(ctx, storage.AgentState{UserID: user, CarbCeiling: 90, ProteinTarget: 90, FruitAllowanceCurrent: 1, FruitAllowanceWeekly: 7})
	require.NoError(t, err)
	return NewService(store, userlock.New(), nil), store
}

func commitRec(t *testing.T, store *memory.MemoryStorage, kind string, data string) storage.PendingRecommendation {
	t.Helper()
	ctx := context.Background()
	state, _, err := store.GetAgentState(ctx, user)
	require.NoError(t, err)
	_, saved, err := store.CommitScan(ctx, storage.ScanCommit{
		State: state,
		Recommendations: []storage.PendingRecommendation{{
			UserID:   user,
			Cadence:  storage.CadenceWeekly,
			Type:     kind,
			Title:    kind,
			DataUsed: []byte(data),
		}},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	return saved[0]
}

const ceilingPayload = `{"waist_recent_avg_cm":92,"waist_previous_avg_cm":92,"carb_ceiling_current_g":90,"carb_ceiling_proposed_g":80}`

func TestAccept_CarbCeilingUpdatesProfileStateAndAudit(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	rec := commitRec(t, store, agent.TypeWeeklyCarbCeiling, ceilingPayload)

	decided, err := svc.Accept(ctx, user, rec.ID, decidedAt)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusAccepted, decided.Status)
	require.NotNil(t, decided.DecidedAt)

	profile, _, err := store.GetProfile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 80.0, profile.CarbCeiling)

	state, _, err := store.GetAgentState(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 80.0, state.CarbCeiling)

	audit, err := store.ListProfileAdjustments(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, storage.FieldCarbCeiling, audit[0].Field)
	assert.Equal(t, 90.0, audit[0].Before)
	assert.Equal(t, 80.0, audit[0].After)
	require.NotNil(t, audit[0].RecommendationID)
	assert.Equal(t, rec.ID, *audit[0].RecommendationID)
}

func TestAccept_SecondDecisionIsNotPending(t *testing.T) {
	svc, store := setup(t)
	rec := commitRec(t, store, agent.TypeWeeklyRefeed, `{}`)

	_, err := svc.Reject(context.Background(), user, rec.ID, decidedAt)
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), user, rec.ID, decidedAt)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestAccept_ConcurrentDecisionsApplyOnce(t *testing.T) {
	svc, store := setup(t)
	rec := commitRec(t, store, agent.TypeWeeklyCarbCeiling, ceilingPayload)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Accept(context.Background(), user, rec.ID, decidedAt)
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrNotPending)
	}
	assert.Equal(t, 1, ok)

	audit, err := store.ListProfileAdjustments(context.Background(), user, 10)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestAccept_RejectsUnknownPayloadFields(t *testing.T) {
	svc, store := setup(t)
	rec := commitRec(t, store, agent.TypeWeeklyCarbCeiling,
		`{"carb_ceiling_current_g":90,"carb_ceiling_proposed_g":80,"carb_ceiling_bonus":5}`)

	_, err := svc.Accept(context.Background(), user, rec.ID, decidedAt)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	got, _, err := store.GetRecommendation(context.Background(), user, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, got.Status)
}

func TestAccept_NotFoundAndInvalid(t *testing.T) {
	svc, _ := setup(t)

	_, err := svc.Accept(context.Background(), user, uuid.New(), decidedAt)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Accept(context.Background(), "", uuid.New(), decidedAt)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestReject_LeavesProfileUntouched(t *testing.T) {
	svc, store := setup(t)
	rec := commitRec(t, store, agent.TypeWeeklyCarbCeiling, ceilingPayload)

	decided, err := svc.Reject(context.Background(), user, rec.ID, decidedAt)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusRejected, decided.Status)

	profile, _, err := store.GetProfile(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 90.0, profile.CarbCeiling)
}

func TestList_FiltersByStatus(t *testing.T) {
	svc, store := setup(t)
	a := commitRec(t, store, agent.TypeWeeklyRefeed, `{}`)
	commitRec(t, store, agent.TypeWeeklyHDLSupport, `{}`)
	_, err := svc.Reject(context.Background(), user, a.ID, decidedAt)
	require.NoError(t, err)

	pending, err := svc.List(context.Background(), user, "pending", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, agent.TypeWeeklyHDLSupport, pending[0].Type)

	_, err = svc.List(context.Background(), user, "maybe", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
