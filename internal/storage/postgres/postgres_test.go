package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fdg312/metabolic-hub/internal/dbmigrate"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/storage/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a disposable database: METABOLIC_TEST_DATABASE_URL=postgres://...
func openTestStore(t *testing.T) *postgres.PostgresStorage {
	t.Helper()
	url := os.Getenv("METABOLIC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("METABOLIC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	require.NoError(t, dbmigrate.Run(ctx, "up", url, "", nil))

	store, err := postgres.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func uniqueUser() string {
	return "it-" + uuid.NewString()
}

func TestAddMeal_AccumulatesTotalsAndDinner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := uniqueUser()
	at := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	_, _, err := store.AddMeal(ctx, "2026-03-09", storage.MealEntry{
		UserID: user, ConsumedAt: at, Name: "dal", Macros: storage.MacroTotals{ProteinG: 9, CarbsG: 20},
	})
	require.NoError(t, err)
	agg, meal, err := store.AddMeal(ctx, "2026-03-09", storage.MealEntry{
		UserID: user, ConsumedAt: at.Add(6 * time.Hour), Name: "paneer", IsDinner: true, DinnerMode: "protein",
		Macros: storage.MacroTotals{ProteinG: 18, CarbsG: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, agg.ID, meal.AggregateID)
	assert.InDelta(t, 27, agg.Totals.ProteinG, 1e-9)
	assert.InDelta(t, 23, agg.Totals.CarbsG, 1e-9)
	require.NotNil(t, agg.Dinner)
	assert.Equal(t, "protein", agg.Dinner.Mode)
	assert.InDelta(t, 3, agg.Dinner.CarbsG, 1e-9)

	corrected, err := store.ApplyCorrection(ctx, user, "2026-03-09", storage.MacroTotals{CarbsG: 100})
	require.NoError(t, err)
	assert.Zero(t, corrected.Totals.CarbsG)
	assert.Equal(t, "2026-03-09", corrected.Date)
}

func TestCommitScan_VersionConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := uniqueUser()

	st, err := store.CreateAgentState(ctx, storage.AgentState{UserID: user, CarbCeiling: 90, ProteinTarget: 90, FruitAllowanceCurrent: 1, FruitAllowanceWeekly: 7})
	require.NoError(t, err)
	require.EqualValues(t, 1, st.Version)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.CommitScan(ctx, storage.ScanCommit{
				State: st,
				Recommendations: []storage.PendingRecommendation{{
					Cadence: storage.CadenceDaily, Type: "daily_carb_reduction", Title: "Reduce carbs tomorrow",
					Confidence: 0.7, DataUsed: []byte(`{"avg":75}`),
				}},
			})
			if err != nil {
				mu.Lock()
				defer mu.Unlock()
				assert.ErrorIs(t, err, storage.ErrConflict)
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, conflicts)

	recs, err := store.ListRecommendations(ctx, user, storage.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.JSONEq(t, `{"avg":75}`, string(recs[0].DataUsed))

	_, err = store.DecideRecommendation(ctx, user, recs[0].ID, storage.StatusAccepted, time.Now())
	require.NoError(t, err)
	_, err = store.DecideRecommendation(ctx, user, recs[0].ID, storage.StatusRejected, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotPending)
	_, err = store.DecideRecommendation(ctx, user, uuid.New(), storage.StatusRejected, time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyProfileAdjustment_WritesAudit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := uniqueUser()

	_, err := store.UpsertProfile(ctx, storage.DefaultProfile(user))
	require.NoError(t, err)

	recID := uuid.New()
	p, err := store.ApplyProfileAdjustment(ctx, storage.ProfileAdjustment{
		UserID: user, Field: storage.FieldCarbCeiling, After: 80, Reason: "recommendation_accepted", RecommendationID: &recID,
	})
	require.NoError(t, err)
	assert.InDelta(t, 80, p.CarbCeiling, 1e-9)

	adjs, err := store.ListProfileAdjustments(ctx, user, 5)
	require.NoError(t, err)
	require.Len(t, adjs, 1)
	assert.InDelta(t, 90, adjs[0].Before, 1e-9)
	require.NotNil(t, adjs[0].RecommendationID)
	assert.Equal(t, recID, *adjs[0].RecommendationID)

	_, err = store.ApplyProfileAdjustment(ctx, storage.ProfileAdjustment{UserID: "missing-" + user, Field: storage.FieldCarbCeiling, After: 70})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStepsAndAlerts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	user := uniqueUser()
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	_, found, err := store.MinStepsBetween(ctx, user, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.InsertStepSnapshot(ctx, storage.StepSnapshot{UserID: user, RecordedAt: base, Steps: 1200}))
	require.NoError(t, store.InsertStepSnapshot(ctx, storage.StepSnapshot{UserID: user, RecordedAt: base.Add(10 * time.Minute), Steps: 2500}))
	minSteps, found, err := store.MinStepsBetween(ctx, user, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1200, minSteps)

	_, err = store.AppendAlert(ctx, storage.AlertEvent{UserID: user, AlertType: "walk_reminder", Category: "movement", Channel: "push", DedupeKey: "walk:1", SentAt: base})
	require.NoError(t, err)
	has, err := store.HasAlert(ctx, user, "walk:1")
	require.NoError(t, err)
	assert.True(t, has)
	n, err := store.CountAlerts(ctx, user, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
