package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fdg312/metabolic-hub/internal/agent"
	"github.com/fdg312/metabolic-hub/internal/movement"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (f *fakeRunner) RunAll(ctx context.Context, cadence string, now time.Time) (agent.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cadence)
	if f.fail != nil {
		return agent.BatchResult{Cadence: cadence}, f.fail
	}
	return agent.BatchResult{Cadence: cadence, Users: 2, Ran: 2}, nil
}

func (f *fakeRunner) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeMovement struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeMovement) EvaluateMovementAlerts(ctx context.Context, userID string, now time.Time) (movement.Evaluation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	if userID == "broken" {
		return movement.Evaluation{}, errors.New("boom")
	}
	return movement.Evaluation{}, nil
}

type staticUsers []string

func (s staticUsers) ListUserIDs(ctx context.Context) ([]string, error) {
	return s, nil
}

func newTestScheduler(r *fakeRunner, mv *fakeMovement) *Scheduler {
	return New(r, mv, staticUsers{"u1", "broken"}, Options{
		DailyHour:        6,
		WeeklyWeekday:    time.Monday,
		MonthlyDay:       1,
		MovementInterval: 15 * time.Minute,
		Parallelism:      2,
	}, nil)
}

func TestDue_RespectsHourWeekdayAndMonthDay(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, &fakeMovement{})

	// 2026-06-01 is a Monday and the first of the month.
	early := time.Date(2026, 6, 1, 5, 59, 0, 0, time.UTC)
	assert.Equal(t, []string{CadenceMovement}, s.Due(early))

	at := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{
		storage.CadenceDaily, storage.CadenceWeekly, storage.CadenceMonthly, CadenceMovement,
	}, s.Due(at))

	tuesday := time.Date(2026, 6, 2, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{storage.CadenceDaily, CadenceMovement}, s.Due(tuesday))
}

func TestDue_UsesSchedulerTimeZone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	s := New(&fakeRunner{}, nil, staticUsers{}, Options{DailyHour: 6, WeeklyWeekday: time.Sunday, Location: loc}, nil)

	// 03:30 UTC is 06:30 local.
	assert.Equal(t, []string{storage.CadenceDaily}, s.Due(time.Date(2026, 6, 2, 3, 30, 0, 0, time.UTC)))
	assert.Empty(t, s.Due(time.Date(2026, 6, 2, 2, 30, 0, 0, time.UTC)))
}

func TestTick_FiresOncePerPeriod(t *testing.T) {
	r := &fakeRunner{}
	mv := &fakeMovement{}
	s := newTestScheduler(r, mv)
	ctx := context.Background()

	at := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	res, err := s.Tick(ctx, at)
	require.NoError(t, err)
	assert.Len(t, res.Batches, 3)
	require.NotNil(t, res.Movement)
	assert.Equal(t, 2, res.Movement.Users)
	assert.Contains(t, res.Movement.Failures, "broken")

	res, err = s.Tick(ctx, at.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, res.Batches)
	assert.Nil(t, res.Movement)

	res, err = s.Tick(ctx, at.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, res.Batches)
	assert.NotNil(t, res.Movement)

	_, err = s.Tick(ctx, at.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{
		storage.CadenceDaily, storage.CadenceWeekly, storage.CadenceMonthly, storage.CadenceDaily,
	}, r.snapshot())
}

func TestTick_FailedBatchStaysDue(t *testing.T) {
	r := &fakeRunner{fail: errors.New("list users: db down")}
	s := New(r, nil, staticUsers{}, Options{DailyHour: 0, WeeklyWeekday: time.Saturday, MonthlyDay: 28}, nil)
	at := time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

	_, err := s.Tick(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, []string{storage.CadenceDaily}, s.Due(at))

	r.mu.Lock()
	r.fail = nil
	r.mu.Unlock()
	res, err := s.Tick(context.Background(), at.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, res.Batches, 1)
	assert.Empty(t, s.Due(at.Add(2*time.Minute)))
}

func TestMonthlyDay_ClampsToMonthEnd(t *testing.T) {
	feb := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 28, monthlyDay(feb, 31))
	assert.Equal(t, 1, monthlyDay(feb, 1))
}

func TestStart_StopsOnCancel(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, nil, staticUsers{}, Options{DailyHour: 0}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx, time.Millisecond, func() time.Time {
			return time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)
		})
	}()

	require.Eventually(t, func() bool { return len(r.snapshot()) > 0 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{storage.CadenceDaily}, r.snapshot())
}
