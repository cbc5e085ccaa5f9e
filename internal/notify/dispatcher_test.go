package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return DeliveryResult{}, s.err
	}
	s.msgs = append(s.msgs, msg)
	return DeliveryResult{Status: StatusSent}, nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingSender, *memory.MemoryStorage) {
	t.Helper()
	store := memory.New()
	sender := &recordingSender{}
	d := NewDispatcher(store, Defaults{MaxPerDay: 3, ReminderDelayMinutes: 45}, nil)
	d.Register(ChannelPush, sender)
	return d, sender, store
}

func intPtr(v int) *int { return &v }

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestDispatcher_SendsAndRecordsLedger(t *testing.T) {
	d, sender, store := newTestDispatcher(t)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, Alert{UserID: "u1", Type: "post_meal_walk", Category: CategoryMovement, DedupeKey: "k1", Title: "Walk"}, noon, time.UTC)
	require.NoError(t, err)
	assert.True(t, res.Sent())
	assert.Equal(t, ChannelPush, res.Channel)
	assert.Equal(t, 1, sender.count())

	seen, err := store.HasAlert(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.True(t, seen)

	res, err = d.Dispatch(ctx, Alert{UserID: "u1", Type: "post_meal_walk", Category: CategoryMovement, DedupeKey: "k1"}, noon, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, ReasonDuplicate, res.Reason)
	assert.Equal(t, 1, sender.count())
}

func TestDispatcher_GateOrder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*storage.NotificationSettings)
		reason string
	}{
		{"silent wins over everything", func(s *storage.NotificationSettings) { s.SilentMode = true; s.PushEnabled = false }, ReasonSilentMode},
		{"channel before category", func(s *storage.NotificationSettings) { s.PushEnabled = false; s.MovementAlertsEnabled = false }, ReasonChannelDisabled},
		{"category before quiet hours", func(s *storage.NotificationSettings) {
			s.MovementAlertsEnabled = false
			s.QuietStartMinutes, s.QuietEndMinutes = intPtr(0), intPtr(23*60)
		}, ReasonCategoryDisabled},
		{"quiet hours", func(s *storage.NotificationSettings) {
			s.QuietStartMinutes, s.QuietEndMinutes = intPtr(11*60), intPtr(13*60)
		}, ReasonQuietHours},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, sender, store := newTestDispatcher(t)
			ctx := context.Background()
			s := d.Defaults().Settings("u1")
			tc.mutate(&s)
			_, err := store.UpsertNotificationSettings(ctx, s)
			require.NoError(t, err)

			res, err := d.Dispatch(ctx, Alert{UserID: "u1", Category: CategoryMovement}, noon, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, StatusSkipped, res.Status)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Zero(t, sender.count())
		})
	}
}

func TestDispatcher_QuietHoursWrapMidnight(t *testing.T) {
	d, sender, store := newTestDispatcher(t)
	ctx := context.Background()
	s := d.Defaults().Settings("u1")
	s.QuietStartMinutes, s.QuietEndMinutes = intPtr(22*60), intPtr(7*60)
	_, err := store.UpsertNotificationSettings(ctx, s)
	require.NoError(t, err)

	for _, hm := range [][2]int{{23, 30}, {2, 0}, {7, 0}, {22, 0}} {
		at := time.Date(2026, 3, 10, hm[0], hm[1], 0, 0, time.UTC)
		res, err := d.Dispatch(ctx, Alert{UserID: "u1", Category: CategoryInsulin}, at, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, ReasonQuietHours, res.Reason, "at %02d:%02d", hm[0], hm[1])
	}

	res, err := d.Dispatch(ctx, Alert{UserID: "u1", Category: CategoryInsulin}, time.Date(2026, 3, 10, 7, 1, 0, 0, time.UTC), time.UTC)
	require.NoError(t, err)
	assert.True(t, res.Sent())
	assert.Equal(t, 1, sender.count())
}

func TestDispatcher_DailyCapNeverExceededUnderConcurrency(t *testing.T) {
	d, sender, store := newTestDispatcher(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Dispatch(ctx, Alert{UserID: "u1", Category: CategoryInactivity, DedupeKey: fmt.Sprintf("k%d", i)}, noon, time.UTC)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, sender.count())
	n, err := store.CountAlerts(ctx, "u1", noon.Add(-12*time.Hour), noon.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// next local day starts fresh
	res, err := d.Dispatch(ctx, Alert{UserID: "u1", Category: CategoryInactivity}, noon.Add(24*time.Hour), time.UTC)
	require.NoError(t, err)
	assert.True(t, res.Sent())
}

func TestDispatcher_CapSeededFromLedger(t *testing.T) {
	d, sender, store := newTestDispatcher(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.AppendAlert(ctx, storage.AlertEvent{UserID: "u1", AlertType: "x", SentAt: noon.Add(-time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	res, err := d.Dispatch(ctx, Alert{UserID: "u1", Category: CategoryAgent}, noon, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, ReasonDailyCap, res.Reason)
	assert.Zero(t, sender.count())
}

func TestDispatcher_SendFailureReleasesSlotAndSkipsLedger(t *testing.T) {
	d, sender, store := newTestDispatcher(t)
	ctx := context.Background()
	sender.err = errors.New("relay down")

	res, err := d.Dispatch(ctx, Alert{UserID: "u1", Category: CategoryAgent, DedupeKey: "rec"}, noon, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, ReasonSendFailed, res.Reason)

	seen, err := store.HasAlert(ctx, "u1", "rec")
	require.NoError(t, err)
	assert.False(t, seen)

	used, ok := d.cap.Used("u1", "2026-03-10")
	require.True(t, ok)
	assert.Zero(t, used)

	sender.err = nil
	res, err = d.Dispatch(ctx, Alert{UserID: "u1", Category: CategoryAgent, DedupeKey: "rec"}, noon, time.UTC)
	require.NoError(t, err)
	assert.True(t, res.Sent())
}

func TestValidateSettings(t *testing.T) {
	base := Defaults{MaxPerDay: 3, ReminderDelayMinutes: 45}.Settings("u1")

	ok := base
	ok.MovementSensitivity = " Strict "
	require.NoError(t, ValidateSettings(&ok))
	assert.Equal(t, SensitivityStrict, ok.MovementSensitivity)

	bad := []func(*storage.NotificationSettings){
		func(s *storage.NotificationSettings) { s.MovementReminderDelayMinutes = 10 },
		func(s *storage.NotificationSettings) { s.MovementReminderDelayMinutes = 91 },
		func(s *storage.NotificationSettings) { s.MovementSensitivity = "aggressive" },
		func(s *storage.NotificationSettings) { s.QuietStartMinutes = intPtr(60) },
		func(s *storage.NotificationSettings) {
			s.QuietStartMinutes, s.QuietEndMinutes = intPtr(60), intPtr(1440)
		},
		func(s *storage.NotificationSettings) { s.MaxAlertsPerDay = 0 },
	}
	for i, mutate := range bad {
		s := base
		mutate(&s)
		assert.ErrorIs(t, ValidateSettings(&s), ErrInvalidSettings, "case %d", i)
	}
}

func TestDefaultsFromConfig_QuietHours(t *testing.T) {
	cfg := &config.Config{Notify: config.NotifyConfig{MaxPerDay: 3, QuietStart: "22:00", QuietEnd: "07:00"}}
	cfg.Movement.ReminderDelayMinutes = 45
	defaults := DefaultsFromConfig(cfg)

	s := defaults.Settings("u1")
	require.NotNil(t, s.QuietStartMinutes)
	require.NotNil(t, s.QuietEndMinutes)
	assert.Equal(t, 22*60, *s.QuietStartMinutes)
	assert.Equal(t, 7*60, *s.QuietEndMinutes)
	require.NoError(t, ValidateSettings(&s))

	d := NewDispatcher(memory.New(), defaults, nil)
	d.Register(ChannelPush, &recordingSender{})
	late := time.Date(2026, 3, 10, 23, 15, 0, 0, time.UTC)
	res, err := d.Dispatch(context.Background(), Alert{UserID: "u1", Category: CategoryMovement, DedupeKey: "q"}, late, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, ReasonQuietHours, res.Reason)

	res, err = d.Dispatch(context.Background(), Alert{UserID: "u1", Category: CategoryMovement, DedupeKey: "q"}, noon, time.UTC)
	require.NoError(t, err)
	assert.True(t, res.Sent())

	cfg.Notify.QuietEnd = ""
	assert.Nil(t, DefaultsFromConfig(cfg).Quiet)
}
