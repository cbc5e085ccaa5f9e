package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/internal/daywindow"
	"github.com/fdg312/metabolic-hub/internal/storage"
)

const (
	SensitivityStrict   = "strict"
	SensitivityBalanced = "balanced"
	SensitivityRelaxed  = "relaxed"

	MinReminderDelayMinutes = 15
	MaxReminderDelayMinutes = 90
)

var ErrInvalidSettings = errors.New("invalid notification settings")

// Defaults are the config-driven values for users without a settings row.
type Defaults struct {
	MaxPerDay            int
	ReminderDelayMinutes int
	DesktopEnabled       bool
	Quiet                *daywindow.Window
}

func DefaultsFromConfig(cfg *config.Config) Defaults {
	d := Defaults{
		MaxPerDay:            cfg.Notify.MaxPerDay,
		ReminderDelayMinutes: cfg.Movement.ReminderDelayMinutes,
		DesktopEnabled:       cfg.Notify.DesktopEnabled,
	}
	// Load already dropped an unparsable window
	if w, ok, err := cfg.Notify.QuietHours(); err == nil && ok {
		d.Quiet = &w
	}
	return d
}

func (d Defaults) Settings(userID string) storage.NotificationSettings {
	maxPerDay := d.MaxPerDay
	if maxPerDay <= 0 {
		maxPerDay = 3
	}
	delay := d.ReminderDelayMinutes
	if delay < MinReminderDelayMinutes || delay > MaxReminderDelayMinutes {
		delay = 45
	}
	s := storage.NotificationSettings{
		UserID:                       userID,
		PushEnabled:                  true,
		DesktopEnabled:               d.DesktopEnabled,
		MovementAlertsEnabled:        true,
		InsulinAlertsEnabled:         true,
		InactivityAlertsEnabled:      true,
		AgentAlertsEnabled:           true,
		MovementReminderDelayMinutes: delay,
		MovementSensitivity:          SensitivityBalanced,
		MaxAlertsPerDay:              maxPerDay,
	}
	if d.Quiet != nil {
		start, end := d.Quiet.Start, d.Quiet.End
		s.QuietStartMinutes, s.QuietEndMinutes = &start, &end
	}
	return s
}

// LoadSettings returns the stored row or the defaults.
func LoadSettings(ctx context.Context, store storage.NotificationSettingsStorage, d Defaults, userID string) (storage.NotificationSettings, error) {
	s, ok, err := store.GetNotificationSettings(ctx, userID)
	if err != nil {
		return storage.NotificationSettings{}, fmt.Errorf("get notification settings: %w", err)
	}
	if !ok {
		return d.Settings(userID), nil
	}
	return s, nil
}

// ValidateSettings normalizes sensitivity and checks ranges.
func ValidateSettings(s *storage.NotificationSettings) error {
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidSettings)
	}
	if s.MovementReminderDelayMinutes < MinReminderDelayMinutes || s.MovementReminderDelayMinutes > MaxReminderDelayMinutes {
		return fmt.Errorf("%w: movement_reminder_delay_minutes must be %d..%d",
			ErrInvalidSettings, MinReminderDelayMinutes, MaxReminderDelayMinutes)
	}

	s.MovementSensitivity = strings.ToLower(strings.TrimSpace(s.MovementSensitivity))
	switch s.MovementSensitivity {
	case "":
		s.MovementSensitivity = SensitivityBalanced
	case SensitivityStrict, SensitivityBalanced, SensitivityRelaxed:
	default:
		return fmt.Errorf("%w: unknown movement_sensitivity %q", ErrInvalidSettings, s.MovementSensitivity)
	}

	if (s.QuietStartMinutes == nil) != (s.QuietEndMinutes == nil) {
		return fmt.Errorf("%w: quiet hours need both start and end", ErrInvalidSettings)
	}
	if s.QuietStartMinutes != nil {
		for _, m := range []int{*s.QuietStartMinutes, *s.QuietEndMinutes} {
			if m < 0 || m >= 24*60 {
				return fmt.Errorf("%w: quiet minutes must be 0..1439", ErrInvalidSettings)
			}
		}
	}
	if s.MaxAlertsPerDay < 1 || s.MaxAlertsPerDay > 20 {
		return fmt.Errorf("%w: max_alerts_per_day must be 1..20", ErrInvalidSettings)
	}
	return nil
}

// QuietWindow returns the quiet-hours window when one is configured.
func QuietWindow(s storage.NotificationSettings) (daywindow.Window, bool) {
	if s.QuietStartMinutes == nil || s.QuietEndMinutes == nil {
		return daywindow.Window{}, false
	}
	return daywindow.New(*s.QuietStartMinutes, *s.QuietEndMinutes), true
}

func categoryEnabled(s storage.NotificationSettings, category string) bool {
	switch category {
	case CategoryMovement:
		return s.MovementAlertsEnabled
	case CategoryInsulin:
		return s.InsulinAlertsEnabled
	case CategoryInactivity:
		return s.InactivityAlertsEnabled
	case CategoryAgent:
		return s.AgentAlertsEnabled
	default:
		return false
	}
}

func channelEnabled(s storage.NotificationSettings, channel string) bool {
	switch channel {
	case ChannelPush:
		return s.PushEnabled
	case ChannelDesktop:
		return s.DesktopEnabled
	case ChannelEmail:
		return s.EmailEnabled
	default:
		return false
	}
}
