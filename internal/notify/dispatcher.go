package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fdg312/metabolic-hub/internal/config"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"go.uber.org/zap"
)

const (
	ReasonSilentMode       = "silent_mode"
	ReasonChannelDisabled  = "channel_disabled"
	ReasonCategoryDisabled = "category_disabled"
	ReasonQuietHours       = "quiet_hours"
	ReasonDuplicate        = "duplicate"
	ReasonDailyCap         = "daily_cap"
	ReasonSendFailed       = "send_failed"
)

type Store interface {
	storage.NotificationSettingsStorage
	storage.AlertLedgerStorage
}

// Alert is an engine-level notification before channel selection.
type Alert struct {
	UserID    string
	Type      string
	Category  string
	DedupeKey string
	Title     string
	Body      string
	Metadata  map[string]any
}

// Dispatcher gates alerts through the user's settings and the daily cap,
// delivers them and records successful sends in the ledger.
type Dispatcher struct {
	store    Store
	defaults Defaults
	cap      *DailyCap
	logger   *zap.Logger

	senders map[string]Sender
	order   []string

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewDispatcher(store Store, defaults Defaults, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:    store,
		defaults: defaults,
		cap:      NewDailyCap(),
		logger:   logger,
		senders:  make(map[string]Sender),
		inflight: make(map[string]struct{}),
	}
}

// NewDispatcherFromConfig wires push (webhook or log), desktop and email.
func NewDispatcherFromConfig(cfg *config.Config, store Store, logger *zap.Logger) *Dispatcher {
	d := NewDispatcher(store, DefaultsFromConfig(cfg), logger)
	if cfg.Notify.PushWebhookURL != "" {
		d.Register(ChannelPush, NewWebhookSender(cfg.Notify.PushWebhookURL))
	} else {
		d.Register(ChannelPush, NewLocalSender(logger))
	}
	if cfg.Notify.DesktopEnabled {
		d.Register(ChannelDesktop, NewDesktopSender(""))
	}
	if cfg.Notify.SMTP.IsConfigured() {
		d.Register(ChannelEmail, NewEmailSender(cfg.Notify.SMTP))
	}
	return d
}

// Register adds a transport. Channels are tried in registration order.
func (d *Dispatcher) Register(channel string, s Sender) *Dispatcher {
	if _, exists := d.senders[channel]; !exists {
		d.order = append(d.order, channel)
	}
	d.senders[channel] = s
	return d
}

func (d *Dispatcher) Defaults() Defaults {
	return d.defaults
}

// Dispatch returns an error only when the store fails. Every gate that
// stops the alert yields a skipped result with a reason.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert, now time.Time, loc *time.Location) (DeliveryResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	settings, err := LoadSettings(ctx, d.store, d.defaults, alert.UserID)
	if err != nil {
		return DeliveryResult{}, err
	}

	if settings.SilentMode {
		return skipped("", ReasonSilentMode), nil
	}
	channel := d.pickChannel(settings)
	if channel == "" {
		return skipped("", ReasonChannelDisabled), nil
	}
	if !categoryEnabled(settings, alert.Category) {
		return skipped(channel, ReasonCategoryDisabled), nil
	}
	local := now.In(loc)
	if w, ok := QuietWindow(settings); ok && w.Contains(local) {
		return skipped(channel, ReasonQuietHours), nil
	}

	if alert.DedupeKey != "" {
		if !d.claim(alert.UserID, alert.DedupeKey) {
			return skipped(channel, ReasonDuplicate), nil
		}
		defer d.unclaim(alert.UserID, alert.DedupeKey)

		seen, err := d.store.HasAlert(ctx, alert.UserID, alert.DedupeKey)
		if err != nil {
			return DeliveryResult{}, fmt.Errorf("check alert ledger: %w", err)
		}
		if seen {
			return skipped(channel, ReasonDuplicate), nil
		}
	}

	from, to := dayBounds(local)
	release, ok, err := d.cap.Reserve(ctx, alert.UserID, from.Format(storage.DateLayout), settings.MaxAlertsPerDay,
		func(ctx context.Context) (int, error) {
			return d.store.CountAlerts(ctx, alert.UserID, from, to)
		})
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("seed daily cap: %w", err)
	}
	if !ok {
		return skipped(channel, ReasonDailyCap), nil
	}

	msg := Message{
		UserID:   alert.UserID,
		Channel:  channel,
		Title:    alert.Title,
		Body:     alert.Body,
		Metadata: alert.Metadata,
		Email:    settings.Email,
	}
	result, err := d.senders[channel].Send(ctx, msg)
	if err != nil {
		release(false)
		d.logger.Warn("notification send failed",
			zap.String("user_id", alert.UserID),
			zap.String("channel", channel),
			zap.String("alert_type", alert.Type),
			zap.Error(err),
		)
		return skipped(channel, ReasonSendFailed), nil
	}
	if !result.Sent() {
		release(false)
		return result, nil
	}
	release(true)
	result.Channel = channel

	meta, err := json.Marshal(alert.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	if _, err := d.store.AppendAlert(ctx, storage.AlertEvent{
		UserID:    alert.UserID,
		AlertType: alert.Type,
		Category:  alert.Category,
		Channel:   channel,
		DedupeKey: alert.DedupeKey,
		Title:     alert.Title,
		Body:      alert.Body,
		Metadata:  meta,
		SentAt:    now,
	}); err != nil {
		return result, fmt.Errorf("append alert ledger: %w", err)
	}

	d.logger.Debug("notification sent",
		zap.String("user_id", alert.UserID),
		zap.String("channel", channel),
		zap.String("alert_type", alert.Type),
	)
	return result, nil
}

// SentToday counts ledger rows for the user's local day.
func (d *Dispatcher) SentToday(ctx context.Context, userID string, now time.Time, loc *time.Location) (int, error) {
	if loc == nil {
		loc = time.UTC
	}
	from, to := dayBounds(now.In(loc))
	return d.store.CountAlerts(ctx, userID, from, to)
}

func (d *Dispatcher) pickChannel(s storage.NotificationSettings) string {
	for _, ch := range d.order {
		if channelEnabled(s, ch) {
			return ch
		}
	}
	return ""
}

func (d *Dispatcher) claim(userID, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := userID + "|" + key
	if _, busy := d.inflight[k]; busy {
		return false
	}
	d.inflight[k] = struct{}{}
	return true
}

func (d *Dispatcher) unclaim(userID, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, userID+"|"+key)
}

func dayBounds(local time.Time) (time.Time, time.Time) {
	y, m, day := local.Date()
	start := time.Date(y, m, day, 0, 0, 0, 0, local.Location())
	return start, start.AddDate(0, 0, 1)
}
