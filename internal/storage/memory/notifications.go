package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
)

// NotificationsMemoryStorage хранит настройки и журнал отправленных уведомлений
type NotificationsMemoryStorage struct {
	mu       sync.RWMutex
	settings map[string]storage.NotificationSettings
	alerts   map[string][]storage.AlertEvent // user -> events
	dedupe   map[string]map[string]struct{}  // user -> dedupe keys
}

func NewNotificationsMemoryStorage() *NotificationsMemoryStorage {
	return &NotificationsMemoryStorage{
		settings: make(map[string]storage.NotificationSettings),
		alerts:   make(map[string][]storage.AlertEvent),
		dedupe:   make(map[string]map[string]struct{}),
	}
}

func (s *NotificationsMemoryStorage) GetNotificationSettings(ctx context.Context, userID string) (storage.NotificationSettings, bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settings[normalizeUserID(userID)]
	return st, ok, nil
}

func (s *NotificationsMemoryStorage) UpsertNotificationSettings(ctx context.Context, settings storage.NotificationSettings) (storage.NotificationSettings, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UserID = normalizeUserID(settings.UserID)
	now := time.Now().UTC()
	if existing, ok := s.settings[settings.UserID]; ok {
		settings.CreatedAt = existing.CreatedAt
	} else {
		settings.CreatedAt = now
	}
	settings.UpdatedAt = now
	s.settings[settings.UserID] = settings
	return settings, nil
}

func (s *NotificationsMemoryStorage) AppendAlert(ctx context.Context, ev storage.AlertEvent) (storage.AlertEvent, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	ev.UserID = normalizeUserID(ev.UserID)
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}
	s.alerts[ev.UserID] = append(s.alerts[ev.UserID], ev)
	if ev.DedupeKey != "" {
		keys, ok := s.dedupe[ev.UserID]
		if !ok {
			keys = make(map[string]struct{})
			s.dedupe[ev.UserID] = keys
		}
		keys[ev.DedupeKey] = struct{}{}
	}
	return ev, nil
}

func (s *NotificationsMemoryStorage) CountAlerts(ctx context.Context, userID string, from, to time.Time) (int, error) {
	events, err := s.ListAlerts(ctx, userID, from, to)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

func (s *NotificationsMemoryStorage) ListAlerts(ctx context.Context, userID string, from, to time.Time) ([]storage.AlertEvent, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.AlertEvent, 0)
	for _, ev := range s.alerts[normalizeUserID(userID)] {
		if ev.SentAt.Before(from) || !ev.SentAt.Before(to) {
			continue
		}
		result = append(result, ev)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].SentAt.Before(result[j].SentAt) })
	return result, nil
}

func (s *NotificationsMemoryStorage) HasAlert(ctx context.Context, userID, dedupeKey string) (bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.dedupe[normalizeUserID(userID)][dedupeKey]
	return ok, nil
}
