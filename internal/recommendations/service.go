package recommendations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fdg312/metabolic-hub/internal/agent"
	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/fdg312/metabolic-hub/internal/userlock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrNotFound       = storage.ErrNotFound
	ErrNotPending     = storage.ErrNotPending
)

const adjustmentReason = "recommendation_accepted"

type Store interface {
	storage.RecommendationsStorage
	storage.ProfilesStorage
	storage.AgentStateStorage
}

// Service records user decisions on agent recommendations and applies the
// accepted ones that change a profile threshold.
type Service struct {
	store  Store
	locks  *userlock.Locker
	logger *zap.Logger
}

func NewService(store Store, locks *userlock.Locker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = userlock.New()
	}
	return &Service{store: store, locks: locks, logger: logger}
}

func (s *Service) List(ctx context.Context, userID, status string, limit int) ([]storage.PendingRecommendation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidRequest
	}
	status, err := normalizeStatus(status)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	return s.store.ListRecommendations(ctx, userID, status, limit)
}

// Accept marks a pending recommendation accepted. A carb ceiling adjustment
// also lowers the profile ceiling and the agent state with an audit row.
func (s *Service) Accept(ctx context.Context, userID string, id uuid.UUID, at time.Time) (storage.PendingRecommendation, error) {
	return s.decide(ctx, userID, id, storage.StatusAccepted, at)
}

func (s *Service) Reject(ctx context.Context, userID string, id uuid.UUID, at time.Time) (storage.PendingRecommendation, error) {
	return s.decide(ctx, userID, id, storage.StatusRejected, at)
}

func (s *Service) decide(ctx context.Context, userID string, id uuid.UUID, status string, at time.Time) (storage.PendingRecommendation, error) {
	if strings.TrimSpace(userID) == "" || id == uuid.Nil {
		return storage.PendingRecommendation{}, ErrInvalidRequest
	}
	if at.IsZero() {
		at = time.Now()
	}

	var decided storage.PendingRecommendation
	err := s.locks.Do(ctx, userID, func(ctx context.Context) error {
		rec, found, err := s.store.GetRecommendation(ctx, userID, id)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if rec.Status != storage.StatusPending {
			return ErrNotPending
		}

		if status == storage.StatusAccepted && rec.Type == agent.TypeWeeklyCarbCeiling {
			if err := s.applyCarbCeiling(ctx, rec, at); err != nil {
				return err
			}
		}

		decided, err = s.store.DecideRecommendation(ctx, userID, id, status, at.UTC())
		return err
	})
	if err != nil {
		return storage.PendingRecommendation{}, err
	}

	s.logger.Info("recommendation decided",
		zap.String("user_id", userID),
		zap.String("recommendation_id", id.String()),
		zap.String("type", decided.Type),
		zap.String("status", status),
	)
	return decided, nil
}

func (s *Service) applyCarbCeiling(ctx context.Context, rec storage.PendingRecommendation, at time.Time) error {
	payload, err := parseCarbCeilingPayload(rec.DataUsed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	profile, found, err := s.store.GetProfile(ctx, rec.UserID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	target := payload.CarbCeilingTargetG
	if target >= profile.CarbCeiling {
		// an earlier acceptance already lowered the ceiling at least this far
		s.logger.Info("carb ceiling already at or below target",
			zap.String("user_id", rec.UserID),
			zap.Float64("ceiling", profile.CarbCeiling),
			zap.Float64("target", target),
		)
		return nil
	}

	recID := rec.ID
	if _, err := s.store.ApplyProfileAdjustment(ctx, storage.ProfileAdjustment{
		UserID:           rec.UserID,
		Field:            storage.FieldCarbCeiling,
		Before:           profile.CarbCeiling,
		After:            target,
		Reason:           adjustmentReason,
		RecommendationID: &recID,
		CreatedAt:        at.UTC(),
	}); err != nil {
		return fmt.Errorf("apply carb ceiling: %w", err)
	}

	return s.syncAgentCeiling(ctx, rec.UserID, target)
}

// syncAgentCeiling mirrors the new ceiling into the agent state. A scan
// committing in between forces one re-read.
func (s *Service) syncAgentCeiling(ctx context.Context, userID string, ceiling float64) error {
	for attempt := 1; ; attempt++ {
		state, found, err := s.store.GetAgentState(ctx, userID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		state.CarbCeiling = ceiling
		_, _, err = s.store.CommitScan(ctx, storage.ScanCommit{State: state})
		if errors.Is(err, storage.ErrConflict) && attempt < 2 {
			continue
		}
		if err != nil {
			return fmt.Errorf("update agent state: %w", err)
		}
		return nil
	}
}

func parseCarbCeilingPayload(data []byte) (agent.CarbCeilingPayload, error) {
	var payload agent.CarbCeilingPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return agent.CarbCeilingPayload{}, err
	}
	if payload.CarbCeilingTargetG <= 0 || payload.CarbCeilingTargetG >= payload.CarbCeilingCurrentG {
		return agent.CarbCeilingPayload{}, errors.New("proposed ceiling must be positive and below the current one")
	}
	return payload, nil
}

func normalizeStatus(status string) (string, error) {
	switch s := strings.ToUpper(strings.TrimSpace(status)); s {
	case "", storage.StatusPending, storage.StatusAccepted, storage.StatusRejected:
		return s, nil
	default:
		return "", ErrInvalidRequest
	}
}
