package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
)

// AgentMemoryStorage хранит AgentState и рекомендации под одним мьютексом,
// чтобы CommitScan был атомарным.
type AgentMemoryStorage struct {
	mu              sync.RWMutex
	states          map[string]storage.AgentState
	recommendations []storage.PendingRecommendation
}

func NewAgentMemoryStorage() *AgentMemoryStorage {
	return &AgentMemoryStorage{
		states:          make(map[string]storage.AgentState),
		recommendations: make([]storage.PendingRecommendation, 0),
	}
}

func (s *AgentMemoryStorage) GetAgentState(ctx context.Context, userID string) (storage.AgentState, bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[normalizeUserID(userID)]
	return st, ok, nil
}

func (s *AgentMemoryStorage) CreateAgentState(ctx context.Context, state storage.AgentState) (storage.AgentState, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	state.UserID = normalizeUserID(state.UserID)
	if existing, ok := s.states[state.UserID]; ok {
		return existing, nil
	}
	now := time.Now().UTC()
	state.Version = 1
	state.CreatedAt = now
	state.UpdatedAt = now
	s.states[state.UserID] = state
	return state, nil
}

func (s *AgentMemoryStorage) CommitScan(ctx context.Context, commit storage.ScanCommit) (storage.AgentState, []storage.PendingRecommendation, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	state := commit.State
	state.UserID = normalizeUserID(state.UserID)
	current, ok := s.states[state.UserID]
	if !ok {
		return storage.AgentState{}, nil, storage.ErrNotFound
	}
	if current.Version != state.Version {
		return storage.AgentState{}, nil, storage.ErrConflict
	}

	now := time.Now().UTC()
	saved := make([]storage.PendingRecommendation, 0, len(commit.Recommendations))
	for _, rec := range commit.Recommendations {
		rec.UserID = state.UserID
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.Status = storage.StatusPending
		rec.DecidedAt = nil
		saved = append(saved, rec)
	}
	s.recommendations = append(s.recommendations, saved...)

	state.CreatedAt = current.CreatedAt
	state.UpdatedAt = now
	state.Version = current.Version + 1
	s.states[state.UserID] = state
	return state, saved, nil
}

func (s *AgentMemoryStorage) GetRecommendation(ctx context.Context, userID string, id uuid.UUID) (storage.PendingRecommendation, bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	userID = normalizeUserID(userID)
	for _, rec := range s.recommendations {
		if rec.ID == id && rec.UserID == userID {
			return rec, true, nil
		}
	}
	return storage.PendingRecommendation{}, false, nil
}

func (s *AgentMemoryStorage) ListRecommendations(ctx context.Context, userID, status string, limit int) ([]storage.PendingRecommendation, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	userID = normalizeUserID(userID)
	status = strings.ToUpper(strings.TrimSpace(status))
	if limit <= 0 {
		limit = 50
	}

	result := make([]storage.PendingRecommendation, 0)
	for _, rec := range s.recommendations {
		if rec.UserID != userID {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		result = append(result, rec)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *AgentMemoryStorage) DecideRecommendation(ctx context.Context, userID string, id uuid.UUID, status string, decidedAt time.Time) (storage.PendingRecommendation, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	userID = normalizeUserID(userID)
	for i := range s.recommendations {
		rec := &s.recommendations[i]
		if rec.ID != id || rec.UserID != userID {
			continue
		}
		if rec.Status != storage.StatusPending {
			return storage.PendingRecommendation{}, storage.ErrNotPending
		}
		decided := decidedAt.UTC()
		rec.Status = status
		rec.DecidedAt = &decided
		return *rec, nil
	}
	return storage.PendingRecommendation{}, storage.ErrNotFound
}
