package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fdg312/metabolic-hub/internal/storage"
	"github.com/google/uuid"
)

type ProfilesMemoryStorage struct {
	mu          sync.RWMutex
	profiles    map[string]storage.MetabolicProfile
	adjustments map[string][]storage.ProfileAdjustment
}

func NewProfilesMemoryStorage() *ProfilesMemoryStorage {
	return &ProfilesMemoryStorage{
		profiles:    make(map[string]storage.MetabolicProfile),
		adjustments: make(map[string][]storage.ProfileAdjustment),
	}
}

func (s *ProfilesMemoryStorage) GetProfile(ctx context.Context, userID string) (storage.MetabolicProfile, bool, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[normalizeUserID(userID)]
	return p, ok, nil
}

func (s *ProfilesMemoryStorage) UpsertProfile(ctx context.Context, profile storage.MetabolicProfile) (storage.MetabolicProfile, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	profile.UserID = normalizeUserID(profile.UserID)
	now := time.Now().UTC()
	if existing, ok := s.profiles[profile.UserID]; ok {
		profile.CreatedAt = existing.CreatedAt
	} else {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	s.profiles[profile.UserID] = profile
	return profile, nil
}

func (s *ProfilesMemoryStorage) ApplyProfileAdjustment(ctx context.Context, adj storage.ProfileAdjustment) (storage.MetabolicProfile, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	adj.UserID = normalizeUserID(adj.UserID)
	profile, ok := s.profiles[adj.UserID]
	if !ok {
		return storage.MetabolicProfile{}, storage.ErrNotFound
	}

	switch adj.Field {
	case storage.FieldCarbCeiling:
		adj.Before = profile.CarbCeiling
		profile.CarbCeiling = adj.After
	case storage.FieldProteinTargetMin:
		adj.Before = profile.ProteinTargetMin
		profile.ProteinTargetMin = adj.After
	case storage.FieldOilLimitTsp:
		adj.Before = profile.OilLimitTsp
		profile.OilLimitTsp = adj.After
	default:
		return storage.MetabolicProfile{}, fmt.Errorf("unsupported profile field %q", adj.Field)
	}

	if adj.ID == uuid.Nil {
		adj.ID = uuid.New()
	}
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}
	profile.UpdatedAt = adj.CreatedAt

	s.profiles[adj.UserID] = profile
	s.adjustments[adj.UserID] = append(s.adjustments[adj.UserID], adj)
	return profile, nil
}

func (s *ProfilesMemoryStorage) ListProfileAdjustments(ctx context.Context, userID string, limit int) ([]storage.ProfileAdjustment, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	result := append([]storage.ProfileAdjustment(nil), s.adjustments[normalizeUserID(userID)]...)
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *ProfilesMemoryStorage) userIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		out = append(out, id)
	}
	return out
}
