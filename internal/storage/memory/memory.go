package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/fdg312/metabolic-hub/internal/storage"
)

// MemoryStorage: in-memory реализация storage.Store
type MemoryStorage struct {
	*NutritionMemoryStorage
	*ProfilesMemoryStorage
	*ActivityMemoryStorage
	*AgentMemoryStorage
	*NotificationsMemoryStorage
	*CatalogMemoryStorage
}

var _ storage.Store = (*MemoryStorage)(nil)

// New создаёт пустой MemoryStorage со стандартным справочником продуктов
func New() *MemoryStorage {
	return &MemoryStorage{
		NutritionMemoryStorage:     NewNutritionMemoryStorage(),
		ProfilesMemoryStorage:      NewProfilesMemoryStorage(),
		ActivityMemoryStorage:      NewActivityMemoryStorage(),
		AgentMemoryStorage:         NewAgentMemoryStorage(),
		NotificationsMemoryStorage: NewNotificationsMemoryStorage(),
		CatalogMemoryStorage:       NewCatalogMemoryStorage(),
	}
}

func (m *MemoryStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	_ = ctx

	seen := make(map[string]struct{})
	for _, ids := range [][]string{
		m.NutritionMemoryStorage.userIDs(),
		m.ProfilesMemoryStorage.userIDs(),
		m.ActivityMemoryStorage.userIDs(),
	} {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStorage) Close() error {
	// no-op для memory
	return nil
}

func normalizeUserID(userID string) string {
	return strings.TrimSpace(userID)
}
