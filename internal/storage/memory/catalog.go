package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fdg312/metabolic-hub/internal/storage"
)

// defaultCatalog: небольшой стартовый справочник для резервной оценки
var defaultCatalog = []storage.FoodItem{
	{Name: "chapati", FoodGroup: "staple", Macros: storage.MacroTotals{ProteinG: 3, CarbsG: 18, FatsG: 3, FiberG: 2, HiddenOilTsp: 0.5}, StapleUnits: 1},
	{Name: "rice", FoodGroup: "staple", Macros: storage.MacroTotals{ProteinG: 4, CarbsG: 45, FatsG: 0.5, FiberG: 1}, StapleUnits: 1},
	{Name: "dal", FoodGroup: "protein", Macros: storage.MacroTotals{ProteinG: 9, CarbsG: 20, FatsG: 4, FiberG: 5, HiddenOilTsp: 1}},
	{Name: "paneer", FoodGroup: "protein", Macros: storage.MacroTotals{ProteinG: 18, CarbsG: 3, FatsG: 20, HiddenOilTsp: 0.5}},
	{Name: "eggs", FoodGroup: "protein", Macros: storage.MacroTotals{ProteinG: 12, CarbsG: 1, FatsG: 10}},
	{Name: "chicken", FoodGroup: "protein", Macros: storage.MacroTotals{ProteinG: 27, FatsG: 7, HiddenOilTsp: 1}},
	{Name: "almonds", FoodGroup: "nut", Macros: storage.MacroTotals{ProteinG: 6, CarbsG: 6, FatsG: 14, FiberG: 3.5}, HealthyFatScore: 8},
	{Name: "walnuts", FoodGroup: "nut", Macros: storage.MacroTotals{ProteinG: 4, CarbsG: 4, FatsG: 18, FiberG: 2}, HealthyFatScore: 9},
	{Name: "apple", FoodGroup: "fruit", Macros: storage.MacroTotals{CarbsG: 25, SugarG: 19, FiberG: 4}},
	{Name: "banana", FoodGroup: "fruit", Macros: storage.MacroTotals{ProteinG: 1, CarbsG: 27, SugarG: 14, FiberG: 3}},
	{Name: "salad", FoodGroup: "vegetable", Macros: storage.MacroTotals{ProteinG: 2, CarbsG: 8, FiberG: 4, HiddenOilTsp: 0.5}},
	{Name: "curd", FoodGroup: "protein", Macros: storage.MacroTotals{ProteinG: 8, CarbsG: 6, FatsG: 4, SugarG: 5}},
}

type CatalogMemoryStorage struct {
	mu    sync.RWMutex
	items map[string]storage.FoodItem
}

func NewCatalogMemoryStorage() *CatalogMemoryStorage {
	s := &CatalogMemoryStorage{items: make(map[string]storage.FoodItem, len(defaultCatalog))}
	for _, item := range defaultCatalog {
		s.items[item.Name] = item
	}
	return s
}

func (s *CatalogMemoryStorage) ListFoodItems(ctx context.Context) ([]storage.FoodItem, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.FoodItem, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *CatalogMemoryStorage) UpsertFoodItem(ctx context.Context, item storage.FoodItem) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	item.Name = strings.ToLower(strings.TrimSpace(item.Name))
	s.items[item.Name] = item
	return nil
}
