package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/atinyakov/qrmenu/internal/cache"
	"github.com/atinyakov/qrmenu/internal/models"
	"github.com/atinyakov/qrmenu/internal/repository"
)

// MenuService saves and serves the public menu of a tenant.
type MenuService struct {
	docs  *repository.Documents
	menus *cache.Menus
	group singleflight.Group
	log   *zap.Logger
}

// NewMenuService constructs a MenuService. menus may be nil to disable caching.
func NewMenuService(docs *repository.Documents, menus *cache.Menus, log *zap.Logger) *MenuService {
	return &MenuService{docs: docs, menus: menus, log: log}
}

// SaveMenu validates items and replaces the tenant's menu with them. Items
// without an id get a fresh one. It returns the path of the written document.
//
// Two concurrent saves never interleave within the document: the last
// successful write wins as a whole.
func (s *MenuService) SaveMenu(ctx context.Context, tenant string, items []models.MenuItem) (string, error) {
	if items == nil {
		return "", fmt.Errorf("%w: items missing", ErrInvalidMenu)
	}

	seen := make(map[string]struct{}, len(items))
	for i := range items {
		it := &items[i]
		if strings.TrimSpace(it.Name) == "" {
			return "", fmt.Errorf("%w: item %d has no name", ErrInvalidMenu, i)
		}
		if math.IsNaN(it.Price) || math.IsInf(it.Price, 0) || it.Price < 0 {
			return "", fmt.Errorf("%w: item %d has an invalid price", ErrInvalidMenu, i)
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if _, dup := seen[it.ID]; dup {
			return "", fmt.Errorf("%w: duplicate id %q", ErrInvalidMenu, it.ID)
		}
		seen[it.ID] = struct{}{}
	}

	path := models.MenuPath(tenant)
	if _, err := s.docs.ReplaceJSON(ctx, path, items, fmt.Sprintf("chore(menu): update %s.json", tenant)); err != nil {
		return "", err
	}
	if s.menus != nil {
		s.menus.Delete(tenant)
	}

	s.log.Info("menu saved", zap.String("tenant", tenant), zap.Int("items", len(items)))
	return path, nil
}

// GetMenu returns the public menu of tenant. A missing or unreadable menu
// is empty. Concurrent misses for the same tenant share one store read.
func (s *MenuService) GetMenu(ctx context.Context, tenant string) ([]models.MenuItem, error) {
	if s.menus != nil {
		if items, ok := s.menus.Get(tenant); ok {
			return items, nil
		}
	}

	v, err, _ := s.group.Do(tenant, func() (interface{}, error) {
		items, _, err := repository.ReadJSON(ctx, s.docs, models.MenuPath(tenant), emptyMenu)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = emptyMenu()
		}
		if s.menus != nil {
			s.menus.Set(tenant, items, menuCost(items))
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.MenuItem), nil
}

func emptyMenu() []models.MenuItem { return []models.MenuItem{} }

// menuCost approximates the encoded size of items.
func menuCost(items []models.MenuItem) int {
	n := 2
	for _, it := range items {
		n += 64 + len(it.ID) + len(it.Name) + len(it.Description) + len(it.ImageRef) + len(it.Category)
	}
	return n
}
