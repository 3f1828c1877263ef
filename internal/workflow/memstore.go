package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/stagegate/model"
)

// MemoryStore is an in-memory Store for tests and single-process deployments.
// The version check under the mutex gives the same one-writer-per-item
// guarantee the Postgres store enforces transactionally.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[string]model.Item
	history map[string][]model.HistoryEntry       // key: item ID
	defs    map[string]model.WorkflowDefinition   // key: workflow ID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[string]model.Item),
		history: make(map[string][]model.HistoryEntry),
		defs:    make(map[string]model.WorkflowDefinition),
	}
}

// CreateItem persists a new item.
func (s *MemoryStore) CreateItem(_ context.Context, item model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("item %q already exists", item.ID))
	}
	s.items[item.ID] = item
	return nil
}

// GetItem retrieves an item by id.
func (s *MemoryStore) GetItem(_ context.Context, itemID string) (model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[itemID]
	if !exists {
		return model.Item{}, model.NewNotFoundError(fmt.Sprintf("item %q not found", itemID))
	}
	return item, nil
}

// UpdateItem persists the item and appends the audit entry atomically,
// guarded by the item's version.
func (s *MemoryStore) UpdateItem(_ context.Context, item model.Item, entry model.HistoryEntry) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[item.ID]
	if !exists {
		return model.Item{}, model.NewNotFoundError(fmt.Sprintf("item %q not found", item.ID))
	}

	if existing.Version != item.Version {
		return model.Item{}, model.NewConflictError(
			fmt.Sprintf("item %q version conflict (expected %d, got %d)", item.ID, item.Version, existing.Version),
		)
	}

	item.Version++
	item.UpdatedAt = time.Now().UTC()
	s.items[item.ID] = item
	s.history[item.ID] = append(s.history[item.ID], entry)
	return item, nil
}

// GetDefinition retrieves a workflow definition with steps in ascending order.
func (s *MemoryStore) GetDefinition(_ context.Context, workflowID string) (model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.defs[workflowID]
	if !exists {
		return model.WorkflowDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", workflowID),
		)
	}
	return copyDefinition(def), nil
}

// ListDefinitions returns definitions, optionally filtered by brand.
func (s *MemoryStore) ListDefinitions(_ context.Context, brandID string) ([]model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowDefinition
	for _, def := range s.defs {
		if brandID != "" && def.BrandID != brandID {
			continue
		}
		result = append(result, copyDefinition(def))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateStepAssignees rewrites one step's explicit assignee list.
func (s *MemoryStore) UpdateStepAssignees(_ context.Context, workflowID, stepID string, userIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, exists := s.defs[workflowID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow %q not found", workflowID))
	}
	for i := range def.Steps {
		if def.Steps[i].ID == stepID {
			def.Steps[i].AssignedUserIDs = append([]string(nil), userIDs...)
			s.defs[workflowID] = def
			return nil
		}
	}
	return model.NewNotFoundError(fmt.Sprintf("step %q not found in workflow %q", stepID, workflowID))
}

// History retrieves all audit entries for an item, oldest first.
func (s *MemoryStore) History(_ context.Context, itemID string) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[itemID]
	result := make([]model.HistoryEntry, len(entries))
	copy(result, entries)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// PutDefinition stores a workflow definition. Definitions are inputs to the
// approval core; this exists for wiring and tests, not for the hot path.
func (s *MemoryStore) PutDefinition(def model.WorkflowDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = copyDefinition(def)
}

// Len returns the number of stored items.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// copyDefinition deep-copies a definition so callers can't mutate the stored
// steps in place.
func copyDefinition(def model.WorkflowDefinition) model.WorkflowDefinition {
	out := def
	out.Steps = make([]model.WorkflowStep, len(def.Steps))
	copy(out.Steps, def.Steps)
	for i := range out.Steps {
		out.Steps[i].AssignedUserIDs = append([]string(nil), def.Steps[i].AssignedUserIDs...)
	}
	sort.Slice(out.Steps, func(i, j int) bool { return out.Steps[i].Order < out.Steps[j].Order })
	return out
}

// HealthCheck always succeeds: the in-memory store has no dependency that
// can fail.
func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}
