package workflow

import (
	"context"

	"github.com/pitabwire/stagegate/model"
)

// Store persists items, their audit history, and the workflow definitions
// they reference. Definitions are read-only to the approval core except for
// the maintenance rewrite of explicit step assignments.
type Store interface {
	// CreateItem persists a new item. Returns CONFLICT if the id exists.
	CreateItem(ctx context.Context, item model.Item) error

	// GetItem retrieves an item by id. Returns NOT_FOUND if absent.
	GetItem(ctx context.Context, itemID string) (model.Item, error)

	// UpdateItem persists the item and appends the history entry in a single
	// atomic commit, guarded by the item's version: the stored version must
	// equal item.Version or CONFLICT is returned and nothing is written. On
	// success the returned item carries the incremented version.
	UpdateItem(ctx context.Context, item model.Item, entry model.HistoryEntry) (model.Item, error)

	// GetDefinition retrieves a workflow definition with its steps ordered by
	// ascending step order. Returns NOT_FOUND if absent.
	GetDefinition(ctx context.Context, workflowID string) (model.WorkflowDefinition, error)

	// ListDefinitions returns workflow definitions, optionally filtered by
	// brand. An empty brandID means all brands.
	ListDefinitions(ctx context.Context, brandID string) ([]model.WorkflowDefinition, error)

	// UpdateStepAssignees rewrites the explicit assignee list of one step.
	// It never touches any item's current step.
	UpdateStepAssignees(ctx context.Context, workflowID, stepID string, userIDs []string) error

	// History retrieves all audit entries for an item, oldest first.
	History(ctx context.Context, itemID string) ([]model.HistoryEntry, error)
}
