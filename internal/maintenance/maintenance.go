// Package maintenance repairs stale explicit step assignments after brand
// permission changes. It runs out-of-band, never on the per-item review path.
package maintenance

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/stagegate/internal/directory"
	"github.com/pitabwire/stagegate/internal/workflow"
	"github.com/pitabwire/stagegate/model"
)

// Service detects and repairs orphaned step assignments.
type Service struct {
	store  workflow.Store
	dir    directory.Directory
	logger *zap.Logger
}

// NewService creates a maintenance Service.
func NewService(store workflow.Store, dir directory.Directory, logger *zap.Logger) *Service {
	return &Service{store: store, dir: dir, logger: logger}
}

// FindOrphanedAssignments flags explicit assignee entries whose user no
// longer holds the step's role on the owning brand. An empty brandID scans
// all brands.
func (s *Service) FindOrphanedAssignments(ctx context.Context, brandID string) ([]model.OrphanedAssignment, error) {
	defs, err := s.store.ListDefinitions(ctx, brandID)
	if err != nil {
		return nil, err
	}

	var orphans []model.OrphanedAssignment
	for _, def := range defs {
		for _, step := range def.Steps {
			for _, userID := range step.AssignedUserIDs {
				ok, err := s.dir.HasRole(ctx, userID, def.BrandID, step.Role)
				if err != nil {
					return nil, model.NewDependencyError(
						"role membership lookup failed: " + err.Error(),
					)
				}
				if !ok {
					orphans = append(orphans, model.OrphanedAssignment{
						WorkflowID: def.ID,
						StepID:     step.ID,
						UserID:     userID,
					})
				}
			}
		}
	}
	return orphans, nil
}

// Reassign rewrites explicit assignee lists, replacing fromUserID with
// toUserID across the scoped workflows. It returns the number of step
// assignments rewritten. A failed workflow update is logged and excluded
// from the count rather than aborting the batch, and no item's current step
// is ever touched.
func (s *Service) Reassign(ctx context.Context, fromUserID, toUserID string, scope model.ReassignScope) (int, error) {
	if fromUserID == "" || toUserID == "" {
		return 0, model.NewValidationError([]model.FieldError{
			{Field: "from_user_id", Code: "REQUIRED", Message: "Both user ids are required"},
		})
	}

	defs, err := s.store.ListDefinitions(ctx, scope.BrandID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, def := range defs {
		if scope.WorkflowID != "" && def.ID != scope.WorkflowID {
			continue
		}

		rewritten, err := s.reassignWorkflow(ctx, def, fromUserID, toUserID)
		if err != nil {
			s.logger.Warn("reassign: workflow update failed",
				zap.String("workflow_id", def.ID),
				zap.String("from_user_id", fromUserID),
				zap.String("to_user_id", toUserID),
				zap.Error(err),
			)
			continue
		}
		count += rewritten
	}
	return count, nil
}

// reassignWorkflow rewrites the matching steps of one workflow and returns
// how many it changed.
func (s *Service) reassignWorkflow(ctx context.Context, def model.WorkflowDefinition, fromUserID, toUserID string) (int, error) {
	rewritten := 0
	for _, step := range def.Steps {
		replaced, ok := replaceAssignee(step.AssignedUserIDs, fromUserID, toUserID)
		if !ok {
			continue
		}
		if err := s.store.UpdateStepAssignees(ctx, def.ID, step.ID, replaced); err != nil {
			return rewritten, err
		}
		rewritten++
	}
	return rewritten, nil
}

// replaceAssignee swaps from for to in the list, deduplicating when to is
// already present. The second return is false when from is not in the list.
func replaceAssignee(ids []string, from, to string) ([]string, bool) {
	found := false
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		switch id {
		case from:
			found = true
		case to:
			// Keep a single occurrence; appended below.
		default:
			out = append(out, id)
		}
	}
	if !found {
		return nil, false
	}
	return append(out, to), true
}
