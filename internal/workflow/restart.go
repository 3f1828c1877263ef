package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/stagegate/internal/notify"
	"github.com/pitabwire/stagegate/model"
)

// Restart resets a rejected item back to the first step of its workflow.
// Only the brand's designated administrator (or a global admin) may restart;
// this is a stronger requirement than being a step assignee. Previously
// completed steps are preserved: the audit trail, not the completed set,
// distinguishes review passes.
func (e *Engine) Restart(ctx context.Context, rctx *model.RequestContext, itemID string) (model.Item, error) {
	// 1. Load the item.
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return model.Item{}, err
	}

	// 2. Only rejected items can be restarted.
	if item.Status != model.ItemStatusRejected {
		return model.Item{}, model.NewNotRejectedError(
			fmt.Sprintf("item %q is %s, not rejected", itemID, item.Status),
		)
	}

	// 3. Only the brand admin may restart.
	if !rctx.IsGlobalAdmin {
		isAdmin, err := e.dir.IsBrandAdmin(ctx, rctx.ActorID, item.BrandID)
		if err != nil {
			return model.Item{}, model.NewDependencyError(
				fmt.Sprintf("brand admin lookup failed: %v", err),
			)
		}
		if !isAdmin {
			return model.Item{}, model.NewNotBrandAdminError(
				"only the brand administrator can restart a rejected item",
			)
		}
	}

	// 4. Reset to the first step.
	def, err := e.store.GetDefinition(ctx, item.WorkflowID)
	if err != nil {
		return model.Item{}, err
	}
	first := firstStepOf(def)
	if first == nil {
		return model.Item{}, model.NewNoActiveStepError(
			fmt.Sprintf("workflow %q has no steps to restart into", item.WorkflowID),
		)
	}

	item.CurrentStepID = first.ID
	item.Status = model.ItemStatusPendingReview

	// 5. Commit with the restart audit entry.
	entry := e.newEntry(item.ID, first.ID, rctx.ActorID, model.ActionRestart, "")
	updated, err := e.store.UpdateItem(ctx, item, entry)
	if err != nil {
		return model.Item{}, err
	}

	e.logger.Info("item restarted",
		zap.String("item_id", updated.ID),
		zap.String("step_id", first.ID),
		zap.String("actor_id", rctx.ActorID),
	)

	// 6. Post-commit: tell the first step's reviewers.
	assignees, err := e.resolver.ResolveAssignees(ctx, first, updated.BrandID)
	if err != nil {
		e.logger.Warn("restart: assignee resolution failed",
			zap.String("item_id", updated.ID),
			zap.String("step_id", first.ID),
			zap.Error(err),
		)
	} else {
		e.notify(ctx, assignees, notify.EventItemRestarted, updated, first.ID)
	}

	return updated, nil
}
