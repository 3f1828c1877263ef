package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/stagegate/model"
)

// AssignmentGuard authorizes review actions against an item's current step.
// A step-2 reviewer must never be able to act while the item is still at
// step 1, and a user who lost brand access loses approval rights even if a
// stale explicit assignee list still names them.
type AssignmentGuard struct {
	resolver *StepResolver
	logger   *zap.Logger
}

// NewAssignmentGuard creates an AssignmentGuard.
func NewAssignmentGuard(resolver *StepResolver, logger *zap.Logger) *AssignmentGuard {
	return &AssignmentGuard{resolver: resolver, logger: logger}
}

// CanAct reports whether the actor may act on the item at its current step.
// Global admins always pass. CanAct never returns an error: any
// disqualification, including a failed membership lookup, is false.
func (g *AssignmentGuard) CanAct(ctx context.Context, item *model.Item, rctx *model.RequestContext) bool {
	if rctx.IsGlobalAdmin {
		return true
	}
	if item.CurrentStepID == "" || item.WorkflowID == "" {
		return false
	}

	def, err := g.resolver.store.GetDefinition(ctx, item.WorkflowID)
	if err != nil {
		g.logger.Warn("guard: definition lookup failed",
			zap.String("item_id", item.ID),
			zap.String("workflow_id", item.WorkflowID),
			zap.Error(err),
		)
		return false
	}

	step := findStep(def, item.CurrentStepID)
	if step == nil {
		return false
	}

	assignees, err := g.resolver.ResolveAssignees(ctx, step, item.BrandID)
	if err != nil {
		g.logger.Warn("guard: assignee resolution failed",
			zap.String("item_id", item.ID),
			zap.String("step_id", step.ID),
			zap.Error(err),
		)
		return false
	}

	for _, id := range assignees {
		if id == rctx.ActorID {
			return true
		}
	}
	return false
}
