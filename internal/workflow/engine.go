// Package workflow implements the approval state machine for content and
// claim items: ordered review steps, role-gated transitions, an append-only
// audit trail, and rejection/restart semantics.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/stagegate/internal/directory"
	"github.com/pitabwire/stagegate/internal/notify"
	"github.com/pitabwire/stagegate/model"
)

// Engine applies review transitions to items. It is stateless between calls;
// any number of request handlers may invoke it concurrently. The store's
// version guard serializes writers per item: two reviewers approving the same
// item simultaneously yield exactly one accepted transition and one CONFLICT.
type Engine struct {
	store      Store
	resolver   *StepResolver
	guard      *AssignmentGuard
	dir        directory.Directory
	dispatcher notify.Dispatcher
	logger     *zap.Logger
}

// NewEngine creates an Engine wired to the given store and collaborators.
func NewEngine(store Store, dir directory.Directory, dispatcher notify.Dispatcher, logger *zap.Logger) *Engine {
	resolver := NewStepResolver(store, dir)
	return &Engine{
		store:      store,
		resolver:   resolver,
		guard:      NewAssignmentGuard(resolver, logger),
		dir:        dir,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// NewItemInput describes an item to be created.
type NewItemInput struct {
	BrandID    string `json:"brand_id"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	WorkflowID string `json:"workflow_id"`
}

// Create places a new item into its workflow. The item starts at the first
// step in pending_review; when the workflow has no steps, or no workflow is
// referenced, the item stays draft and carries no current step. Creation
// records no history entry: the audit trail records transitions only.
func (e *Engine) Create(ctx context.Context, rctx *model.RequestContext, input NewItemInput) (model.Item, error) {
	// 1. Validate input.
	var details []model.FieldError
	if input.BrandID == "" {
		details = append(details, model.FieldError{Field: "brand_id", Code: "REQUIRED", Message: "Brand id is required"})
	}
	if input.Kind != model.ItemKindContent && input.Kind != model.ItemKindClaim {
		details = append(details, model.FieldError{Field: "kind", Code: "INVALID", Message: "Kind must be content or claim"})
	}
	if len(details) > 0 {
		return model.Item{}, model.NewValidationError(details)
	}

	now := time.Now().UTC()
	item := model.Item{
		ID:        uuid.New().String(),
		BrandID:   input.BrandID,
		Kind:      input.Kind,
		OwnerID:   rctx.ActorID,
		Title:     input.Title,
		Status:    model.ItemStatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 2. Place the item at the workflow's first step, if there is one.
	var firstAssignees []string
	if input.WorkflowID != "" {
		def, err := e.store.GetDefinition(ctx, input.WorkflowID)
		if err != nil {
			return model.Item{}, err
		}
		if def.BrandID != input.BrandID {
			return model.Item{}, model.NewValidationError([]model.FieldError{
				{Field: "workflow_id", Code: "INVALID", Message: "Workflow belongs to a different brand"},
			})
		}

		item.WorkflowID = def.ID
		if first := firstStepOf(def); first != nil {
			item.CurrentStepID = first.ID
			item.Status = model.ItemStatusPendingReview
			firstAssignees, err = e.resolver.ResolveAssignees(ctx, first, item.BrandID)
			if err != nil {
				// Assignment resolution failing must not block creation;
				// notification is best-effort anyway.
				e.logger.Warn("create: assignee resolution failed",
					zap.String("workflow_id", def.ID),
					zap.String("step_id", first.ID),
					zap.Error(err),
				)
				firstAssignees = nil
			}
		}
	}

	// 3. Persist.
	if err := e.store.CreateItem(ctx, item); err != nil {
		return model.Item{}, err
	}

	// 4. Post-commit: tell the first step's reviewers.
	e.notify(ctx, firstAssignees, notify.EventStepReady, item, item.CurrentStepID)

	return item, nil
}

// Advance applies an approve or reject action to an item, atomically with its
// audit entry. CONFLICT is the only retryable outcome: re-invoking with
// identical input is safe because the engine re-evaluates live state.
func (e *Engine) Advance(ctx context.Context, rctx *model.RequestContext, itemID, action, feedback string) (model.Item, error) {
	// 1. Validate the action.
	if action != model.ActionApprove && action != model.ActionReject {
		return model.Item{}, model.NewValidationError([]model.FieldError{
			{Field: "action", Code: "INVALID", Message: "Action must be approve or reject"},
		})
	}

	// 2. Load the item.
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return model.Item{}, err
	}

	// 3. Verify the item is reviewable in its current state.
	if item.IsTerminal() {
		return model.Item{}, model.NewWorkflowCompleteError(
			fmt.Sprintf("item %q has already completed its workflow", itemID),
		)
	}
	if item.Status == model.ItemStatusRejected {
		// The retained step id is for traceability only; a rejected item has
		// no active step until a brand admin restarts it.
		return model.Item{}, model.NewNoActiveStepError(
			fmt.Sprintf("item %q is rejected; restart it to resume review", itemID),
		)
	}
	if item.CurrentStepID == "" {
		return model.Item{}, model.NewNoActiveStepError(
			fmt.Sprintf("item %q has no active workflow step", itemID),
		)
	}

	// 4. Authorize the actor against the current step.
	if !e.guard.CanAct(ctx, &item, rctx) {
		return model.Item{}, model.NewPermissionDeniedError(
			"not an assignee of the current step",
		)
	}

	// 5. Resolve the current step from the definition.
	def, err := e.store.GetDefinition(ctx, item.WorkflowID)
	if err != nil {
		return model.Item{}, err
	}
	step := findStep(def, item.CurrentStepID)
	if step == nil {
		return model.Item{}, model.NewNoActiveStepError(
			fmt.Sprintf("step %q no longer exists in workflow %q", item.CurrentStepID, item.WorkflowID),
		)
	}

	// 6. Apply the action.
	var nextAssignees []string
	switch action {
	case model.ActionReject:
		// Current step and completed set are retained for traceability.
		item.Status = model.ItemStatusRejected

	case model.ActionApprove:
		// Re-approving an already-completed step is a no-op on the set but
		// still appends a history entry for audit.
		item.CompleteStep(step.ID)

		next := nextStepOf(def, step.Order)
		if next != nil {
			item.CurrentStepID = next.ID
			nextAssignees, err = e.resolver.ResolveAssignees(ctx, next, item.BrandID)
			if err != nil {
				e.logger.Warn("advance: assignee resolution failed",
					zap.String("item_id", item.ID),
					zap.String("step_id", next.ID),
					zap.Error(err),
				)
				nextAssignees = nil
			}
		} else {
			item.CurrentStepID = ""
			item.Status = model.ItemStatusApproved
		}
	}

	// 7. Commit the item and its audit entry atomically.
	entry := e.newEntry(item.ID, step.ID, rctx.ActorID, action, feedback)
	updated, err := e.store.UpdateItem(ctx, item, entry)
	if err != nil {
		return model.Item{}, err
	}

	e.logger.Info("transition applied",
		zap.String("item_id", updated.ID),
		zap.String("action", action),
		zap.String("step_id", step.ID),
		zap.String("status", updated.Status),
		zap.String("actor_id", rctx.ActorID),
	)

	// 8. Post-commit notifications, best-effort.
	switch action {
	case model.ActionReject:
		e.notify(ctx, []string{updated.OwnerID}, notify.EventItemRejected, updated, step.ID)
	case model.ActionApprove:
		if updated.CurrentStepID != "" {
			e.notify(ctx, nextAssignees, notify.EventStepReady, updated, updated.CurrentStepID)
		} else {
			e.notify(ctx, []string{updated.OwnerID}, notify.EventItemApproved, updated, "")
		}
	}

	return updated, nil
}

// GetItem retrieves an item by id.
func (e *Engine) GetItem(ctx context.Context, itemID string) (model.Item, error) {
	return e.store.GetItem(ctx, itemID)
}

// Progress reports how far an item has moved through its workflow. The
// completed count intersects the completed set with the definition's current
// steps, so ids orphaned by an edited definition never inflate it.
func (e *Engine) Progress(ctx context.Context, itemID string) (model.Progress, error) {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return model.Progress{}, err
	}

	if item.WorkflowID == "" {
		return model.Progress{}, nil
	}

	def, err := e.store.GetDefinition(ctx, item.WorkflowID)
	if err != nil {
		return model.Progress{}, err
	}

	completed := 0
	for i := range def.Steps {
		if item.HasCompleted(def.Steps[i].ID) {
			completed++
		}
	}

	return model.Progress{
		CurrentStepID:  item.CurrentStepID,
		CompletedCount: completed,
		TotalSteps:     len(def.Steps),
		IsComplete:     item.CurrentStepID == "" && item.IsTerminal(),
	}, nil
}

// History returns the item's audit trail, oldest first.
func (e *Engine) History(ctx context.Context, itemID string) ([]model.HistoryEntry, error) {
	if _, err := e.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return e.store.History(ctx, itemID)
}

// newEntry builds an audit entry for a transition.
func (e *Engine) newEntry(itemID, stepID, actorID, action, feedback string) model.HistoryEntry {
	return model.HistoryEntry{
		ID:        uuid.New().String(),
		ItemID:    itemID,
		StepID:    stepID,
		ActorID:   actorID,
		Action:    action,
		Feedback:  feedback,
		CreatedAt: time.Now().UTC(),
	}
}

// notify dispatches a notification after a commit. Delivery failures are
// logged and never surfaced; a committed transition stands regardless.
func (e *Engine) notify(ctx context.Context, userIDs []string, event string, item model.Item, stepID string) {
	if e.dispatcher == nil || len(userIDs) == 0 {
		return
	}
	payload := map[string]any{
		"item_id":  item.ID,
		"brand_id": item.BrandID,
		"status":   item.Status,
	}
	if stepID != "" {
		payload["step_id"] = stepID
	}
	if err := e.dispatcher.Notify(ctx, userIDs, event, payload); err != nil {
		e.logger.Warn("notification dispatch failed",
			zap.String("event", event),
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}
