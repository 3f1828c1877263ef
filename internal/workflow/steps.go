package workflow

import (
	"context"

	"github.com/pitabwire/stagegate/internal/directory"
	"github.com/pitabwire/stagegate/model"
)

// StepResolver answers ordering and assignment questions about workflow
// definitions. It is the only place that knows how the eligible reviewer set
// for a step is derived.
type StepResolver struct {
	store Store
	dir   directory.Directory
}

// NewStepResolver creates a StepResolver.
func NewStepResolver(store Store, dir directory.Directory) *StepResolver {
	return &StepResolver{store: store, dir: dir}
}

// FirstStep returns the lowest-order step of a workflow, or nil when the
// workflow has no steps.
func (r *StepResolver) FirstStep(ctx context.Context, workflowID string) (*model.WorkflowStep, error) {
	def, err := r.store.GetDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return firstStepOf(def), nil
}

// NextStep returns the step with the smallest order strictly greater than
// currentOrder, or nil at the end of the workflow.
func (r *StepResolver) NextStep(ctx context.Context, workflowID string, currentOrder int) (*model.WorkflowStep, error) {
	def, err := r.store.GetDefinition(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return nextStepOf(def, currentOrder), nil
}

// ResolveAssignees returns the eligible reviewer set for a step: the explicit
// assignee list when non-empty, otherwise everyone currently holding the
// step's role on the brand. The role-derived path recomputes live membership,
// so a user who lost brand access drops out immediately; stale explicit lists
// are repaired out-of-band by the maintenance service.
func (r *StepResolver) ResolveAssignees(ctx context.Context, step *model.WorkflowStep, brandID string) ([]string, error) {
	if len(step.AssignedUserIDs) > 0 {
		out := make([]string, len(step.AssignedUserIDs))
		copy(out, step.AssignedUserIDs)
		return out, nil
	}
	return r.dir.UsersWithRole(ctx, brandID, step.Role)
}

// firstStepOf returns the lowest-order step, or nil for a zero-step workflow.
func firstStepOf(def model.WorkflowDefinition) *model.WorkflowStep {
	var first *model.WorkflowStep
	for i := range def.Steps {
		if first == nil || def.Steps[i].Order < first.Order {
			first = &def.Steps[i]
		}
	}
	return first
}

// nextStepOf returns the step with the smallest order strictly greater than
// currentOrder, or nil when currentOrder is the last step.
func nextStepOf(def model.WorkflowDefinition, currentOrder int) *model.WorkflowStep {
	var next *model.WorkflowStep
	for i := range def.Steps {
		s := &def.Steps[i]
		if s.Order <= currentOrder {
			continue
		}
		if next == nil || s.Order < next.Order {
			next = s
		}
	}
	return next
}

// findStep looks up a step by id within a definition.
func findStep(def model.WorkflowDefinition, stepID string) *model.WorkflowStep {
	for i := range def.Steps {
		if def.Steps[i].ID == stepID {
			return &def.Steps[i]
		}
	}
	return nil
}
