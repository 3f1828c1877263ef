package model

import "time"

// Item status constants.
const (
	ItemStatusDraft         = "draft"
	ItemStatusPendingReview = "pending_review"
	ItemStatusApproved      = "approved"
	ItemStatusRejected      = "rejected"
)

// Review action constants.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionRestart = "restart"
)

// Item kind constants.
const (
	ItemKindContent = "content"
	ItemKindClaim   = "claim"
)

// Item is a content or claim record undergoing workflow-gated approval.
// All mutation after creation happens through the transition engine or the
// restart coordinator; nothing else writes these fields.
type Item struct {
	ID               string    `json:"id"`
	BrandID          string    `json:"brand_id"`
	Kind             string    `json:"kind"`
	OwnerID          string    `json:"owner_id"`
	Title            string    `json:"title,omitempty"`
	WorkflowID       string    `json:"workflow_id,omitempty"`
	CurrentStepID    string    `json:"current_step_id,omitempty"`
	Status           string    `json:"status"`
	CompletedStepIDs []string  `json:"completed_step_ids"`
	Version          int       `json:"version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasCompleted reports whether the given step has already been approved on
// this item.
func (it *Item) HasCompleted(stepID string) bool {
	for _, id := range it.CompletedStepIDs {
		if id == stepID {
			return true
		}
	}
	return false
}

// CompleteStep adds a step to the completed set. Returns false when the step
// was already present; the set never holds duplicates.
func (it *Item) CompleteStep(stepID string) bool {
	if it.HasCompleted(stepID) {
		return false
	}
	it.CompletedStepIDs = append(it.CompletedStepIDs, stepID)
	return true
}

// IsTerminal reports whether the item has finished its workflow. A terminal
// item has no current step and accepts no further review actions without an
// explicit restart.
func (it *Item) IsTerminal() bool {
	return it.Status == ItemStatusApproved
}

// WorkflowDefinition is the ordered template of review stages an item
// proceeds through. Definitions are read-only to the approval core.
type WorkflowDefinition struct {
	ID      string         `json:"id"`
	BrandID string         `json:"brand_id"`
	Name    string         `json:"name"`
	Steps   []WorkflowStep `json:"steps"`
}

// WorkflowStep is a single review stage. Order values are contiguous and
// strictly increasing within a workflow. When AssignedUserIDs is empty the
// eligible reviewer set is everyone holding Role on the item's brand.
type WorkflowStep struct {
	ID              string   `json:"id"`
	WorkflowID      string   `json:"workflow_id"`
	Order           int      `json:"order"`
	Role            string   `json:"role"`
	AssignedUserIDs []string `json:"assigned_user_ids,omitempty"`
}

// HistoryEntry is an immutable audit record of a single transition. Entries
// are created by the transition engine and restart coordinator only, and are
// never altered afterward.
type HistoryEntry struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	StepID    string    `json:"step_id,omitempty"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Feedback  string    `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress summarises how far an item has moved through its workflow.
// CompletedCount counts only completed steps that still belong to the
// workflow, so ids left behind by an edited definition never inflate it.
type Progress struct {
	CurrentStepID  string `json:"current_step_id,omitempty"`
	CompletedCount int    `json:"completed_count"`
	TotalSteps     int    `json:"total_steps"`
	IsComplete     bool   `json:"is_complete"`
}

// OrphanedAssignment flags an explicit step assignment whose user no longer
// holds the step's role on the owning brand.
type OrphanedAssignment struct {
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
	UserID     string `json:"user_id"`
}

// ReassignScope narrows a bulk reassignment to a brand or a single workflow.
// Empty fields mean no restriction.
type ReassignScope struct {
	BrandID    string `json:"brand_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}
