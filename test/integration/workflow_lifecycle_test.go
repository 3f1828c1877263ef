package integration

import (
	"net/http"
	"testing"

	"github.com/pitabwire/stagegate/internal/notify"
	"github.com/pitabwire/stagegate/model"
)

func contentWorkflow() model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:      "wf-content",
		BrandID: "brand-1",
		Name:    "Content Review",
		Steps: []model.WorkflowStep{
			{ID: "s-edit", WorkflowID: "wf-content", Order: 1, Role: "editor"},
			{ID: "s-legal", WorkflowID: "wf-content", Order: 2, Role: "legal", AssignedUserIDs: []string{"user-cam"}},
		},
	}
}

func reviewHarness(t *testing.T) *TestHarness {
	t.Helper()
	return NewHarness(t,
		WithWorkflow(contentWorkflow()),
		WithGrants(
			map[string]map[string][]string{
				"brand-1": {
					"editor": {"user-amy", "user-ben"},
					"legal":  {"user-cam"},
				},
			},
			map[string][]string{"brand-1": {"user-ivy"}},
		),
	)
}

func ownerToken(h *TestHarness) string {
	return h.GenerateToken(TestClaims{SubjectID: "user-owner", Email: "owner@example.com"})
}

func createItem(t *testing.T, h *TestHarness, token string) model.Item {
	t.Helper()
	resp := h.POST("/v1/items", map[string]any{
		"brand_id":    "brand-1",
		"kind":        "content",
		"title":       "Spring campaign hero",
		"workflow_id": "wf-content",
	}, token)

	var item model.Item
	h.AssertJSON(t, resp, http.StatusCreated, &item)
	return item
}

func TestLifecycle_ApprovalToCompletion(t *testing.T) {
	h := reviewHarness(t)

	item := createItem(t, h, ownerToken(h))
	if item.Status != model.ItemStatusPendingReview {
		t.Fatalf("status = %q, want pending_review", item.Status)
	}
	if item.CurrentStepID != "s-edit" {
		t.Fatalf("current step = %q, want s-edit", item.CurrentStepID)
	}

	// Editorial approval by a role holder.
	amy := h.GenerateToken(TestClaims{SubjectID: "user-amy", Roles: []string{"editor"}})
	resp := h.POST("/v1/items/"+item.ID+"/advance", map[string]any{"action": "approve"}, amy)
	h.AssertJSON(t, resp, http.StatusOK, &item)
	if item.CurrentStepID != "s-legal" {
		t.Fatalf("current step after editorial = %q, want s-legal", item.CurrentStepID)
	}

	// Legal approval by the explicitly assigned reviewer.
	cam := h.GenerateToken(TestClaims{SubjectID: "user-cam", Roles: []string{"legal"}})
	resp = h.POST("/v1/items/"+item.ID+"/advance", map[string]any{"action": "approve"}, cam)
	h.AssertJSON(t, resp, http.StatusOK, &item)
	if item.Status != model.ItemStatusApproved {
		t.Fatalf("status = %q, want approved", item.Status)
	}

	// The audit trail carries both approvals in order.
	var hist struct {
		Data []model.HistoryEntry `json:"data"`
	}
	resp = h.GET("/v1/items/"+item.ID+"/history", ownerToken(h))
	h.AssertJSON(t, resp, http.StatusOK, &hist)
	if len(hist.Data) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist.Data))
	}
	if hist.Data[0].ActorID != "user-amy" || hist.Data[1].ActorID != "user-cam" {
		t.Errorf("history actors = %q, %q", hist.Data[0].ActorID, hist.Data[1].ActorID)
	}

	// Notifications: step ready for each step, then the approval.
	events := h.Notifications()
	if len(events) < 3 {
		t.Fatalf("notifications = %d, want at least 3", len(events))
	}
	last := events[len(events)-1]
	if last.Event != notify.EventItemApproved {
		t.Errorf("last event = %q, want %q", last.Event, notify.EventItemApproved)
	}
}

func TestLifecycle_RejectAndRestart(t *testing.T) {
	h := reviewHarness(t)

	item := createItem(t, h, ownerToken(h))

	amy := h.GenerateToken(TestClaims{SubjectID: "user-amy", Roles: []string{"editor"}})
	resp := h.POST("/v1/items/"+item.ID+"/advance", map[string]any{"action": "approve"}, amy)
	h.AssertJSON(t, resp, http.StatusOK, &item)

	// Legal rejects with feedback.
	cam := h.GenerateToken(TestClaims{SubjectID: "user-cam", Roles: []string{"legal"}})
	resp = h.POST("/v1/items/"+item.ID+"/advance", map[string]any{
		"action":   "reject",
		"feedback": "Claims need substantiation",
	}, cam)
	h.AssertJSON(t, resp, http.StatusOK, &item)
	if item.Status != model.ItemStatusRejected {
		t.Fatalf("status = %q, want rejected", item.Status)
	}

	// A further approval attempt on the rejected item is refused.
	resp = h.POST("/v1/items/"+item.ID+"/advance", map[string]any{"action": "approve"}, cam)
	h.AssertStatus(t, resp, http.StatusConflict)

	// A plain reviewer cannot restart.
	resp = h.POST("/v1/items/"+item.ID+"/restart", nil, amy)
	h.AssertStatus(t, resp, http.StatusForbidden)

	// The brand admin restarts the review.
	ivy := h.GenerateToken(TestClaims{SubjectID: "user-ivy"})
	resp = h.POST("/v1/items/"+item.ID+"/restart", nil, ivy)
	h.AssertJSON(t, resp, http.StatusOK, &item)
	if item.Status != model.ItemStatusPendingReview {
		t.Fatalf("status after restart = %q, want pending_review", item.Status)
	}
	if item.CurrentStepID != "s-edit" {
		t.Fatalf("current step after restart = %q, want s-edit", item.CurrentStepID)
	}

	// Completed steps survive the restart: the editorial gate is still done.
	var prog model.Progress
	resp = h.GET("/v1/items/"+item.ID+"/progress", ownerToken(h))
	h.AssertJSON(t, resp, http.StatusOK, &prog)
	if prog.CompletedCount != 1 {
		t.Errorf("completed count after restart = %d, want 1", prog.CompletedCount)
	}
}

func TestLifecycle_StepOrderEnforced(t *testing.T) {
	h := reviewHarness(t)

	item := createItem(t, h, ownerToken(h))

	// The legal reviewer cannot act while the item sits at editorial.
	cam := h.GenerateToken(TestClaims{SubjectID: "user-cam", Roles: []string{"legal"}})
	resp := h.POST("/v1/items/"+item.ID+"/advance", map[string]any{"action": "approve"}, cam)
	h.AssertStatus(t, resp, http.StatusForbidden)

	// The item is untouched.
	var got model.Item
	resp = h.GET("/v1/items/"+item.ID, ownerToken(h))
	h.AssertJSON(t, resp, http.StatusOK, &got)
	if got.CurrentStepID != "s-edit" || got.Version != item.Version {
		t.Errorf("item mutated by refused transition: step %q version %d", got.CurrentStepID, got.Version)
	}
}

func TestLifecycle_GlobalAdminBypass(t *testing.T) {
	h := reviewHarness(t)

	item := createItem(t, h, ownerToken(h))

	root := h.GenerateToken(TestClaims{SubjectID: "user-root", Roles: []string{"global_admin"}})
	resp := h.POST("/v1/items/"+item.ID+"/advance", map[string]any{"action": "approve"}, root)
	h.AssertJSON(t, resp, http.StatusOK, &item)
	if item.CurrentStepID != "s-legal" {
		t.Fatalf("current step = %q, want s-legal", item.CurrentStepID)
	}
}

func TestLifecycle_AuthControls(t *testing.T) {
	h := reviewHarness(t)

	t.Run("no token", func(t *testing.T) {
		resp := h.GET("/v1/items/item-1", "")
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("expired token", func(t *testing.T) {
		token := h.GenerateExpiredToken(TestClaims{SubjectID: "user-amy"})
		resp := h.GET("/v1/items/item-1", token)
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("health is public", func(t *testing.T) {
		resp := h.GET("/healthz", "")
		h.AssertStatus(t, resp, http.StatusOK)
	})

	t.Run("readiness is public", func(t *testing.T) {
		resp := h.GET("/readyz", "")
		h.AssertStatus(t, resp, http.StatusOK)
	})
}

func TestLifecycle_Maintenance(t *testing.T) {
	h := NewHarness(t,
		WithWorkflow(model.WorkflowDefinition{
			ID:      "wf-claims",
			BrandID: "brand-1",
			Name:    "Claim Review",
			Steps: []model.WorkflowStep{
				{ID: "c-check", WorkflowID: "wf-claims", Order: 1, Role: "legal", AssignedUserIDs: []string{"user-gone"}},
			},
		}),
		WithGrants(
			map[string]map[string][]string{
				"brand-1": {"legal": {"user-cam"}},
			},
			nil,
		),
	)

	root := h.GenerateToken(TestClaims{SubjectID: "user-root", Roles: []string{"global_admin"}})

	// The departed user shows up as an orphaned assignment.
	var orphans struct {
		Data []model.OrphanedAssignment `json:"data"`
	}
	resp := h.GET("/v1/maintenance/orphans?brand_id=brand-1", root)
	h.AssertJSON(t, resp, http.StatusOK, &orphans)
	if len(orphans.Data) != 1 || orphans.Data[0].UserID != "user-gone" {
		t.Fatalf("orphans = %+v, want one for user-gone", orphans.Data)
	}

	// Reassign to an active legal reviewer.
	var result struct {
		Reassigned int `json:"reassigned"`
	}
	resp = h.POST("/v1/maintenance/reassign", map[string]any{
		"from_user_id": "user-gone",
		"to_user_id":   "user-cam",
	}, root)
	h.AssertJSON(t, resp, http.StatusOK, &result)
	if result.Reassigned != 1 {
		t.Fatalf("reassigned = %d, want 1", result.Reassigned)
	}

	// The scan comes back clean afterwards.
	resp = h.GET("/v1/maintenance/orphans?brand_id=brand-1", root)
	h.AssertJSON(t, resp, http.StatusOK, &orphans)
	if len(orphans.Data) != 0 {
		t.Errorf("orphans after reassign = %+v, want none", orphans.Data)
	}

	// A non-admin is turned away.
	cam := h.GenerateToken(TestClaims{SubjectID: "user-cam", Roles: []string{"legal"}})
	resp = h.GET("/v1/maintenance/orphans", cam)
	h.AssertStatus(t, resp, http.StatusForbidden)
}
