package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/stagegate/internal/maintenance"
	"github.com/pitabwire/stagegate/internal/observability"
	"github.com/pitabwire/stagegate/model"
)

// Maintenance endpoints are for operators: both require the global admin
// role, not just an authenticated user.

func handleOrphans(svc *maintenance.Service, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		if !rctx.IsGlobalAdmin {
			WriteError(w, model.NewPermissionDeniedError("maintenance requires the global admin role"))
			return
		}

		orphans, err := svc.FindOrphanedAssignments(r.Context(), r.URL.Query().Get("brand_id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		if orphans == nil {
			orphans = []model.OrphanedAssignment{}
		}

		if metrics != nil {
			metrics.RecordOrphanScan()
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": orphans})
	}
}

func handleReassign(svc *maintenance.Service, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		if !rctx.IsGlobalAdmin {
			WriteError(w, model.NewPermissionDeniedError("maintenance requires the global admin role"))
			return
		}

		var body struct {
			FromUserID string              `json:"from_user_id"`
			ToUserID   string              `json:"to_user_id"`
			Scope      model.ReassignScope `json:"scope"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		count, err := svc.Reassign(r.Context(), body.FromUserID, body.ToUserID, body.Scope)
		if err != nil {
			WriteError(w, err)
			return
		}

		if metrics != nil {
			metrics.RecordReassignments(count)
		}
		WriteJSON(w, http.StatusOK, map[string]any{"reassigned": count})
	}
}
