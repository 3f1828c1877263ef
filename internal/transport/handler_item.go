package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/stagegate/internal/observability"
	"github.com/pitabwire/stagegate/internal/workflow"
	"github.com/pitabwire/stagegate/model"
)

func handleItemCreate(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		var input workflow.NewItemInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		ctx, span := observability.StartSpan(r.Context(), "item.create",
			observability.AttrBrandID.String(input.BrandID),
			observability.AttrWorkflowID.String(input.WorkflowID),
			observability.AttrActorID.String(rctx.ActorID),
		)
		item, err := engine.Create(ctx, rctx, input)
		observability.EndSpanWithError(span, err)
		if err != nil {
			WriteError(w, err)
			return
		}

		if metrics != nil {
			metrics.RecordItemCreated(item.Kind)
		}
		WriteJSON(w, http.StatusCreated, item)
	}
}

func handleItemGet(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := engine.GetItem(r.Context(), chi.URLParam(r, "itemID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, item)
	}
}

func handleItemAdvance(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		itemID := chi.URLParam(r, "itemID")

		var body struct {
			Action   string `json:"action"`
			Feedback string `json:"feedback"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		ctx, span := observability.StartSpan(r.Context(), "item.advance",
			observability.AttrItemID.String(itemID),
			observability.AttrAction.String(body.Action),
			observability.AttrActorID.String(rctx.ActorID),
		)
		start := time.Now()
		item, err := engine.Advance(ctx, rctx, itemID, body.Action, body.Feedback)
		observability.EndSpanWithError(span, err)

		if metrics != nil {
			metrics.RecordTransition(body.Action, transitionOutcome(err), time.Since(start))
			if model.IsConflict(err) {
				metrics.RecordConflict()
			}
			if err == nil && (item.Status == model.ItemStatusApproved || item.Status == model.ItemStatusRejected) {
				metrics.RecordTerminal(item.WorkflowID, item.Status)
			}
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, item)
	}
}

func handleItemRestart(engine *workflow.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())
		itemID := chi.URLParam(r, "itemID")

		ctx, span := observability.StartSpan(r.Context(), "item.restart",
			observability.AttrItemID.String(itemID),
			observability.AttrActorID.String(rctx.ActorID),
		)
		item, err := engine.Restart(ctx, rctx, itemID)
		observability.EndSpanWithError(span, err)
		if err != nil {
			WriteError(w, err)
			return
		}

		if metrics != nil {
			metrics.RecordRestart(item.WorkflowID)
		}
		WriteJSON(w, http.StatusOK, item)
	}
}

func handleItemProgress(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prog, err := engine.Progress(r.Context(), chi.URLParam(r, "itemID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, prog)
	}
}

func handleItemHistory(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := engine.History(r.Context(), chi.URLParam(r, "itemID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		if entries == nil {
			entries = []model.HistoryEntry{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": entries})
	}
}

// transitionOutcome labels a transition result for metrics.
func transitionOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case model.IsConflict(err):
		return "conflict"
	default:
		return "refused"
	}
}
