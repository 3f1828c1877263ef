package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitabwire/stagegate/model"
)

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error == nil {
		t.Fatalf("response carries no error object: %s", rec.Body.String())
	}
	return body.Error
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad request", model.NewBadRequestError("nope"), http.StatusBadRequest, model.ErrBadRequest},
		{"unauthorized", model.NewUnauthorizedError("nope"), http.StatusUnauthorized, model.ErrUnauthorized},
		{"not found", model.NewNotFoundError("nope"), http.StatusNotFound, model.ErrNotFound},
		{"conflict", model.NewConflictError("nope"), http.StatusConflict, model.ErrConflict},
		{"validation", model.NewValidationError(nil), http.StatusUnprocessableEntity, model.ErrValidationError},
		{"internal", model.NewInternalError(), http.StatusInternalServerError, model.ErrInternalError},
		{"dependency", model.NewDependencyError("nope"), http.StatusBadGateway, model.ErrDependencyError},
		{"permission denied", model.NewPermissionDeniedError("nope"), http.StatusForbidden, model.ErrPermissionDenied},
		{"not brand admin", model.NewNotBrandAdminError("nope"), http.StatusForbidden, model.ErrNotBrandAdmin},
		{"no active step", model.NewNoActiveStepError("nope"), http.StatusConflict, model.ErrNoActiveStep},
		{"workflow complete", model.NewWorkflowCompleteError("nope"), http.StatusConflict, model.ErrWorkflowComplete},
		{"not rejected", model.NewNotRejectedError("nope"), http.StatusConflict, model.ErrNotRejected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := decodeErrorBody(t, rec).Code; got != tc.wantCode {
				t.Errorf("code = %q, want %q", got, tc.wantCode)
			}
		})
	}
}

func TestWriteError_NonEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("disk on fire"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	ee := decodeErrorBody(t, rec)
	if ee.Code != model.ErrInternalError {
		t.Errorf("code = %q, want %q", ee.Code, model.ErrInternalError)
	}
}

func TestWriteError_UnknownCode(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &model.ErrorEnvelope{Code: "SOMETHING_NEW", Message: "?"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestWriteJSON_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "item-1"})
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestWriteValidationError_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteValidationError(rec, []model.FieldError{{Field: "brand_id", Message: "is required"}})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	ee := decodeErrorBody(t, rec)
	if len(ee.Details) != 1 || ee.Details[0].Field != "brand_id" {
		t.Errorf("details = %+v, want one entry for brand_id", ee.Details)
	}
}
