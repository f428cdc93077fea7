package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/studiodesk/studiodesk/internal/errors"
)

func TestWriteErrorMapsServiceErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec.Header().Set("X-Trace-ID", "trace-1")

	WriteError(rec, req, errors.NotFound("client", "42"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "not_found" || body.TraceID != "trace-1" || body.Error == "" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.ErrBodyNotAllowed)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "body not allowed") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"anna"}`))
	if err := DecodeJSON(req, &dst); err != nil || dst.Name != "anna" {
		t.Fatalf("DecodeJSON() = %v, name=%q", err, dst.Name)
	}

	for _, raw := range []string{"", "{", `{"unknown":1}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		if err := DecodeJSON(req, &dst); !errors.HasCode(err, errors.CodeInvalidInput) {
			t.Errorf("DecodeJSON(%q) = %v, want invalid input", raw, err)
		}
	}
}
