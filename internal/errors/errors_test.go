package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/studiodesk/studiodesk/internal/app/storage"
)

func TestGetServiceErrorUnwraps(t *testing.T) {
	base := NotFound("client", "42")
	wrapped := fmt.Errorf("load: %w", base)

	se := GetServiceError(wrapped)
	if se == nil {
		t.Fatal("expected service error")
	}
	if se.HTTPStatus != http.StatusNotFound || se.Code != CodeNotFound {
		t.Fatalf("unexpected error %+v", se)
	}
	if !stderrors.Is(wrapped, NotFound("", "")) {
		t.Fatal("errors.Is should match by code")
	}
	if stderrors.Is(wrapped, Conflict("x")) {
		t.Fatal("errors.Is must not match a different code")
	}
}

func TestWithDetailsCopies(t *testing.T) {
	base := InvalidInput("bad")
	a := base.WithDetails("field", "phone")
	if base.Details != nil {
		t.Fatal("WithDetails must not mutate the receiver")
	}
	if a.Details["field"] != "phone" {
		t.Fatalf("missing detail: %v", a.Details)
	}
}

func TestInternalKeepsCause(t *testing.T) {
	cause := stderrors.New("db down")
	err := Internal("load failed", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if GetServiceError(stderrors.New("plain")) != nil {
		t.Fatal("plain errors have no service error")
	}
	if !HasCode(err, CodeInternal) {
		t.Fatal("expected internal code")
	}
}

func TestFromStore(t *testing.T) {
	nf := FromStore(fmt.Errorf("client 7: %w", storage.ErrNotFound), "client", "7")
	if !HasCode(nf, CodeNotFound) {
		t.Fatalf("expected not_found, got %v", nf)
	}
	cf := FromStore(fmt.Errorf("dup: %w", storage.ErrConflict), "owner", "anna")
	if !HasCode(cf, CodeConflict) || !stderrors.Is(cf, storage.ErrConflict) {
		t.Fatalf("expected conflict wrapping the sentinel, got %v", cf)
	}
	other := stderrors.New("disk on fire")
	if FromStore(other, "x", "y") != other {
		t.Fatal("unknown errors must pass through")
	}
	if FromStore(nil, "x", "y") != nil {
		t.Fatal("nil stays nil")
	}
}
