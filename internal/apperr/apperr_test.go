package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Precondition(CodeAlreadyRecorded, "test result %s already recorded", "abc")
	wrapped := fmt.Errorf("record: %w", err)
	if !errors.Is(wrapped, ErrAlreadyRecorded) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if errors.Is(wrapped, ErrRevisionLimit) {
		t.Fatalf("different codes must not match")
	}
	if KindOf(wrapped) != KindPrecondition || CodeOf(wrapped) != CodeAlreadyRecorded {
		t.Fatalf("unexpected kind/code %v %v", KindOf(wrapped), CodeOf(wrapped))
	}
}

func TestStatusMismatchMessage(t *testing.T) {
	err := StatusMismatch(CodeContractStatus, "contract", "Active", "Funded", "InProgress")
	want := "contract status is Active; requires Funded or InProgress"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
	if err.Metadata["current"] != "Active" || err.Metadata["required"] != "Funded or InProgress" {
		t.Fatalf("unexpected metadata %v", err.Metadata)
	}
}

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:         http.StatusBadRequest,
		KindPrecondition:       http.StatusConflict,
		KindAuthorization:      http.StatusForbidden,
		KindNotFound:           http.StatusNotFound,
		KindResourceExhaustion: http.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := k.HTTPStatus(); got != want {
			t.Fatalf("%s: got %d want %d", k, got, want)
		}
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("plain errors are internal")
	}
}

func TestWithCopiesMetadata(t *testing.T) {
	base := Validation(CodeInvalidArgument, "bad")
	a := base.With("field", "title")
	if base.Metadata != nil {
		t.Fatalf("With must not mutate the receiver")
	}
	if a.Metadata["field"] != "title" {
		t.Fatalf("missing metadata")
	}
}
