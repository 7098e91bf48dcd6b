package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	Validation,
	NotFound,
	TooLarge,
	FailedPrecondition,
	Unavailable,
	Internal,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testCodeOfAndMessageOf_WrappedTypedError(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	err := Wrap(code, message, cause)
	wrapped := fmt.Errorf("outer: %w", err)

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error lost its cause")
	}
}

func TestCodeOfAndMessageOf_WrappedTypedError(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOfAndMessageOf_WrappedTypedError)
}

func testUntypedAndNilFallbacks(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != "internal error" {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q want=%q", got, "internal error")
	}
	if got := DetailsOf(untyped); got != nil {
		t.Fatalf("DetailsOf(untyped) = %v, want nil", got)
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(nil); got != string(Internal) {
		t.Fatalf("MessageOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndNilFallbacks)
}

func testNewValidation_KeepsEveryDetail(t *rapid.T) {
	details := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,10} must be a [a-z]{1,10}`), 1, 6).Draw(t, "details")

	err := fmt.Errorf("boundary: %w", NewValidation(details))
	if got := CodeOf(err); got != Validation {
		t.Fatalf("CodeOf mismatch: got=%q", got)
	}
	got := DetailsOf(err)
	if len(got) != len(details) {
		t.Fatalf("DetailsOf len = %d, want %d", len(got), len(details))
	}
	for i := range details {
		if got[i] != details[i] {
			t.Fatalf("detail %d mismatch: got=%q want=%q", i, got[i], details[i])
		}
	}

	// The error must not alias the caller's slice.
	details[0] = "mutated"
	if DetailsOf(err)[0] == "mutated" {
		t.Fatal("NewValidation aliased the input slice")
	}
}

func TestNewValidation_KeepsEveryDetail(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testNewValidation_KeepsEveryDetail)
}

func testHTTPStatusAndKind_Mapping(t *rapid.T) {
	statuses := map[Code]int{
		InvalidArgument:    http.StatusBadRequest,
		Validation:         http.StatusBadRequest,
		NotFound:           http.StatusNotFound,
		TooLarge:           http.StatusRequestEntityTooLarge,
		FailedPrecondition: http.StatusConflict,
		Unavailable:        http.StatusServiceUnavailable,
		Internal:           http.StatusInternalServerError,
	}
	kinds := map[Code]string{
		InvalidArgument:    "bad_request",
		Validation:         "validation_error",
		NotFound:           "not_found",
		TooLarge:           "payload_too_large",
		FailedPrecondition: "conflict",
		Unavailable:        "unavailable",
		Internal:           "internal_error",
	}

	code := rapid.SampledFrom(append(append([]Code{}, allCodes...), Code("unknown_code"))).Draw(t, "code")

	wantStatus := http.StatusInternalServerError
	if mapped, ok := statuses[code]; ok {
		wantStatus = mapped
	}
	if got := HTTPStatus(code); got != wantStatus {
		t.Fatalf("HTTPStatus mismatch: code=%q got=%d want=%d", code, got, wantStatus)
	}

	wantKind := "internal_error"
	if mapped, ok := kinds[code]; ok {
		wantKind = mapped
	}
	if got := KindOf(code); got != wantKind {
		t.Fatalf("KindOf mismatch: code=%q got=%q want=%q", code, got, wantKind)
	}
}

func TestHTTPStatusAndKind_Mapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testHTTPStatusAndKind_Mapping)
}
