package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	base := errors.New("disk full")
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"plain", base, CodeInternal},
		{"typed", Store(base, "write entry"), CodeStore},
		{"wrapped typed", fmt.Errorf("schedule: %w", NotFound("job %s", "j1")), CodeNotFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CodeOf(tc.err); got != tc.want {
				t.Fatalf("CodeOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	base := errors.New("connection refused")
	err := Dispatch(base, "send toast")
	if !errors.Is(err, base) {
		t.Fatalf("expected cause to be reachable")
	}
	if got := err.Error(); got != "DISPATCH_ERROR: send toast: connection refused" {
		t.Fatalf("Error() = %q", got)
	}
	if !IsCode(err, CodeDispatch) || IsCode(err, CodeStore) {
		t.Fatalf("IsCode mismatch")
	}
}

func TestErrorsIsMatchesCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("cancel: %w", NotFound("job %s not found", "j1"))
	if !errors.Is(err, New(CodeNotFound, "")) {
		t.Fatalf("expected code match")
	}
	if errors.Is(err, New(CodeValidation, "")) {
		t.Fatalf("unexpected match on other code")
	}
}

func TestMetadataFor(t *testing.T) {
	t.Parallel()

	if got := MetadataFor(CodeValidation).HTTPStatus; got != http.StatusBadRequest {
		t.Fatalf("validation status = %d", got)
	}
	if got := MetadataFor(CodeStore).HTTPStatus; got != http.StatusServiceUnavailable {
		t.Fatalf("store status = %d", got)
	}
	if got := MetadataFor(Code("bogus")); got != MetadataFor(CodeInternal) {
		t.Fatalf("unknown code should fall back to internal")
	}
}
