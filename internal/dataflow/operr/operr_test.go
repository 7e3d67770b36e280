package operr

import (
	"errors"
	"testing"
)

func TestKindDispatch(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"config", Config("scan1", "bad plan: %s", "x"), KindConfig},
		{"schema", Schema("proj1", "missing field %q", "a"), KindSchema},
		{"remote", Remote("scan1", "connection refused"), KindRemote},
		{"overflow", Overflow("bloom1", "fp rate raised"), KindOverflow},
		{"internal", Internal("collate1", "double complete"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if !Is(tt.err, tt.kind) {
				t.Errorf("Is(err, %v) = false, want true", tt.kind)
			}
			if Is(tt.err, Kind(999)) {
				t.Errorf("Is(err, wrong kind) = true, want false")
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: KindInternal, Operator: "op1", cause: cause}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
}

func TestErrorMessageIncludesOperator(t *testing.T) {
	err := Config("scan1", "bad plan")
	if got := err.Error(); got != "config(scan1): bad plan" {
		t.Errorf("Error() = %q", got)
	}
}
