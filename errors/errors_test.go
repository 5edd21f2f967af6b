package errors

import (
	"errors"
	"strings"
	"testing"

	"github.com/wippyai/lifecycle/trace"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
		excludes []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseRelease,
				Kind:   KindOwnerViolation,
				Owner:  "owner{a}",
				Count:  2,
				Detail: "not reserved by this owner",
			},
			contains: []string{"[release]", "owner_violation", "by owner{a}", "(count 2)", "not reserved"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseReserve,
				Kind:  KindAlreadyReleased,
			},
			contains: []string{"[reserve]", "already_released", "(count 0)"},
		},
		{
			name:     "use after close omits count",
			err:      Closed("buffer", nil),
			contains: []string{"[close]", "use_after_close", "buffer closed"},
			excludes: []string{"count"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseClose,
				Kind:   KindUseAfterClose,
				Detail: "teardown",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[close]", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(msg, s) {
					t.Errorf("error message %q should not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseClose,
		Kind:  KindUseAfterClose,
		Cause: cause,
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}

	st := trace.Capture("Closed here", 0)
	withTrace := Closed("file", st)

	var got *trace.StackTrace
	if !errors.As(withTrace, &got) {
		t.Fatal("errors.As should find the attached trace")
	}
	if got != st {
		t.Error("unwrapped trace is not the attached one")
	}

	bare := &Error{Phase: PhaseReserve, Kind: KindAlreadyReleased}
	if bare.Unwrap() != nil {
		t.Error("Unwrap with no cause or trace should be nil")
	}
}

func TestError_Is(t *testing.T) {
	err := NotReserved(PhaseRelease, "owner{a}", 3)

	if !errors.Is(err, ErrOwnerViolation) {
		t.Error("Is should match sentinel of same kind")
	}
	if !errors.Is(err, &Error{Phase: PhaseRelease, Kind: KindOwnerViolation}) {
		t.Error("Is should match same phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseReserve, Kind: KindOwnerViolation}) {
		t.Error("Is should not match different phase")
	}
	if errors.Is(err, ErrAlreadyReleased) {
		t.Error("Is should not match different kind")
	}
	if err.Is(errors.New("other")) {
		t.Error("Is should not match foreign errors")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	st := trace.Capture("Reserved here", 0)
	err := New(PhaseTransfer, KindOwnerViolation).
		Owner("owner{b}").
		Count(4).
		Trace(st).
		Cause(cause).
		Detailf("target %s already holds", "owner{b}").
		Build()

	if err.Phase != PhaseTransfer {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseTransfer)
	}
	if err.Kind != KindOwnerViolation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindOwnerViolation)
	}
	if err.Owner != "owner{b}" || err.Count != 4 {
		t.Errorf("Owner/Count = %q/%d", err.Owner, err.Count)
	}
	if err.Trace != st {
		t.Error("Trace not set")
	}
	if err.Detail != "target owner{b} already holds" {
		t.Errorf("Detail = %q", err.Detail)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable")
	}

	plain := New(PhaseCheck, KindInconsistent).Detail("50%").Build()
	if plain.Detail != "50%" {
		t.Errorf("Detail should be verbatim, got %q", plain.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		phase Phase
		kind  Kind
	}{
		{"AlreadyReleased", AlreadyReleased(PhaseReserve, "o"), PhaseReserve, KindAlreadyReleased},
		{"NotLastReservation", NotLastReservation(PhaseReleaseLast, "o", 2), PhaseReleaseLast, KindNotLastReservation},
		{"AlreadyReserved", AlreadyReserved(PhaseReserve, "o", 2, nil), PhaseReserve, KindOwnerViolation},
		{"NotReserved", NotReserved(PhaseRelease, "o", 1), PhaseRelease, KindOwnerViolation},
		{"OwnerViolation", OwnerViolation(PhaseTransfer, "o", 1, "x"), PhaseTransfer, KindOwnerViolation},
		{"Closed", Closed("r", nil), PhaseClose, KindUseAfterClose},
		{"Inconsistent", Inconsistent(2, "ledger has %d", 3), PhaseCheck, KindInconsistent},
		{"Wrap", Wrap(PhaseClose, KindUseAfterClose, errors.New("c"), "d"), PhaseClose, KindUseAfterClose},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
		})
	}

	if d := NotLastReservation(PhaseReleaseLast, "o", 3).Count; d != 3 {
		t.Errorf("NotLastReservation count = %d, want 3", d)
	}
	if d := Inconsistent(2, "ledger has %d", 3).Detail; d != "ledger has 3" {
		t.Errorf("Inconsistent detail = %q", d)
	}
}
