package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIs(t *testing.T) {
	base := New(RequirementMissing, "The local path '%s' does not exist", "/nope")

	tests := map[string]struct {
		err  error
		code Code
		want bool
	}{
		"direct match": {
			err:  base,
			code: RequirementMissing,
			want: true,
		},
		"wrapped with fmt": {
			err:  fmt.Errorf("preparing demo: %w", base),
			code: RequirementMissing,
			want: true,
		},
		"nested coded cause": {
			err:  Wrap(BuildBackendFailure, base, "building"),
			code: RequirementMissing,
			want: true,
		},
		"different code": {
			err:  base,
			code: BuildBackendFailure,
			want: false,
		},
		"plain error": {
			err:  errors.New("boom"),
			code: RequirementMissing,
			want: false,
		},
		"nil": {
			err:  nil,
			code: RequirementMissing,
			want: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := Is(tc.err, tc.code); got != tc.want {
				t.Errorf("Is(%v, %s) = %v, want %v", tc.err, tc.code, got, tc.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(BuildBackendFailure, errors.New("exit status 1"), "building demo").WithOutput("Traceback\nValueError\n")

	msg := err.Error()
	if !strings.HasPrefix(msg, "building demo: exit status 1") {
		t.Errorf("Error() = %q, want message and cause first", msg)
	}
	if !strings.HasSuffix(msg, "ValueError") {
		t.Errorf("Error() = %q, want trailing output", msg)
	}
	if got := OutputOf(fmt.Errorf("outer: %w", err)); got != "Traceback\nValueError\n" {
		t.Errorf("OutputOf() = %q", got)
	}
	if got := GetCode(fmt.Errorf("outer: %w", err)); got != BuildBackendFailure {
		t.Errorf("GetCode() = %q, want %q", got, BuildBackendFailure)
	}
}
