package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"app error", NotFound("order"), CodeNotFound},
		{"wrapped app error", fmt.Errorf("lookup: %w", Forbidden("")), CodeForbidden},
		{"plain error", errors.New("boom"), CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHasCode_FollowsChain(t *testing.T) {
	inner := NotFound("account")
	outer := DatabaseError("append notification", inner)

	if !HasCode(outer, CodeDatabaseError) {
		t.Error("expected outer code to match")
	}
	if !HasCode(outer, CodeNotFound) {
		t.Error("expected inner code to match")
	}
	if HasCode(outer, CodeForbidden) {
		t.Error("unexpected match for forbidden")
	}
}
