package allocation

import (
	"testing"

	"github.com/xraph/credits/types"
)

func TestKindForCreditType(t *testing.T) {
	tests := []struct {
		creditType string
		want       GrantKind
	}{
		{"paid", KindTopUp},
		{"bulk", KindTopUp},
		{"seasonal", KindTopUp},
		{"promotional", KindTopUp},
		{"trial", KindCarveOut},
		{"", KindCarveOut},
		{"anything-else", KindCarveOut},
	}

	for _, tt := range tests {
		t.Run(tt.creditType, func(t *testing.T) {
			if got := KindForCreditType(tt.creditType); got != tt.want {
				t.Errorf("KindForCreditType(%q) = %q, want %q", tt.creditType, got, tt.want)
			}
		})
	}
}

func TestGrantKindValid(t *testing.T) {
	if !KindCarveOut.Valid() || !KindTopUp.Valid() {
		t.Error("known kinds should be valid")
	}
	if GrantKind("mystery").Valid() {
		t.Error("unknown kind should be invalid")
	}
}

func TestAllocationAvailable(t *testing.T) {
	alloc := New("acme", "crm", "org", "sales")
	alloc.Allocated = types.FromInt(400)
	alloc.Used = types.FromInt(150)

	if got, want := alloc.Available(), types.FromInt(250); got != want {
		t.Errorf("Available() = %s, want %s", got, want)
	}
}
