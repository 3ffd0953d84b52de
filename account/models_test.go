package account

import (
	"testing"
	"time"

	"github.com/xraph/credits/types"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return parsed
}

func tsp(t *testing.T, s string) *time.Time {
	t.Helper()
	parsed := ts(t, s)
	return &parsed
}

func poolWith(acct *Account, amount int64, expiresAt *time.Time) *Pool {
	return NewPool(acct, SourcePurchase, "", types.FromInt(amount), expiresAt)
}

func TestScopeKey(t *testing.T) {
	s := NewScope("acme", "org")
	if got := s.Key(); got != "acme/org" {
		t.Errorf("Key() = %q, want %q", got, "acme/org")
	}
}

func TestSortScopes(t *testing.T) {
	scopes := []Scope{
		NewScope("acme", "org"),
		NewScope("acme", "crm"),
		NewScope("acme", "org"), // duplicate
		NewScope("abc", "zz"),
	}

	sorted := SortScopes(scopes)

	if len(sorted) != 3 {
		t.Fatalf("len = %d, want 3", len(sorted))
	}
	want := []string{"abc/zz", "acme/crm", "acme/org"}
	for i, s := range sorted {
		if s.Key() != want[i] {
			t.Errorf("sorted[%d] = %q, want %q", i, s.Key(), want[i])
		}
	}
}

func TestPoolExpired(t *testing.T) {
	now := ts(t, "2026-06-15T00:00:00Z")

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"future expiry", tsp(t, "2026-07-01T00:00:00Z"), false},
		{"past expiry", tsp(t, "2026-06-01T00:00:00Z"), true},
		{"exactly now", &now, true},
	}

	acct := New(NewScope("acme", "org"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := poolWith(acct, 100, tt.expiresAt)
			if got := p.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConsumptionOrder(t *testing.T) {
	now := ts(t, "2026-06-15T00:00:00Z")
	acct := New(NewScope("acme", "org"))

	neverExpires := poolWith(acct, 100, nil)
	expiresSoon := poolWith(acct, 100, tsp(t, "2026-06-20T00:00:00Z"))
	expiresLater := poolWith(acct, 100, tsp(t, "2026-09-01T00:00:00Z"))
	alreadyExpired := poolWith(acct, 100, tsp(t, "2026-06-01T00:00:00Z"))
	exhausted := poolWith(acct, 0, nil)
	exhausted.Status = PoolExhausted

	ordered := ConsumptionOrder([]*Pool{neverExpires, expiresLater, alreadyExpired, expiresSoon, exhausted}, now)

	if len(ordered) != 3 {
		t.Fatalf("len = %d, want 3 (expired and exhausted excluded)", len(ordered))
	}
	if ordered[0] != expiresSoon {
		t.Errorf("ordered[0] should be the soonest-expiring pool")
	}
	if ordered[1] != expiresLater {
		t.Errorf("ordered[1] should be the later-expiring pool")
	}
	if ordered[2] != neverExpires {
		t.Errorf("ordered[2] should be the never-expiring pool")
	}
}

func TestSelectPool(t *testing.T) {
	now := ts(t, "2026-06-15T00:00:00Z")
	acct := New(NewScope("acme", "org"))

	small := poolWith(acct, 50, tsp(t, "2026-06-20T00:00:00Z"))
	large := poolWith(acct, 500, tsp(t, "2026-09-01T00:00:00Z"))
	pools := []*Pool{large, small}

	t.Run("first covering pool wins", func(t *testing.T) {
		if got := SelectPool(pools, types.FromInt(40), now); got != small {
			t.Errorf("want the soonest-expiring pool that covers the amount")
		}
	})

	t.Run("skips to a pool that covers", func(t *testing.T) {
		if got := SelectPool(pools, types.FromInt(100), now); got != large {
			t.Errorf("want the first pool that can cover 100")
		}
	})

	t.Run("falls back to earliest when nothing covers", func(t *testing.T) {
		if got := SelectPool(pools, types.FromInt(1000), now); got != small {
			t.Errorf("want the earliest-expiring pool when no pool covers")
		}
	})

	t.Run("nil when nothing spendable", func(t *testing.T) {
		if got := SelectPool(nil, types.FromInt(1), now); got != nil {
			t.Errorf("want nil for empty pool set")
		}
	})
}

func TestSpendable(t *testing.T) {
	now := ts(t, "2026-06-15T00:00:00Z")
	acct := New(NewScope("acme", "org"))

	pools := []*Pool{
		poolWith(acct, 100, nil),
		poolWith(acct, 50, tsp(t, "2026-07-01T00:00:00Z")),
		poolWith(acct, 999, tsp(t, "2026-01-01T00:00:00Z")), // expired
	}

	if got, want := Spendable(pools, now), types.FromInt(150); got != want {
		t.Errorf("Spendable() = %s, want %s", got, want)
	}
}

func TestEarliestExpiry(t *testing.T) {
	acct := New(NewScope("acme", "org"))

	t.Run("none expire", func(t *testing.T) {
		pools := []*Pool{poolWith(acct, 10, nil)}
		if got := EarliestExpiry(pools); got != nil {
			t.Errorf("want nil, got %v", got)
		}
	})

	t.Run("picks earliest", func(t *testing.T) {
		early := tsp(t, "2026-06-20T00:00:00Z")
		pools := []*Pool{
			poolWith(acct, 10, tsp(t, "2026-09-01T00:00:00Z")),
			poolWith(acct, 10, early),
			poolWith(acct, 10, nil),
		}
		got := EarliestExpiry(pools)
		if got == nil || !got.Equal(*early) {
			t.Errorf("EarliestExpiry() = %v, want %v", got, early)
		}
	})
}
