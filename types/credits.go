// Package types provides common types used across the credit engine.
package types

import (
	"encoding/json"
	"fmt"
)

// Scale is the number of sub-units per whole credit. Credit amounts are
// stored as int64 centicredits — all arithmetic is integer-only, no
// floating point.
const Scale = 100

// MaxBalance is the largest balance any account or allocation may hold.
// Operations that would push a balance past this value are rejected before
// any state is written.
const MaxBalance Credits = 1_000_000_000_000 * Scale

// Credits is a credit amount in centicredits.
//
// Examples:
//   - FromInt(10)  = 10.00 credits
//   - Credits(150) = 1.50 credits
type Credits int64

// FromInt creates a Credits value from a whole number of credits.
func FromInt(n int64) Credits { return Credits(n * Scale) }

// FromParts creates a Credits value from whole credits plus centicredits.
func FromParts(whole, centi int64) Credits { return Credits(whole*Scale + centi) }

// Int64 returns the raw centicredit count.
func (c Credits) Int64() int64 { return int64(c) }

// Whole returns the whole-credit portion, truncated toward zero.
func (c Credits) Whole() int64 { return int64(c) / Scale }

// Add returns c + other.
func (c Credits) Add(other Credits) Credits { return c + other }

// Sub returns c - other.
func (c Credits) Sub(other Credits) Credits { return c - other }

// AddChecked returns c + other and reports whether the result stays within
// [0, MaxBalance] without overflowing int64.
func (c Credits) AddChecked(other Credits) (Credits, bool) {
	sum := c + other
	if other > 0 && sum < c {
		return 0, false
	}
	if other < 0 && sum > c {
		return 0, false
	}
	if sum > MaxBalance {
		return 0, false
	}
	return sum, true
}

// Min returns the smaller of c and other.
func (c Credits) Min(other Credits) Credits {
	if c < other {
		return c
	}
	return other
}

// IsZero reports whether the amount is zero.
func (c Credits) IsZero() bool { return c == 0 }

// IsPositive reports whether the amount is greater than zero.
func (c Credits) IsPositive() bool { return c > 0 }

// IsNegative reports whether the amount is less than zero.
func (c Credits) IsNegative() bool { return c < 0 }

// Negate returns -c.
func (c Credits) Negate() Credits { return -c }

// Abs returns the absolute value.
func (c Credits) Abs() Credits {
	if c < 0 {
		return -c
	}
	return c
}

// String formats the amount as a decimal credit count, e.g. "10.00" or "-1.50".
func (c Credits) String() string {
	neg := c < 0
	abs := c
	if neg {
		abs = -abs
	}
	s := fmt.Sprintf("%d.%02d", int64(abs)/Scale, int64(abs)%Scale)
	if neg {
		return "-" + s
	}
	return s
}

// MarshalJSON implements json.Marshaler.
func (c Credits) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount  int64  `json:"amount"`
		Display string `json:"display"`
	}{
		Amount:  int64(c),
		Display: c.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. It accepts both the object
// form produced by MarshalJSON and a bare integer.
func (c *Credits) UnmarshalJSON(data []byte) error {
	var obj struct {
		Amount int64 `json:"amount"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		*c = Credits(obj.Amount)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("credits: unmarshal %q: %w", data, err)
	}
	*c = Credits(n)
	return nil
}

// Sum adds up multiple Credits values.
func Sum(values ...Credits) Credits {
	var total Credits
	for _, v := range values {
		total += v
	}
	return total
}
