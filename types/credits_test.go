package types

import (
	"encoding/json"
	"testing"
)

func TestCreditsConstructors(t *testing.T) {
	tests := []struct {
		name    string
		credits Credits
		raw     int64
		display string
	}{
		{"FromInt", FromInt(49), 4900, "49.00"},
		{"FromParts", FromParts(1, 50), 150, "1.50"},
		{"Raw", Credits(5), 5, "0.05"},
		{"Zero", FromInt(0), 0, "0.00"},
		{"Negative", FromInt(-3), -300, "-3.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.credits.Int64() != tt.raw {
				t.Errorf("Int64: got %d, want %d", tt.credits.Int64(), tt.raw)
			}
			if tt.credits.String() != tt.display {
				t.Errorf("String: got %s, want %s", tt.credits.String(), tt.display)
			}
		})
	}
}

func TestCreditsArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Credits
		expected Credits
	}{
		{"Add", func() Credits { return FromInt(1).Add(FromInt(2)) }, FromInt(3)},
		{"Sub", func() Credits { return FromInt(5).Sub(FromInt(2)) }, FromInt(3)},
		{"Negate", func() Credits { return FromInt(1).Negate() }, FromInt(-1)},
		{"Abs negative", func() Credits { return FromInt(-1).Abs() }, FromInt(1)},
		{"Min", func() Credits { return FromInt(5).Min(FromInt(3)) }, FromInt(3)},
		{"Sum", func() Credits { return Sum(FromInt(1), FromInt(2), FromInt(3)) }, FromInt(6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(); got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCreditsAddChecked(t *testing.T) {
	tests := []struct {
		name string
		a, b Credits
		sum  Credits
		ok   bool
	}{
		{"Plain", FromInt(10), FromInt(5), FromInt(15), true},
		{"AtCeiling", MaxBalance - 1, 1, MaxBalance, true},
		{"PastCeiling", MaxBalance, 1, 0, false},
		{"Int64Overflow", Credits(1<<62 + 1<<61), Credits(1<<62 + 1<<61), 0, false},
		{"NegativeDelta", FromInt(10), FromInt(-4), FromInt(6), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, ok := tt.a.AddChecked(tt.b)
			if ok != tt.ok {
				t.Fatalf("ok: got %v, want %v", ok, tt.ok)
			}
			if ok && sum != tt.sum {
				t.Errorf("sum: got %v, want %v", sum, tt.sum)
			}
		})
	}
}

func TestCreditsJSONRoundTrip(t *testing.T) {
	in := FromParts(12, 34)
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out Credits
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip: got %v, want %v", out, in)
	}

	// Bare integer form is accepted too.
	if err := json.Unmarshal([]byte("1234"), &out); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("bare int: got %v, want %v", out, in)
	}
}
