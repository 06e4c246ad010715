package tiers

import "strconv"

// Limit is a monthly entitlement: either a finite cap or unlimited.
// The -1 sentinel the public API uses is confined to the wire encoding;
// internally callers must go through Remaining/Allows so unlimited never
// participates in arithmetic.
type Limit struct {
	n         int64
	unlimited bool
}

// Unlimited is the no-cap limit.
var Unlimited = Limit{unlimited: true}

// LimitOf returns a finite limit of n.
func LimitOf(n int64) Limit {
	return Limit{n: n}
}

// IsUnlimited reports whether the limit has no cap.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the finite cap. Only meaningful when !IsUnlimited().
func (l Limit) Value() int64 { return l.n }

// Remaining returns how much of the limit is left after used, never below
// zero. For an unlimited limit it returns Unlimited.
func (l Limit) Remaining(used int64) Limit {
	if l.unlimited {
		return Unlimited
	}
	r := l.n - used
	if r < 0 {
		r = 0
	}
	return LimitOf(r)
}

// Allows reports whether one more unit fits under the limit given used.
func (l Limit) Allows(used int64) bool {
	return l.unlimited || used < l.n
}

// Wire returns the public API encoding: -1 for unlimited, the cap otherwise.
func (l Limit) Wire() int64 {
	if l.unlimited {
		return -1
	}
	return l.n
}

// String renders the header/JSON form: "unlimited" or the decimal cap.
func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(l.n, 10)
}

// MarshalJSON encodes unlimited as the literal string "unlimited" and a
// finite limit as a number, matching the public usage payload.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.FormatInt(l.n, 10)), nil
}
