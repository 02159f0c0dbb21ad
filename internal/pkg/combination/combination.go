// Package combination allocates coin triples from a bounded space.
package combination

import (
	"errors"
	"fmt"
)

var (
	// ErrExhausted is returned when every triple of the range is already in use.
	ErrExhausted = errors.New("combination: all triples are in use")
	// ErrInvalidRange is returned for a range with Min > Max, a negative bound or a width above MaxWidth.
	ErrInvalidRange = errors.New("combination: invalid range")
)

// MaxWidth bounds the number of values per component.
const MaxWidth = 1 << 10

// Triple is the identity key of a coin.
type Triple struct {
	A int `json:"bit1"`
	B int `json:"bit2"`
	C int `json:"bit3"`
}

// String formats the triple as "a-b-c".
func (t Triple) String() string {
	return fmt.Sprintf("%d-%d-%d", t.A, t.B, t.C)
}

// Range is the closed interval every component of a triple is drawn from.
type Range struct {
	Min int
	Max int
}

// Validate reports ErrInvalidRange for an empty, negative or oversized range.
func (r Range) Validate() error {
	if r.Min < 0 || r.Min > r.Max || r.Max-r.Min >= MaxWidth {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, r.Min, r.Max)
	}
	return nil
}

// Size is the number of distinct triples in the range.
func (r Range) Size() int {
	if r.Validate() != nil {
		return 0
	}
	width := r.Max - r.Min + 1
	return width * width * width
}

// Contains reports whether every component of t lies in the range.
func (r Range) Contains(t Triple) bool {
	in := func(v int) bool { return v >= r.Min && v <= r.Max }
	return in(t.A) && in(t.B) && in(t.C)
}

// Allocate returns the lexicographically first triple of r not present in used.
// Triples in used that fall outside r are ignored.
func Allocate(used map[Triple]struct{}, r Range) (Triple, error) {
	if err := r.Validate(); err != nil {
		return Triple{}, err
	}

	width := r.Max - r.Min + 1
	for i := 0; i < width; i++ {
		for j := 0; j < width; j++ {
			for k := 0; k < width; k++ {
				candidate := Triple{A: r.Min + i, B: r.Min + j, C: r.Min + k}
				if _, taken := used[candidate]; !taken {
					return candidate, nil
				}
			}
		}
	}

	return Triple{}, ErrExhausted
}
