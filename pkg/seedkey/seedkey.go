// Package seedkey computes security-access keys from ECU seeds. Each ECU
// variant registers its own pure algorithm; the diagnostic session looks
// the algorithm up by variant name and never carries state between seeds.
package seedkey

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnsupportedVariant = errors.New("no seed/key algorithm for variant")

// Algorithm turns a seed into the matching key for one security level.
// Implementations must be pure: no retained state, same seed in, same key
// out. An incorrect key consumes an attempt on the ECU side, so a failed
// unlock is never retried by recomputing from the same seed.
type Algorithm func(seed []byte, level byte) ([]byte, error)

var registry = map[string]Algorithm{}

// Register adds an algorithm for a variant. Called from init(); duplicate
// variants are a programming error.
func Register(variant string, algo Algorithm) error {
	if _, ok := registry[variant]; ok {
		return fmt.Errorf("seed/key algorithm for %q already registered", variant)
	}
	registry[variant] = algo
	return nil
}

// Compute dispatches to the variant's registered algorithm.
func Compute(variant string, seed []byte, level byte) ([]byte, error) {
	algo, ok := registry[variant]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnsupportedVariant, variant, Variants())
	}
	return algo(seed, level)
}

// Variants returns the registered variant names sorted alphabetically.
func Variants() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsZero reports whether every seed byte is zero. ECUs return an all-zero
// seed to signal "already unlocked" or "level not supported" depending on
// the variant; callers must check this before invoking the solver.
func IsZero(seed []byte) bool {
	for _, b := range seed {
		if b != 0 {
			return false
		}
	}
	return len(seed) > 0
}
