package fuzzcore

import (
	"context"
	"errors"
)

// ErrPropertyFalse is the failure a bool-shaped property reports when it
// returns false.
var ErrPropertyFalse = errors.New("fuzzcore: property returned false")

// PropertyFromBool normalizes a plain predicate into a Property: a false
// return becomes ErrPropertyFalse, so the loop treats it like any other
// failure (artifact saved, failure-pool routing, stop-on-first-failure).
func PropertyFromBool[V any](f func(V) bool) Property[V] {
	return func(ctx context.Context, value V) error {
		if !f(value) {
			return ErrPropertyFalse
		}
		return nil
	}
}

// PropertyFromFunc normalizes a void test function into a Property: only
// a panic counts as a failure.
func PropertyFromFunc[V any](f func(V)) Property[V] {
	return func(ctx context.Context, value V) error {
		f(value)
		return nil
	}
}
