// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import "context"

// Transactor runs fn as one atomic unit against the backing store.
// Implementations must support nesting: when ctx already carries an open
// transaction, fn joins it instead of opening a second one. Every
// multi-step account flow runs under a Transactor so partial application
// (token consumed but password unchanged, for example) cannot be
// observed.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PassthroughTransactor is a Transactor for stores that are already
// atomic per operation, and for tests.
type PassthroughTransactor struct{}

// InTransaction calls fn directly.
func (PassthroughTransactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
