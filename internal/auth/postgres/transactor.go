// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/placepulse/placepulse/internal/auth"
)

// Transactor implements auth.Transactor on a pgx connection pool. It
// stores the active pgx.Tx in context so that repository methods called
// inside fn participate in the same transaction. Nested InTransaction
// calls join the transaction already in flight rather than opening a
// second one.
type Transactor struct {
	db DB
}

// NewTransactor creates a Transactor backed by the given connection pool.
func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db}
}

// InTransaction begins a transaction, stores it in context, and calls fn.
// If fn returns nil, the transaction is committed. Otherwise it is rolled back.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.Transactor = (*Transactor)(nil)
