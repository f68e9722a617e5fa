package db

import (
	"context"
	"fmt"
)

// AfterCommitFunc runs after the transaction has committed.
type AfterCommitFunc func(ctx context.Context)

// TxScope wraps a transaction and collects callbacks that must only run
// once the transaction is durable. Event publishing registers here so a
// rolled-back write never produces a broadcast.
type TxScope struct {
	tx    Transaction
	hooks []AfterCommitFunc
}

// Tx returns the underlying transaction for repository calls
func (s *TxScope) Tx() Transaction {
	return s.tx
}

// AfterCommit registers fn to run after a successful commit.
// Hooks run in registration order. A rollback discards them.
func (s *TxScope) AfterCommit(fn AfterCommitFunc) {
	if fn != nil {
		s.hooks = append(s.hooks, fn)
	}
}

// WithTransaction runs fn inside a transaction on the provided database.
// On nil error the transaction commits and registered after-commit hooks
// fire with the caller's context; on error everything rolls back and the
// hooks are dropped.
func WithTransaction(ctx context.Context, database Database, fn func(scope *TxScope) error) error {
	if database == nil {
		return fmt.Errorf("database is nil")
	}

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	scope := &TxScope{tx: tx}
	if err := fn(scope); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	for _, hook := range scope.hooks {
		hook(ctx)
	}
	return nil
}
