// Package storage defines the action journal and its implementations.
package storage

import (
	"context"

	"destalinator/internal/model"
)

// Journal records what each run did. Entries are an audit trail only and
// are never read back to make decisions.
type Journal interface {
	RecordAction(ctx context.Context, a *model.Action) error
	ListActions(ctx context.Context, limit int) ([]model.Action, error)
	Close() error
}

// Discard is a Journal that keeps nothing.
type Discard struct{}

// RecordAction implements Journal.
func (Discard) RecordAction(context.Context, *model.Action) error { return nil }

// ListActions implements Journal.
func (Discard) ListActions(context.Context, int) ([]model.Action, error) { return nil, nil }

// Close implements Journal.
func (Discard) Close() error { return nil }
