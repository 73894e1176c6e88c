// Package store persists the flat activity collection. Every backend treats
// the collection as a whole: mutations load it, transform it in memory and
// hand the complete result back through ReplaceAll.
package store

import (
	"context"
	"errors"
	"fmt"

	"execagenda/internal/config"
	appLog "execagenda/internal/log"
	"execagenda/internal/model"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("store: activity not found")

// Store is the persistence boundary used by the agenda service. List, Get
// and ReplaceAll must be safe for concurrent use.
type Store interface {
	// List returns every activity in insertion order.
	List(ctx context.Context) ([]model.Activity, error)
	// Get returns one activity or ErrNotFound.
	Get(ctx context.Context, id string) (model.Activity, error)
	// ReplaceAll atomically swaps the whole collection.
	ReplaceAll(ctx context.Context, all []model.Activity) error
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(cfg config.StoreConfig) (Store, error) {
	appLog.Info("store: opening", "driver", cfg.Driver, "path", cfg.Path)

	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryStore(), nil
	case config.DriverFile:
		return OpenFileStore(cfg.Path)
	case config.DriverSQLite, "":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func cloneAll(all []model.Activity) []model.Activity {
	out := make([]model.Activity, len(all))
	for i, a := range all {
		out[i] = cloneActivity(a)
	}
	return out
}

func cloneActivity(a model.Activity) model.Activity {
	if a.Rule != nil {
		r := a.Rule.Clone()
		a.Rule = &r
	}
	a.Template = a.Template.Clone()
	return a
}
