// Package store defines storage interfaces for the bar series a backtest
// reads and the custom indicators a registry is loaded from.
package store

import (
	"context"
	"time"

	"strategylab/internal/catalog"
	"strategylab/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data by symbol.
type BarStore interface {
	// WriteBars persists a batch of bars for symbol, merging with any bars
	// already stored at the same timestamps.
	WriteBars(ctx context.Context, symbol string, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end] in ascending
	// time order.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// IndicatorStore persists custom indicator specs.
type IndicatorStore interface {
	// SaveIndicator inserts or replaces the spec with the same name.
	SaveIndicator(ctx context.Context, spec catalog.Spec) error

	// DeleteIndicator removes the named spec. Deleting a missing name is
	// not an error.
	DeleteIndicator(ctx context.Context, name string) error

	// ListIndicators returns every stored spec ordered by name.
	ListIndicators(ctx context.Context) ([]catalog.Spec, error)
}
