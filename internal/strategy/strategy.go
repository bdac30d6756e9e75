// Package strategy defines trading strategy configurations, the predicates
// that drive them, and a Registry for managing named strategies.
package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"

	"strategylab/internal/domain"
)

// Signal reports whether a bound predicate fires on bar i.
type Signal func(i int) (bool, error)

// Predicate is an entry or exit condition. Bind is called once per run with
// the full bar series and returns the per-bar signal.
type Predicate interface {
	Bind(ctx context.Context, bars []domain.Bar) (Signal, error)
	String() string
}

// Config is a declarative strategy. Zero risk percentages disable the
// corresponding exit rule.
type Config struct {
	Name string

	// Entry opens a position. With Direction both it opens longs.
	Entry Predicate
	// Exit closes every open position when it fires. Optional.
	Exit Predicate
	// ShortEntry opens shorts when Direction is both. Optional.
	ShortEntry Predicate

	StopLossPct     float64
	TakeProfitPct   float64
	TrailingStopPct float64

	PositionSizePct  float64
	MaxOpenPositions int
	Direction        domain.Direction
}

// Validate checks the config before a simulation starts.
func (c Config) Validate() error {
	if c.Entry == nil {
		return &domain.ValidationError{Field: "entry", Reason: "entry predicate is required"}
	}
	if c.MaxOpenPositions <= 0 {
		return &domain.ValidationError{Field: "max_open_positions", Reason: fmt.Sprintf("must be positive, got %d", c.MaxOpenPositions)}
	}
	switch c.Direction {
	case domain.DirectionLong, domain.DirectionShort, domain.DirectionBoth:
	default:
		return &domain.ValidationError{Field: "direction", Reason: fmt.Sprintf("unknown direction %q", c.Direction)}
	}
	if math.IsNaN(c.PositionSizePct) || c.PositionSizePct <= 0 || c.PositionSizePct > 100 {
		return &domain.ValidationError{Field: "position_size_pct", Reason: fmt.Sprintf("must be in (0, 100], got %v", c.PositionSizePct)}
	}

	for _, r := range []struct {
		name string
		v    float64
	}{
		{"stop_loss_pct", c.StopLossPct},
		{"take_profit_pct", c.TakeProfitPct},
		{"trailing_stop_pct", c.TrailingStopPct},
	} {
		if math.IsNaN(r.v) || math.IsInf(r.v, 0) || r.v < 0 {
			return &domain.ConfigurationError{Param: r.name, Value: r.v, Reason: "must be a non-negative percentage"}
		}
	}
	return nil
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Config
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Config),
	}
}

// Register validates c and adds it, keyed by its Name.
func (r *Registry) Register(c Config) error {
	if c.Name == "" {
		return &domain.ValidationError{Field: "name", Reason: "strategy name is required"}
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", c.Name, err)
	}
	r.strategies[c.Name] = c
	return nil
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Config, bool) {
	c, ok := r.strategies[name]
	return c, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
