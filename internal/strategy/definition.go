package strategy

import (
	"fmt"
	"strings"

	"strategylab/internal/catalog"
	"strategylab/internal/domain"
)

// Definition is the serialisable form of a Config whose predicates are
// formulas.
type Definition struct {
	Name             string             `yaml:"name" json:"name"`
	Entry            string             `yaml:"entry" json:"entry"`
	Exit             string             `yaml:"exit,omitempty" json:"exit,omitempty"`
	ShortEntry       string             `yaml:"short_entry,omitempty" json:"short_entry,omitempty"`
	Params           map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
	StopLossPct      float64            `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct    float64            `yaml:"take_profit_pct" json:"take_profit_pct"`
	TrailingStopPct  float64            `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`
	PositionSizePct  float64            `yaml:"position_size_pct" json:"position_size_pct"`
	MaxOpenPositions int                `yaml:"max_open_positions" json:"max_open_positions"`
	Direction        string             `yaml:"direction" json:"direction"`
}

// Build compiles the definition's formulas against reg and validates the
// result. An empty direction means long.
func (d Definition) Build(reg *catalog.Registry) (Config, error) {
	cfg := Config{
		Name:             d.Name,
		StopLossPct:      d.StopLossPct,
		TakeProfitPct:    d.TakeProfitPct,
		TrailingStopPct:  d.TrailingStopPct,
		PositionSizePct:  d.PositionSizePct,
		MaxOpenPositions: d.MaxOpenPositions,
		Direction:        domain.Direction(strings.ToLower(d.Direction)),
	}
	if cfg.Direction == "" {
		cfg.Direction = domain.DirectionLong
	}

	for _, p := range []struct {
		field string
		src   string
		dst   *Predicate
	}{
		{"entry", d.Entry, &cfg.Entry},
		{"exit", d.Exit, &cfg.Exit},
		{"short_entry", d.ShortEntry, &cfg.ShortEntry},
	} {
		if strings.TrimSpace(p.src) == "" {
			continue
		}
		f, err := NewFormula(p.src, reg, d.Params)
		if err != nil {
			return Config{}, fmt.Errorf("strategy %s: %s: %w", d.Name, p.field, err)
		}
		*p.dst = f
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("strategy %s: %w", d.Name, err)
	}
	return cfg, nil
}
