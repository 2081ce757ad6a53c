package risk

import (
	"fmt"
	"strings"

	"github.com/quantfall/tradegate/internal/domain"
)

// BracketPolicy computes take-profit levels for a bracket order. The two
// venues ship with different policies (risk-reward multiples vs. fixed
// percentages of entry), selected per venue in config.
type BracketPolicy interface {
	// Levels returns the first and second take-profit prices for an entry
	// and stop in the given direction.
	Levels(entry, stop float64, side domain.Side) (tp1, tp2 float64)
	Name() string
}

// RatioPolicy places targets at risk-reward multiples of the stop distance:
// tp1 = entry +/- risk*ratio, tp2 = entry +/- risk*(ratio+1).
type RatioPolicy struct {
	// Ratio is the reward multiple for the first target. Zero means the
	// default of 2.0.
	Ratio float64
}

func (p RatioPolicy) Name() string { return "ratio" }

func (p RatioPolicy) Levels(entry, stop float64, side domain.Side) (float64, float64) {
	ratio := p.Ratio
	if ratio == 0 {
		ratio = 2.0
	}
	risk := entry - stop
	if risk < 0 {
		risk = -risk
	}
	if side == domain.SideBuy {
		return entry + risk*ratio, entry + risk*(ratio+1)
	}
	return entry - risk*ratio, entry - risk*(ratio+1)
}

// FixedPctPolicy places targets at fixed percentages of the entry price,
// independent of the stop distance. Used for the aggressive DEX profile
// (30% first target, 60% second).
type FixedPctPolicy struct {
	// TargetPct is the first target's distance from entry in percent. Zero
	// means the default of 30.
	TargetPct float64
	// SecondTargetPct is the second target's distance; zero means double the
	// first.
	SecondTargetPct float64
}

func (p FixedPctPolicy) Name() string { return "fixed_pct" }

func (p FixedPctPolicy) Levels(entry, _ float64, side domain.Side) (float64, float64) {
	first := p.TargetPct
	if first == 0 {
		first = 30
	}
	second := p.SecondTargetPct
	if second == 0 {
		second = first * 2
	}
	if side == domain.SideBuy {
		return entry * (1 + first/100), entry * (1 + second/100)
	}
	return entry * (1 - first/100), entry * (1 - second/100)
}

// PolicyConfig selects and parameterises the bracket policy.
type PolicyConfig struct {
	// Policy names the scheme: "ratio" or "fixed_pct". Empty means ratio.
	Policy          string
	TakeProfitRatio float64
	TargetPct       float64
	SecondTargetPct float64
}

// PolicyFor builds the configured bracket policy. Unknown names are an
// error so a config typo cannot silently switch target schemes.
func PolicyFor(cfg PolicyConfig) (BracketPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Policy)) {
	case "", "ratio":
		return RatioPolicy{Ratio: cfg.TakeProfitRatio}, nil
	case "fixed_pct":
		return FixedPctPolicy{
			TargetPct:       cfg.TargetPct,
			SecondTargetPct: cfg.SecondTargetPct,
		}, nil
	default:
		return nil, fmt.Errorf("risk: unknown bracket policy %q (valid: ratio, fixed_pct)", cfg.Policy)
	}
}
