package strategy

import (
	"fmt"

	"algorunner/internal/config"
	"algorunner/pkg/types"
)

// FromConfig builds a strategy from its configuration record.
// Unrecognized types are an error; parameter keys the variant does not
// recognize are ignored, missing keys take the variant's defaults.
func FromConfig(cfg config.StrategyConfig) (Strategy, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("strategy config missing name")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("strategy %q has no symbols", cfg.Name)
	}

	switch cfg.Type {
	case types.StrategyMomentum:
		return NewMomentum(cfg.Name, cfg.Symbols, cfg.Params, cfg.Enabled, cfg.PositionSizePct, cfg.CashAllocation, cfg.Cooldown), nil
	case types.StrategyMeanReversion:
		return NewMeanReversion(cfg.Name, cfg.Symbols, cfg.Params, cfg.Enabled, cfg.PositionSizePct, cfg.CashAllocation, cfg.Cooldown), nil
	case types.StrategySMACrossover:
		return NewSMACrossover(cfg.Name, cfg.Symbols, cfg.Params, cfg.Enabled, cfg.PositionSizePct, cfg.CashAllocation, cfg.Cooldown), nil
	case types.StrategyRSI:
		return NewRSI(cfg.Name, cfg.Symbols, cfg.Params, cfg.Enabled, cfg.PositionSizePct, cfg.CashAllocation, cfg.Cooldown), nil
	case types.StrategyBuyAndHold:
		return NewBuyAndHold(cfg.Name, cfg.Symbols, cfg.Enabled, cfg.PositionSizePct, cfg.CashAllocation, cfg.Cooldown), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
}
