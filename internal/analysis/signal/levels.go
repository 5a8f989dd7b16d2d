package signal

import (
	"slices"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/models"
)

// LevelParams множители ATR для уровней входа, стопа и целей
type LevelParams struct {
	PullLower decimal.Decimal
	PullUpper decimal.Decimal
	Risk      decimal.Decimal
	Targets   []decimal.Decimal // по возрастанию
}

// NewLevelParams переводит настройки в decimal, цели сортируются по удаленности
func NewLevelParams(cfg config.SignalConfig) LevelParams {
	targets := make([]decimal.Decimal, 0, len(cfg.TargetMults))
	for _, m := range cfg.TargetMults {
		targets = append(targets, decimal.NewFromFloat(m))
	}
	slices.SortStableFunc(targets, func(a, b decimal.Decimal) int { return a.Cmp(b) })

	return LevelParams{
		PullLower: decimal.NewFromFloat(cfg.PullLower),
		PullUpper: decimal.NewFromFloat(cfg.PullUpper),
		Risk:      decimal.NewFromFloat(cfg.RiskATR),
		Targets:   targets,
	}
}

// Levels ценовые уровни сигнала
type Levels struct {
	EntryHigh decimal.Decimal
	EntryLow  decimal.Decimal
	StopLoss  decimal.Decimal
	Targets   []decimal.Decimal
}

// ComputeLevels рассчитывает уровни от цены закрытия и ATR.
// LONG: зона входа ниже цены, стоп ниже зоны, цели выше цены.
// SHORT: зеркально.
func ComputeLevels(side models.Side, price, atr decimal.Decimal, p LevelParams) Levels {
	offset := func(m decimal.Decimal) decimal.Decimal { return m.Mul(atr) }

	var lv Levels
	lv.Targets = make([]decimal.Decimal, len(p.Targets))
	switch side {
	case models.SideShort:
		lv.EntryLow = price.Add(offset(p.PullUpper))
		lv.EntryHigh = price.Add(offset(p.PullLower))
		lv.StopLoss = price.Add(offset(p.Risk))
		for i, m := range p.Targets {
			lv.Targets[i] = price.Sub(offset(m))
		}
	default:
		lv.EntryHigh = price.Sub(offset(p.PullUpper))
		lv.EntryLow = price.Sub(offset(p.PullLower))
		lv.StopLoss = price.Sub(offset(p.Risk))
		for i, m := range p.Targets {
			lv.Targets[i] = price.Add(offset(m))
		}
	}
	return lv
}
