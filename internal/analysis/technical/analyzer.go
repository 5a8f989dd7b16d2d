package technical

import (
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/models"
)

// Analyzer рассчитывает набор индикаторов для ряда свечей
type Analyzer struct {
	config config.SignalConfig
}

// NewAnalyzer создает новый анализатор технических индикаторов
func NewAnalyzer(cfg config.SignalConfig) *Analyzer {
	return &Analyzer{
		config: cfg,
	}
}

// Compute считает все индикаторы за один проход, не изменяя ряд
func (a *Analyzer) Compute(series *models.Series) *models.IndicatorSet {
	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()

	return &models.IndicatorSet{
		EMAFast:   EMA(closes, a.config.EMAFast),
		EMASlow:   EMA(closes, a.config.EMASlow),
		EMATrend:  EMA(closes, a.config.EMATrend),
		ATR:       ATR(highs, lows, closes, a.config.ATRPeriod),
		ADX:       ADX(highs, lows, closes, a.config.ADXPeriod),
		VolumeSMA: SMA(series.Volumes(), a.config.VolumeSMA),
	}
}

// Enrich прикрепляет индикаторы к ряду
func (a *Analyzer) Enrich(series *models.Series) *models.Series {
	series.Indicators = a.Compute(series)
	return series
}
