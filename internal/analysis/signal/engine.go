package signal

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/analysis/funding"
	"github.com/skalibog/emacross/internal/analysis/technical"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/logger"
	"github.com/skalibog/emacross/pkg/models"
	"go.uber.org/zap"
)

// ErrNotEnriched ряд не прошел расчет индикаторов
var ErrNotEnriched = errors.New("ряд без индикаторов")

// MarketData источник данных для фильтров старшего таймфрейма и финансирования
type MarketData interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) (*models.Series, error)
	FetchFundingRate(ctx context.Context, symbol string) decimal.NullDecimal
}

// Gate фильтр, на котором остановилась проверка
type Gate string

const (
	GateNone        Gate = ""
	GateSufficiency Gate = "sufficiency"
	GateDedup       Gate = "dedup"
	GateCrossover   Gate = "crossover"
	GateADX         Gate = "adx"
	GateVolume      Gate = "volume"
	GateCooldown    Gate = "cooldown"
	GateHTF         Gate = "htf"
	GateFunding     Gate = "funding"
	GateATR         Gate = "atr"
)

// Decision результат проверки: сигнал либо фильтр, который его отклонил
type Decision struct {
	Alert *models.Alert
	Gate  Gate
}

// Engine детектор пересечения EMA с фильтрами подтверждения
type Engine struct {
	config  config.SignalConfig
	minBars int
	data    MarketData
	store   *Store
	funding *funding.Filter
	levels  LevelParams
	now     func() time.Time
}

// NewEngine создает детектор. data используется только фильтрами HTF и финансирования.
func NewEngine(cfg config.SignalConfig, minBars int, data MarketData, store *Store) *Engine {
	return &Engine{
		config:  cfg,
		minBars: minBars,
		data:    data,
		store:   store,
		funding: funding.NewFilter(cfg.Funding),
		levels:  NewLevelParams(cfg),
		now:     time.Now,
	}
}

// SetClock подменяет источник текущего времени
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Store хранилище дедупликации и кулдауна
func (e *Engine) Store() *Store {
	return e.store
}

// Evaluate проверяет последнюю закрытую свечу обогащенного ряда
func (e *Engine) Evaluate(ctx context.Context, series *models.Series) (*models.Alert, error) {
	d, err := e.Decide(ctx, series)
	if err != nil {
		return nil, err
	}
	return d.Alert, nil
}

// Decide то же, что Evaluate, но сообщает отклонивший фильтр
func (e *Engine) Decide(ctx context.Context, series *models.Series) (Decision, error) {
	if series == nil || series.Indicators == nil {
		return Decision{}, ErrNotEnriched
	}
	ind := series.Indicators
	n := series.Len()
	if n < e.minBars || !ind.Aligned(n) {
		return Decision{Gate: GateSufficiency}, nil
	}
	cur := closedIndex(series, e.now())
	prev := cur - 1
	if prev < 0 {
		return Decision{Gate: GateSufficiency}, nil
	}

	bar := series.Bars[cur]
	if e.store.Seen(series.Symbol, bar.OpenTime) {
		return Decision{Gate: GateDedup}, nil
	}

	var side models.Side
	switch {
	case ind.EMAFast[cur] > ind.EMASlow[cur] && ind.EMAFast[prev] <= ind.EMASlow[prev] && bar.Close > ind.EMATrend[cur]:
		side = models.SideLong
	case ind.EMAFast[cur] < ind.EMASlow[cur] && ind.EMAFast[prev] >= ind.EMASlow[prev] && bar.Close < ind.EMATrend[cur]:
		side = models.SideShort
	default:
		return Decision{Gate: GateCrossover}, nil
	}

	if adx := ind.ADX[cur]; math.IsNaN(adx) || adx < e.config.MinADX {
		return Decision{Gate: GateADX}, nil
	}
	if sma := ind.VolumeSMA[cur]; math.IsNaN(sma) || bar.Volume < e.config.VolumeMult*sma {
		return Decision{Gate: GateVolume}, nil
	}
	if !e.cooldownPassed(series, bar.OpenTime) {
		return Decision{Gate: GateCooldown}, nil
	}
	if e.config.HTF.Enabled && !e.htfConfirms(ctx, series.Symbol, side) {
		return Decision{Gate: GateHTF}, nil
	}

	var fundingText string
	if e.funding.Enabled() {
		var ok bool
		ok, fundingText = e.funding.Allow(e.data.FetchFundingRate(ctx, series.Symbol))
		if !ok {
			logger.Debug("Сигнал отклонен ставкой финансирования",
				zap.String("symbol", series.Symbol), zap.String("funding", fundingText))
			return Decision{Gate: GateFunding}, nil
		}
	}

	atr := ind.ATR[cur]
	if math.IsNaN(atr) {
		return Decision{Gate: GateATR}, nil
	}

	// Состояние фиксируется при обнаружении, независимо от доставки
	if !e.store.Mark(series.Symbol, bar.OpenTime) {
		return Decision{Gate: GateDedup}, nil
	}

	lv := ComputeLevels(side, decimal.NewFromFloat(bar.Close), decimal.NewFromFloat(atr), e.levels)
	alert := &models.Alert{
		ID:          uuid.NewString(),
		Symbol:      series.Symbol,
		Timeframe:   series.Timeframe,
		Side:        side,
		Leverage:    e.config.Leverage,
		EntryHigh:   lv.EntryHigh,
		EntryLow:    lv.EntryLow,
		StopLoss:    lv.StopLoss,
		Targets:     lv.Targets,
		Annotations: []models.Annotation{{Label: "TF", Text: series.Timeframe}},
		BarTime:     bar.OpenTime,
		CreatedAt:   e.now(),
	}
	if fundingText != "" {
		alert.Annotations = append(alert.Annotations, models.Annotation{Label: "Info", Text: fundingText})
	}
	return Decision{Alert: alert}, nil
}

// cooldownPassed прошло ли достаточно свечей с прошлого сигнала.
// Длительность свечи берется из двух последних меток времени.
func (e *Engine) cooldownPassed(series *models.Series, barTime time.Time) bool {
	last, ok := e.store.LastAlert(series.Symbol)
	if !ok {
		return true
	}
	n := series.Len()
	step := series.Bars[n-1].OpenTime.Sub(series.Bars[n-2].OpenTime)
	if step <= 0 {
		return true
	}
	elapsed := int64(barTime.Sub(last) / step)
	return elapsed >= int64(e.config.CooldownBars)
}

// htfConfirms тренд старшего таймфрейма. Нехватка данных и ошибки сигнал не блокируют.
func (e *Engine) htfConfirms(ctx context.Context, symbol string, side models.Side) bool {
	cfg := e.config.HTF
	htf, err := e.data.FetchOHLCV(ctx, symbol, cfg.Timeframe, cfg.Limit)
	if err != nil {
		logger.Warn("Старший таймфрейм недоступен, фильтр пропущен",
			zap.String("symbol", symbol), zap.String("timeframe", cfg.Timeframe), zap.Error(err))
		return true
	}
	if htf.Len() < cfg.MinBars {
		logger.Debug("Недостаточно истории старшего таймфрейма",
			zap.String("symbol", symbol), zap.Int("bars", htf.Len()))
		return true
	}
	idx := closedIndex(htf, e.now())
	if idx < 0 {
		return true
	}
	ema := technical.EMA(htf.Closes(), cfg.EMA)
	price := htf.Bars[idx].Close
	if side == models.SideLong {
		return price > ema[idx]
	}
	return price < ema[idx]
}

// closedIndex индекс последней закрытой свечи: предпоследняя, если последняя еще формируется
func closedIndex(series *models.Series, now time.Time) int {
	n := series.Len()
	if n == 0 {
		return -1
	}
	last := n - 1
	step, ok := models.TimeframeDuration(series.Timeframe)
	if !ok && n >= 2 {
		step = series.Bars[last].OpenTime.Sub(series.Bars[last-1].OpenTime)
	}
	if step > 0 && series.Bars[last].OpenTime.Add(step).After(now) {
		return last - 1
	}
	return last
}
