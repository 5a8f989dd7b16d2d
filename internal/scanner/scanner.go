package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skalibog/emacross/internal/analysis/signal"
	"github.com/skalibog/emacross/internal/analysis/technical"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/internal/exchange"
	"github.com/skalibog/emacross/internal/metrics"
	"github.com/skalibog/emacross/internal/notify"
	"github.com/skalibog/emacross/pkg/logger"
	"github.com/skalibog/emacross/pkg/models"
	"go.uber.org/zap"
)

// CycleStats итог одного прохода по символам
type CycleStats struct {
	Scanned int
	Alerts  int
	Errors  int
	Skipped int
}

// CandleSaver сохраняет загруженные свечи (журнал InfluxDB)
type CandleSaver interface {
	SaveCandles(ctx context.Context, series *models.Series) error
}

// Scanner периодически проверяет набор символов и отправляет сигналы
type Scanner struct {
	trading  config.TradingConfig
	scan     config.ScanConfig
	label    string
	provider exchange.Provider
	analyzer *technical.Analyzer
	engine   *signal.Engine
	sink     notify.Sink
	metrics  *metrics.Recorder
	candles  CandleSaver

	retentionBars int
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time

	mu          sync.Mutex
	symbols     []string
	unsupported map[string]bool
}

// New создает сканер. rec может быть nil.
func New(cfg *config.Config, provider exchange.Provider, engine *signal.Engine, sink notify.Sink, rec *metrics.Recorder) *Scanner {
	label := strings.TrimSpace(cfg.Provider.ExchangeLabel)
	if label == "" {
		label = provider.Name()
	}
	return &Scanner{
		trading:       cfg.Trading,
		scan:          cfg.Scan,
		label:         label,
		provider:      provider,
		analyzer:      technical.NewAnalyzer(cfg.Signal),
		engine:        engine,
		sink:          sink,
		metrics:       rec,
		retentionBars: cfg.Signal.DedupRetentionBars,
		sleep:         sleepCtx,
		now:           time.Now,
		symbols:       append([]string(nil), cfg.Trading.Symbols...),
		unsupported:   make(map[string]bool),
	}
}

// SetCandleSaver включает сохранение загруженных свечей
func (s *Scanner) SetCandleSaver(c CandleSaver) {
	s.candles = c
}

// Symbols текущий набор символов
func (s *Scanner) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

// Run выбирает символы, публикует баннер и сканирует до отмены контекста
func (s *Scanner) Run(ctx context.Context) error {
	s.resolveSymbols(ctx)
	s.info(ctx, s.Banner())
	logger.Info("Сканер запущен",
		zap.String("provider", s.provider.Name()),
		zap.String("timeframe", s.trading.Timeframe),
		zap.Strings("symbols", s.Symbols()))

	for {
		stats := s.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug("Цикл сканирования завершен",
			zap.Int("scanned", stats.Scanned), zap.Int("alerts", stats.Alerts), zap.Int("errors", stats.Errors))
		if err := s.sleep(ctx, s.scan.PollInterval); err != nil {
			return err
		}
	}
}

// Banner стартовое сообщение
func (s *Scanner) Banner() string {
	return fmt.Sprintf("Сканер запущен на **%s** | TF **%s** | Символы: %s",
		s.label, s.trading.Timeframe, strings.Join(s.Symbols(), ", "))
}

// RunCycle один проход по всем пакетам символов
func (s *Scanner) RunCycle(ctx context.Context) CycleStats {
	start := s.now()
	var stats CycleStats

	batches := batch(s.Symbols(), s.scan.BatchSize)
	for bi, symbols := range batches {
		failed := 0
		for i, symbol := range symbols {
			if ctx.Err() != nil {
				return stats
			}
			alerted, err := s.scanSymbol(ctx, symbol)
			switch {
			case err == nil:
				stats.Scanned++
				if alerted {
					stats.Alerts++
				}
			case errors.Is(err, exchange.ErrDataUnavailable), errors.Is(err, exchange.ErrUnsupportedSymbol):
				stats.Skipped++
			default:
				stats.Errors++
				failed++
			}
			if i < len(symbols)-1 {
				if s.sleep(ctx, s.scan.Throttle) != nil {
					return stats
				}
			}
		}

		pause := s.scan.BatchPause
		if failed == len(symbols) {
			logger.Warn("Все символы пакета завершились ошибкой", zap.Strings("symbols", symbols))
			pause = s.scan.ErrorPause
		} else if bi == len(batches)-1 {
			pause = 0
		}
		if pause > 0 && s.sleep(ctx, pause) != nil {
			return stats
		}
	}

	s.prune()
	s.metrics.RecordCycle(s.now().Sub(start))
	return stats
}

// scanSymbol загрузка, индикаторы, проверка и отправка по одному символу
func (s *Scanner) scanSymbol(ctx context.Context, symbol string) (bool, error) {
	series, err := s.provider.FetchOHLCV(ctx, symbol, s.trading.Timeframe, s.trading.MinBars)
	if err != nil {
		s.fetchFailed(ctx, symbol, err)
		return false, err
	}
	if s.candles != nil {
		if err := s.candles.SaveCandles(ctx, series); err != nil {
			logger.Warn("Ошибка сохранения свечей", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	s.analyzer.Enrich(series)

	d, err := s.engine.Decide(ctx, series)
	if err != nil {
		s.metrics.RecordScan("error")
		s.report(ctx, symbol, err)
		return false, err
	}
	if d.Alert == nil {
		s.metrics.RecordScan("no_signal")
		s.metrics.RecordRejection(string(d.Gate))
		return false, nil
	}

	s.metrics.RecordScan("alert")
	s.metrics.RecordAlert(symbol, string(d.Alert.Side))
	logger.Info("Обнаружен сигнал",
		zap.String("symbol", symbol), zap.String("side", string(d.Alert.Side)), zap.Time("bar", d.Alert.BarTime))

	// Ошибка доставки не отменяет сигнал: дедупликация уже зафиксирована
	if err := s.sink.SendAlert(ctx, d.Alert); err != nil {
		s.metrics.RecordSinkError()
		logger.Error("Ошибка отправки сигнала", zap.String("symbol", symbol), zap.Error(err))
	}
	return true, nil
}

func (s *Scanner) fetchFailed(ctx context.Context, symbol string, err error) {
	switch {
	case errors.Is(err, exchange.ErrDataUnavailable):
		s.metrics.RecordScan("unavailable")
		s.metrics.RecordFetchError("unavailable")
		logger.Debug("Нет данных", zap.String("symbol", symbol))
	case errors.Is(err, exchange.ErrUnsupportedSymbol):
		s.metrics.RecordScan("unsupported")
		s.metrics.RecordFetchError("unsupported")
		s.mu.Lock()
		first := !s.unsupported[symbol]
		s.unsupported[symbol] = true
		s.mu.Unlock()
		if first {
			logger.Warn("Символ не поддерживается провайдером", zap.String("symbol", symbol), zap.Error(err))
		}
	default:
		kind := "fetch"
		if errors.Is(err, exchange.ErrTransient) {
			kind = "transient"
		}
		s.metrics.RecordScan("error")
		s.metrics.RecordFetchError(kind)
		s.report(ctx, symbol, err)
	}
}

func (s *Scanner) report(ctx context.Context, symbol string, err error) {
	if ctx.Err() != nil {
		return
	}
	logger.Error("Ошибка сканирования", zap.String("symbol", symbol), zap.Error(err))
	s.info(ctx, fmt.Sprintf("Ошибка %s: %v", symbol, err))
}

// info служебное сообщение; ошибки доставки проглатываются
func (s *Scanner) info(ctx context.Context, text string) {
	if s.scan.Quiet {
		return
	}
	if err := s.sink.SendInfo(ctx, text); err != nil {
		logger.Debug("Служебное сообщение не доставлено", zap.Error(err))
	}
}

// resolveSymbols автоматический выбор символов по объему
func (s *Scanner) resolveSymbols(ctx context.Context) {
	auto := s.trading.AutoSymbols
	if !auto.Enabled {
		return
	}
	ranker, ok := s.provider.(exchange.SymbolRanker)
	if !ok {
		s.info(ctx, fmt.Sprintf("Автовыбор символов не поддерживается провайдером %s, используется список из настроек", s.provider.Name()))
		return
	}
	picked, err := ranker.TopSymbols(ctx, auto.Quote, auto.TopN, auto.MinVolume)
	if err != nil {
		logger.Warn("Ошибка автовыбора символов", zap.Error(err))
		s.info(ctx, fmt.Sprintf("Ошибка автовыбора символов: %v, используется список из настроек", err))
		return
	}
	if len(picked) == 0 {
		s.info(ctx, "Автовыбор символов: нет подходящих, используется список из настроек")
		return
	}

	s.mu.Lock()
	s.symbols = picked
	s.mu.Unlock()
	s.info(ctx, fmt.Sprintf("Автовыбор символов (%s): %s", strings.ToUpper(auto.Quote), strings.Join(picked, ", ")))
}

// prune вытесняет старые записи дедупликации, если задан срок хранения
func (s *Scanner) prune() {
	store := s.engine.Store()
	if s.retentionBars > 0 {
		if step, ok := models.TimeframeDuration(s.trading.Timeframe); ok {
			cutoff := s.now().Add(-time.Duration(s.retentionBars) * step)
			if n := store.Prune(cutoff); n > 0 {
				logger.Debug("Очищены записи дедупликации", zap.Int("removed", n))
			}
		}
	}
	s.metrics.SetDedupEntries(store.Len())
}

func batch(symbols []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for len(symbols) > 0 {
		n := min(size, len(symbols))
		out = append(out, symbols[:n])
		symbols = symbols[n:]
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
