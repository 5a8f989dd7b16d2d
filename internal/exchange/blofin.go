package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/logger"
	"github.com/skalibog/emacross/pkg/models"
	"go.uber.org/zap"
)

var blofinTimeframes = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H", "8h": "8H", "12h": "12H",
	"1d": "1D", "3d": "3D", "1w": "1W", "1M": "1M",
}

// paramConvention вариант именования параметров запроса свечей
type paramConvention struct {
	symbolKey   string
	intervalKey string
	concat      bool
}

func (c paramConvention) symbol(base, quote string) string {
	if c.concat {
		return base + quote
	}
	return base + "-" + quote
}

// Шлюзы BloFin принимают разные имена параметров, пробуем по очереди
var blofinConventions = []paramConvention{
	{symbolKey: "instId", intervalKey: "bar"},
	{symbolKey: "symbol", intervalKey: "interval", concat: true},
	{symbolKey: "instId", intervalKey: "interval"},
	{symbolKey: "symbol", intervalKey: "bar"},
}

// Коды ответа BloFin, означающие превышение лимита запросов
var blofinRateLimitCodes = map[string]bool{"429": true, "50011": true}

// BlofinProvider REST API BloFin
type BlofinProvider struct {
	cfg      config.BlofinConfig
	rest     *restClient
	retry    RetryPolicy
	shape    Shape
	universe *universe

	mu         sync.Mutex
	convention int // индекс рабочего варианта параметров, -1 пока неизвестен
}

// NewBlofinProvider создает провайдера BloFin
func NewBlofinProvider(cfg config.ProviderConfig) *BlofinProvider {
	p := &BlofinProvider{
		cfg:        cfg.Blofin,
		rest:       newRESTClient(cfg.Blofin.BaseURL, cfg.Timeout),
		retry:      NewRetryPolicy(cfg.Retry),
		shape:      DefaultShape,
		convention: -1,
	}
	p.universe = newUniverse(p.Name(), cfg.UniverseTTL, p.loadUniverse)
	return p
}

func (p *BlofinProvider) Name() string { return "blofin" }

// FetchOHLCV получает свечи, при большом limit страницами назад во времени
func (p *BlofinProvider) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) (*models.Series, error) {
	base, quote, err := models.SplitSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSymbol, err)
	}
	if err := p.checkSupported(ctx, base+"-"+quote); err != nil {
		return nil, err
	}

	bar := mapTimeframe(blofinTimeframes, timeframe)
	bars, err := pageBackward(ctx, limit, p.cfg.PageLimit, func(ctx context.Context, before time.Time, n int) ([]models.Bar, error) {
		return p.fetchPage(ctx, base, quote, bar, before, n)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s %s: %w", symbol, timeframe, err)
	}
	return buildSeries(symbol, timeframe, bars, limit)
}

// checkSupported отклоняет инструменты вне списка; недоступный список не блокирует запрос
func (p *BlofinProvider) checkSupported(ctx context.Context, instID string) error {
	ok, err := p.universe.contains(ctx, instID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug("Список инструментов BloFin недоступен, проверка пропущена", zap.Error(err))
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedSymbol, instID)
	}
	return nil
}

// fetchPage одна страница свечей. Пока рабочий вариант параметров неизвестен, перебирает все.
func (p *BlofinProvider) fetchPage(ctx context.Context, base, quote, bar string, before time.Time, n int) ([]models.Bar, error) {
	p.mu.Lock()
	known := p.convention
	p.mu.Unlock()

	if known >= 0 {
		return p.fetchWith(ctx, blofinConventions[known], base, quote, bar, before, n)
	}

	var lastErr error
	for i, conv := range blofinConventions {
		rows, err := p.fetchWith(ctx, conv, base, quote, bar, before, n)
		// Пустой ответ тоже означает, что параметры приняты
		if err == nil || errors.Is(err, ErrDataUnavailable) {
			p.mu.Lock()
			p.convention = i
			p.mu.Unlock()
			logger.Debug("Найден вариант параметров BloFin",
				zap.String("symbol_key", conv.symbolKey), zap.String("interval_key", conv.intervalKey))
			return rows, err
		}
		// Недоступность шлюза не лечится сменой параметров
		if errors.Is(err, ErrTransient) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *BlofinProvider) fetchWith(ctx context.Context, conv paramConvention, base, quote, bar string, before time.Time, n int) ([]models.Bar, error) {
	q := url.Values{
		conv.symbolKey:   {conv.symbol(base, quote)},
		conv.intervalKey: {bar},
		"limit":          {strconv.Itoa(n)},
	}
	if !before.IsZero() {
		// after: записи раньше указанной метки
		q.Set("after", strconv.FormatInt(before.UnixMilli(), 10))
	}

	var rows []models.Bar
	err := p.retry.Do(ctx, "blofin candles "+base+quote, func(ctx context.Context) error {
		payload, err := p.get(ctx, p.cfg.KlinesPath, q)
		if err != nil {
			return err
		}
		rows, err = p.shape.Normalize(payload)
		return err
	})
	return rows, err
}

// get запрос с проверкой кода ответа BloFin {"code":"0","msg":"success","data":...}
func (p *BlofinProvider) get(ctx context.Context, path string, q url.Values) (any, error) {
	payload, err := p.rest.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return payload, nil
	}
	code := toString(obj["code"])
	if code == "" || code == "0" {
		return payload, nil
	}
	msg := toString(obj["msg"])
	if blofinRateLimitCodes[code] {
		return nil, fmt.Errorf("%w: blofin %s: %s", ErrTransient, code, msg)
	}
	return nil, fmt.Errorf("%w: blofin %s: %s", ErrFetch, code, msg)
}

// FetchFundingRate текущая ставка финансирования в процентах
func (p *BlofinProvider) FetchFundingRate(ctx context.Context, symbol string) decimal.NullDecimal {
	base, quote, err := models.SplitSymbol(symbol)
	if err != nil {
		return decimal.NullDecimal{}
	}

	var rate decimal.NullDecimal
	err = p.retry.Do(ctx, "blofin funding "+base+quote, func(ctx context.Context) error {
		payload, err := p.get(ctx, p.cfg.FundingPath, url.Values{"instId": {base + "-" + quote}})
		if err != nil {
			return err
		}
		rate = firstDecimal(payload, "fundingRate")
		return nil
	})
	if err != nil {
		logger.Debug("Ставка финансирования недоступна", zap.String("symbol", symbol), zap.Error(err))
		return decimal.NullDecimal{}
	}
	if !rate.Valid {
		return rate
	}
	return decimal.NewNullDecimal(rate.Decimal.Mul(decimal.NewFromInt(100)))
}

// TopSymbols символы с наибольшим суточным объемом в котировке
func (p *BlofinProvider) TopSymbols(ctx context.Context, quote string, topN int, minVolume float64) ([]string, error) {
	quote = strings.ToUpper(quote)
	var payload any
	err := p.retry.Do(ctx, "blofin tickers", func(ctx context.Context) error {
		var err error
		payload, err = p.get(ctx, p.cfg.TickersPath, url.Values{"instType": {p.cfg.InstType}})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения тикеров: %w", err)
	}

	var entries []volumeEntry
	for _, item := range dataList(payload) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		inst := strings.ToUpper(toString(obj["instId"]))
		base, q, found := strings.Cut(inst, "-")
		if !found || q != quote {
			continue
		}
		entries = append(entries, volumeEntry{symbol: base + "/" + q, volume: quoteVolume(obj)})
	}
	return rankByVolume(entries, topN, minVolume), nil
}

// quoteVolume объем в котировке: явное поле или объем * последняя цена
func quoteVolume(obj map[string]any) float64 {
	if v, ok := pick(obj, []string{"volUsd", "quoteVolume", "vol24hQuote", "volCurrencyQuote24h"}); ok {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	vol, ok1 := toFloat(obj["vol24h"])
	last, ok2 := toFloat(obj["last"])
	if ok1 && ok2 {
		return vol * last
	}
	return 0
}

func (p *BlofinProvider) loadUniverse(ctx context.Context) (map[string]struct{}, error) {
	var payload any
	err := p.retry.Do(ctx, "blofin instruments", func(ctx context.Context) error {
		var err error
		payload, err = p.get(ctx, p.cfg.InstrumentsPath, url.Values{"instType": {p.cfg.InstType}})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка инструментов: %w", err)
	}

	items := make(map[string]struct{})
	for _, item := range dataList(payload) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id := strings.ToUpper(toString(obj["instId"])); id != "" {
			items[id] = struct{}{}
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: пустой список инструментов", ErrDataUnavailable)
	}
	return items, nil
}

func dataList(payload any) []any {
	if obj, ok := payload.(map[string]any); ok {
		if list, ok := obj["data"].([]any); ok {
			return list
		}
	}
	if list, ok := payload.([]any); ok {
		return list
	}
	return nil
}

func firstDecimal(payload any, field string) decimal.NullDecimal {
	for _, item := range dataList(payload) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := toString(obj[field])
		if s == "" {
			continue
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		return decimal.NewNullDecimal(d)
	}
	return decimal.NullDecimal{}
}
