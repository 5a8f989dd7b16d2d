package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/logger"
	"github.com/skalibog/emacross/pkg/models"
	"go.uber.org/zap"
)

// Максимум свечей за один запрос к /fapi/v1/klines
const binanceMaxKlines = 1500

var binanceTimeframes = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "6h": "6h", "8h": "8h", "12h": "12h",
	"1d": "1d", "3d": "3d", "1w": "1w", "1M": "1M",
}

// BinanceProvider фьючерсы USDⓈ-M через go-binance
type BinanceProvider struct {
	futures   *futures.Client
	retry     RetryPolicy
	pageLimit int
	universe  *universe
}

// NewBinanceProvider создает клиент Binance Futures
func NewBinanceProvider(cfg config.ProviderConfig) *BinanceProvider {
	futures.UseTestnet = cfg.Binance.Testnet
	client := futures.NewClient(cfg.Binance.APIKey, cfg.Binance.APISecret)
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	if cfg.Binance.BaseURL != "" {
		client.BaseURL = strings.TrimRight(cfg.Binance.BaseURL, "/")
	}

	pageLimit := cfg.Binance.PageLimit
	if pageLimit <= 0 || pageLimit > binanceMaxKlines {
		pageLimit = binanceMaxKlines
	}

	p := &BinanceProvider{
		futures:   client,
		retry:     NewRetryPolicy(cfg.Retry),
		pageLimit: pageLimit,
	}
	p.universe = newUniverse(p.Name(), cfg.UniverseTTL, p.loadUniverse)
	return p
}

func (p *BinanceProvider) Name() string { return "binance" }

// binanceSymbol BTC/USDT -> BTCUSDT
func binanceSymbol(symbol string) (string, error) {
	base, quote, err := models.SplitSymbol(symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedSymbol, err)
	}
	return base + quote, nil
}

// FetchOHLCV получает исторические свечи
func (p *BinanceProvider) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) (*models.Series, error) {
	id, err := binanceSymbol(symbol)
	if err != nil {
		return nil, err
	}
	ok, err := p.universe.contains(ctx, id)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		logger.Debug("Список инструментов Binance недоступен, проверка пропущена", zap.Error(err))
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}

	interval := mapTimeframe(binanceTimeframes, timeframe)
	bars, err := pageBackward(ctx, limit, p.pageLimit, func(ctx context.Context, before time.Time, n int) ([]models.Bar, error) {
		return p.fetchKlines(ctx, id, interval, before, n)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s %s: %w", symbol, timeframe, err)
	}
	return buildSeries(symbol, timeframe, bars, limit)
}

func (p *BinanceProvider) fetchKlines(ctx context.Context, id, interval string, before time.Time, n int) ([]models.Bar, error) {
	var klines []*futures.Kline
	err := p.retry.Do(ctx, "binance klines "+id, func(ctx context.Context) error {
		svc := p.futures.NewKlinesService().
			Symbol(id).
			Interval(interval).
			Limit(n)
		if !before.IsZero() {
			svc = svc.EndTime(before.UnixMilli() - 1)
		}
		var err error
		klines, err = svc.Do(ctx)
		return classifyBinance(ctx, err)
	})
	if err != nil {
		return nil, err
	}
	if len(klines) == 0 {
		return nil, ErrDataUnavailable
	}

	bars := make([]models.Bar, 0, len(klines))
	for _, k := range klines {
		bar, ok := makeBar(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if !ok {
			return nil, fmt.Errorf("%w: свеча %d не разобрана", ErrUnrecognizedPayload, k.OpenTime)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// FetchFundingRate получает текущую ставку финансирования в процентах
func (p *BinanceProvider) FetchFundingRate(ctx context.Context, symbol string) decimal.NullDecimal {
	id, err := binanceSymbol(symbol)
	if err != nil {
		return decimal.NullDecimal{}
	}

	var rates []*futures.PremiumIndex
	err = p.retry.Do(ctx, "binance premium index "+id, func(ctx context.Context) error {
		var err error
		rates, err = p.futures.NewPremiumIndexService().Symbol(id).Do(ctx)
		return classifyBinance(ctx, err)
	})
	if err != nil || len(rates) == 0 {
		logger.Debug("Ставка финансирования недоступна", zap.String("symbol", symbol), zap.Error(err))
		return decimal.NullDecimal{}
	}

	rate, err := decimal.NewFromString(rates[0].LastFundingRate)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(rate.Mul(decimal.NewFromInt(100)))
}

// TopSymbols символы с наибольшим суточным оборотом в котировке
func (p *BinanceProvider) TopSymbols(ctx context.Context, quote string, topN int, minVolume float64) ([]string, error) {
	quote = strings.ToUpper(quote)
	var stats []*futures.PriceChangeStats
	err := p.retry.Do(ctx, "binance 24h stats", func(ctx context.Context) error {
		var err error
		stats, err = p.futures.NewListPriceChangeStatsService().Do(ctx)
		return classifyBinance(ctx, err)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения суточной статистики: %w", err)
	}

	traded, err := p.universe.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var entries []volumeEntry
	for _, s := range stats {
		if _, ok := traded[s.Symbol]; !ok || !strings.HasSuffix(s.Symbol, quote) {
			continue
		}
		vol, err := strconv.ParseFloat(s.QuoteVolume, 64)
		if err != nil {
			continue
		}
		base := strings.TrimSuffix(s.Symbol, quote)
		entries = append(entries, volumeEntry{symbol: base + "/" + quote, volume: vol})
	}
	return rankByVolume(entries, topN, minVolume), nil
}

// loadUniverse бессрочные контракты в статусе TRADING
func (p *BinanceProvider) loadUniverse(ctx context.Context) (map[string]struct{}, error) {
	var info *futures.ExchangeInfo
	err := p.retry.Do(ctx, "binance exchange info", func(ctx context.Context) error {
		var err error
		info, err = p.futures.NewExchangeInfoService().Do(ctx)
		return classifyBinance(ctx, err)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка инструментов: %w", err)
	}

	items := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		if s.ContractType != "" && s.ContractType != "PERPETUAL" {
			continue
		}
		items[s.Symbol] = struct{}{}
	}
	return items, nil
}

// classifyBinance относит ошибку go-binance к классу ошибок провайдера
func classifyBinance(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return classifyTransport(ctx, err)
	}
	switch apiErr.Code {
	// -1003 лимит запросов, -1001/-1007/-1008 сбои на стороне биржи, 0 - тело без кода (HTML от шлюза)
	case -1003, -1001, -1007, -1008, 0:
		return fmt.Errorf("%w: %v", ErrTransient, apiErr)
	case -1121:
		return fmt.Errorf("%w: %v", ErrUnsupportedSymbol, apiErr)
	}
	return fmt.Errorf("%w: %v", ErrFetch, apiErr)
}
