package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/logger"
	"github.com/skalibog/emacross/pkg/models"
	"go.uber.org/zap"
)

var hyperliquidTimeframes = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "2h": "2h", "4h": "4h", "8h": "8h", "12h": "12h",
	"1d": "1d", "3d": "3d", "1w": "1w", "1M": "1M",
}

// Базовые активы на случай, если узел не отдает список инструментов
var hyperliquidSeedBases = []string{
	"BTC", "ETH", "SOL", "BNB", "LINK", "AVAX", "AAVE", "ADA", "DOGE", "XRP",
	"TAO", "SNX", "FARTCOIN", "PAXG", "SUI", "MNT", "BIO", "STBL", "ZRO", "ZORA",
	"NEAR", "APEX", "CRV", "TIA", "ARB", "ETHFI", "FET", "LDO", "SEI", "ZEREBRO",
	"KFLOKI", "DOT", "WLD", "TRUMP", "TON", "TRX", "UNI", "JUP", "OP", "BRETT", "INJ",
}

// Ключи ответа /info, в которых встречается список инструментов
var hyperliquidUniverseKeys = []string{"universe", "coins", "tickers", "mids", "allMids", "symbols"}

// HyperliquidProvider REST-шлюз Hyperliquid
type HyperliquidProvider struct {
	cfg      config.HyperliquidConfig
	rest     *restClient
	retry    RetryPolicy
	shape    Shape
	universe *universe
}

// NewHyperliquidProvider создает провайдера Hyperliquid
func NewHyperliquidProvider(cfg config.ProviderConfig) *HyperliquidProvider {
	p := &HyperliquidProvider{
		cfg:   cfg.Hyperliquid,
		rest:  newRESTClient(cfg.Hyperliquid.BaseURL, cfg.Timeout),
		retry: NewRetryPolicy(cfg.Retry),
		shape: DefaultShape,
	}
	p.universe = newUniverse(p.Name(), cfg.UniverseTTL, p.loadUniverse).withSeed(hyperliquidSeedBases)
	return p
}

func (p *HyperliquidProvider) Name() string { return "hyperliquid" }

// instID переводит BTC/USD в BTC-USD и проверяет поддержку инструмента
func (p *HyperliquidProvider) instID(ctx context.Context, symbol string) (string, error) {
	base, quote, err := models.SplitSymbol(symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedSymbol, err)
	}
	if force := strings.ToUpper(p.cfg.ForceQuote); force != "" && quote != force {
		return "", fmt.Errorf("%w: %s (котировка %s, ожидается %s)", ErrUnsupportedSymbol, symbol, quote, force)
	}
	ok, err := p.universe.contains(ctx, base)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedSymbol, symbol)
	}
	return base + "-" + quote, nil
}

// FetchOHLCV получает свечи: POST с JSON-телом, при отказе GET с параметрами
func (p *HyperliquidProvider) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) (*models.Series, error) {
	inst, err := p.instID(ctx, symbol)
	if err != nil {
		return nil, err
	}
	interval := mapTimeframe(hyperliquidTimeframes, timeframe)

	var bars []models.Bar
	err = p.retry.Do(ctx, "hyperliquid klines "+inst, func(ctx context.Context) error {
		payload, err := p.rest.do(ctx, http.MethodPost, p.cfg.KlinesPath, nil, map[string]any{
			"instId":   inst,
			"interval": interval,
			"limit":    limit,
		})
		if err != nil && ctx.Err() == nil {
			logger.Debug("POST не принят, пробуем GET", zap.String("inst", inst), zap.Error(err))
			payload, err = p.rest.do(ctx, http.MethodGet, p.cfg.KlinesPath, url.Values{
				"instId":   {inst},
				"interval": {interval},
				"limit":    {strconv.Itoa(limit)},
			}, nil)
		}
		if err != nil {
			return err
		}
		bars, err = p.shape.Normalize(payload)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s %s: %w", symbol, timeframe, err)
	}
	return buildSeries(symbol, timeframe, bars, limit)
}

// FetchFundingRate шлюз не отдает ставку финансирования
func (p *HyperliquidProvider) FetchFundingRate(context.Context, string) decimal.NullDecimal {
	return decimal.NullDecimal{}
}

// TopSymbols публичного объема нет, поэтому порядок алфавитный
func (p *HyperliquidProvider) TopSymbols(ctx context.Context, quote string, topN int, _ float64) ([]string, error) {
	if force := strings.ToUpper(p.cfg.ForceQuote); force != "" {
		quote = force
	}
	bases, err := p.universe.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(bases))
	for _, b := range bases {
		out = append(out, b+"/"+strings.ToUpper(quote))
		if topN > 0 && len(out) == topN {
			break
		}
	}
	return out, nil
}

// loadUniverse запрашивает /info (GET, затем POST) с повторами.
// Пустой ответ считается ошибкой, базовый список подставляет universe.
func (p *HyperliquidProvider) loadUniverse(ctx context.Context) (map[string]struct{}, error) {
	bases := make(map[string]struct{})
	err := p.retry.Do(ctx, "hyperliquid info", func(ctx context.Context) error {
		payload, err := p.rest.do(ctx, http.MethodGet, p.cfg.InfoPath, nil, nil)
		if err != nil && ctx.Err() == nil {
			var postErr error
			payload, postErr = p.rest.do(ctx, http.MethodPost, p.cfg.InfoPath, nil, map[string]any{"type": "meta"})
			// Повторяем, если хотя бы один из запросов отказал временно
			if postErr != nil && !errors.Is(postErr, ErrTransient) && errors.Is(err, ErrTransient) {
				return err
			}
			err = postErr
		}
		if err != nil {
			return err
		}
		collectBases(payload, bases)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		return nil, fmt.Errorf("%w: список инструментов Hyperliquid пуст", ErrDataUnavailable)
	}
	return bases, nil
}

func collectBases(payload any, bases map[string]struct{}) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return
	}
	for _, key := range hyperliquidUniverseKeys {
		switch node := obj[key].(type) {
		case []any:
			for _, item := range node {
				var id string
				switch x := item.(type) {
				case string:
					id = x
				case map[string]any:
					if v, ok := pick(x, []string{"symbol", "instId", "name", "id"}); ok {
						id = toString(v)
					}
				}
				if base := baseFromInstrument(id); base != "" {
					bases[base] = struct{}{}
				}
			}
		case map[string]any:
			// allMids: {"BTC": "65000.5", ...}
			for id := range node {
				if base := baseFromInstrument(id); base != "" {
					bases[base] = struct{}{}
				}
			}
		}
	}
}

// baseFromInstrument BTC-USD, BTC_USD и BTCUSD -> BTC
func baseFromInstrument(id string) string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(id), "_", "-"))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "-"); i >= 0 {
		return s[:i]
	}
	for _, q := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}
