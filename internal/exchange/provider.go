package exchange

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/logger"
	"github.com/skalibog/emacross/pkg/models"
	"go.uber.org/zap"
)

// DefaultProvider используется, если имя провайдера не распознано
const DefaultProvider = "hyperliquid"

// Provider источник рыночных данных
type Provider interface {
	// Name имя провайдера для логов и баннера
	Name() string
	// FetchOHLCV возвращает до limit последних свечей по возрастанию времени.
	// Последняя свеча может быть еще не закрыта.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) (*models.Series, error)
	// FetchFundingRate ставка финансирования в процентах; Valid=false если данных нет
	FetchFundingRate(ctx context.Context, symbol string) decimal.NullDecimal
}

// SymbolRanker выбирает самые ликвидные символы
type SymbolRanker interface {
	TopSymbols(ctx context.Context, quote string, topN int, minVolume float64) ([]string, error)
}

// NewProvider создает провайдера по имени из конфигурации
func NewProvider(cfg config.ProviderConfig) Provider {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "blofin":
		return NewBlofinProvider(cfg)
	case "binance", "ccxt":
		return NewBinanceProvider(cfg)
	case DefaultProvider, "":
	default:
		logger.Warn("Неизвестный провайдер, используется провайдер по умолчанию",
			zap.String("name", cfg.Name), zap.String("default", DefaultProvider))
	}
	return NewHyperliquidProvider(cfg)
}

type volumeEntry struct {
	symbol string
	volume float64
}

// rankByVolume сортирует по убыванию объема и оставляет topN
func rankByVolume(entries []volumeEntry, topN int, minVolume float64) []string {
	filtered := entries[:0]
	for _, e := range entries {
		if e.volume >= minVolume {
			filtered = append(filtered, e)
		}
	}
	slices.SortStableFunc(filtered, func(a, b volumeEntry) int {
		return cmp.Compare(b.volume, a.volume)
	})
	if topN > 0 && len(filtered) > topN {
		filtered = filtered[:topN]
	}
	out := make([]string, len(filtered))
	for i, e := range filtered {
		out[i] = e.symbol
	}
	return out
}
