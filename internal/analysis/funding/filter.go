package funding

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
)

// Filter отсекает сигналы при экстремальной ставке финансирования
type Filter struct {
	config config.FundingConfig
	maxAbs decimal.Decimal
}

// NewFilter создает фильтр ставки финансирования
func NewFilter(cfg config.FundingConfig) *Filter {
	return &Filter{
		config: cfg,
		maxAbs: decimal.NewFromFloat(cfg.MaxAbs),
	}
}

// Enabled включен ли фильтр
func (f *Filter) Enabled() bool {
	return f.config.Enabled
}

// Allow проверяет ставку (в процентах). Отсутствие данных сигнал не блокирует.
// text - подпись для сигнала, пустая если ставка неизвестна.
func (f *Filter) Allow(rate decimal.NullDecimal) (ok bool, text string) {
	if !f.config.Enabled || !rate.Valid {
		return true, ""
	}
	text = Format(rate.Decimal)
	if rate.Decimal.Abs().GreaterThan(f.maxAbs) {
		return false, text
	}
	return true, text
}

// Format подпись ставки вида "Funding: 0.0100%"
func Format(rate decimal.Decimal) string {
	return fmt.Sprintf("Funding: %s%%", rate.StringFixed(4))
}
