package funding

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
)

func TestFilterAllow(t *testing.T) {
	on := NewFilter(config.FundingConfig{Enabled: true, MaxAbs: 0.05})
	off := NewFilter(config.FundingConfig{Enabled: false, MaxAbs: 0.05})

	tests := []struct {
		name     string
		filter   *Filter
		rate     decimal.NullDecimal
		wantOK   bool
		wantText string
	}{
		{"unavailable", on, decimal.NullDecimal{}, true, ""},
		{"within", on, decimal.NewNullDecimal(decimal.RequireFromString("0.01")), true, "Funding: 0.0100%"},
		{"boundary", on, decimal.NewNullDecimal(decimal.RequireFromString("-0.05")), true, "Funding: -0.0500%"},
		{"too high", on, decimal.NewNullDecimal(decimal.RequireFromString("0.0625")), false, "Funding: 0.0625%"},
		{"too low", on, decimal.NewNullDecimal(decimal.RequireFromString("-0.3")), false, "Funding: -0.3000%"},
		{"disabled", off, decimal.NewNullDecimal(decimal.RequireFromString("1")), true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, text := tt.filter.Allow(tt.rate)
			if ok != tt.wantOK || text != tt.wantText {
				t.Errorf("Allow = (%v, %q), want (%v, %q)", ok, text, tt.wantOK, tt.wantText)
			}
		})
	}
}
