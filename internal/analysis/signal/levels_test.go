package signal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func exampleParams() LevelParams {
	cfg := config.SignalConfig{PullLower: 0.35, PullUpper: 0.20, RiskATR: 2.2, TargetMults: []float64{1.6, 0.4, 0.8}}
	return NewLevelParams(cfg)
}

func TestComputeLevelsLong(t *testing.T) {
	lv := ComputeLevels(models.SideLong, dec("100"), dec("2"), exampleParams())

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"entry_low", lv.EntryLow, "99.3"},
		{"entry_high", lv.EntryHigh, "99.6"},
		{"stop", lv.StopLoss, "95.6"},
		{"tp1", lv.Targets[0], "100.8"},
		{"tp2", lv.Targets[1], "101.6"},
		{"tp3", lv.Targets[2], "103.2"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
}

func TestComputeLevelsShort(t *testing.T) {
	lv := ComputeLevels(models.SideShort, dec("100"), dec("2"), exampleParams())

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"entry_low", lv.EntryLow, "100.4"},
		{"entry_high", lv.EntryHigh, "100.7"},
		{"stop", lv.StopLoss, "104.4"},
		{"tp1", lv.Targets[0], "99.2"},
		{"tp3", lv.Targets[2], "96.8"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
}

func TestNewLevelParamsSortsTargets(t *testing.T) {
	p := exampleParams()
	want := []string{"0.4", "0.8", "1.6"}
	for i, w := range want {
		if !p.Targets[i].Equal(dec(w)) {
			t.Fatalf("targets = %v", p.Targets)
		}
	}
}
