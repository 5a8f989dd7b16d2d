package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/emacross/internal/analysis/technical"
	"github.com/skalibog/emacross/internal/config"
	"github.com/skalibog/emacross/pkg/models"
)

var seriesStart = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

const barStep = 5 * time.Minute

// crossingCloses 400 цен: плавный рост, короткая просадка и резкий возврат на 100.
// Быстрая EMA пересекает медленную снизу вверх на свече 398, свеча 399 формируется.
func crossingCloses() []float64 {
	closes := make([]float64, 400)
	for i := range closes {
		switch {
		case i < 390:
			closes[i] = 50 + 0.125*float64(i)
		case i < 398:
			closes[i] = 50 + 0.125*389 - 0.5*float64(i-389)
		default:
			closes[i] = 100
		}
	}
	return closes
}

// buildSeries ряд 5m с объемным всплеском на свече 398; mirror отражает цены вокруг 100
func buildSeries(closes []float64, mirror bool) *models.Series {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		if mirror {
			c, open = 200-c, 200-open
		}
		vol := 1000.0
		if i == 398 {
			vol = 5000
		}
		bars[i] = models.Bar{
			OpenTime: seriesStart.Add(time.Duration(i) * barStep),
			Open:     open,
			High:     max(open, c) + 0.25,
			Low:      min(open, c) - 0.25,
			Close:    c,
			Volume:   vol,
		}
	}
	return &models.Series{Symbol: "BTC/USDT", Timeframe: "5m", Bars: bars}
}

func signalConfig() config.SignalConfig {
	cfg := config.Default().Signal
	cfg.HTF.Enabled = false
	cfg.Funding.Enabled = false
	return cfg
}

// formingNow момент внутри последней свечи ряда
func formingNow(s *models.Series) time.Time {
	return s.Bars[s.Len()-1].OpenTime.Add(time.Minute)
}

type fakeData struct {
	htf       *models.Series
	htfErr    error
	htfCalls  int
	rate      decimal.NullDecimal
	rateCalls int
}

func (f *fakeData) FetchOHLCV(_ context.Context, _, _ string, _ int) (*models.Series, error) {
	f.htfCalls++
	if f.htfErr != nil {
		return nil, f.htfErr
	}
	return f.htf, nil
}

func (f *fakeData) FetchFundingRate(context.Context, string) decimal.NullDecimal {
	f.rateCalls++
	return f.rate
}

func newTestEngine(cfg config.SignalConfig, data MarketData, series *models.Series) *Engine {
	e := NewEngine(cfg, 400, data, NewStore())
	now := formingNow(series)
	e.SetClock(func() time.Time { return now })
	technical.NewAnalyzer(cfg).Enrich(series)
	return e
}

func TestEvaluateLongCrossover(t *testing.T) {
	series := buildSeries(crossingCloses(), false)
	e := newTestEngine(signalConfig(), &fakeData{}, series)

	alert, err := e.Evaluate(context.Background(), series)
	if err != nil {
		t.Fatal(err)
	}
	if alert == nil {
		t.Fatal("expected LONG alert")
	}
	if alert.Side != models.SideLong || alert.Symbol != "BTC/USDT" || alert.Leverage != 20 {
		t.Errorf("alert = %+v", alert)
	}
	if !alert.BarTime.Equal(series.Bars[398].OpenTime) {
		t.Errorf("bar time = %v, want closed bar 398", alert.BarTime)
	}

	price := decimal.NewFromInt(100)
	if !(alert.EntryLow.LessThan(alert.EntryHigh) && alert.EntryHigh.LessThan(price)) {
		t.Errorf("entry band %s..%s must sit below %s", alert.EntryLow, alert.EntryHigh, price)
	}
	if !alert.StopLoss.LessThan(alert.EntryLow) {
		t.Errorf("stop %s must be below entry %s", alert.StopLoss, alert.EntryLow)
	}
	if len(alert.Targets) != 6 {
		t.Fatalf("targets = %v", alert.Targets)
	}
	for i, tp := range alert.Targets {
		if !tp.GreaterThan(price) || (i > 0 && !tp.GreaterThan(alert.Targets[i-1])) {
			t.Errorf("targets must rise above price: %v", alert.Targets)
			break
		}
	}
	if tf, ok := alert.Annotation("TF"); !ok || tf != "5m" {
		t.Errorf("TF annotation = %q", tf)
	}
	if _, ok := alert.Annotation("Info"); ok {
		t.Error("no funding info expected")
	}
	if alert.ID == "" {
		t.Error("empty alert id")
	}
	if last, ok := e.Store().LastAlert("BTC/USDT"); !ok || !last.Equal(alert.BarTime) {
		t.Errorf("cooldown entry = %v", last)
	}
}

func TestEvaluateShortCrossover(t *testing.T) {
	series := buildSeries(crossingCloses(), true)
	e := newTestEngine(signalConfig(), &fakeData{}, series)

	alert, err := e.Evaluate(context.Background(), series)
	if err != nil || alert == nil {
		t.Fatalf("alert = %v, err = %v", alert, err)
	}
	if alert.Side != models.SideShort {
		t.Fatalf("side = %s", alert.Side)
	}
	price := decimal.NewFromInt(100)
	if !(price.LessThan(alert.EntryLow) && alert.EntryLow.LessThan(alert.EntryHigh) && alert.EntryHigh.LessThan(alert.StopLoss)) {
		t.Errorf("levels: entry %s..%s stop %s", alert.EntryLow, alert.EntryHigh, alert.StopLoss)
	}
	for i, tp := range alert.Targets {
		if !tp.LessThan(price) || (i > 0 && !tp.LessThan(alert.Targets[i-1])) {
			t.Errorf("targets must fall below price: %v", alert.Targets)
			break
		}
	}
}

func TestEvaluateDedup(t *testing.T) {
	series := buildSeries(crossingCloses(), false)
	e := newTestEngine(signalConfig(), &fakeData{}, series)

	first, _ := e.Evaluate(context.Background(), series)
	if first == nil {
		t.Fatal("expected first alert")
	}
	d, err := e.Decide(context.Background(), series)
	if err != nil {
		t.Fatal(err)
	}
	if d.Alert != nil || d.Gate != GateDedup {
		t.Errorf("second scan = %+v, want dedup", d)
	}
}

func TestEvaluateClosedLastBar(t *testing.T) {
	series := buildSeries(crossingCloses(), false)
	e := newTestEngine(signalConfig(), &fakeData{}, series)
	// Свеча 399 уже закрыта, пересечение на 398 больше не последнее
	later := series.Bars[399].OpenTime.Add(barStep + time.Second)
	e.SetClock(func() time.Time { return later })

	d, err := e.Decide(context.Background(), series)
	if err != nil {
		t.Fatal(err)
	}
	if d.Gate != GateCrossover {
		t.Errorf("gate = %q, want crossover", d.Gate)
	}
}

func TestEvaluateCooldown(t *testing.T) {
	tests := []struct {
		name      string
		barsAgo   int
		wantAlert bool
	}{
		{"within cooldown", 3, false},
		{"exactly cooldown", 6, true},
		{"after cooldown", 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := buildSeries(crossingCloses(), false)
			e := newTestEngine(signalConfig(), &fakeData{}, series)
			prev := series.Bars[398].OpenTime.Add(-time.Duration(tt.barsAgo) * barStep)
			e.Store().Mark("BTC/USDT", prev)

			d, err := e.Decide(context.Background(), series)
			if err != nil {
				t.Fatal(err)
			}
			if (d.Alert != nil) != tt.wantAlert {
				t.Errorf("alert = %v, gate = %q", d.Alert != nil, d.Gate)
			}
			if !tt.wantAlert && d.Gate != GateCooldown {
				t.Errorf("gate = %q", d.Gate)
			}
		})
	}
}

func TestEvaluateFilters(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.SignalConfig)
		gate   Gate
	}{
		{"adx threshold", func(cfg *config.SignalConfig) { cfg.MinADX = 99 }, GateADX},
		{"volume multiplier", func(cfg *config.SignalConfig) { cfg.VolumeMult = 10 }, GateVolume},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := signalConfig()
			tt.modify(&cfg)
			series := buildSeries(crossingCloses(), false)
			e := newTestEngine(cfg, &fakeData{}, series)

			d, err := e.Decide(context.Background(), series)
			if err != nil {
				t.Fatal(err)
			}
			if d.Alert != nil || d.Gate != tt.gate {
				t.Errorf("decision = %+v, want gate %q", d, tt.gate)
			}
			if e.Store().Len() != 0 {
				t.Error("rejected candidate must not touch the store")
			}
		})
	}
}

func htfSeries(n int, slope float64) *models.Series {
	start := seriesStart.Add(-time.Duration(n) * time.Hour)
	bars := make([]models.Bar, n)
	for i := range bars {
		c := 100 + slope*float64(i)
		bars[i] = models.Bar{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return &models.Series{Symbol: "BTC/USDT", Timeframe: "1h", Bars: bars}
}

func TestEvaluateHigherTimeframe(t *testing.T) {
	tests := []struct {
		name      string
		data      *fakeData
		wantAlert bool
	}{
		{"fetch error fails open", &fakeData{htfErr: errors.New("upstream down")}, true},
		{"short history fails open", &fakeData{htf: htfSeries(100, -1)}, true},
		{"uptrend confirms", &fakeData{htf: htfSeries(300, 0.5)}, true},
		{"downtrend rejects", &fakeData{htf: htfSeries(300, -0.2)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := signalConfig()
			cfg.HTF.Enabled = true
			series := buildSeries(crossingCloses(), false)
			e := newTestEngine(cfg, tt.data, series)

			d, err := e.Decide(context.Background(), series)
			if err != nil {
				t.Fatal(err)
			}
			if (d.Alert != nil) != tt.wantAlert {
				t.Errorf("alert = %v, gate = %q", d.Alert != nil, d.Gate)
			}
			if !tt.wantAlert && d.Gate != GateHTF {
				t.Errorf("gate = %q", d.Gate)
			}
			if tt.data.htfCalls != 1 {
				t.Errorf("htf calls = %d", tt.data.htfCalls)
			}
		})
	}
}

func TestEvaluateFunding(t *testing.T) {
	rate := func(s string) decimal.NullDecimal {
		return decimal.NewNullDecimal(decimal.RequireFromString(s))
	}
	tests := []struct {
		name     string
		rate     decimal.NullDecimal
		wantInfo string
		reject   bool
	}{
		{"unavailable", decimal.NullDecimal{}, "", false},
		{"normal", rate("0.01"), "Funding: 0.0100%", false},
		{"extreme", rate("-0.2"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := signalConfig()
			cfg.Funding = config.FundingConfig{Enabled: true, MaxAbs: 0.05}
			series := buildSeries(crossingCloses(), false)
			data := &fakeData{rate: tt.rate}
			e := newTestEngine(cfg, data, series)

			d, err := e.Decide(context.Background(), series)
			if err != nil {
				t.Fatal(err)
			}
			if tt.reject {
				if d.Alert != nil || d.Gate != GateFunding {
					t.Errorf("decision = %+v", d)
				}
				return
			}
			if d.Alert == nil {
				t.Fatalf("no alert, gate = %q", d.Gate)
			}
			info, _ := d.Alert.Annotation("Info")
			if info != tt.wantInfo {
				t.Errorf("info = %q, want %q", info, tt.wantInfo)
			}
		})
	}
}

func TestEvaluateInsufficient(t *testing.T) {
	e := NewEngine(signalConfig(), 400, &fakeData{}, NewStore())
	if _, err := e.Evaluate(context.Background(), nil); !errors.Is(err, ErrNotEnriched) {
		t.Errorf("nil series: %v", err)
	}

	series := buildSeries(crossingCloses()[:399], false)
	technical.NewAnalyzer(signalConfig()).Enrich(series)
	d, err := e.Decide(context.Background(), series)
	if err != nil {
		t.Fatal(err)
	}
	if d.Gate != GateSufficiency {
		t.Errorf("gate = %q", d.Gate)
	}
}
