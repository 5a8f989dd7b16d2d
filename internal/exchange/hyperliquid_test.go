package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skalibog/emacross/internal/config"
)

func testProviderConfig(baseURL string) config.ProviderConfig {
	cfg := config.Default().Provider
	cfg.Timeout = 2 * time.Second
	cfg.Retry = fastRetry
	cfg.Hyperliquid.BaseURL = baseURL
	cfg.Blofin.BaseURL = baseURL
	cfg.Binance.BaseURL = baseURL
	return cfg
}

const fiveMinutesMs = int64(5 * 60 * 1000)

var baseMs = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// ohlcvRows строки [ts, o, h, l, c, v] по возрастанию времени
func ohlcvRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		c := 100 + float64(i)
		rows[i] = []any{baseMs + int64(i)*fiveMinutesMs, c - 0.5, c + 1, c - 1, c, 10 + i}
	}
	return rows
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type hlServer struct {
	klineCalls   atomic.Int32
	postStatus   int          // код ответа на POST свечей, 0 - принимать
	throttle     atomic.Int32 // сколько первых запросов свечей ответить 429
	infoCalls    atomic.Int32
	infoThrottle atomic.Int32 // сколько первых запросов /info ответить 429
	infoDown     atomic.Bool
	lastInst     atomic.Value
}

func (s *hlServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		s.infoCalls.Add(1)
		if s.infoDown.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if s.infoThrottle.Load() > 0 {
			s.infoThrottle.Add(-1)
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{
			"universe": []any{map[string]any{"name": "BTC"}, map[string]any{"name": "ETH"}, "SOL-USD", "HYPE-USD"},
		})
	})
	mux.HandleFunc("/api/v1/ohlcv", func(w http.ResponseWriter, r *http.Request) {
		s.klineCalls.Add(1)
		if s.throttle.Load() > 0 {
			s.throttle.Add(-1)
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		var inst string
		switch r.Method {
		case http.MethodPost:
			if s.postStatus != 0 {
				http.Error(w, http.StatusText(s.postStatus), s.postStatus)
				return
			}
			var body struct {
				InstID   string `json:"instId"`
				Interval string `json:"interval"`
				Limit    int    `json:"limit"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("bad body: %v", err)
			}
			if body.Interval != "5m" || body.Limit <= 0 {
				t.Errorf("unexpected body %+v", body)
			}
			inst = body.InstID
		case http.MethodGet:
			inst = r.URL.Query().Get("instId")
		}
		s.lastInst.Store(inst)
		rows := ohlcvRows(5)
		// повтор последней строки с другим объемом
		dup := append([]any(nil), rows[4]...)
		dup[5] = 999
		writeJSON(w, map[string]any{"data": append(rows, dup)})
	})
	return mux
}

func TestHyperliquidFetchOHLCV(t *testing.T) {
	s := &hlServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewHyperliquidProvider(testProviderConfig(srv.URL))
	series, err := p.FetchOHLCV(context.Background(), "btc/usd", "5m", 3)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if got := s.lastInst.Load(); got != "BTC-USD" {
		t.Errorf("instId = %v", got)
	}
	if series.Len() != 3 {
		t.Fatalf("len = %d", series.Len())
	}
	last := series.Bars[2]
	if last.Close != 104 || last.Volume != 999 {
		t.Errorf("last bar must be the most recently received duplicate, got %+v", last)
	}
	if series.Symbol != "btc/usd" || series.Timeframe != "5m" {
		t.Errorf("series meta %q %q", series.Symbol, series.Timeframe)
	}
}

func TestHyperliquidRejectsUnsupported(t *testing.T) {
	s := &hlServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewHyperliquidProvider(testProviderConfig(srv.URL))
	for _, sym := range []string{"DOGE/USD", "BTC/USDT", "garbage"} {
		_, err := p.FetchOHLCV(context.Background(), sym, "5m", 10)
		if !errors.Is(err, ErrUnsupportedSymbol) {
			t.Errorf("%s: got %v", sym, err)
		}
	}
	if n := s.klineCalls.Load(); n != 0 {
		t.Errorf("unsupported symbols must not reach the candle endpoint, calls = %d", n)
	}
}

func TestHyperliquidFallsBackToGET(t *testing.T) {
	for _, status := range []int{http.StatusMethodNotAllowed, http.StatusServiceUnavailable} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			s := &hlServer{postStatus: status}
			srv := httptest.NewServer(s.handler(t))
			defer srv.Close()

			p := NewHyperliquidProvider(testProviderConfig(srv.URL))
			series, err := p.FetchOHLCV(context.Background(), "SOL/USD", "5m", 10)
			if err != nil {
				t.Fatalf("FetchOHLCV: %v", err)
			}
			if series.Len() != 5 {
				t.Errorf("len = %d", series.Len())
			}
			if n := s.klineCalls.Load(); n != 2 {
				t.Errorf("expected POST then GET, calls = %d", n)
			}
		})
	}
}

func TestHyperliquidRetriesRateLimit(t *testing.T) {
	s := &hlServer{}
	s.throttle.Store(2)
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewHyperliquidProvider(testProviderConfig(srv.URL))
	if _, err := p.FetchOHLCV(context.Background(), "ETH/USD", "5m", 10); err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if n := s.klineCalls.Load(); n != 3 {
		t.Errorf("calls = %d", n)
	}

	s.throttle.Store(10)
	_, err := p.FetchOHLCV(context.Background(), "ETH/USD", "5m", 10)
	if !errors.Is(err, ErrFetch) || !errors.Is(err, ErrTransient) {
		t.Errorf("exhausted retries must surface ErrFetch, got %v", err)
	}
}

func TestHyperliquidSeedUniverse(t *testing.T) {
	s := &hlServer{}
	s.infoDown.Store(true)
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewHyperliquidProvider(testProviderConfig(srv.URL))
	if _, err := p.FetchOHLCV(context.Background(), "LINK/USD", "5m", 10); err != nil {
		t.Fatalf("seed base must be accepted: %v", err)
	}
	top, err := p.TopSymbols(context.Background(), "USDT", 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 3 || !strings.HasSuffix(top[0], "/USD") {
		t.Errorf("top = %v", top)
	}
	if p.FetchFundingRate(context.Background(), "BTC/USD").Valid {
		t.Error("hyperliquid funding must be unavailable")
	}
}

func TestHyperliquidUniverseRetriesRateLimit(t *testing.T) {
	s := &hlServer{}
	// GET и POST первой попытки получают 429
	s.infoThrottle.Store(2)
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewHyperliquidProvider(testProviderConfig(srv.URL))
	for i := 0; i < 2; i++ {
		if _, err := p.FetchOHLCV(context.Background(), "HYPE/USD", "5m", 10); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := s.infoCalls.Load(); n != 3 {
		t.Errorf("info calls = %d, want 3", n)
	}
}

func TestHyperliquidSeedUniverseExpires(t *testing.T) {
	s := &hlServer{}
	s.infoDown.Store(true)
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	p := NewHyperliquidProvider(testProviderConfig(srv.URL))
	now := time.Now()
	p.universe.now = func() time.Time { return now }

	if _, err := p.FetchOHLCV(context.Background(), "HYPE/USD", "5m", 10); !errors.Is(err, ErrUnsupportedSymbol) {
		t.Fatalf("HYPE is not in the seed list, got %v", err)
	}

	// Узел восстановился, но базовый список еще действует
	s.infoDown.Store(false)
	calls := s.infoCalls.Load()
	if _, err := p.FetchOHLCV(context.Background(), "LINK/USD", "5m", 10); err != nil {
		t.Fatalf("seed base: %v", err)
	}
	if s.infoCalls.Load() != calls {
		t.Error("seed list must be served from cache until it expires")
	}

	// После срока базового списка загружается настоящий, задолго до UniverseTTL
	now = now.Add(2 * time.Minute)
	if _, err := p.FetchOHLCV(context.Background(), "HYPE/USD", "5m", 10); err != nil {
		t.Fatalf("HYPE after reload: %v", err)
	}
	if _, err := p.FetchOHLCV(context.Background(), "LINK/USD", "5m", 10); !errors.Is(err, ErrUnsupportedSymbol) {
		t.Errorf("loaded list replaces the seed, got %v", err)
	}
}

func TestBaseFromInstrument(t *testing.T) {
	for in, want := range map[string]string{
		"BTC-USD": "BTC", "eth_usd": "ETH", "SOLUSDT": "SOL", "DOGEUSD": "DOGE", "PEPE": "PEPE", "": "",
	} {
		if got := baseFromInstrument(in); got != want {
			t.Errorf("%q -> %q, want %q", in, got, want)
		}
	}
}

func TestNewProviderFallsBackToDefault(t *testing.T) {
	cfg := testProviderConfig("http://127.0.0.1:1")
	for name, want := range map[string]string{
		"blofin": "blofin", "BINANCE": "binance", "": "hyperliquid", "kraken": "hyperliquid",
	} {
		cfg.Name = name
		if got := NewProvider(cfg).Name(); got != want {
			t.Errorf("%q -> %s, want %s", name, got, want)
		}
	}
}
