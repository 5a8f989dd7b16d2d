package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
)

// blofinServer принимает только параметры symbol=BTCUSDT&interval=... и отдает свечи
// от новых к старым, как настоящий API
type blofinServer struct {
	rows         [][]any
	candleCalls  atomic.Int32
	rejectedConv atomic.Int32
}

func (s *blofinServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/market/instruments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": "0", "msg": "success", "data": []any{
			map[string]any{"instId": "BTC-USDT"},
			map[string]any{"instId": "ETH-USDT"},
		}})
	})
	mux.HandleFunc("/api/v1/market/candles", func(w http.ResponseWriter, r *http.Request) {
		s.candleCalls.Add(1)
		q := r.URL.Query()
		if q.Get("symbol") == "" || q.Get("interval") == "" {
			s.rejectedConv.Add(1)
			writeJSON(w, map[string]any{"code": "152002", "msg": "Parameter symbol error"})
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		var after int64
		if v := q.Get("after"); v != "" {
			after, _ = strconv.ParseInt(v, 10, 64)
		}
		var out []any
		for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
			row := s.rows[i]
			if after != 0 && row[0].(int64) >= after {
				continue
			}
			// BloFin отдает числа строками
			str := []any{strconv.FormatInt(row[0].(int64), 10)}
			for _, v := range row[1:] {
				switch x := v.(type) {
				case float64:
					str = append(str, strconv.FormatFloat(x, 'f', -1, 64))
				case int:
					str = append(str, strconv.Itoa(x))
				}
			}
			str = append(str, "0", "0", "1")
			out = append(out, str)
		}
		if out == nil {
			out = []any{}
		}
		writeJSON(w, map[string]any{"code": "0", "msg": "success", "data": out})
	})
	mux.HandleFunc("/api/v1/market/funding-rate", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("instId") != "BTC-USDT" {
			writeJSON(w, map[string]any{"code": "152001", "msg": "instrument not found"})
			return
		}
		writeJSON(w, map[string]any{"code": "0", "data": []any{
			map[string]any{"instId": "BTC-USDT", "fundingRate": "0.000125", "fundingTime": "1700000000000"},
		}})
	})
	mux.HandleFunc("/api/v1/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": "0", "data": []any{
			map[string]any{"instId": "BTC-USDT", "last": "60000", "vol24h": "100"},
			map[string]any{"instId": "ETH-USDT", "volCurrencyQuote24h": "9000000"},
			map[string]any{"instId": "XRP-USDT", "last": "0.5", "vol24h": "1000"},
			map[string]any{"instId": "BTC-USDC", "last": "60000", "vol24h": "1000000"},
		}})
	})
	return mux
}

func TestBlofinProbesConventionsAndPages(t *testing.T) {
	s := &blofinServer{rows: ohlcvRows(1000)}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	cfg := testProviderConfig(srv.URL)
	cfg.Blofin.PageLimit = 100
	p := NewBlofinProvider(cfg)

	series, err := p.FetchOHLCV(context.Background(), "BTC/USDT", "5m", 250)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if series.Len() != 250 {
		t.Fatalf("len = %d", series.Len())
	}
	if series.Bars[249].Close != 1099 || series.Bars[0].Close != 850 {
		t.Errorf("window = [%v..%v]", series.Bars[0].Close, series.Bars[249].Close)
	}
	for i := 1; i < series.Len(); i++ {
		if !series.Bars[i].OpenTime.After(series.Bars[i-1].OpenTime) {
			t.Fatalf("not ascending at %d", i)
		}
	}
	// Первый вариант (instId+bar) отклонен, дальше используется найденный
	if n := s.rejectedConv.Load(); n != 1 {
		t.Errorf("rejected conventions = %d, want 1", n)
	}
	if n := s.candleCalls.Load(); n != 4 {
		t.Errorf("candle calls = %d, want 4 (1 probe + 3 pages)", n)
	}
}

func TestBlofinUnsupportedSymbol(t *testing.T) {
	s := &blofinServer{rows: ohlcvRows(10)}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	p := NewBlofinProvider(testProviderConfig(srv.URL))
	_, err := p.FetchOHLCV(context.Background(), "DOGE/USDT", "5m", 10)
	if !errors.Is(err, ErrUnsupportedSymbol) {
		t.Fatalf("got %v", err)
	}
	if s.candleCalls.Load() != 0 {
		t.Error("candle endpoint must not be called")
	}
}

func TestBlofinNoData(t *testing.T) {
	s := &blofinServer{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	p := NewBlofinProvider(testProviderConfig(srv.URL))
	_, err := p.FetchOHLCV(context.Background(), "ETH/USDT", "1h", 10)
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("got %v", err)
	}
}

func TestBlofinFundingRate(t *testing.T) {
	s := &blofinServer{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	p := NewBlofinProvider(testProviderConfig(srv.URL))
	rate := p.FetchFundingRate(context.Background(), "BTC/USDT")
	if !rate.Valid || rate.Decimal.String() != "0.0125" {
		t.Errorf("rate = %+v", rate)
	}
	if p.FetchFundingRate(context.Background(), "ETH/USDT").Valid {
		t.Error("API error must yield unavailable funding")
	}
}

func TestBlofinTopSymbols(t *testing.T) {
	s := &blofinServer{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	p := NewBlofinProvider(testProviderConfig(srv.URL))
	top, err := p.TopSymbols(context.Background(), "usdt", 2, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 || top[0] != "ETH/USDT" || top[1] != "BTC/USDT" {
		t.Errorf("top = %v", top)
	}
}
