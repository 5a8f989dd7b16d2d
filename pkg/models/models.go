package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bar представляет одну свечу
type Bar struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// IndicatorSet производные колонки, выровненные по индексу со свечами.
// До прогрева значения равны NaN.
type IndicatorSet struct {
	EMAFast   []float64
	EMASlow   []float64
	EMATrend  []float64
	ATR       []float64
	ADX       []float64
	VolumeSMA []float64
}

// Aligned все колонки совпадают по длине с рядом из n свечей
func (s *IndicatorSet) Aligned(n int) bool {
	for _, col := range [][]float64{s.EMAFast, s.EMASlow, s.EMATrend, s.ATR, s.ADX, s.VolumeSMA} {
		if len(col) != n {
			return false
		}
	}
	return true
}

// Series упорядоченный ряд свечей по одному символу и таймфрейму
type Series struct {
	Symbol     string
	Timeframe  string
	Bars       []Bar
	Indicators *IndicatorSet
}

// Len возвращает количество свечей
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Closes, Highs, Lows, Volumes - колонки для индикаторов
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

func (s *Series) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.High
	}
	return out
}

func (s *Series) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Low
	}
	return out
}

func (s *Series) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Volume
	}
	return out
}

// Side направление сделки
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Candidate кандидат в сигнал, живет в пределах одного сканирования символа
type Candidate struct {
	Symbol  string
	Side    Side
	Close   float64
	ATR     float64
	BarTime time.Time
}

// Annotation произвольная подпись к сигналу
type Annotation struct {
	Label string
	Text  string
}

// Alert готовый торговый сигнал для отправки
type Alert struct {
	ID          string
	Symbol      string
	Timeframe   string
	Side        Side
	Leverage    int
	EntryHigh   decimal.Decimal
	EntryLow    decimal.Decimal
	StopLoss    decimal.Decimal
	Targets     []decimal.Decimal
	Annotations []Annotation
	BarTime     time.Time
	CreatedAt   time.Time
}

// Annotation возвращает текст подписи по метке
func (a *Alert) Annotation(label string) (string, bool) {
	for _, n := range a.Annotations {
		if n.Label == label {
			return n.Text, true
		}
	}
	return "", false
}

// SplitSymbol разбирает "BTC/USDT" на базу и котировку
func SplitSymbol(symbol string) (base, quote string, err error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	// "BTC/USDT:USDT" - формат деривативов
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("неверный формат символа %q, ожидается BASE/QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// TimeframeDuration возвращает длительность таймфрейма ("5m", "1h", "1d", "1w")
func TimeframeDuration(tf string) (time.Duration, bool) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	unit := tf[len(tf)-1]
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h', 'H':
		return time.Duration(n) * time.Hour, true
	case 'd', 'D':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w', 'W':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	}
	return 0, false
}
