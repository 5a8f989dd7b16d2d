package technical

import (
	"math"

	"github.com/markcheno/go-talib"
)

// EMA экспоненциальная средняя с α = 2/(length+1), начальное значение - первая цена.
// Определена начиная с первого элемента.
func EMA(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if length < 1 {
		return nanSlice(len(values))
	}
	alpha := 2.0 / float64(length+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1] + alpha*(values[i]-out[i-1])
	}
	return out
}

// SMA простая скользящая средняя, NaN до накопления length значений
func SMA(values []float64, length int) []float64 {
	return rollingMean(values, length)
}

// TrueRange истинный диапазон; для первой свечи high-low
func TrueRange(high, low, close []float64) []float64 {
	n := minLen(high, low, close)
	if n == 0 {
		return nil
	}
	tr := talib.TRange(high[:n], low[:n], close[:n])
	tr[0] = high[0] - low[0]
	return tr
}

// ATR скользящее среднее истинного диапазона, NaN для первых length-1 свечей
func ATR(high, low, close []float64, length int) []float64 {
	return rollingMean(TrueRange(high, low, close), length)
}

// ADX индекс направленного движения.
// +DM/-DM и TR сглаживаются скользящим средним, ADX - среднее DX за length.
func ADX(high, low, close []float64, length int) []float64 {
	n := minLen(high, low, close)
	if n < 2 || length < 1 {
		return nanSlice(n)
	}
	high, low, close = high[:n], low[:n], close[:n]

	plusDM := rollingMean(talib.PlusDM(high, low, 1), length)
	minusDM := rollingMean(talib.MinusDM(high, low, 1), length)
	atr := ATR(high, low, close, length)

	dx := nanSlice(n)
	for i := 0; i < n; i++ {
		if math.IsNaN(atr[i]) || math.IsNaN(plusDM[i]) || math.IsNaN(minusDM[i]) {
			continue
		}
		var plusDI, minusDI float64
		if atr[i] != 0 {
			plusDI = 100 * plusDM[i] / atr[i]
			minusDI = 100 * minusDM[i] / atr[i]
		}
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}
	return rollingMean(dx, length)
}

// rollingMean среднее по окну length. Ведущие NaN пропускаются, окно считается
// с первого определенного значения.
func rollingMean(values []float64, length int) []float64 {
	out := nanSlice(len(values))
	if length < 1 {
		return out
	}
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	if len(values)-start < length {
		return out
	}
	sma := talib.Sma(values[start:], length)
	copy(out[start+length-1:], sma[length-1:])
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func minLen(cols ...[]float64) int {
	n := len(cols[0])
	for _, c := range cols[1:] {
		if len(c) < n {
			n = len(c)
		}
	}
	return n
}
