package exchange

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/skalibog/emacross/pkg/models"
)

// Shape декларативное описание ответа со свечами: где искать список и как называются поля
type Shape struct {
	// Containers ключи-обертки, под которыми может лежать список свечей
	Containers []string
	Time       []string
	Open       []string
	High       []string
	Low        []string
	Close      []string
	Volume     []string
}

// DefaultShape покрывает известные формы ответов REST-шлюзов
var DefaultShape = Shape{
	Containers: []string{"data", "result", "rows", "candles", "kline", "klines", "list", "items"},
	Time:       []string{"t", "time", "ts", "timestamp", "openTime", "open_time", "start"},
	Open:       []string{"o", "open"},
	High:       []string{"h", "high"},
	Low:        []string{"l", "low"},
	Close:      []string{"c", "close"},
	Volume:     []string{"v", "volume", "vol", "baseVolume"},
}

// Глубина вложенности оберток вида {"result": {"list": [...]}}
const maxContainerDepth = 2

// Порог, ниже которого метка времени считается секундами
const secondsThreshold = 1e10

var jsonAPI = sonic.Config{UseNumber: true}.Froze()

// decodeJSON разбирает ответ в дерево map/slice с числами json.Number
func decodeJSON(data []byte) (any, error) {
	var v any
	if err := jsonAPI.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Normalize приводит ответ любой известной формы к последовательности свечей.
// Порядок и дубликаты не исправляются, это делает buildSeries.
func (s Shape) Normalize(payload any) ([]models.Bar, error) {
	bars, ok, err := s.extract(payload, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w (%T)", ErrUnrecognizedPayload, payload)
	}
	if len(bars) == 0 {
		return nil, ErrDataUnavailable
	}
	return bars, nil
}

func (s Shape) extract(v any, depth int) ([]models.Bar, bool, error) {
	switch node := v.(type) {
	case []any:
		return s.fromList(node)
	case map[string]any:
		if s.isColumnar(node) {
			bars, err := s.fromColumns(node)
			return bars, true, err
		}
		if depth >= maxContainerDepth {
			return nil, false, nil
		}
		// Пустой список под одним ключом не мешает найти свечи под следующим
		empty := false
		for _, key := range s.Containers {
			inner, ok := node[key]
			if !ok {
				continue
			}
			bars, matched, err := s.extract(inner, depth+1)
			if err != nil {
				return nil, false, err
			}
			if matched && len(bars) == 0 {
				empty = true
				continue
			}
			if matched {
				return bars, true, nil
			}
		}
		return nil, empty, nil
	}
	return nil, false, nil
}

func (s Shape) fromList(list []any) ([]models.Bar, bool, error) {
	if len(list) == 0 {
		return nil, true, nil
	}
	switch first := list[0].(type) {
	case []any:
		return s.fromRows(list)
	case map[string]any:
		// Колонки внутри списка из одного объекта
		if len(list) == 1 && s.isColumnar(first) {
			bars, err := s.fromColumns(first)
			return bars, true, err
		}
		return s.fromObjects(list)
	}
	return nil, false, nil
}

// fromRows [[ts, o, h, l, c, v, ...], ...]
func (s Shape) fromRows(list []any) ([]models.Bar, bool, error) {
	bars := make([]models.Bar, 0, len(list))
	for _, item := range list {
		row, ok := item.([]any)
		if !ok || len(row) < 6 {
			continue
		}
		bar, ok := makeBar(row[0], row[1], row[2], row[3], row[4], row[5])
		if ok {
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, false, fmt.Errorf("%w: ни одна строка не разобрана", ErrUnrecognizedPayload)
	}
	return bars, true, nil
}

// fromObjects [{"t":..., "o":..., ...}, ...]
func (s Shape) fromObjects(list []any) ([]models.Bar, bool, error) {
	bars := make([]models.Bar, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t, ok1 := pick(obj, s.Time)
		o, ok2 := pick(obj, s.Open)
		h, ok3 := pick(obj, s.High)
		l, ok4 := pick(obj, s.Low)
		c, ok5 := pick(obj, s.Close)
		v, ok6 := pick(obj, s.Volume)
		if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
			continue
		}
		if bar, ok := makeBar(t, o, h, l, c, v); ok {
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, false, fmt.Errorf("%w: объекты без полей OHLCV", ErrUnrecognizedPayload)
	}
	return bars, true, nil
}

// fromColumns {"t": [...], "o": [...], ...}
func (s Shape) fromColumns(obj map[string]any) ([]models.Bar, error) {
	cols := make([][]any, 0, 6)
	for _, names := range [][]string{s.Time, s.Open, s.High, s.Low, s.Close, s.Volume} {
		raw, ok := pick(obj, names)
		col, isList := raw.([]any)
		if !ok || !isList {
			return nil, fmt.Errorf("%w: нет колонки %s", ErrUnrecognizedPayload, names[0])
		}
		cols = append(cols, col)
	}

	n := len(cols[0])
	for _, col := range cols[1:] {
		if len(col) < n {
			n = len(col)
		}
	}

	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		if bar, ok := makeBar(cols[0][i], cols[1][i], cols[2][i], cols[3][i], cols[4][i], cols[5][i]); ok {
			bars = append(bars, bar)
		}
	}
	return bars, nil
}

func (s Shape) isColumnar(obj map[string]any) bool {
	raw, ok := pick(obj, s.Time)
	if !ok {
		return false
	}
	_, isList := raw.([]any)
	return isList
}

func pick(obj map[string]any, names []string) (any, bool) {
	for _, name := range names {
		if v, ok := obj[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func makeBar(t, o, h, l, c, v any) (models.Bar, bool) {
	ts, ok := toFloat(t)
	if !ok || ts <= 0 {
		return models.Bar{}, false
	}
	var vals [5]float64
	for i, raw := range []any{o, h, l, c, v} {
		f, ok := toFloat(raw)
		if !ok {
			return models.Bar{}, false
		}
		vals[i] = f
	}
	return models.Bar{
		OpenTime: toTime(ts),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, true
}

// toTime принимает секунды или миллисекунды
func toTime(ts float64) time.Time {
	if ts < secondsThreshold {
		ts *= 1000
	}
	return time.UnixMilli(int64(ts)).UTC()
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = x
	case int64:
		f = float64(x)
	case int:
		f = float64(x)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toString для идентификаторов инструментов в ответах
func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return ""
}
