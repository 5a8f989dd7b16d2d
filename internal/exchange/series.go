package exchange

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/skalibog/emacross/pkg/models"
)

// buildSeries сортирует свечи по времени, убирает дубликаты (побеждает последняя
// полученная строка) и оставляет limit самых свежих
func buildSeries(symbol, timeframe string, bars []models.Bar, limit int) (*models.Series, error) {
	merged := mergeBars(bars)
	if len(merged) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrDataUnavailable, symbol, timeframe)
	}
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return &models.Series{
		Symbol:    symbol,
		Timeframe: timeframe,
		Bars:      merged,
	}, nil
}

func mergeBars(bars []models.Bar) []models.Bar {
	index := make(map[int64]int, len(bars))
	out := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		key := b.OpenTime.UnixMilli()
		if i, ok := index[key]; ok {
			out[i] = b
			continue
		}
		index[key] = len(out)
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b models.Bar) int {
		return a.OpenTime.Compare(b.OpenTime)
	})
	return out
}

// pageFunc возвращает до n свечей, открытых строго раньше before.
// Нулевое before означает самые свежие свечи.
type pageFunc func(ctx context.Context, before time.Time, n int) ([]models.Bar, error)

// pageBackward собирает limit свечей страницами по pageSize, двигаясь назад во времени.
// Короткая страница означает начало истории.
func pageBackward(ctx context.Context, limit, pageSize int, fetch pageFunc) ([]models.Bar, error) {
	if pageSize <= 0 || limit <= pageSize {
		return fetch(ctx, time.Time{}, limit)
	}

	var all []models.Bar
	seen := make(map[int64]struct{}, limit)
	var before time.Time
	for len(seen) < limit {
		page, err := fetch(ctx, before, pageSize)
		if err != nil {
			if len(all) > 0 && errors.Is(err, ErrDataUnavailable) {
				break
			}
			return nil, err
		}

		var oldest time.Time
		for _, b := range page {
			seen[b.OpenTime.UnixMilli()] = struct{}{}
			if oldest.IsZero() || b.OpenTime.Before(oldest) {
				oldest = b.OpenTime
			}
		}
		// Страницы в порядке получения: при слиянии дубликатов побеждает последняя полученная строка
		all = append(all, page...)

		if len(page) < pageSize || oldest.IsZero() {
			break
		}
		// Курсор не сдвинулся - источник игнорирует параметр пагинации
		if !before.IsZero() && !oldest.Before(before) {
			break
		}
		before = oldest
	}
	return all, nil
}

// mapTimeframe переводит код таймфрейма в токен источника; неизвестные коды передаются как есть
func mapTimeframe(table map[string]string, tf string) string {
	if v, ok := table[strings.TrimSpace(tf)]; ok {
		return v
	}
	return tf
}
