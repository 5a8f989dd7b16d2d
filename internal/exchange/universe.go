package exchange

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/skalibog/emacross/pkg/logger"
	"go.uber.org/zap"
)

// universe кэш списка торгуемых инструментов с TTL
type universe struct {
	name string
	ttl  time.Duration
	load func(ctx context.Context) (map[string]struct{}, error)
	now  func() time.Time

	// seed используется, пока ни одна загрузка не удалась, и живет не дольше seedTTL
	seed    map[string]struct{}
	seedTTL time.Duration

	mu      sync.Mutex
	items   map[string]struct{}
	expires time.Time
	seeded  bool
}

// Срок жизни запасного списка до следующей попытки загрузки
const defaultSeedTTL = time.Minute

func newUniverse(name string, ttl time.Duration, load func(ctx context.Context) (map[string]struct{}, error)) *universe {
	return &universe{
		name: name,
		ttl:  ttl,
		load: load,
		now:  time.Now,
	}
}

// withSeed задает запасной список на случай, если загрузка не удалась
func (u *universe) withSeed(ids []string) *universe {
	u.seed = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		u.seed[id] = struct{}{}
	}
	u.seedTTL = min(u.ttl, defaultSeedTTL)
	return u
}

// snapshot возвращает актуальный набор, при необходимости перезагружая его.
// Если перезагрузка не удалась, используется загруженный ранее набор, а без него запасной.
func (u *universe) snapshot(ctx context.Context) (map[string]struct{}, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	if u.items != nil && now.Before(u.expires) {
		return u.items, nil
	}

	items, err := u.load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if u.items != nil && !u.seeded {
			logger.Warn("Не удалось обновить список инструментов, используется старый",
				zap.String("provider", u.name), zap.Error(err))
			return u.items, nil
		}
		if u.seed != nil {
			logger.Warn("Список инструментов недоступен, временно используется базовый",
				zap.String("provider", u.name), zap.Duration("retry_in", u.seedTTL), zap.Error(err))
			u.items = u.seed
			u.expires = now.Add(u.seedTTL)
			u.seeded = true
			return u.items, nil
		}
		return nil, err
	}

	u.items = items
	u.expires = now.Add(u.ttl)
	u.seeded = false
	logger.Debug("Список инструментов обновлен", zap.String("provider", u.name), zap.Int("count", len(items)))
	return items, nil
}

// contains проверяет наличие инструмента
func (u *universe) contains(ctx context.Context, id string) (bool, error) {
	items, err := u.snapshot(ctx)
	if err != nil {
		return false, err
	}
	_, ok := items[id]
	return ok, nil
}

// list отсортированный список инструментов
func (u *universe) list(ctx context.Context) ([]string, error) {
	items, err := u.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for id := range items {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}
