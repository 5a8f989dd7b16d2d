package signal

import (
	"sync"
	"time"
)

type dedupKey struct {
	symbol string
	bar    int64
}

// Store хранит состояние дедупликации и кулдауна в памяти процесса
type Store struct {
	mu   sync.Mutex
	seen map[dedupKey]struct{}
	last map[string]time.Time
}

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{
		seen: make(map[dedupKey]struct{}),
		last: make(map[string]time.Time),
	}
}

// Seen был ли уже сигнал по закрытой свече
func (s *Store) Seen(symbol string, bar time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[dedupKey{symbol, bar.UnixNano()}]
	return ok
}

// LastAlert время свечи последнего сигнала по символу
func (s *Store) LastAlert(symbol string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[symbol]
	return t, ok
}

// Mark атомарно отмечает свечу и обновляет кулдаун.
// Возвращает false, если свеча уже была отмечена.
func (s *Store) Mark(symbol string, bar time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dedupKey{symbol, bar.UnixNano()}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	if prev, ok := s.last[symbol]; !ok || bar.After(prev) {
		s.last[symbol] = bar
	}
	return true
}

// Prune удаляет записи дедупликации старше before. Кулдаун не трогается:
// его размер ограничен числом символов.
func (s *Store) Prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := before.UnixNano()
	removed := 0
	for key := range s.seen {
		if key.bar < cutoff {
			delete(s.seen, key)
			removed++
		}
	}
	return removed
}

// Len количество записей дедупликации
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
