package signal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStoreMark(t *testing.T) {
	s := NewStore()
	bar := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if s.Seen("ETH/USDT", bar) {
		t.Fatal("empty store reports seen")
	}
	if !s.Mark("ETH/USDT", bar) {
		t.Fatal("first mark must succeed")
	}
	if s.Mark("ETH/USDT", bar) {
		t.Fatal("second mark of the same bar must fail")
	}
	if !s.Seen("ETH/USDT", bar) || s.Seen("BTC/USDT", bar) {
		t.Error("seen must be keyed by symbol and bar")
	}

	// Более старая свеча не откатывает кулдаун
	s.Mark("ETH/USDT", bar.Add(-time.Hour))
	if last, _ := s.LastAlert("ETH/USDT"); !last.Equal(bar) {
		t.Errorf("last alert = %v", last)
	}
	if _, ok := s.LastAlert("BTC/USDT"); ok {
		t.Error("unexpected cooldown entry")
	}
}

func TestStorePrune(t *testing.T) {
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.Mark("BTC/USDT", base.Add(time.Duration(i)*time.Minute))
	}
	if removed := s.Prune(base.Add(4 * time.Minute)); removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
	if s.Len() != 6 {
		t.Errorf("len = %d", s.Len())
	}
	if _, ok := s.LastAlert("BTC/USDT"); !ok {
		t.Error("prune must keep cooldown entries")
	}
}

func TestStoreConcurrentMark(t *testing.T) {
	s := NewStore()
	bar := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Mark("SOL/USDT", bar) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("wins = %d, want exactly 1", wins.Load())
	}
}
