package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/model"
)

type slot struct {
	id    int64
	count int64
	end   time.Time
}

type shard struct {
	mu      sync.Mutex
	callers map[string]map[model.WindowKind]*slot
}

// MemoryStore is a process-local CounterStore. Callers are spread over
// shards so contention stays within one caller's shard.
type MemoryStore struct {
	shards []*shard
}

func NewMemoryStore(numShards int) *MemoryStore {
	if numShards <= 0 {
		numShards = 32
	}
	s := &MemoryStore{shards: make([]*shard, numShards)}
	for i := range s.shards {
		s.shards[i] = &shard{callers: make(map[string]map[model.WindowKind]*slot)}
	}
	return s
}

func (s *MemoryStore) shardFor(callerID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callerID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// live returns the slot for w, resetting it only when w is newer than the
// stored window. A caller still holding an older window is counted in the
// current slot; the closed window is never reopened.
func live(slots map[model.WindowKind]*slot, w Window) *slot {
	sl, ok := slots[w.Kind]
	if !ok || w.ID > sl.id {
		sl = &slot{id: w.ID, end: w.End}
		slots[w.Kind] = sl
	}
	return sl
}

func (s *MemoryStore) CheckAndIncrement(ctx context.Context, callerID string, windows []Window) ([]int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	sh := s.shardFor(callerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	slots, ok := sh.callers[callerID]
	if !ok {
		slots = make(map[model.WindowKind]*slot, len(windows))
		sh.callers[callerID] = slots
	}

	counts := make([]int64, len(windows))
	allowed := true
	for i, w := range windows {
		sl := live(slots, w)
		counts[i] = sl.count
		if exceeded(sl.count, w.Limit) {
			allowed = false
		}
	}
	if !allowed {
		return counts, false, nil
	}

	for i, w := range windows {
		sl := live(slots, w)
		sl.count++
		counts[i] = sl.count
	}
	return counts, true, nil
}

func (s *MemoryStore) Peek(ctx context.Context, callerID string, windows []Window) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shardFor(callerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	counts := make([]int64, len(windows))
	slots := sh.callers[callerID]
	for i, w := range windows {
		if sl, ok := slots[w.Kind]; ok && sl.id >= w.ID {
			counts[i] = sl.count
		}
	}
	return counts, nil
}

// Sweep drops windows that ended before now and callers left with none.
// It returns the number of callers removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for caller, slots := range sh.callers {
			for k, sl := range slots {
				if !now.Before(sl.end) {
					delete(slots, k)
				}
			}
			if len(slots) == 0 {
				delete(sh.callers, caller)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(now())
		}
	}
}

var _ CounterStore = (*MemoryStore)(nil)
