package scheduler

import (
	"math/rand"
	"sync"

	"github.com/brandsight/adharvest/internal/harvest"
)

// rotation deals observers to channels from a shuffled ring. Each channel
// keeps its own cursor into the ring, so repeated rounds walk a channel
// through the whole pool: with pool size P and k observers dealt per round,
// every observer reaches every channel within ceil(P/k) rounds.
type rotation struct {
	mu      sync.Mutex
	ring    []harvest.Observer
	cursors map[string]int
}

func newRotation(pool []harvest.Observer, seed int64) *rotation {
	ring := make([]harvest.Observer, len(pool))
	copy(ring, pool)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(ring), func(i, j int) {
		ring[i], ring[j] = ring[j], ring[i]
	})
	return &rotation{
		ring:    ring,
		cursors: make(map[string]int),
	}
}

// deal returns k distinct observers for the channel and advances its cursor.
// k is clamped to the pool size, so the same (observer, channel) pair never
// appears twice in one round. New channels start staggered so round one does
// not pile every channel onto the same observers.
func (r *rotation) deal(channelID string, k int) []harvest.Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) == 0 || k <= 0 {
		return nil
	}
	if k > len(r.ring) {
		k = len(r.ring)
	}
	cursor, ok := r.cursors[channelID]
	if !ok {
		cursor = (len(r.cursors) * k) % len(r.ring)
	}
	dealt := make([]harvest.Observer, 0, k)
	for i := 0; i < k; i++ {
		dealt = append(dealt, r.ring[(cursor+i)%len(r.ring)])
	}
	r.cursors[channelID] = (cursor + k) % len(r.ring)
	return dealt
}
