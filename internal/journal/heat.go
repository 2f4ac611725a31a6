package journal

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const numShards = 64

// Heat counts pointer activity per cell with exponential decay, so a cell
// clicked often recently scores higher than one clicked often long ago.
type Heat struct {
	halfLife time.Duration
	now      func() time.Time
	shards   [numShards]heatShard
}

type heatShard struct {
	mu sync.Mutex
	m  map[string]*heatCounter
}

type heatCounter struct {
	score float64
	last  time.Time
}

func NewHeat(halfLife time.Duration) *Heat {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	h := &Heat{halfLife: halfLife, now: time.Now}
	for i := range h.shards {
		h.shards[i].m = make(map[string]*heatCounter)
	}
	return h
}

func (h *Heat) Inc(cell string) {
	if cell == "" {
		return
	}
	s := h.shard(cell)
	n := h.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.m[cell]
	if c == nil {
		s.m[cell] = &heatCounter{score: 1, last: n}
		return
	}
	c.score = decay(c.score, n.Sub(c.last).Seconds(), h.halfLife.Seconds()) + 1
	c.last = n
}

func (h *Heat) Score(cell string) float64 {
	if cell == "" {
		return 0
	}
	s := h.shard(cell)
	s.mu.Lock()
	c := s.m[cell]
	if c == nil {
		s.mu.Unlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.Unlock()
	return decay(score, h.now().Sub(last).Seconds(), h.halfLife.Seconds())
}

func (h *Heat) Len() int {
	total := 0
	for i := range h.shards {
		h.shards[i].mu.Lock()
		total += len(h.shards[i].m)
		h.shards[i].mu.Unlock()
	}
	return total
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2/halfLife*dt)
}

func (h *Heat) shard(cell string) *heatShard {
	return &h.shards[xxhash.Sum64String(cell)&(numShards-1)]
}
