package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. Counters are atomic so the hot
// paths never take the size mutex.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	peeks     atomic.Int64
	overflows atomic.Int64
	drops     atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a statistics tracker with the clock started.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Write records a completed write.
func (s *Statistics) Write() { s.writes.Add(1) }

// Read records a completed read. Batch reads count once per item.
func (s *Statistics) Read() { s.reads.Add(1) }

// Peek records a non-destructive read.
func (s *Statistics) Peek() { s.peeks.Add(1) }

// Overflow records a write that arrived at a full buffer.
func (s *Statistics) Overflow() { s.overflows.Add(1) }

// Drop records an item discarded by policy or Clear.
func (s *Statistics) Drop() { s.drops.Add(1) }

// UpdateSize records the occupancy after a mutation and tracks the
// high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Writes returns the total writes recorded.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total reads recorded.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Peeks returns the total peeks recorded.
func (s *Statistics) Peeks() int64 { return s.peeks.Load() }

// Overflows returns how many writes hit a full buffer.
func (s *Statistics) Overflows() int64 { return s.overflows.Load() }

// Drops returns how many items were discarded.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the occupancy at the last update.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the occupancy high-water mark.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// DropRate returns drops as a fraction of writes, 0 to 1.
func (s *Statistics) DropRate() float64 {
	writes := s.Writes()
	if writes == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(writes)
}

// Utilization returns occupancy relative to capacity, 0 to 1.
func (s *Statistics) Utilization(capacity int64) float64 {
	if capacity == 0 {
		return 0
	}
	return float64(s.CurrentSize()) / float64(capacity)
}

// Uptime returns the time since creation or the last Reset.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset zeroes every counter and restarts the clock.
func (s *Statistics) Reset() {
	s.writes.Store(0)
	s.reads.Store(0)
	s.peeks.Store(0)
	s.overflows.Store(0)
	s.drops.Store(0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.currentSize = 0
	s.maxSize = 0
	s.mu.Unlock()
}

// StatsSummary is a point-in-time snapshot, suitable for logging or
// health payloads.
type StatsSummary struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	Peeks       int64         `json:"peeks"`
	Overflows   int64         `json:"overflows"`
	Drops       int64         `json:"drops"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	DropRate    float64       `json:"drop_rate"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary captures all counters at once.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Peeks:       s.Peeks(),
		Overflows:   s.Overflows(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		DropRate:    s.DropRate(),
		Uptime:      s.Uptime(),
	}
}
