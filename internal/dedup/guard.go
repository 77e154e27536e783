// Package dedup keeps the process-wide record of call keys already accepted for processing.
package dedup

import (
	"strings"
	"sync"

	"call-notes-go/internal/types"
)

const DefaultCapacity = 2000

// Guard is a bounded set of seen keys. When an insert would exceed the
// capacity the whole set is dropped first, so memory stays O(capacity)
// and the newest key is always kept.
type Guard struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
}

func NewGuard(capacity int) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// CheckAndMark reports whether key was already accepted. A false result
// means the caller owns the key and must process it.
func (g *Guard) CheckAndMark(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return true
	}
	if len(g.seen) >= g.capacity {
		g.seen = make(map[string]struct{}, g.capacity)
	}
	g.seen[key] = struct{}{}
	return false
}

// Len is the number of keys currently retained.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// KeyFor is the single key scheme shared by every entry point: the
// recording URL. Deliveries of the same call through different webhook
// shapes carry the same link, so they collapse to one run.
func KeyFor(ev types.CallEvent) string {
	return strings.TrimSpace(ev.RecordingURL)
}
