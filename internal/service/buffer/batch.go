package buffer

import (
	"sync"

	"LiveTicks/internal/domain/models"
)

// Batch accumulates parsed points between flushes. Push and Flush are atomic
// with respect to each other: every pushed point is returned by exactly one
// Flush.
type Batch struct {
	mu     sync.Mutex
	points []models.DataPoint
	limit  int
}

// NewBatch creates a buffer that reports full once it holds limit points.
// A non-positive limit disables the size trigger.
func NewBatch(limit int) *Batch {
	return &Batch{limit: limit}
}

// Push appends p and reports whether the size threshold has been reached.
func (b *Batch) Push(p models.DataPoint) (full bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points = append(b.points, p)
	return b.limit > 0 && len(b.points) >= b.limit
}

// Flush drains and returns everything buffered, oldest first. It returns nil
// when the buffer is empty.
func (b *Batch) Flush() []models.DataPoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.points) == 0 {
		return nil
	}
	out := b.points
	b.points = make([]models.DataPoint, 0, cap(out))
	return out
}

// SetLimit changes the size threshold, typically to the store's MaxDataPoints.
func (b *Batch) SetLimit(n int) {
	b.mu.Lock()
	b.limit = n
	b.mu.Unlock()
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.points)
}
