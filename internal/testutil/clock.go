package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chara-go/internal/chara"
)

var (
	_ chara.Clock       = (*StubClock)(nil)
	_ chara.IDGenerator = (*StubIDGenerator)(nil)
)

// StubClock is a chara.Clock that only moves when told to.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// FixedClock returns a StubClock stopped at 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return &StubClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator hands out "id-1", "id-2" and so on.
type StubIDGenerator struct {
	n atomic.Int64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return fmt.Sprintf("id-%d", g.n.Add(1))
}
