package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mux sync.Mutex
	t   time.Time
}

func (f *fakeClock) now() time.Time {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(defaultTTL time.Duration) (*Cache[string, int], *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int](defaultTTL)
	c.now = clock.now
	return c, clock
}

func TestGetAbsent(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestSetGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestLazyExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("a", 1, 10*time.Second)
	clock.advance(11 * time.Second)

	_, ok := c.Get("a")
	assert.False(t, ok)
	// the expired entry was evicted by the read, not left behind
	assert.Equal(t, 0, c.Len())
}

func TestOverwriteResetsExpiry(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("a", 1, 10*time.Second)
	clock.advance(8 * time.Second)
	c.Set("a", 2, 10*time.Second)
	clock.advance(8 * time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("a", 1, 0)
	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestSweep(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("short1", 1, 10*time.Second)
	c.Set("short2", 2, 10*time.Second)
	c.Set("long", 3, time.Hour)
	clock.advance(30 * time.Second)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())

	v, ok := c.Get("long")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestExpiredNeverReturnedWithoutSweep(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("a", 1, time.Second)
	clock.advance(2 * time.Second)

	// correctness must not depend on a sweep having run
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", j%10)
				c.Set(key, n, 0)
				c.Get(key)
				if j%50 == 0 {
					c.Delete(key)
				}
			}
		}(i)
	}
	wg.Wait()

	// no assertion beyond not racing; the map must still be usable
	c.Set("after", 1, 0)
	v, ok := c.Get("after")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}
