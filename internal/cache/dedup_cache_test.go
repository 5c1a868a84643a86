package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_SeenAfterMark(t *testing.T) {
	c := NewDedupCache(time.Minute)
	assert.False(t, c.Seen("camp-1:editor@example.com"))

	c.MarkProcessed("camp-1:editor@example.com")
	assert.True(t, c.Seen("camp-1:editor@example.com"))

	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
}

func TestDedupCache_Expiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewDedupCache(time.Minute).WithClock(func() time.Time { return now })

	c.MarkProcessed("camp-1:editor@example.com")
	assert.True(t, c.Seen("camp-1:editor@example.com"))

	now = now.Add(2 * time.Minute)
	assert.False(t, c.Seen("camp-1:editor@example.com"))
}

func TestDedupCache_Invalidate(t *testing.T) {
	c := NewDedupCache(time.Minute)
	c.MarkProcessed("camp-1:editor@example.com")
	c.Invalidate("camp-1:editor@example.com")
	assert.False(t, c.Seen("camp-1:editor@example.com"))
}

func TestDedupCache_Purge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewDedupCache(time.Minute).WithClock(func() time.Time { return now })

	c.MarkProcessed("a")
	c.MarkProcessed("b")
	now = now.Add(2 * time.Minute)
	c.MarkProcessed("c")

	removed := c.Purge()
	assert.Equal(t, 2, removed)
	assert.True(t, c.Seen("c"))
}
