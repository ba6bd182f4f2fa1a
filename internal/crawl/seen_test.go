package crawl

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetAdd(t *testing.T) {
	s := NewSeenSet(0)

	assert.False(t, s.Add("https://example.com/a"))
	assert.True(t, s.Add("https://example.com/a"))
	assert.False(t, s.Add("https://example.com/b"))
	assert.Equal(t, 2, s.Len())
}

func TestSeenSetRemove(t *testing.T) {
	s := NewSeenSet(0)

	s.Add("https://example.com/a")
	assert.True(t, s.Contains("https://example.com/a"))

	s.Remove("https://example.com/a")
	assert.False(t, s.Contains("https://example.com/a"))

	// A removed URL is insertable again, so a redelivered task after a
	// transient failure is not dropped as a duplicate.
	assert.False(t, s.Add("https://example.com/a"))

	// Removing an absent URL is a no-op.
	s.Remove("https://example.com/never-added")
	assert.Equal(t, 1, s.Len())
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := NewSeenSet(3)

	s.Add("a")
	s.Add("b")
	s.Add("c")

	// Touch "a" so "b" becomes the least recently seen.
	s.Add("a")

	s.Add("d")

	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
	assert.True(t, s.Contains("d"))
}

func TestSeenSetConcurrentAccess(t *testing.T) {
	s := NewSeenSet(0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Add(fmt.Sprintf("https://example.com/%d/%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, s.Len())
}
