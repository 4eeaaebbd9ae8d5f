package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	c := NewLRU(10)

	c.Set(Key{Offset: 1}, []byte("aaaa"))
	c.Set(Key{Offset: 2}, []byte("bbbb"))
	assert.Equal(t, int64(8), c.Size())

	b, ok := c.Get(Key{Offset: 1})
	require.True(t, ok)
	assert.Equal(t, []byte("aaaa"), b)

	// Offset 2 is now least recently used.
	c.Set(Key{Offset: 3}, []byte("cccc"))
	_, ok = c.Get(Key{Offset: 2})
	assert.False(t, ok)
	_, ok = c.Get(Key{Offset: 1})
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRUKeysByClass(t *testing.T) {
	c := NewLRU(100)
	c.Set(Key{Class: 1, Offset: 0}, []byte("normal"))
	c.Set(Key{Class: 2, Offset: 0}, []byte("strobe"))

	b, ok := c.Get(Key{Class: 2})
	require.True(t, ok)
	assert.Equal(t, "strobe", string(b))

	c.Invalidate(func(k Key) bool { return k.Class == 1 })
	_, ok = c.Get(Key{Class: 1})
	assert.False(t, ok)
	assert.Equal(t, int64(6), c.Size())
}

func TestLRUOversized(t *testing.T) {
	c := NewLRU(4)
	c.Set(Key{Offset: 1}, []byte("too large"))
	assert.Zero(t, c.Len())

	c.Set(Key{Offset: 2}, []byte("ab"))
	c.Set(Key{Offset: 2}, []byte("abcd"))
	assert.Equal(t, int64(4), c.Size())
	assert.Equal(t, 1, c.Len())
}

func TestLRUConcurrent(t *testing.T) {
	c := NewLRU(1 << 10)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				k := Key{Class: uint8(w % 3), Offset: uint64(i % 64)}
				if _, ok := c.Get(k); !ok {
					c.Set(k, make([]byte, 16))
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), int64(1<<10))
}
