package echocache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const author = "somerandomaddressthatisvalid"

func TestReserveTakeSuccess(t *testing.T) {
	c := New(context.Background(), Config{})

	ok := c.Reserve(author, "operation")
	assert.True(t, ok)

	text, ok := c.Take(author)
	assert.True(t, ok)
	assert.Equal(t, "operation", text)

	_, ok = c.Take(author)
	assert.False(t, ok)
}

func TestReserveTwiceKeepsFirst(t *testing.T) {
	c := New(context.Background(), Config{})

	assert.True(t, c.Reserve(author, "first"))
	assert.False(t, c.Reserve(author, "second"))

	text, ok := c.Take(author)
	assert.True(t, ok)
	assert.Equal(t, "first", text)
}

func TestReserveOtherAuthor(t *testing.T) {
	c := New(context.Background(), Config{})

	assert.True(t, c.Reserve(author, "first"))
	assert.True(t, c.Reserve("somerandomaddressthatisnotvalid", "second"))
}

func TestExpiredEntryIsReplaced(t *testing.T) {
	c := New(context.Background(), Config{})
	c.longevity = 50 * time.Millisecond

	assert.True(t, c.Reserve(author, "first"))
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Take(author)
	assert.False(t, ok)
	assert.True(t, c.Reserve(author, "second"))

	text, ok := c.Take(author)
	assert.True(t, ok)
	assert.Equal(t, "second", text)
}

func TestCleanerRemovesExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, Config{Longevity: 1})

	assert.True(t, c.Reserve(author, "first"))
	time.Sleep(2500 * time.Millisecond)

	c.mux.RLock()
	defer c.mux.RUnlock()
	assert.Len(t, c.data, 0)
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	c := New(context.Background(), Config{})

	var wg sync.WaitGroup
	var mux sync.Mutex
	winners := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Reserve(author, "operation") {
				mux.Lock()
				winners++
				mux.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
