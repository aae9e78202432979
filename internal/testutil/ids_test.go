package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDGenerator_Increments(t *testing.T) {
	gen := NewSequenceIDGenerator("w")

	assert.Equal(t, "w-1", gen.Generate())
	assert.Equal(t, "w-2", gen.Generate())
	assert.Equal(t, "w-3", gen.Generate())
}

func TestSequenceIDGenerator_DefaultPrefixAndReset(t *testing.T) {
	gen := NewSequenceIDGenerator("")

	gen.Generate()
	gen.Generate()
	gen.Reset()

	assert.Equal(t, "waiter-1", gen.Generate())
}

func TestSequenceIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceIDGenerator("t")
	const goroutines = 20
	const perGoroutine = 50

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine, "IDs must be unique")
}

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "abc", NewFixedIDGenerator("abc").Generate())
	assert.Equal(t, "abc", NewFixedIDGenerator("abc").Generate())
	assert.Equal(t, "waiter-fixed", NewFixedIDGenerator("").Generate())
}
