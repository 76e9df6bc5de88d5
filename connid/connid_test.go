package connid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Next(t *testing.T) {
	g := NewGenerator()

	assert.Equal(t, "conn-00000001", g.Next())
	assert.Equal(t, "conn-00000002", g.Next())
	assert.Equal(t, "conn-00000003", g.Next())
}

func TestGenerator_Next_Concurrent(t *testing.T) {
	g := NewGenerator()

	const workers = 10
	const perWorker = 100

	ids := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- g.Next()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate ID %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}
