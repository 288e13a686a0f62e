package blackboard

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonceSource(t *testing.T) {
	t.Run("strictly increases when the clock stalls or goes back", func(t *testing.T) {
		n := &NonceSource{now: fixedClock(100, 100, 90, 200)}
		assert.Equal(t, int64(100), n.Next())
		assert.Equal(t, int64(101), n.Next())
		assert.Equal(t, int64(102), n.Next())
		assert.Equal(t, int64(200), n.Next())
	})

	t.Run("unique under concurrency", func(t *testing.T) {
		n := NewNonceSource()
		var mu sync.Mutex
		seen := map[int64]bool{}
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					v := n.Next()
					mu.Lock()
					seen[v] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 800)
	})
}
