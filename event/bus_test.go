package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus[string, int]()

	var (
		mu       sync.Mutex
		received []int
		wg       sync.WaitGroup
	)

	wg.Add(2)
	for i := 0; i < 2; i++ {
		bus.AddHandler(HandlerFunc[string, int](func(key string, e int) {
			defer wg.Done()

			require.Equal(t, "receipt-1", key)

			mu.Lock()
			received = append(received, e)
			mu.Unlock()
		}))
	}

	require.NoError(t, bus.OnEvent("receipt-1", 10))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for handlers")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{10, 10}, received)
}

func TestBus_NoHandlers(t *testing.T) {
	bus := NewBus[string, int]()
	require.NoError(t, bus.OnEvent("receipt-1", 10))
}
