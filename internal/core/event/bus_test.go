package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type ping struct{ N int }
type pong struct{ N int }

func TestEmitIsReadableNextTick(t *testing.T) {
	b := NewBus()
	var got []int
	Subscribe(b, func(ev ping) { got = append(got, ev.N) })

	Emit(b, ping{1})
	b.DispatchAll() // still in the back buffer
	assert.Empty(t, got)

	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, []int{1}, got)

	// Delivered events do not repeat on the next dispatch.
	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, []int{1}, got)
}

func TestDispatchIsTypeScoped(t *testing.T) {
	b := NewBus()
	var pings, pongs int
	Subscribe(b, func(ping) { pings++ })
	Subscribe(b, func(pong) { pongs++ })

	Emit(b, ping{1})
	Emit(b, ping{2})
	Emit(b, pong{3})
	b.SwapBuffers()
	b.DispatchAll()

	assert.Equal(t, 2, pings)
	assert.Equal(t, 1, pongs)
}

func TestEmitDuringDispatchLandsNextTick(t *testing.T) {
	b := NewBus()
	var rounds []int
	Subscribe(b, func(ev ping) {
		rounds = append(rounds, ev.N)
		if ev.N < 3 {
			Emit(b, ping{ev.N + 1})
		}
	})

	Emit(b, ping{1})
	for i := 0; i < 4; i++ {
		b.SwapBuffers()
		b.DispatchAll()
	}
	assert.Equal(t, []int{1, 2, 3}, rounds)
}

func TestEmitFromGoroutines(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	total := 0
	Subscribe(b, func(ev ping) {
		mu.Lock()
		total += ev.N
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Emit(b, ping{1})
		}()
	}
	wg.Wait()

	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, 50, total)
}
