package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type countHandler struct {
	started atomic.Bool
	ticks   atomic.Int32
	got     []int
}

func (h *countHandler) Start() { h.started.Store(true) }

func (h *countHandler) Handle(t Task) {
	switch v := t.(type) {
	case int:
		h.got = append(h.got, v)
	case string:
		h.ticks.Inc()
	}
}

func TestWorker(t *testing.T) {
	wg := new(sync.WaitGroup)
	w := NewWorker("test", wg)
	h := &countHandler{}
	w.Start(h)
	for i := 0; i < 3; i++ {
		w.Sender() <- i
	}
	w.Stop()
	w.Stop()
	wg.Wait()
	require.True(t, h.started.Load())
	require.Equal(t, []int{0, 1, 2}, h.got)
}

func TestTick(t *testing.T) {
	wg := new(sync.WaitGroup)
	w := NewWorker("ticker", wg)
	h := &countHandler{}
	w.Start(h)
	w.Tick(time.Millisecond, "tick")
	require.Eventually(t, func() bool { return h.ticks.Load() >= 3 }, 5*time.Second, time.Millisecond)
	w.Stop()
	wg.Wait()
	n := h.ticks.Load()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, n, h.ticks.Load())
}
