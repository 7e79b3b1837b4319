package feed

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_RunsOnlyLastCall(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	var calls atomic.Int32
	var last atomic.Int32
	done := make(chan struct{}, 10)

	for i := 1; i <= 5; i++ {
		i := int32(i)
		d.Trigger(func() {
			calls.Add(1)
			last.Store(i)
			done <- struct{}{}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("debounced function never ran")
	}
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("function ran %d times, want 1", calls.Load())
	}
	if last.Load() != 5 {
		t.Errorf("ran call %d, want the last call (5)", last.Load())
	}
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Stop()

	time.Sleep(40 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("function ran %d times after Stop, want 0", calls.Load())
	}
}
