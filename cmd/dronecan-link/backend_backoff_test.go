package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/serial"
)

// fakeErrPort always returns a synthetic error to trigger backoff.
type fakeErrPort struct{}

func (f *fakeErrPort) Read(p []byte) (int, error)  { return 0, io.ErrNoProgress }
func (f *fakeErrPort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeErrPort) Close() error                { return nil }

func TestSerialBackendBackoffProgression(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) < 8 {
			seen = append(seen, d)
			if len(seen) == 8 {
				cancel()
			}
		}
	}
	defer func() { sleepFn = time.Sleep }()

	serialRxLoop(ctx, &fakeErrPort{}, serial.Codec{}, testLogger(), func(can.Frame) {})

	want := []time.Duration{20, 40, 80, 160, 320, 500, 500, 500}
	if len(seen) != len(want) {
		t.Fatalf("expected %d backoff samples, got %d", len(want), len(seen))
	}
	for i, d := range seen {
		if d != want[i]*time.Millisecond {
			t.Fatalf("backoff %d = %v want %v", i, d, want[i]*time.Millisecond)
		}
	}
}

func TestBackoffReset(t *testing.T) {
	sleepFn = func(time.Duration) {}
	defer func() { sleepFn = time.Sleep }()
	var bo backoff
	bo.reset()
	bo.wait()
	bo.wait()
	if time.Duration(bo) != 4*rxBackoffMin {
		t.Fatalf("backoff %v", time.Duration(bo))
	}
	bo.reset()
	if time.Duration(bo) != rxBackoffMin {
		t.Fatalf("reset backoff %v", time.Duration(bo))
	}
}
