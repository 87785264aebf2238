package driver

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/canard"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
)

// fakeHW records transmitted frames and answers with a scripted result.
type fakeHW struct {
	mu     sync.Mutex
	sent   []can.Frame
	result hal.TxResult
	panics bool
}

func (h *fakeHW) Transmit(fr *can.Frame) hal.TxResult {
	if h.panics {
		panic("transmit exploded")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, fr.CopyShallow())
	return h.result
}

func (h *fakeHW) frames() []can.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]can.Frame(nil), h.sent...)
}

// countingIRQ tracks mask depth to check bracketing.
type countingIRQ struct {
	depth    int
	disables int
	barriers int
}

func (c *countingIRQ) DisableTxInterrupt() { c.depth++; c.disables++ }
func (c *countingIRQ) EnableTxInterrupt()  { c.depth-- }
func (c *countingIRQ) MemoryBarrier()      { c.barriers++ }

type rxRecorder struct {
	frames []can.Frame
	stamps []uint64
}

func (r *rxRecorder) HandleRxFrame(fr *can.Frame, ts uint64) {
	r.frames = append(r.frames, fr.CopyShallow())
	r.stamps = append(r.stamps, ts)
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestDriver(hw hal.Transmitter, opts ...Option) *Driver {
	base := []Option{WithLogger(testLogger()), WithClock(hal.ClockFunc(func() uint64 { return 1234 }))}
	return New(hw, append(base, opts...)...)
}

func TestServiceOnceTransmitsOneFrameAndWaitsForCompletion(t *testing.T) {
	hw := &fakeHW{result: hal.TxAccepted}
	irq := &countingIRQ{}
	d := newTestDriver(hw, WithInterrupts(irq), WithTxSlots(8))
	tid := uint8(0)
	for i := 0; i < 3; i++ {
		if n, err := d.Enqueue(uint32(0x100+i), &tid, 0, []byte{byte(i)}); err != nil || n != 1 {
			t.Fatalf("enqueue %d: (%d, %v)", i, n, err)
		}
	}
	d.ServiceOnce()
	if got := len(hw.frames()); got != 1 {
		t.Fatalf("sent %d frames, want 1", got)
	}
	if !d.InFlight() || d.TxLen() != 2 {
		t.Fatalf("inFlight=%v txLen=%d", d.InFlight(), d.TxLen())
	}
	// Still in flight: nothing more goes out.
	d.ServiceOnce()
	if got := len(hw.frames()); got != 1 {
		t.Fatalf("sent %d frames while in flight", got)
	}
	d.TxComplete(true)
	d.ServiceOnce()
	d.TxComplete(true)
	d.ServiceOnce()
	d.TxComplete(true)
	sent := hw.frames()
	if len(sent) != 3 {
		t.Fatalf("sent %d frames, want 3", len(sent))
	}
	for i, fr := range sent {
		if fr.ID() != uint32(0x100+i) {
			t.Fatalf("frame %d out of order: id 0x%X", i, fr.ID())
		}
	}
	if irq.depth != 0 || irq.disables != 4 || irq.barriers != 8 {
		t.Fatalf("irq bracketing depth=%d disables=%d barriers=%d", irq.depth, irq.disables, irq.barriers)
	}
	if s := d.Stats(); s.TxFrames != 3 || s.TxErrors != 0 || s.TxInFlight {
		t.Fatalf("stats %+v", s)
	}
}

func TestServiceOnceRejectedFrameIsDroppedAndCounted(t *testing.T) {
	for _, res := range []hal.TxResult{hal.TxRejected, hal.TxWouldBlock} {
		hw := &fakeHW{result: res}
		d := newTestDriver(hw)
		tid := uint8(0)
		_, _ = d.Enqueue(0x10, &tid, 0, []byte{1})
		_, _ = d.Enqueue(0x11, &tid, 0, []byte{2})
		d.ServiceOnce()
		if d.InFlight() {
			t.Fatalf("%v: in flight after rejection", res)
		}
		if d.TxErrors() != 1 || d.TxLen() != 1 {
			t.Fatalf("%v: txErrors=%d txLen=%d", res, d.TxErrors(), d.TxLen())
		}
		d.ServiceOnce()
		sent := hw.frames()
		if len(sent) != 2 || sent[1].ID() != 0x11 {
			t.Fatalf("%v: rejected frame retried: %d sent", res, len(sent))
		}
	}
}

func TestTxCompleteFailureCounts(t *testing.T) {
	hw := &fakeHW{result: hal.TxAccepted}
	d := newTestDriver(hw)
	tid := uint8(0)
	_, _ = d.Enqueue(0x10, &tid, 0, nil)
	d.ServiceOnce()
	d.TxComplete(false)
	if d.InFlight() || d.TxErrors() != 1 {
		t.Fatalf("inFlight=%v txErrors=%d", d.InFlight(), d.TxErrors())
	}
}

func TestServiceOnceUnmasksOnPanic(t *testing.T) {
	irq := &countingIRQ{}
	d := newTestDriver(&fakeHW{panics: true}, WithInterrupts(irq))
	tid := uint8(0)
	_, _ = d.Enqueue(0x10, &tid, 0, nil)
	func() {
		defer func() { _ = recover() }()
		d.ServiceOnce()
	}()
	if irq.depth != 0 {
		t.Fatalf("tx interrupt left masked (depth=%d)", irq.depth)
	}
}

func TestRxInterruptDrainedInOrder(t *testing.T) {
	rec := &rxRecorder{}
	d := newTestDriver(&fakeHW{}, WithRxSlots(4), WithHandler(rec))
	for i := 0; i < 5; i++ {
		src := &hal.LatchedFrame{Frame: can.Frame{CANID: uint32(i), Len: 1}}
		kept := d.OnRxInterrupt(src)
		if want := i < 3; kept != want || src.Released == want {
			t.Fatalf("frame %d: kept=%v released=%v", i, kept, src.Released)
		}
	}
	if d.RxErrors() != 2 || d.RxLen() != 3 || d.RxFree() != 0 {
		t.Fatalf("rxErrors=%d rxLen=%d rxFree=%d", d.RxErrors(), d.RxLen(), d.RxFree())
	}
	d.ServiceOnce()
	if len(rec.frames) != 3 || d.RxLen() != 0 {
		t.Fatalf("delivered %d frames, rxLen=%d", len(rec.frames), d.RxLen())
	}
	for i, fr := range rec.frames {
		if fr.CANID != uint32(i) || rec.stamps[i] != 1234 {
			t.Fatalf("frame %d: id=%d ts=%d", i, fr.CANID, rec.stamps[i])
		}
	}
	s := d.Stats()
	if s.RxPeak != 3 || s.RxPeakAll != 3 || s.RxFrames != 3 {
		t.Fatalf("stats %+v", s)
	}
	d.ResetIntervalPeaks()
	if s := d.Stats(); s.RxPeak != 0 || s.RxPeakAll != 3 {
		t.Fatalf("after reset %+v", s)
	}
}

func TestEnqueuePartialTransferCountsTxError(t *testing.T) {
	d := newTestDriver(&fakeHW{}, WithTxSlots(3))
	tid := uint8(0)
	payload := make([]byte, 40)
	n, err := d.Enqueue(0x55, &tid, 0, payload)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if n >= d.FramesRequired(len(payload)) || d.TxErrors() < 1 {
		t.Fatalf("n=%d required=%d txErrors=%d", n, d.FramesRequired(len(payload)), d.TxErrors())
	}
	if s := d.Stats(); s.TxPeakAll != 2 {
		t.Fatalf("tx peak %d", s.TxPeakAll)
	}
}

func TestEnqueueNilTransferIDLeavesBuffersAlone(t *testing.T) {
	d := newTestDriver(&fakeHW{})
	n, err := d.Enqueue(0x55, nil, 0, []byte{1, 2})
	if !errors.Is(err, canard.ErrInvalidArgument) || n != 0 {
		t.Fatalf("Enqueue = (%d, %v)", n, err)
	}
	if d.TxLen() != 0 || d.RxLen() != 0 || d.TxErrors() != 0 {
		t.Fatalf("state modified")
	}
	if _, err := d.Broadcast(canard.NodeStatus, 0, nil, nil); !errors.Is(err, canard.ErrInvalidArgument) {
		t.Fatalf("Broadcast nil tid: %v", err)
	}
}

func TestBroadcastMultiFrame(t *testing.T) {
	hw := &fakeHW{result: hal.TxAccepted}
	d := newTestDriver(hw, WithNodeID(42), WithTxSlots(16))
	payload := []byte("dronecan-link broadcast check")
	tid := uint8(31)
	n, err := d.Broadcast(canard.LogMessage, canard.PriorityLow, &tid, payload)
	if err != nil || n != d.FramesRequired(len(payload)) {
		t.Fatalf("Broadcast = (%d, %v)", n, err)
	}
	if tid != 0 {
		t.Fatalf("transfer id not advanced: %d", tid)
	}
	var got []byte
	for i := 0; i < n; i++ {
		d.ServiceOnce()
		d.TxComplete(true)
	}
	sent := hw.frames()
	wantID := canard.MessageID(canard.PriorityLow, canard.LogMessage.ID, 42) | can.CAN_EFF_FLAG
	for i, fr := range sent {
		if fr.CANID != wantID {
			t.Fatalf("frame %d id 0x%X want 0x%X", i, fr.CANID, wantID)
		}
		tail := canard.ParseTail(fr.TailByte())
		if tail.TransferID != 31 {
			t.Fatalf("frame %d tid %d", i, tail.TransferID)
		}
		data := fr.Data[:fr.Len-1]
		if i == 0 {
			crc := uint16(data[0]) | uint16(data[1])<<8
			if crc != canard.TransferCRC(canard.LogMessage.Signature, payload) {
				t.Fatalf("crc 0x%X", crc)
			}
			data = data[2:]
		}
		got = append(got, data...)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
	if d.BroadcastErrors() != 0 {
		t.Fatalf("broadcast errors %d", d.BroadcastErrors())
	}
}

func TestBroadcastFailures(t *testing.T) {
	d := newTestDriver(&fakeHW{})
	tid := uint8(0)
	if _, err := d.Broadcast(canard.NodeStatus, 0, &tid, nil); !errors.Is(err, ErrNoNodeID) {
		t.Fatalf("expected ErrNoNodeID, got %v", err)
	}
	d = newTestDriver(&fakeHW{}, WithNodeID(10), WithTxSlots(2))
	if n, _ := d.Broadcast(canard.NodeStatus, 0, &tid, make([]byte, 7)); n != 1 || tid != 1 {
		t.Fatalf("first broadcast n=%d tid=%d", n, tid)
	}
	if n, _ := d.Broadcast(canard.NodeStatus, 0, &tid, make([]byte, 7)); n != 0 || tid != 1 {
		t.Fatalf("broadcast into full ring n=%d tid=%d", n, tid)
	}
	if d.BroadcastErrors() != 1 || d.TxErrors() != 1 {
		t.Fatalf("broadcastErrors=%d txErrors=%d", d.BroadcastErrors(), d.TxErrors())
	}
}

// asyncHW completes every accepted frame from another goroutine through the IRQ line.
type asyncHW struct {
	irq  *hal.IRQLine
	drv  atomic.Pointer[Driver]
	sent atomic.Int64
	wg   sync.WaitGroup
}

func (h *asyncHW) Transmit(fr *can.Frame) hal.TxResult {
	h.sent.Add(1)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.irq.Raise(func() { h.drv.Load().TxComplete(true) })
	}()
	return hal.TxAccepted
}

// TestConcurrentInterrupts drives the RX interrupt and TX completion from
// other goroutines while the main loop services the driver.
func TestConcurrentInterrupts(t *testing.T) {
	const rxTotal = 20000
	const txTotal = 500
	irq := &hal.IRQLine{}
	hw := &asyncHW{irq: irq}
	var delivered atomic.Int64
	var lastID atomic.Int64
	lastID.Store(-1)
	var orderErr atomic.Bool
	d := newTestDriver(hw, WithInterrupts(irq), WithRxSlots(32), WithTxSlots(8),
		WithHandler(FrameHandlerFunc(func(fr *can.Frame, _ uint64) {
			if int64(fr.CANID) <= lastID.Load() {
				orderErr.Store(true)
			}
			lastID.Store(int64(fr.CANID))
			delivered.Add(1)
		})))
	hw.drv.Store(d)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < rxTotal; i++ {
			d.OnRxInterrupt(&hal.LatchedFrame{Frame: can.Frame{CANID: uint32(i)}})
			if i%64 == 0 {
				runtime.Gosched()
			}
		}
	}()

	tid := uint8(0)
	queued := 0
	pump := func() {
		if queued < txTotal && d.TxFree() > 0 {
			if n, _ := d.Enqueue(0x200, &tid, 0, []byte{1}); n == 1 {
				queued++
			}
		}
		d.ServiceOnce()
	}
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		pump()
	}
	for i := 0; i < 100000 && (d.RxLen() > 0 || d.TxLen() > 0 || d.InFlight() || queued < txTotal); i++ {
		pump()
		runtime.Gosched()
	}
	hw.wg.Wait()

	if orderErr.Load() {
		t.Fatalf("frames delivered out of order")
	}
	if got := delivered.Load() + int64(d.RxErrors()); got != rxTotal {
		t.Fatalf("delivered %d + dropped %d != %d", delivered.Load(), d.RxErrors(), rxTotal)
	}
	if hw.sent.Load() != int64(queued) || d.TxErrors() != 0 {
		t.Fatalf("sent=%d queued=%d txErrors=%d", hw.sent.Load(), queued, d.TxErrors())
	}
}
