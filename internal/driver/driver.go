// Package driver moves CAN frames between a peripheral's interrupt context
// and a cooperative main loop.
//
// Contexts
//   - RX interrupt: OnRxInterrupt is the only writer of the RX ring.
//   - TX completion interrupt: TxComplete clears the in-flight flag.
//   - Main loop: Enqueue/Broadcast write the TX ring; ServiceOnce reads both
//     rings. Main-loop methods must not be called concurrently with each other.
//
// Buffer-full conditions are never errors: frames are dropped and counted.
package driver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/canard"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
	"github.com/kstaniek/go-dronecan-link/internal/logging"
	"github.com/kstaniek/go-dronecan-link/internal/ring"
)

// ErrNoNodeID is returned by Broadcast when no local node id is configured.
var ErrNoNodeID = errors.New("driver: local node id not set")

const (
	defaultRxSlots = 64
	defaultTxSlots = 64
)

// FrameHandler consumes received frames (the transfer reassembly engine).
type FrameHandler interface {
	HandleRxFrame(fr *can.Frame, timestampUsec uint64)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(fr *can.Frame, timestampUsec uint64)

func (f FrameHandlerFunc) HandleRxFrame(fr *can.Frame, ts uint64) { f(fr, ts) }

// Driver owns the RX and TX rings and the transmit state machine
// (idle / transmitting).
type Driver struct {
	rx  *ring.Buffer[can.Frame]
	tx  *ring.Buffer[can.Frame]
	seg canard.Segmenter

	hw      hal.Transmitter
	irq     hal.InterruptController
	clock   hal.Clock
	handler FrameHandler
	logger  *slog.Logger

	rxSlots    int
	txSlots    int
	maxDataLen int
	nodeID     uint8

	inFlight atomic.Bool
	stats    counters
}

type Option func(*Driver)

// WithRxSlots sets the RX ring size in slots (one slot stays unused).
func WithRxSlots(n int) Option {
	return func(d *Driver) {
		if n >= 2 {
			d.rxSlots = n
		}
	}
}

// WithTxSlots sets the TX ring size in slots (one slot stays unused).
func WithTxSlots(n int) Option {
	return func(d *Driver) {
		if n >= 2 {
			d.txSlots = n
		}
	}
}

// WithMaxDataLen sets the frame data length used for segmentation.
func WithMaxDataLen(n int) Option { return func(d *Driver) { d.maxDataLen = n } }

func WithInterrupts(ic hal.InterruptController) Option {
	return func(d *Driver) {
		if ic != nil {
			d.irq = ic
		}
	}
}

func WithClock(c hal.Clock) Option {
	return func(d *Driver) {
		if c != nil {
			d.clock = c
		}
	}
}

func WithHandler(h FrameHandler) Option {
	return func(d *Driver) {
		if h != nil {
			d.handler = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithNodeID sets the local node id used as the source of broadcasts.
func WithNodeID(id uint8) Option { return func(d *Driver) { d.nodeID = id } }

// New builds a driver transmitting through hw. Rings are allocated here once.
func New(hw hal.Transmitter, opts ...Option) *Driver {
	d := &Driver{
		hw:      hw,
		irq:     hal.NopInterrupts{},
		clock:   hal.NewSystemClock(),
		handler: FrameHandlerFunc(func(*can.Frame, uint64) {}),
		logger:  logging.L(),
		rxSlots: defaultRxSlots,
		txSlots: defaultTxSlots,
	}
	for _, o := range opts {
		o(d)
	}
	d.rx = ring.New[can.Frame](d.rxSlots)
	d.tx = ring.New[can.Frame](d.txSlots)
	d.seg = canard.Segmenter{
		MaxDataLen: d.maxDataLen,
		OnDrop:     func() { d.stats.txErrors.Add(1) },
	}
	return d
}

// ServiceOnce runs one scheduling tick from the main loop: at most one frame
// is handed to the transmitter, then every frame queued by the RX interrupt
// up to this point is passed to the handler.
func (d *Driver) ServiceOnce() {
	d.transmitPending()
	d.drainRx()
}

func (d *Driver) transmitPending() {
	m := maskTx(d.irq)
	defer m.release()
	if d.inFlight.Load() || d.tx.IsEmpty() {
		return
	}
	fr := d.tx.ReadSlot()
	d.inFlight.Store(true)
	res := d.hw.Transmit(fr)
	if res != hal.TxAccepted {
		d.stats.txErrors.Add(1)
		d.inFlight.Store(false)
		d.logger.Debug("tx_rejected", "result", res.String(), "can_id", fmt.Sprintf("0x%X", fr.CANID))
	}
	// Accepted or not, the frame leaves the queue: no retry.
	d.tx.AdvanceRead()
}

func (d *Driver) drainRx() {
	for n := d.rx.Len(); n > 0; n-- {
		d.handler.HandleRxFrame(d.rx.ReadSlot(), d.clock.MonotonicMicros())
		d.rx.AdvanceRead()
	}
}

// OnRxInterrupt is the receive interrupt body: it copies the pending frame
// into the RX ring, or releases it and counts an RX error when the ring is
// full. It reports whether the frame was kept.
func (d *Driver) OnRxInterrupt(src hal.Receiver) bool {
	if d.rx.IsFull() {
		src.ReleaseReceiveResource()
		d.stats.rxErrors.Add(1)
		return false
	}
	src.ReceiveFrameInto(d.rx.WriteSlot())
	d.rx.AdvanceWrite()
	d.stats.rxFrames.Add(1)
	d.stats.rxPeak.observe(d.rx.Len())
	return true
}

// TxComplete is the transmit-complete interrupt body. ok=false means the
// hardware gave up on the frame; it is counted, not retried.
func (d *Driver) TxComplete(ok bool) {
	if ok {
		d.stats.txFrames.Add(1)
	} else {
		d.stats.txErrors.Add(1)
	}
	d.inFlight.Store(false)
}

// Enqueue segments payload into the TX ring (see canard.Segmenter.Enqueue)
// and returns the number of frames queued. A count below
// FramesRequired(len(payload)) is a partial transfer; it has already been
// counted as a TX error and the caller should treat the transfer as failed.
func (d *Driver) Enqueue(id uint32, transferID *uint8, crc uint16, payload []byte) (int, error) {
	if id&^can.CAN_EFF_MASK != 0 {
		d.logger.Warn("tx_id_flag_bits", "can_id", fmt.Sprintf("0x%X", id))
	}
	n, err := d.seg.Enqueue(d.tx, id, transferID, crc, payload)
	if err != nil {
		return 0, err
	}
	d.stats.txPeak.observe(d.tx.Len())
	if want := d.seg.FramesRequired(len(payload)); n < want {
		d.logger.Debug("tx_partial_transfer", "can_id", fmt.Sprintf("0x%X", id), "queued", n, "required", want)
	}
	return n, nil
}

// FramesRequired returns the frame count of a payload of n bytes.
func (d *Driver) FramesRequired(n int) int { return d.seg.FramesRequired(n) }

// Broadcast publishes payload as a message of type dt from the local node.
// Multi-frame payloads carry the transfer CRC seeded with dt.Signature.
// The transfer id advances when at least one frame was queued; a transfer
// that did not fit completely is counted as a broadcast error.
func (d *Driver) Broadcast(dt canard.DataType, priority uint8, transferID *uint8, payload []byte) (int, error) {
	if transferID == nil {
		return 0, fmt.Errorf("%w: nil transfer id", canard.ErrInvalidArgument)
	}
	if d.nodeID < canard.NodeIDMin || d.nodeID > canard.NodeIDMax {
		return 0, ErrNoNodeID
	}
	required := d.seg.FramesRequired(len(payload))
	var crc uint16
	if required > 1 {
		crc = canard.TransferCRC(dt.Signature, payload)
	}
	n, err := d.Enqueue(canard.MessageID(priority, dt.ID, d.nodeID), transferID, crc, payload)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		canard.IncrementTransferID(transferID)
	}
	if n < required {
		d.stats.broadcastErrors.Add(1)
	}
	return n, nil
}

// NodeID returns the local node id (0 when unset).
func (d *Driver) NodeID() uint8 { return d.nodeID }

// InFlight reports whether a frame is with the hardware awaiting completion.
func (d *Driver) InFlight() bool { return d.inFlight.Load() }

func (d *Driver) RxLen() int  { return d.rx.Len() }
func (d *Driver) RxFree() int { return d.rx.Free() }
func (d *Driver) TxLen() int  { return d.tx.Len() }
func (d *Driver) TxFree() int { return d.tx.Free() }

func (d *Driver) TxErrors() uint64        { return d.stats.txErrors.Load() }
func (d *Driver) RxErrors() uint64        { return d.stats.rxErrors.Load() }
func (d *Driver) BroadcastErrors() uint64 { return d.stats.broadcastErrors.Load() }

// Stats returns a snapshot of occupancy, counters and peaks.
func (d *Driver) Stats() Stats {
	return Stats{
		RxLen:           d.rx.Len(),
		RxFree:          d.rx.Free(),
		TxLen:           d.tx.Len(),
		TxFree:          d.tx.Free(),
		RxFrames:        d.stats.rxFrames.Load(),
		TxFrames:        d.stats.txFrames.Load(),
		RxErrors:        d.stats.rxErrors.Load(),
		TxErrors:        d.stats.txErrors.Load(),
		BroadcastErrors: d.stats.broadcastErrors.Load(),
		RxPeak:          int(d.stats.rxPeak.interval.Load()),
		RxPeakAll:       int(d.stats.rxPeak.all.Load()),
		TxPeak:          int(d.stats.txPeak.interval.Load()),
		TxPeakAll:       int(d.stats.txPeak.all.Load()),
		TxInFlight:      d.inFlight.Load(),
	}
}

// ResetIntervalPeaks starts a new peak-occupancy interval.
func (d *Driver) ResetIntervalPeaks() {
	d.stats.rxPeak.resetInterval()
	d.stats.txPeak.resetInterval()
}
