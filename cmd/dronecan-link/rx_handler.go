package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/canard"
)

// frameTracer is the driver's FrameHandler: it decodes identifiers and tail
// bytes and logs them at debug level. Transfers are not reassembled.
type frameTracer struct {
	l *slog.Logger

	frames    uint64
	transfers uint64 // frames with start-of-transfer set
	ignored   uint64 // standard-id, RTR and error frames
}

func (t *frameTracer) HandleRxFrame(fr *can.Frame, timestampUsec uint64) {
	t.frames++
	if !fr.Extended() || fr.CANID&(can.CAN_RTR_FLAG|can.CAN_ERR_FLAG) != 0 || fr.Len == 0 {
		t.ignored++
		return
	}
	tail := canard.ParseTail(fr.TailByte())
	if tail.StartOfTransfer {
		t.transfers++
	}
	if !t.l.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	id := canard.ParseID(fr.CANID)
	t.l.Debug("rx_frame",
		"ts_us", timestampUsec,
		"can_id", fmt.Sprintf("0x%08X", fr.ID()),
		"type", id.DataTypeID,
		"service", id.Service,
		"src", id.Source,
		"tid", tail.TransferID,
		"sot", tail.StartOfTransfer,
		"eot", tail.EndOfTransfer,
		"toggle", tail.Toggle,
		"len", fr.Len,
	)
}
