package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/kstaniek/go-dronecan-link/internal/canard"
	"github.com/kstaniek/go-dronecan-link/internal/driver"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
	"github.com/kstaniek/go-dronecan-link/internal/metrics"
)

// uavcan.protocol.NodeStatus health and mode values.
const (
	healthOK        = 0
	healthWarning   = 1
	modeOperational = 0
)

// uavcan.protocol.debug.LogLevel values.
const (
	logLevelInfo    = 1
	logLevelWarning = 2
)

const (
	nodeStatusLen   = 7
	logSourceMaxLen = 31
	logTextMaxLen   = 90
)

type nodeStatus struct {
	uptimeSec    uint32
	health       uint8
	mode         uint8
	subMode      uint8
	vendorStatus uint16
}

// appendNodeStatus serializes NodeStatus: uptime u32, health:2 mode:3
// sub_mode:3 packed MSB first, vendor status u16.
func appendNodeStatus(dst []byte, s nodeStatus) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, s.uptimeSec)
	dst = append(dst, s.health&0x3<<6|s.mode&0x7<<3|s.subMode&0x7)
	return binary.LittleEndian.AppendUint16(dst, s.vendorStatus)
}

// appendLogMessage serializes LogMessage: level:3 and the source length:5
// in one byte, the source, then the text without a length prefix.
func appendLogMessage(dst []byte, level uint8, source, text string) []byte {
	if len(source) > logSourceMaxLen {
		source = source[:logSourceMaxLen]
	}
	if len(text) > logTextMaxLen {
		text = text[:logTextMaxLen]
	}
	dst = append(dst, level&0x7<<5|uint8(len(source)))
	dst = append(dst, source...)
	return append(dst, text...)
}

// nodePublisher emits this node's periodic broadcasts. It runs on the main
// loop, like ServiceOnce.
type nodePublisher struct {
	drv   *driver.Driver
	clock hal.Clock
	l     *slog.Logger

	statusTID uint8
	logTID    uint8
	buf       []byte
}

func newNodePublisher(drv *driver.Driver, clock hal.Clock, l *slog.Logger) *nodePublisher {
	return &nodePublisher{drv: drv, clock: clock, l: l, buf: make([]byte, 0, 1+logSourceMaxLen+logTextMaxLen)}
}

func (p *nodePublisher) status() nodeStatus {
	s := nodeStatus{
		uptimeSec: uint32(p.clock.MonotonicMicros() / 1e6),
		health:    healthOK,
		mode:      modeOperational,
	}
	st := p.drv.Stats()
	if st.RxErrors > 0 || st.TxErrors > 0 {
		s.health = healthWarning
	}
	// vendor status: TX ring occupancy peak this interval
	s.vendorStatus = uint16(min(st.TxPeak, 0xFFFF))
	return s
}

func (p *nodePublisher) publishStatus() {
	p.buf = appendNodeStatus(p.buf[:0], p.status())
	p.broadcast(canard.NodeStatus, canard.PriorityLow, &p.statusTID)
}

func (p *nodePublisher) publishLog(level uint8, source, text string) {
	p.buf = appendLogMessage(p.buf[:0], level, source, text)
	p.broadcast(canard.LogMessage, canard.PriorityLowest, &p.logTID)
}

func (p *nodePublisher) broadcast(dt canard.DataType, priority uint8, tid *uint8) {
	want := p.drv.FramesRequired(len(p.buf))
	n, err := p.drv.Broadcast(dt, priority, tid, p.buf)
	if err == nil && n == want {
		return
	}
	metrics.IncError(metrics.ErrBroadcast)
	p.l.Debug("broadcast_failed", "type", dt.Name, "queued", n, "required", want, "error", err)
}

// runMainLoop drives the scheduler and the publisher from one goroutine
// until ctx ends. pub may be nil (listen-only node).
func runMainLoop(ctx context.Context, drv *driver.Driver, pub *nodePublisher, serviceEvery, statusEvery time.Duration) {
	svc := time.NewTicker(serviceEvery)
	defer svc.Stop()
	var statusC <-chan time.Time
	if pub != nil && statusEvery > 0 {
		st := time.NewTicker(statusEvery)
		defer st.Stop()
		statusC = st.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-svc.C:
			drv.ServiceOnce()
		case <-statusC:
			pub.publishStatus()
		}
	}
}
