package driver

import "sync/atomic"

// Stats is a point-in-time copy of the driver's queue and error counters.
// Error counts only grow; peaks are high-water marks of ring occupancy for
// the current interval (see ResetIntervalPeaks) and since start.
type Stats struct {
	RxLen  int `json:"rx_len"`
	RxFree int `json:"rx_free"`
	TxLen  int `json:"tx_len"`
	TxFree int `json:"tx_free"`

	RxFrames        uint64 `json:"rx_frames"`
	TxFrames        uint64 `json:"tx_frames"`
	RxErrors        uint64 `json:"rx_errors"`
	TxErrors        uint64 `json:"tx_errors"`
	BroadcastErrors uint64 `json:"broadcast_errors"`

	RxPeak    int `json:"rx_peak"`
	RxPeakAll int `json:"rx_peak_all"`
	TxPeak    int `json:"tx_peak"`
	TxPeakAll int `json:"tx_peak_all"`

	TxInFlight bool `json:"tx_in_flight"`
}

// counters are bumped by whichever context sees the event (RX interrupt,
// TX completion interrupt, main loop).
type counters struct {
	rxFrames        atomic.Uint64
	txFrames        atomic.Uint64
	rxErrors        atomic.Uint64
	txErrors        atomic.Uint64
	broadcastErrors atomic.Uint64
	rxPeak          peak
	txPeak          peak
}

type peak struct {
	interval atomic.Uint32
	all      atomic.Uint32
}

func (p *peak) observe(n int) {
	v := uint32(n)
	raise(&p.interval, v)
	raise(&p.all, v)
}

func (p *peak) resetInterval() { p.interval.Store(0) }

func raise(a *atomic.Uint32, v uint32) {
	for {
		cur := a.Load()
		if v <= cur || a.CompareAndSwap(cur, v) {
			return
		}
	}
}
