package canard

import (
	"fmt"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/ring"
)

// Frame data length bounds accepted by Segmenter.MaxDataLen.
const (
	MinFrameDataLen = 3 // two CRC bytes plus the tail
	crcLen          = 2
)

// Segmenter splits transfer payloads into tail-byte framed CAN frames.
// The zero value segments for classic CAN (8 data bytes) and drops silently.
type Segmenter struct {
	// MaxDataLen is the frame data capacity including the tail byte.
	// Zero selects can.ClassicDataLen; values are clamped to
	// [MinFrameDataLen, can.MaxDataLen].
	MaxDataLen int
	// OnDrop is called once for every transfer cut short by a full buffer.
	OnDrop func()
}

func (s *Segmenter) mtu() int {
	switch n := s.MaxDataLen; {
	case n == 0:
		return can.ClassicDataLen
	case n < MinFrameDataLen:
		return MinFrameDataLen
	case n > can.MaxDataLen:
		return can.MaxDataLen
	default:
		return n
	}
}

func (s *Segmenter) drop() {
	if s.OnDrop != nil {
		s.OnDrop()
	}
}

// FramesRequired returns how many frames a payload of n bytes occupies at the
// given frame data length. Compare it to Enqueue's count to spot partial transfers.
func FramesRequired(n, maxDataLen int) int {
	if n < maxDataLen {
		return 1
	}
	per := maxDataLen - 1
	return (n + crcLen + per - 1) / per
}

// FramesRequired is the package function at this segmenter's frame length.
func (s *Segmenter) FramesRequired(n int) int { return FramesRequired(n, s.mtu()) }

// Enqueue writes payload as one transfer into dst and returns the number of
// frames queued. Producer side of dst only.
//
// A payload shorter than the frame data length goes out as a single frame
// without CRC. Longer payloads are split; the first frame starts with crc
// (little-endian). When dst fills up mid-way Enqueue stops, calls OnDrop and
// returns the short count. Frames already queued stay queued, so the caller
// must treat a short count as a failed transfer.
//
// id must not carry bits outside can.CAN_EFF_MASK; any such bits are cleared.
// The frames are queued with can.CAN_EFF_FLAG set.
func (s *Segmenter) Enqueue(dst *ring.Buffer[can.Frame], id uint32, transferID *uint8, crc uint16, payload []byte) (int, error) {
	if transferID == nil {
		return 0, fmt.Errorf("%w: nil transfer id", ErrInvalidArgument)
	}
	canID := id&can.CAN_EFF_MASK | can.CAN_EFF_FLAG
	tid := *transferID & TransferIDMask
	mtu := s.mtu()

	if len(payload) < mtu {
		if dst.IsFull() {
			s.drop()
			return 0, nil
		}
		fr := dst.WriteSlot()
		n := copy(fr.Data[:], payload)
		fr.Data[n] = tailSingleFrame | tid
		fr.Len = uint8(n + 1)
		fr.CANID = canID
		dst.AdvanceWrite()
		return 1, nil
	}

	var (
		queued int
		idx    int
		toggle bool
	)
	for idx < len(payload) {
		if dst.IsFull() {
			// TODO: evict a queued lower-priority transfer instead of cutting this one short.
			s.drop()
			return queued, nil
		}
		fr := dst.WriteSlot()
		i := 0
		if queued == 0 {
			fr.Data[0] = byte(crc)
			fr.Data[1] = byte(crc >> 8)
			i = crcLen
		}
		n := copy(fr.Data[i:mtu-1], payload[idx:])
		i += n
		idx += n
		fr.Data[i] = TailByte(queued == 0, idx == len(payload), toggle, tid)
		fr.Len = uint8(i + 1)
		fr.CANID = canID
		dst.AdvanceWrite()
		queued++
		toggle = !toggle
	}
	return queued, nil
}
