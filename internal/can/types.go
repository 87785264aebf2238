package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// Payload capacities.
const (
	ClassicDataLen = 8  // classic CAN 2.0
	MaxDataLen     = 64 // CAN FD upper bound, sizes Frame.Data
)

// Frame is one CAN bus packet as it sits in a ring slot or crosses a backend.
// CANID carries the EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is the data length; only the first Len bytes of Data are valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxDataLen]byte
}

// ID returns the arbitration id without flag bits.
func (f *Frame) ID() uint32 {
	if f.CANID&CAN_EFF_FLAG != 0 {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Extended reports whether the frame uses a 29-bit identifier.
func (f *Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// Payload returns the valid data bytes (aliases Data).
func (f *Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// TailByte returns the last valid data byte, or 0 for an empty frame.
func (f *Frame) TailByte() byte {
	p := f.Payload()
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1]
}

func (f Frame) CopyShallow() Frame { // handy for tests
	var g Frame
	g.CANID, g.Len = f.CANID, f.Len
	copy(g.Data[:], f.Payload())
	return g
}
