package canard

import "github.com/kstaniek/go-dronecan-link/internal/can"

// Transfer priorities (5-bit field, lower value wins arbitration).
const (
	PriorityHighest = 0
	PriorityHigh    = 8
	PriorityMedium  = 16
	PriorityLow     = 24
	PriorityLowest  = 31
)

// Node id range for a non-anonymous node.
const (
	NodeIDMin = 1
	NodeIDMax = 127
)

// DataType identifies a message type on the bus.
type DataType struct {
	Name      string
	ID        uint16
	Signature uint64
}

// Message types this link publishes.
var (
	NodeStatus = DataType{Name: "uavcan.protocol.NodeStatus", ID: 341, Signature: 0x0F0868D0C1A7C6F1}
	LogMessage = DataType{Name: "uavcan.protocol.debug.LogMessage", ID: 16383, Signature: 0xD654A48E0C049D75}
)

// MessageID composes the 29-bit broadcast identifier:
// priority[28:24] | data type id[23:8] | service=0[7] | source node[6:0].
// The result carries no flag bits.
func MessageID(priority uint8, dataTypeID uint16, sourceNode uint8) uint32 {
	id := uint32(priority&0x1F)<<24 | uint32(dataTypeID)<<8 | uint32(sourceNode&0x7F)
	return id & can.CAN_EFF_MASK
}

// ID is a decoded 29-bit transfer identifier.
type ID struct {
	Priority uint8
	Service  bool
	// DataTypeID is 16 bits for messages, 8 bits for services.
	DataTypeID uint16
	Source     uint8
}

// ParseID splits a frame identifier; flag bits are ignored.
func ParseID(canID uint32) ID {
	id := ID{
		Priority: uint8(canID >> 24 & 0x1F),
		Service:  canID&0x80 != 0,
		Source:   uint8(canID & 0x7F),
	}
	if id.Service {
		id.DataTypeID = uint16(canID >> 16 & 0xFF)
	} else {
		id.DataTypeID = uint16(canID >> 8 & 0xFFFF)
	}
	return id
}
