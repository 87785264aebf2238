package canard

// Tail byte layout, bit 7..0: [SOT][EOT][Toggle][TransferID:5].
const (
	TailStartOfTransfer = 0x80
	TailEndOfTransfer   = 0x40
	TailToggle          = 0x20

	TransferIDBits = 5
	TransferIDMask = 1<<TransferIDBits - 1

	// tailSingleFrame is SOT|EOT with toggle 0.
	tailSingleFrame = TailStartOfTransfer | TailEndOfTransfer
)

// Tail is the decoded form of a transport tail byte.
type Tail struct {
	StartOfTransfer bool
	EndOfTransfer   bool
	Toggle          bool
	TransferID      uint8
}

// TailByte packs the transport flags and the low five bits of transferID.
func TailByte(sot, eot, toggle bool, transferID uint8) byte {
	b := transferID & TransferIDMask
	if sot {
		b |= TailStartOfTransfer
	}
	if eot {
		b |= TailEndOfTransfer
	}
	if toggle {
		b |= TailToggle
	}
	return b
}

// ParseTail decodes a tail byte.
func ParseTail(b byte) Tail {
	return Tail{
		StartOfTransfer: b&TailStartOfTransfer != 0,
		EndOfTransfer:   b&TailEndOfTransfer != 0,
		Toggle:          b&TailToggle != 0,
		TransferID:      b & TransferIDMask,
	}
}

// Byte re-encodes t.
func (t Tail) Byte() byte {
	return TailByte(t.StartOfTransfer, t.EndOfTransfer, t.Toggle, t.TransferID)
}

// IncrementTransferID advances a transfer id modulo 32.
func IncrementTransferID(tid *uint8) {
	*tid = (*tid + 1) & TransferIDMask
}
