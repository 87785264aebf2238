package canard

// CRC is the DroneCAN transfer CRC: CRC-16-CCITT-FALSE (poly 0x1021,
// init 0xFFFF, no reflection, no final xor) seeded with the data type
// signature.
type CRC uint16

const crcInit CRC = 0xFFFF

// NewCRC returns a CRC at its initial value.
func NewCRC() CRC { return crcInit }

// AddByte folds one byte into the CRC.
func (c CRC) AddByte(b byte) CRC {
	c ^= CRC(b) << 8
	for i := 0; i < 8; i++ {
		if c&0x8000 != 0 {
			c = c<<1 ^ 0x1021
		} else {
			c <<= 1
		}
	}
	return c
}

// Add folds p into the CRC.
func (c CRC) Add(p []byte) CRC {
	for _, b := range p {
		c = c.AddByte(b)
	}
	return c
}

// AddSignature folds the 64-bit data type signature, least significant byte first.
func (c CRC) AddSignature(sig uint64) CRC {
	for i := 0; i < 8; i++ {
		c = c.AddByte(byte(sig >> (8 * i)))
	}
	return c
}

// TransferCRC returns the CRC a multi-frame transfer of payload carries.
func TransferCRC(signature uint64, payload []byte) uint16 {
	return uint16(NewCRC().AddSignature(signature).Add(payload))
}
