package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-dronecan-link/internal/can"
)

var (
	ErrShortRead    = errors.New("socketcan: short read")
	ErrFrameTooLong = errors.New("socketcan: frame longer than 8 data bytes")
)

// frameSize is sizeof(struct can_frame).
const frameSize = 16

// struct can_frame (linux/can.h), host byte order:
//
//	can_id  u32  [0:4]  (EFF/RTR/ERR flags included)
//	can_dlc u8   [4]
//	pad     3B   [5:8]
//	data    8B   [8:16]
//
// Only little-endian hosts are supported.
func pack(buf *[frameSize]byte, fr *can.Frame) error {
	if fr.Len > can.ClassicDataLen {
		return fmt.Errorf("%w: len=%d", ErrFrameTooLong, fr.Len)
	}
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	return nil
}

func unpack(buf *[frameSize]byte, fr *can.Frame) {
	dlc := buf[4]
	if dlc > can.ClassicDataLen {
		dlc = can.ClassicDataLen
	}
	fr.CANID = binary.LittleEndian.Uint32(buf[0:4])
	fr.Len = dlc
	copy(fr.Data[:], buf[8:8+int(dlc)])
}
