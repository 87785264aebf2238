// Package serial speaks the CAN-UART adapter protocol over a tarm/serial port.
//
// Wire envelope, both directions:
//
//	2D D4 LEN BODY... SUM
//
// LEN counts BODY plus SUM; SUM = 0x2D + LEN + sum(BODY) mod 256.
// TX body: INS(0x02) FLAGS(0x80|dlc) ID(4, big-endian) DATA(0..8).
// RX body: ID(4, big-endian) DATA(0..8).
package serial

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/metrics"
)

var ErrFrameTooLong = errors.New("serial: frame longer than 8 data bytes")

const (
	preamble0 = 0x2D
	preamble1 = 0xD4

	insSendExt   = 0x02
	flagsClassic = 0x80

	txHeaderLen = 6 // INS + FLAGS + ID
	rxHeaderLen = 4 // ID
	envelopeLen = 4 // preamble(2) + LEN + SUM

	minRxLn = rxHeaderLen + 1
	maxRxLn = rxHeaderLen + can.ClassicDataLen + 1
)

var preamble = []byte{preamble0, preamble1}

type Codec struct{}

// CompactBuffer moves the unread bytes of b into a right-sized backing
// array once they occupy under a quarter of its capacity. It reports whether
// it compacted.
func CompactBuffer(b *bytes.Buffer) bool {
	if b.Len() < 1024 || b.Len()*4 >= b.Cap() {
		return false
	}
	*b = *bytes.NewBuffer(bytes.Clone(b.Bytes()))
	return true
}

func checksum(ln byte, body []byte) byte {
	sum := preamble0 + ln
	for _, v := range body {
		sum += v
	}
	return sum
}

// appendEnvelope wraps body in the UART envelope.
func appendEnvelope(dst, body []byte) []byte {
	ln := byte(len(body) + 1)
	dst = append(dst, preamble0, preamble1, ln)
	dst = append(dst, body...)
	return append(dst, checksum(ln, body))
}

// AppendEncode appends the TX wire form of f to dst. Only classic frames
// (up to 8 data bytes) fit the adapter protocol.
func (Codec) AppendEncode(dst []byte, f can.Frame) ([]byte, error) {
	if f.Len > can.ClassicDataLen {
		return dst, fmt.Errorf("%w: len=%d", ErrFrameTooLong, f.Len)
	}
	var body [txHeaderLen + can.ClassicDataLen]byte
	body[0] = insSendExt
	body[1] = flagsClassic | f.Len
	binary.BigEndian.PutUint32(body[2:6], f.ID())
	n := txHeaderLen + copy(body[txHeaderLen:], f.Data[:f.Len])
	return appendEnvelope(dst, body[:n]), nil
}

// Encode returns the TX wire form of f.
func (c Codec) Encode(f can.Frame) ([]byte, error) {
	return c.AppendEncode(make([]byte, 0, envelopeLen+txHeaderLen+int(f.Len)), f)
}

type scan int

const (
	scanNeedMore scan = iota
	scanSkip          // drop one byte and resync
	scanFrame
)

// decodeOne looks at data starting with the preamble and returns the frame
// and the number of bytes it occupies.
func decodeOne(data []byte) (can.Frame, int, scan) {
	var fr can.Frame
	if len(data) < 3 {
		return fr, 0, scanNeedMore
	}
	ln := int(data[2])
	if ln < minRxLn || ln > maxRxLn {
		return fr, 0, scanSkip
	}
	total := 3 + ln
	if len(data) < total {
		return fr, 0, scanNeedMore
	}
	body := data[3 : total-1]
	if checksum(data[2], body) != data[total-1] {
		return fr, 0, scanSkip
	}
	fr.CANID = binary.BigEndian.Uint32(body[:rxHeaderLen])&can.CAN_EFF_MASK | can.CAN_EFF_FLAG
	fr.Len = uint8(copy(fr.Data[:], body[rxHeaderLen:]))
	return fr, total, scanFrame
}

// DecodeStream consumes complete frames from in and passes each to out.
// Garbage and corrupt frames are skipped byte by byte and counted as
// malformed; a trailing partial frame stays in in for the next call.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		i := bytes.Index(data, preamble)
		if i < 0 {
			// keep a trailing first preamble byte
			if len(data) > 1 {
				in.Next(len(data) - 1)
			}
			return nil
		}
		in.Next(i)
		fr, n, st := decodeOne(in.Bytes())
		switch st {
		case scanNeedMore:
			return nil
		case scanSkip:
			metrics.IncMalformed()
			in.Next(1)
		case scanFrame:
			in.Next(n)
			metrics.IncSerialRx()
			out(fr)
		}
	}
}
