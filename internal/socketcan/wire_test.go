package socketcan

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-dronecan-link/internal/can"
	"github.com/kstaniek/go-dronecan-link/internal/hal"
)

func TestPackUnpack(t *testing.T) {
	in := can.Frame{CANID: 0x0155_2A7F | can.CAN_EFF_FLAG, Len: 3, Data: [can.MaxDataLen]byte{1, 2, 0xC4}}
	var buf [frameSize]byte
	if err := pack(&buf, &in); err != nil {
		t.Fatalf("pack: %v", err)
	}
	want := []byte{0x7F, 0x2A, 0x55, 0x81, 3, 0, 0, 0, 1, 2, 0xC4, 0, 0, 0, 0, 0}
	if !bytes.Equal(buf[:], want) {
		t.Fatalf("wire % X want % X", buf, want)
	}
	var out can.Frame
	unpack(&buf, &out)
	if out.CANID != in.CANID || !bytes.Equal(out.Payload(), in.Payload()) {
		t.Fatalf("round trip %+v", out)
	}
}

func TestUnpackClampsDLC(t *testing.T) {
	var buf [frameSize]byte
	buf[4] = 15
	var fr can.Frame
	unpack(&buf, &fr)
	if fr.Len != can.ClassicDataLen {
		t.Fatalf("len=%d", fr.Len)
	}
}

func TestPackRejectsLongFrame(t *testing.T) {
	var buf [frameSize]byte
	fr := can.Frame{Len: 9}
	if err := pack(&buf, &fr); !errors.Is(err, ErrFrameTooLong) {
		t.Fatalf("expected ErrFrameTooLong, got %v", err)
	}
}

type memDev struct {
	mu  sync.Mutex
	out []can.Frame
}

func (d *memDev) ReadFrame(*can.Frame) error { return errors.New("no rx") }
func (d *memDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	d.out = append(d.out, fr)
	d.mu.Unlock()
	return nil
}
func (d *memDev) Close() error { return nil }

func TestTXWriterCompletes(t *testing.T) {
	dev := &memDev{}
	done := make(chan bool, 1)
	w := NewTXWriter(context.Background(), dev, 1, func(ok bool) { done <- ok })
	defer w.Close()
	fr := can.Frame{CANID: 0x10 | can.CAN_EFF_FLAG, Len: 1, Data: [can.MaxDataLen]byte{0xC0}}
	if res := w.Transmit(&fr); res != hal.TxAccepted {
		t.Fatalf("Transmit = %v", res)
	}
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("write reported failure")
		}
	case <-time.After(time.Second):
		t.Fatalf("no completion")
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if len(dev.out) != 1 || dev.out[0].CANID != fr.CANID {
		t.Fatalf("device saw %+v", dev.out)
	}
}
