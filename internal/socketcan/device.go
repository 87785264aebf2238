//go:build linux

package socketcan

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-dronecan-link/internal/can"
)

// Device is a bound raw CAN socket.
type Device struct {
	fd int
}

var _ Dev = (*Device)(nil)

// Open binds a raw socket to iface with CAN FD frames disabled.
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil && err != unix.ENOPROTOOPT {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("disable CAN FD: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame blocks for one classic frame.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [frameSize]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != frameSize {
		return fmt.Errorf("%w: %d bytes", ErrShortRead, n)
	}
	unpack(&buf, fr)
	return nil
}

// WriteFrame writes one classic frame.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [frameSize]byte
	if err := pack(&buf, &fr); err != nil {
		return err
	}
	_, err := unix.Write(d.fd, buf[:])
	return err
}
