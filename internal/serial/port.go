package serial

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the adapter's tty. readTimeout bounds each Read so the RX loop
// can notice shutdown.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	return serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout})
}
