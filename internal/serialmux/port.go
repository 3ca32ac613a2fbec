package serialmux

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortFactory opens serial ports. The capture driver holds one so it can
// reopen the link after a transport failure.
type SerialPortFactory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// SerialPortOpener adapts a function to SerialPortFactory.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)

// Open calls f.
func (f SerialPortOpener) Open(path string, opts PortOptions) (SerialPorter, error) {
	return f(path, opts)
}

// RealSerialPortFactory opens ports through go.bug.st/serial.
type RealSerialPortFactory struct {
	// ReadTimeout is applied after open when positive. Reads that hit it
	// surface as slip.ErrReadTimeout.
	ReadTimeout time.Duration
}

// NewRealSerialPortFactory returns a factory with blocking reads.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the serial device at path.
func (f *RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	if f.ReadTimeout > 0 {
		if err := port.SetReadTimeout(f.ReadTimeout); err != nil {
			port.Close()
			return nil, err
		}
	}
	return port, nil
}
