package serialmux

import (
	"errors"
	"io"
	"os"

	"go.bug.st/serial"

	"github.com/banshee-data/slip.capture/internal/slip"
)

// PortSource adapts a serial port to slip.ByteSource. It buffers each Read so
// the decoder can pull one byte at a time without a syscall per byte.
type PortSource struct {
	r   io.Reader
	buf []byte
	pos int
	n   int
}

// NewPortSource returns a byte source reading from r.
func NewPortSource(r io.Reader) *PortSource {
	return &PortSource{r: r, buf: make([]byte, 256)}
}

// ReadByte returns the next byte from the port. go.bug.st/serial reports an
// expired read timeout as a zero-length read with no error; that becomes
// slip.ErrReadTimeout.
func (s *PortSource) ReadByte() (byte, error) {
	if s.pos < s.n {
		b := s.buf[s.pos]
		s.pos++
		return b, nil
	}

	n, err := s.r.Read(s.buf)
	if n > 0 {
		// deliver what arrived; a sticky error will come back on the next Read
		s.pos, s.n = 1, n
		return s.buf[0], nil
	}
	s.pos, s.n = 0, 0

	switch {
	case err == nil:
		return 0, slip.ErrReadTimeout
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed), errors.Is(err, io.ErrClosedPipe), isPortClosed(err):
		return 0, slip.ErrSourceClosed
	default:
		return 0, &slip.TransportError{Err: err}
	}
}

// Buffered reports how many bytes have been read from the port but not yet
// handed to the decoder.
func (s *PortSource) Buffered() int { return s.n - s.pos }

func isPortClosed(err error) bool {
	var pe *serial.PortError
	return errors.As(err, &pe) && pe.Code() == serial.PortClosed
}
