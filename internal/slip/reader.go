package slip

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrSourceClosed reports that the byte source is gone. SLIP has no
	// end-of-session marker, so this always ends reception.
	ErrSourceClosed = errors.New("slip: byte source closed")

	// ErrReadTimeout reports a source read timeout. It is transient: the
	// decoder keeps its state and the caller may read again.
	ErrReadTimeout = errors.New("slip: read timeout")
)

// TransportError wraps a terminal failure of the byte source.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("slip: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ByteSource supplies raw bytes one at a time, blocking until a byte arrives or
// the transport fails.
type ByteSource interface {
	ReadByte() (byte, error)
}

// Reader drives a Decoder from a ByteSource.
type Reader struct {
	src ByteSource
	dec *Decoder
}

// NewReader returns a Reader that pulls from src.
func NewReader(src ByteSource, maxPacketLen int) *Reader {
	return &Reader{src: src, dec: NewDecoder(maxPacketLen)}
}

// ReadPacket blocks until the next non-empty packet is complete. Cancellation
// is checked between byte reads.
func (r *Reader) ReadPacket(ctx context.Context) (Packet, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := r.src.ReadByte()
		if err != nil {
			return nil, classify(err)
		}

		if p, ok := r.dec.Feed(b); ok {
			return p, nil
		}
	}
}

// Stats returns the underlying decoder counters.
func (r *Reader) Stats() Stats { return r.dec.Stats() }

// Decoder exposes the decoder so callers can inspect partial state.
func (r *Reader) Decoder() *Decoder { return r.dec }

func classify(err error) error {
	switch {
	case errors.Is(err, ErrReadTimeout):
		return err
	case errors.Is(err, io.EOF), errors.Is(err, ErrSourceClosed):
		return ErrSourceClosed
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Err: err}
}

// IsTerminal reports whether err from ReadPacket ends the session.
func IsTerminal(err error) bool {
	if err == nil || errors.Is(err, ErrReadTimeout) {
		return false
	}
	return true
}
