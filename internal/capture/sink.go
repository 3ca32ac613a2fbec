// Package capture moves decoded SLIP packets from a mux subscription into
// their outputs: log files, pcap captures, the console, the sqlite store and
// MQTT.
package capture

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/slip.capture/internal/monitoring"
	"github.com/banshee-data/slip.capture/internal/slip"
	"github.com/banshee-data/slip.capture/internal/timeutil"
)

// Record is one decoded packet together with where and when it arrived.
type Record struct {
	Session string
	Seq     uint64
	Time    time.Time
	Data    slip.Packet
}

// Sink consumes decoded packets. Sinks are driven from a single goroutine and
// need not be safe for concurrent use.
type Sink interface {
	WritePacket(Record) error
	Close() error
}

// Named is implemented by sinks that report a label for error metrics.
type Named interface {
	Name() string
}

func sinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}

// HexString renders p as space-separated lowercase hex pairs.
func HexString(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(p) * 3)
	for i, c := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(hex.EncodeToString([]byte{c}))
	}
	return b.String()
}

// MultiSink writes every packet to each of its sinks in order.
type MultiSink struct {
	sinks   []Sink
	metrics *monitoring.Metrics
}

// Multi fans packets out to sinks. Nil sinks are skipped.
func Multi(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// SetMetrics counts sink write failures by sink name.
func (m *MultiSink) SetMetrics(metrics *monitoring.Metrics) {
	m.metrics = metrics
}

// Len returns the number of attached sinks.
func (m *MultiSink) Len() int { return len(m.sinks) }

// WritePacket attempts every sink even when an earlier one fails.
func (m *MultiSink) WritePacket(r Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.WritePacket(r); err != nil {
			name := sinkName(s)
			if m.metrics != nil {
				m.metrics.ObserveSinkError(name)
			}
			errs = append(errs, fmt.Errorf("%s sink: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", sinkName(s), err))
		}
	}
	return errors.Join(errs...)
}

// Pump drains ch into sink, numbering packets from 1 and stamping them with
// the receive time. A failed write is logged and the next packet is still
// delivered. Pump returns nil once ch is closed and ctx.Err() on cancellation.
func Pump(ctx context.Context, ch <-chan slip.Packet, session string, sink Sink) error {
	return PumpWithClock(ctx, ch, session, sink, timeutil.RealClock{})
}

// PumpWithClock is Pump with the receive time taken from clock.
func PumpWithClock(ctx context.Context, ch <-chan slip.Packet, session string, sink Sink, clock timeutil.Clock) error {
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-ch:
			if !ok {
				return nil
			}
			seq++
			r := Record{Session: session, Seq: seq, Time: clock.Now(), Data: p}
			if err := sink.WritePacket(r); err != nil {
				monitoring.Logf("failed to write packet %d of session %s: %v", seq, session, err)
			}
		}
	}
}

// stamp formats t for use in file names.
func stamp(t time.Time) string {
	return t.Format("20060102T150405.000000000")
}
