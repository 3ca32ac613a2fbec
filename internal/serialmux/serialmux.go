// Package serialmux owns the serial link of a SLIP capture: it decodes the
// byte stream from a single port and lets multiple clients subscribe to the
// decoded packets or send SLIP-encoded packets back down the link.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/slip.capture/internal/httputil"
	"github.com/banshee-data/slip.capture/internal/monitoring"
	"github.com/banshee-data/slip.capture/internal/slip"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

//go:embed templates/*
var adminTemplateFS embed.FS

var sendPacketTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-packet.html.tmpl"))

// PacketMux is a generic serial port multiplexer that decodes SLIP packets from
// a single serial port and fans them out to subscribers.
type PacketMux[T SerialPorter] struct {
	port         T
	maxLen       int
	subscribers  map[string]chan slip.Packet
	lossless     map[string]*losslessSub
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	done         chan struct{}

	// sendMu is held by Monitor while it delivers to lossless subscribers.
	// Their channels are only closed with it held.
	sendMu sync.Mutex

	statsMu  sync.Mutex
	stats    slip.Stats
	reported slip.Stats
	timeouts uint64
	drops    uint64
	metrics  *monitoring.Metrics
}

// losslessSub is a subscriber Monitor waits on instead of skipping.
type losslessSub struct {
	ch   chan slip.Packet
	gone chan struct{}
}

// LosslessBuffer is the channel capacity of a SubscribeLossless channel.
const LosslessBuffer = 256

// PacketMuxInterface defines the interface for the PacketMux type.
type PacketMuxInterface interface {
	// Subscribe creates a new channel for receiving decoded packets. The
	// channel ID is used to identify the unique channel when unsubscribing.
	// A subscriber that falls behind misses packets.
	Subscribe() (string, chan slip.Packet)
	// SubscribeLossless is Subscribe for consumers that must see every
	// packet. Monitor waits for them instead of skipping.
	SubscribeLossless() (string, chan slip.Packet)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendPacket SLIP-encodes the payload and writes it to the serial port.
	SendPacket([]byte) error
	// Monitor decodes packets from the serial port until the context is
	// cancelled or the port fails.
	Monitor(context.Context) error
	// Stats returns the decoder counters as of the last decoded byte.
	Stats() slip.Stats
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewPacketMux creates a PacketMux reading from port. Packets longer than
// maxPacketLen are truncated; a non-positive value selects
// slip.DefaultMaxPacketLen.
func NewPacketMux[T SerialPorter](port T, maxPacketLen int) *PacketMux[T] {
	if maxPacketLen <= 0 {
		maxPacketLen = slip.DefaultMaxPacketLen
	}
	return &PacketMux[T]{
		port:        port,
		maxLen:      maxPacketLen,
		subscribers: make(map[string]chan slip.Packet),
		lossless:    make(map[string]*losslessSub),
		done:        make(chan struct{}),
	}
}

// SetMetrics attaches Prometheus metrics that Monitor keeps up to date.
// Counters already reported to an earlier Metrics are not replayed.
func (s *PacketMux[T]) SetMetrics(m *monitoring.Metrics) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.metrics = m
	s.reported = s.stats
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a buffered packet channel. Monitor skips it while it
// is full. After Close the channel comes back already closed.
func (s *PacketMux[T]) Subscribe() (string, chan slip.Packet) {
	id := randomID()
	ch := make(chan slip.Packet, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// SubscribeLossless registers a channel that receives every packet. While it
// is full Monitor stops decoding until the consumer catches up, the context
// ends or the mux closes. After Close the channel comes back already closed.
func (s *PacketMux[T]) SubscribeLossless() (string, chan slip.Packet) {
	id := randomID()
	sub := &losslessSub{ch: make(chan slip.Packet, LosslessBuffer), gone: make(chan struct{})}
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(sub.ch)
		return id, sub.ch
	}
	s.lossless[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber from the packet mux.
func (s *PacketMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
	sub, ok := s.lossless[id]
	delete(s.lossless, id)
	s.subscriberMu.Unlock()

	if ok {
		// release a Monitor blocked on this subscriber before closing it
		close(sub.gone)
		s.sendMu.Lock()
		close(sub.ch)
		s.sendMu.Unlock()
	}
}

// SendPacket writes payload to the serial port as one SLIP frame.
func (s *PacketMux[T]) SendPacket(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	frame := slip.Encode(payload)
	n, err := s.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

// Stats returns the most recent decoder counters.
func (s *PacketMux[T]) Stats() slip.Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Drops returns how many packets lossy subscribers have missed.
func (s *PacketMux[T]) Drops() uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.drops
}

// Timeouts returns how many read timeouts Monitor has absorbed.
func (s *PacketMux[T]) Timeouts() uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.timeouts
}

func (s *PacketMux[T]) recordStats(st slip.Stats, timedOut bool) {
	s.statsMu.Lock()
	s.stats = st
	prev := s.reported
	s.reported = st
	if timedOut {
		s.timeouts++
	}
	m := s.metrics
	s.statsMu.Unlock()

	if m != nil {
		m.ObserveStats(prev, st)
		if timedOut {
			m.ObserveTransportError("timeout")
		}
	}
}

// Monitor decodes the serial stream and sends packets to subscribers. It
// returns ctx.Err() on cancellation, nil after Close, and the terminal
// transport error (slip.ErrSourceClosed or *slip.TransportError) otherwise.
func (s *PacketMux[T]) Monitor(ctx context.Context) error {
	reader := slip.NewReader(NewPortSource(s.port), s.maxLen)

	packetChan := make(chan slip.Packet)
	readErrChan := make(chan error, 1)

	// The goroutine below is the only owner of the decoder. The blocking
	// ReadByte cannot observe ctx, so the outer loop returns on cancellation
	// and the caller's Close unblocks the read.
	go func() {
		defer close(packetChan)
		for {
			p, err := reader.ReadPacket(ctx)
			timedOut := errors.Is(err, slip.ErrReadTimeout)
			s.recordStats(reader.Stats(), timedOut)
			if timedOut {
				// retry policy belongs to the transport, not the decoder
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					readErrChan <- err
				}
				return
			}
			select {
			case packetChan <- p:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case p, ok := <-packetChan:
			if !ok {
				if s.isClosing() {
					return nil
				}
				select {
				case err := <-readErrChan:
					s.observeFailure(err)
					return err
				default:
					return ctx.Err()
				}
			}
			if s.isClosing() {
				return nil
			}
			if m := s.getMetrics(); m != nil {
				m.ObservePacket(len(p))
			}

			s.deliver(ctx, p)
		}
	}
}

// deliver fans p out. Lossy subscribers are skipped when full and the miss
// is counted. Lossless subscribers are waited on.
func (s *PacketMux[T]) deliver(ctx context.Context, p slip.Packet) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	var dropped uint64
	s.subscriberMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- p:
		default:
			dropped++
		}
	}
	lossless := make([]*losslessSub, 0, len(s.lossless))
	for _, sub := range s.lossless {
		lossless = append(lossless, sub)
	}
	s.subscriberMu.Unlock()

	if dropped > 0 {
		s.statsMu.Lock()
		s.drops += dropped
		m := s.metrics
		s.statsMu.Unlock()
		if m != nil {
			for range dropped {
				m.ObserveSubscriberDrop()
			}
		}
	}

	for _, sub := range lossless {
		select {
		case sub.ch <- p:
		case <-sub.gone:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *PacketMux[T]) getMetrics() *monitoring.Metrics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.metrics
}

func (s *PacketMux[T]) observeFailure(err error) {
	m := s.getMetrics()
	if m == nil {
		return
	}
	if errors.Is(err, slip.ErrSourceClosed) {
		m.ObserveTransportError("closed")
	} else {
		m.ObserveTransportError("failure")
	}
}

func (s *PacketMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Close closes every subscriber channel and the serial port. Packets already
// queued on a lossless channel stay readable until it drains.
func (s *PacketMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	close(s.done)
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	lossless := s.lossless
	s.lossless = make(map[string]*losslessSub)
	s.subscriberMu.Unlock()

	s.sendMu.Lock()
	for _, sub := range lossless {
		close(sub.ch)
	}
	s.sendMu.Unlock()

	return s.port.Close()
}

// AdminRoutePaths lists the paths AttachAdminRoutes registers on a mux, for
// callers that proxy them to a mux that is replaced on reconnect.
var AdminRoutePaths = []string{
	"/debug/send-packet",
	"/debug/send-packet-api",
	"/debug/tail",
	"/debug/tail.js",
	"/debug/slip-stats",
}

// AttachAdminRoutes registers the send-packet form, the live hex tail and the
// decoder stats under /debug/.
func (s *PacketMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-packet", "send a SLIP packet to the serial port", func(w http.ResponseWriter, r *http.Request) {
		if err := sendPacketTemplate.Execute(w, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	// API endpoint to SLIP-encode a hex payload and write it to the port
	debug.HandleSilentFunc("send-packet-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		payload, err := ParseHexPayload(r.FormValue("payload"))
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.SendPacket(payload); err != nil {
			httputil.InternalServerError(w, "failed to write packet")
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote %d byte packet to serial port", len(payload)))
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		servePacketTail(w, r, s)
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})

	debug.HandleSilentFunc("slip-stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, struct {
			slip.Stats
			MaxPacketLen int    `json:"max_packet_len"`
			Timeouts     uint64 `json:"read_timeouts"`
			Drops        uint64 `json:"subscriber_drops"`
		}{s.Stats(), s.maxLen, s.Timeouts(), s.Drops()})
	})
}

type subscriber interface {
	Subscribe() (string, chan slip.Packet)
	Unsubscribe(string)
}

// servePacketTail streams packets as Server-Sent Events, one hex line each.
func servePacketTail(w http.ResponseWriter, r *http.Request, sub subscriber) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := sub.Subscribe()
	defer sub.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case p, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", hex.EncodeToString(p)); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// ParseHexPayload decodes a hex string that may contain spaces or colons
// between bytes, as produced by hex dumps.
func ParseHexPayload(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return nil, errors.New("missing payload")
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}
