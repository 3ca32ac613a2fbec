package serialmux

import (
	"context"
	"net/http"
	"sync"

	"github.com/banshee-data/slip.capture/internal/slip"
)

// DisabledSerialMux is a no-op PacketMux used when the serial hardware is
// absent (for --disable-serial). It lets the admin server and stored packet
// views run without a device. Subscribers are tracked so their channels are
// deterministically closed on Unsubscribe() or Close().
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan slip.Packet
	closing     bool
}

// DisabledRoutePath is the only admin route a DisabledSerialMux serves.
const DisabledRoutePath = "/debug/serial-disabled"

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan slip.Packet),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan slip.Packet) {
	id := randomID()
	ch := make(chan slip.Packet)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

// SubscribeLossless behaves like Subscribe. No packets ever arrive.
func (d *DisabledSerialMux) SubscribeLossless() (string, chan slip.Packet) {
	return d.Subscribe()
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *DisabledSerialMux) SendPacket([]byte) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Stats() slip.Stats { return slip.Stats{} }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc(DisabledRoutePath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("serial disabled"))
	})
}
