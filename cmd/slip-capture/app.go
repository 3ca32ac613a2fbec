package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/slip.capture/internal/capture"
	"github.com/banshee-data/slip.capture/internal/config"
	"github.com/banshee-data/slip.capture/internal/db"
	"github.com/banshee-data/slip.capture/internal/fsutil"
	"github.com/banshee-data/slip.capture/internal/monitoring"
	"github.com/banshee-data/slip.capture/internal/serialmux"
	"github.com/banshee-data/slip.capture/internal/slip"
	"github.com/banshee-data/slip.capture/internal/timeutil"
)

// devFrames are replayed by -dev. The second carries both special bytes so
// the escape path is exercised.
var devFrames = [][]byte{
	[]byte("hello from the radio"),
	{0x45, 0x00, 0x00, 0x1c, slip.End, 0x01, slip.Esc, 0x02},
}

type appOptions struct {
	DevMode       bool
	DisableSerial bool
	Reconnect     bool

	// Factory opens the serial port. Nil uses the real go.bug.st/serial
	// factory with the configured read timeout.
	Factory serialmux.SerialPortFactory
	// FS backs the log and pcap sinks. Nil uses the OS filesystem.
	FS fsutil.FileSystem
	// Publisher overrides the MQTT connection made from the broker URL.
	Publisher capture.Publisher
	// Ready, when set, receives the bound admin address.
	Ready chan<- string
	// Clock stamps sessions and packets and paces reconnects. Nil uses the
	// wall clock.
	Clock timeutil.Clock
}

func (o appOptions) clock() timeutil.Clock {
	if o.Clock == nil {
		return timeutil.RealClock{}
	}
	return o.Clock
}

type app struct {
	cfg     *config.CaptureConfig
	opts    appOptions
	store   *db.DB
	sink    *capture.MultiSink
	metrics *monitoring.Metrics
	routes  *routeSwitch
}

// run opens the store and sinks, serves the admin routes and captures until
// ctx is cancelled or the port fails without -reconnect.
func run(ctx context.Context, cfg *config.CaptureConfig, opts appOptions) error {
	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := monitoring.NewMetrics(reg)

	sink, err := buildSinks(cfg, opts, store)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Printf("failed to close sinks: %v", err)
		}
	}()
	sink.SetMetrics(metrics)

	a := &app{
		cfg:     cfg,
		opts:    opts,
		store:   store,
		sink:    sink,
		metrics: metrics,
		routes:  &routeSwitch{},
	}

	mux := http.NewServeMux()
	store.AttachAdminRoutes(mux)
	serialPaths := append([]string{serialmux.DisabledRoutePath}, serialmux.AdminRoutePaths...)
	for _, p := range serialPaths {
		mux.Handle(p, a.routes)
	}
	mux.Handle("/metrics", monitoring.Handler(reg))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(gctx, cfg.GetListen(), mux, opts.Ready) })
	g.Go(func() error { return a.captureLoop(gctx) })
	return g.Wait()
}

func buildSinks(cfg *config.CaptureConfig, opts appOptions, store *db.DB) (*capture.MultiSink, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}

	sinks := []capture.Sink{capture.ConsoleSink{}, capture.StoreSink{Store: store}}

	logSink, err := capture.NewLogSink(fsys, cfg.GetLogDir(), opts.clock().Now())
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, logSink)

	if mode := cfg.GetPcapMode(); mode != config.PcapOff {
		pm := capture.PcapPerPacket
		if mode == config.PcapSingle {
			pm = capture.PcapSingleFile
		}
		pcapSink, err := capture.NewPcapSink(fsys, cfg.GetPacketDir(), pm, layers.LinkType(cfg.GetPcapLinkType()))
		if err != nil {
			logSink.Close()
			return nil, err
		}
		sinks = append(sinks, pcapSink)
	}

	pub := opts.Publisher
	if pub == nil && cfg.GetMQTTBroker() != "" {
		p, err := capture.ConnectMQTT(cfg.GetMQTTBroker())
		if err != nil {
			capture.Multi(sinks...).Close()
			return nil, err
		}
		log.Printf("publishing packets to %s", cfg.GetMQTTBroker())
		pub = p
	}
	if pub != nil {
		sinks = append(sinks, capture.NewMQTTSink(pub, cfg.GetMQTTTopicPrefix()))
	}

	return capture.Multi(sinks...), nil
}

// captureLoop runs capture sessions back to back. Without -reconnect the first
// failure ends the loop.
func (a *app) captureLoop(ctx context.Context) error {
	for {
		err := a.captureSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil || !a.opts.Reconnect {
			return err
		}

		delay := a.cfg.GetReconnectDelay()
		log.Printf("serial capture failed: %v; reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.opts.clock().After(delay):
		}
	}
}

func (a *app) openMux() (serialmux.PacketMuxInterface, error) {
	maxLen := a.cfg.GetMaxPacketLen()
	switch {
	case a.opts.DisableSerial:
		return serialmux.NewDisabledSerialMux(), nil
	case a.opts.DevMode:
		return serialmux.NewMockSerialMux(devFrames, 500*time.Millisecond, maxLen), nil
	}

	factory := a.opts.Factory
	if factory == nil {
		factory = &serialmux.RealSerialPortFactory{ReadTimeout: a.cfg.GetReadTimeout()}
	}
	pm, err := serialmux.OpenPacketMux(factory, a.cfg.GetPort(), a.cfg.PortOptions(), maxLen)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", a.cfg.GetPort(), err)
	}
	return pm, nil
}

func (a *app) portLabel() string {
	switch {
	case a.opts.DisableSerial:
		return "disabled"
	case a.opts.DevMode:
		return "mock"
	}
	return a.cfg.GetPort()
}

// captureSession opens the port, records a store session and pumps packets
// into the sinks until the port fails or ctx ends.
func (a *app) captureSession(ctx context.Context) error {
	pm, err := a.openMux()
	if err != nil {
		return err
	}
	defer pm.Close()

	if s, ok := pm.(interface{ SetMetrics(*monitoring.Metrics) }); ok {
		s.SetMetrics(a.metrics)
	}
	routes := http.NewServeMux()
	pm.AttachAdminRoutes(routes)
	a.routes.Set(routes)

	portOpts := a.cfg.PortOptions()
	session, err := a.store.StartSession(db.SessionInfo{
		PortPath:     a.portLabel(),
		BaudRate:     portOpts.BaudRate,
		MaxPacketLen: a.cfg.GetMaxPacketLen(),
		StartedAt:    a.opts.clock().Now(),
	})
	if err != nil {
		return err
	}
	log.Printf("capture session %s started on %s (%s)", session, a.portLabel(), portOpts)

	_, ch := pm.SubscribeLossless()

	var g errgroup.Group
	var monitorErr error
	g.Go(func() error {
		monitorErr = pm.Monitor(ctx)
		// closing the mux closes ch, which lets the pump drain and return
		pm.Close()
		return nil
	})
	g.Go(func() error {
		return capture.PumpWithClock(context.WithoutCancel(ctx), ch, session, a.sink, a.opts.clock())
	})
	g.Wait()

	stats := pm.Stats()
	if err := a.store.EndSession(session, stats, a.opts.clock().Now()); err != nil {
		log.Printf("failed to end session %s: %v", session, err)
	}
	log.Printf("capture session %s ended: packets=%d bytes=%d empty_ends=%d invalid_escapes=%d dropped=%d",
		session, stats.PacketsDecoded, stats.BytesDecoded, stats.EmptyEnds, stats.InvalidEscapes, stats.DroppedBytes)

	if errors.Is(monitorErr, context.Canceled) || errors.Is(monitorErr, context.DeadlineExceeded) {
		return ctx.Err()
	}
	return monitorErr
}

// routeSwitch forwards requests to the serial admin routes of the current
// capture session. A fresh mux is installed for every session since a
// ServeMux cannot re-register a pattern.
type routeSwitch struct {
	mu sync.RWMutex
	h  http.Handler
}

func (r *routeSwitch) Set(h http.Handler) {
	r.mu.Lock()
	r.h = h
	r.mu.Unlock()
}

func (r *routeSwitch) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	h := r.h
	r.mu.RUnlock()
	if h == nil {
		http.Error(w, "serial port not open", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, req)
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}
	log.Printf("admin server listening on %s", ln.Addr())

	server := &http.Server{Handler: h}
	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}
