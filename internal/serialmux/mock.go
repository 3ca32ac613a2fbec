package serialmux

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/slip.capture/internal/slip"
)

// MockSerialPort implements SerialPorter for dev mode. Reads come from a pipe
// fed by a generator goroutine; writes are discarded.
type MockSerialPort struct {
	io.Reader
	w    *io.PipeWriter
	r    *io.PipeReader
	once sync.Once
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	log.Printf("mock serial port discarding %d byte write", len(p))
	return len(p), nil
}

// Close stops the generator and unblocks pending reads.
func (m *MockSerialPort) Close() error {
	m.once.Do(func() {
		m.w.Close()
		m.r.Close()
	})
	return nil
}

// NewMockSerialMux creates a PacketMux whose port repeatedly emits the given
// payloads as SLIP frames, one every interval. Each frame is preceded by an
// extra END byte to exercise the decoder's noise handling.
func NewMockSerialMux(payloads [][]byte, interval time.Duration, maxPacketLen int) *PacketMux[*MockSerialPort] {
	r, w := io.Pipe()
	mockPort := &MockSerialPort{Reader: r, r: r, w: w}

	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			if len(payloads) == 0 {
				return
			}
			frame := append([]byte{slip.End}, slip.Encode(payloads[i%len(payloads)])...)
			if _, err := w.Write(frame); err != nil {
				return
			}
			<-ticker.C
		}
	}()

	return NewPacketMux(mockPort, maxPacketLen)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes, errors, and latency.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ReadTimeout is the current read timeout. When positive, a Read on an
	// empty buffer waits this long and returns (0, nil), the way
	// go.bug.st/serial reports an expired timeout.
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// EOFWhenEmpty makes a Read on an empty buffer return io.EOF
	EOFWhenEmpty bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally simulating latency, timeouts and errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, fmt.Errorf("serial port: %w", os.ErrClosed)
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.ReadLatency)
		t.mu.Lock()
	}

	if t.ReadBuffer.Len() == 0 {
		switch {
		case t.EOFWhenEmpty:
			return 0, io.EOF
		case t.ReadTimeout > 0:
			t.mu.Unlock()
			time.Sleep(t.ReadTimeout)
			t.mu.Lock()
			if t.ReadBuffer.Len() == 0 {
				return 0, nil
			}
		case t.BlockReads:
			for !t.Closed && t.ReadBuffer.Len() == 0 {
				t.readCond.Wait()
			}
			if t.Closed {
				return 0, fmt.Errorf("serial port: %w", os.ErrClosed)
			}
		}
	}

	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally returning a queued error.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, fmt.Errorf("serial port: %w", os.ErrClosed)
	}

	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal() // Wake up a blocked reader
}

// SetReadError queues err for the next Read call and wakes a blocked reader.
func (t *TestableSerialPort) SetReadError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Ports are handed out in order; the last one is reused once exhausted.
	Ports []SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(ports ...SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Ports: ports}
}

// Open returns the next configured port or error.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})

	if f.Error != nil {
		return nil, f.Error
	}
	if len(f.Ports) == 0 {
		return nil, fmt.Errorf("no mock port for %s", path)
	}

	idx := len(f.OpenCalls) - 1
	if idx >= len(f.Ports) {
		idx = len(f.Ports) - 1
	}
	return f.Ports[idx], nil
}

// Calls returns the number of Open calls so far.
func (f *MockSerialPortFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.OpenCalls)
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
