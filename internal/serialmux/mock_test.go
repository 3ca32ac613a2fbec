package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/slip.capture/internal/slip"
)

func TestNewMockSerialMux(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{0x01, slip.End, slip.Esc},
	}
	mux := NewMockSerialMux(payloads, 5*time.Millisecond, 0)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- mux.Monitor(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case p := <-ch:
			want := payloads[i%len(payloads)]
			if string(p) != string(want) {
				t.Errorf("packet %d = %x, want %x", i, p, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for mock packet %d", i)
		}
	}

	if err := mux.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop after Close")
	}

	// each frame carries one noise END plus its own leading END
	if st := mux.Stats(); st.EmptyEnds < 6 {
		t.Errorf("EmptyEnds = %d, want at least 6", st.EmptyEnds)
	}
}

func TestMockSerialPort_WriteDiscards(t *testing.T) {
	mux := NewMockSerialMux(nil, time.Millisecond, 0)
	defer mux.Close()

	if err := mux.SendPacket([]byte("ignored")); err != nil {
		t.Errorf("SendPacket() error = %v", err)
	}
}

func TestTestableSerialPort_ReadTimeout(t *testing.T) {
	port := NewTestableSerialPort()
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		t.Fatalf("SetReadTimeout() error = %v", err)
	}

	n, err := port.Read(make([]byte, 4))
	if n != 0 || err != nil {
		t.Errorf("Read() = %d, %v; want 0, nil on timeout", n, err)
	}
}

func TestMockSerialPortFactory(t *testing.T) {
	p1, p2 := NewTestableSerialPort(), NewTestableSerialPort()
	f := NewMockSerialPortFactory(p1, p2)

	opts := PortOptions{BaudRate: 9600}
	for i, want := range []SerialPorter{p1, p2, p2} {
		got, err := f.Open("/dev/ttyUSB0", opts)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i, err)
		}
		if got != want {
			t.Errorf("Open() #%d returned wrong port", i)
		}
	}
	if f.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", f.Calls())
	}
	if last := f.LastCall(); last == nil || last.Path != "/dev/ttyUSB0" || last.Options != opts {
		t.Errorf("LastCall() = %+v", last)
	}

	f.Error = errors.New("busy")
	if _, err := f.Open("/dev/ttyUSB0", opts); err == nil {
		t.Error("Open() expected error")
	}

	if _, err := NewMockSerialPortFactory().Open("/dev/x", opts); err == nil {
		t.Error("Open() with no ports expected error")
	}
}
