package serialmux

import (
	"errors"
	"testing"
)

func TestNewRealSerialMux_InvalidPath(t *testing.T) {
	// No serial hardware in unit tests: opening a missing device must fail
	// cleanly and return no mux.
	mux, err := NewRealSerialMux("/dev/nonexistent-serial-port-12345", PortOptions{}, 0)
	if err == nil {
		t.Error("Expected error when opening non-existent serial port")
		mux.Close()
	}
	if err != nil && mux != nil {
		t.Error("Expected nil mux when error is returned")
	}
}

func TestNewRealSerialMux_InvalidOptions(t *testing.T) {
	_, err := NewRealSerialMux("/dev/ttyUSB0", PortOptions{DataBits: 12}, 0)
	if err == nil {
		t.Error("Expected error for invalid data bits")
	}
}

func TestOpenPacketMux(t *testing.T) {
	port := NewTestableSerialPort()
	f := NewMockSerialPortFactory(port)

	mux, err := OpenPacketMux(f, "/dev/ttyACM0", PortOptions{}, 32)
	if err != nil {
		t.Fatalf("OpenPacketMux() error = %v", err)
	}
	if mux.maxLen != 32 {
		t.Errorf("maxLen = %d, want 32", mux.maxLen)
	}
	if f.LastCall().Path != "/dev/ttyACM0" {
		t.Errorf("opened %q", f.LastCall().Path)
	}

	f.Error = errors.New("permission denied")
	if _, err := OpenPacketMux(f, "/dev/ttyACM0", PortOptions{}, 32); err == nil {
		t.Error("OpenPacketMux() expected error")
	}
}

func TestSerialPortOpener(t *testing.T) {
	port := NewTestableSerialPort()
	var gotPath string
	opener := SerialPortOpener(func(path string, opts PortOptions) (SerialPorter, error) {
		gotPath = path
		return port, nil
	})

	got, err := opener.Open("/dev/ttyS0", PortOptions{})
	if err != nil || got != port || gotPath != "/dev/ttyS0" {
		t.Errorf("Open() = %v, %v (path %q)", got, err, gotPath)
	}
}
