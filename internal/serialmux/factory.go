package serialmux

// NewRealSerialMux creates a PacketMux backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions, maxPacketLen int) (*PacketMux[SerialPorter], error) {
	return OpenPacketMux(NewRealSerialPortFactory(), path, opts, maxPacketLen)
}

// OpenPacketMux opens path through factory and wraps the port in a PacketMux.
func OpenPacketMux(factory SerialPortFactory, path string, opts PortOptions, maxPacketLen int) (*PacketMux[SerialPorter], error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewPacketMux[SerialPorter](port, maxPacketLen), nil
}
