package capture

import "github.com/banshee-data/slip.capture/internal/monitoring"

// ConsoleSink echoes each packet through monitoring.Logf, first as text and
// then as hex.
type ConsoleSink struct{}

func (ConsoleSink) Name() string { return "console" }

func (ConsoleSink) WritePacket(r Record) error {
	monitoring.Logf("DECODED PACKET (LENGTH %d): %s", len(r.Data), printable(r.Data))
	monitoring.Logf("HEX ENCODED PACKET: %s", HexString(r.Data))
	return nil
}

func (ConsoleSink) Close() error { return nil }

// printable replaces bytes outside printable ASCII with '.'.
func printable(p []byte) string {
	out := make([]byte, len(p))
	for i, c := range p {
		if c < 0x20 || c > 0x7e {
			c = '.'
		}
		out[i] = c
	}
	return string(out)
}
