// Package slip implements the receive side of the Serial Line Internet
// Protocol (RFC 1055): a byte-at-a-time decoder that reconstructs packets from
// an END/ESC byte-stuffed stream, plus the matching encoder.
package slip

// SLIP special character codes.
const (
	End    byte = 0xC0 // 0300: end of packet
	Esc    byte = 0xDB // 0333: byte stuffing
	EscEnd byte = 0xDC // 0334: ESC EscEnd means End data byte
	EscEsc byte = 0xDD // 0335: ESC EscEsc means Esc data byte
)

// DefaultMaxPacketLen bounds a decoded packet when no explicit limit is given.
const DefaultMaxPacketLen = 100

// Packet is one fully reconstructed frame. The decoder never retains a
// reference to an emitted Packet.
type Packet []byte

// State is the decoder's position in the escape state machine.
type State int

const (
	StateNormal State = iota
	StateEscapePending
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateEscapePending:
		return "escape-pending"
	default:
		return "unknown"
	}
}

// Stats counts decoded output and the protocol anomalies the decoder resolved
// locally. None of the anomalies are errors.
type Stats struct {
	PacketsDecoded uint64 `json:"packets_decoded"`
	BytesDecoded   uint64 `json:"bytes_decoded"`
	EmptyEnds      uint64 `json:"empty_ends"`
	InvalidEscapes uint64 `json:"invalid_escapes"`
	DroppedBytes   uint64 `json:"dropped_bytes"`
}

// Decoder holds the in-progress packet between byte arrivals. It is not safe
// for concurrent use; one loop owns it.
type Decoder struct {
	maxLen int
	buf    []byte
	state  State
	stats  Stats
}

// NewDecoder returns a decoder that truncates packets to maxPacketLen bytes.
// A non-positive limit selects DefaultMaxPacketLen.
func NewDecoder(maxPacketLen int) *Decoder {
	if maxPacketLen <= 0 {
		maxPacketLen = DefaultMaxPacketLen
	}
	return &Decoder{
		maxLen: maxPacketLen,
		buf:    make([]byte, 0, maxPacketLen),
	}
}

// Feed consumes one byte. It returns a packet and true when b completes a
// non-empty packet.
func (d *Decoder) Feed(b byte) (Packet, bool) {
	if d.state == StateEscapePending {
		d.state = StateNormal
		switch b {
		case EscEnd:
			d.push(End)
		case EscEsc:
			d.push(Esc)
		default:
			// protocol violation: keep the byte as-is
			d.stats.InvalidEscapes++
			d.push(b)
		}
		return nil, false
	}

	switch b {
	case End:
		if len(d.buf) == 0 {
			// duplicate END sent to flush line noise
			d.stats.EmptyEnds++
			d.Reset()
			return nil, false
		}
		p := make(Packet, len(d.buf))
		copy(p, d.buf)
		d.stats.PacketsDecoded++
		d.stats.BytesDecoded += uint64(len(p))
		d.Reset()
		return p, true
	case Esc:
		d.state = StateEscapePending
	default:
		d.push(b)
	}
	return nil, false
}

func (d *Decoder) push(b byte) {
	if len(d.buf) >= d.maxLen {
		d.stats.DroppedBytes++
		return
	}
	d.buf = append(d.buf, b)
}

// Reset discards any partially accumulated packet. Stats are kept.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.state = StateNormal
}

// Len reports how many bytes of the current packet have been accumulated.
func (d *Decoder) Len() int { return len(d.buf) }

// State reports whether the decoder is waiting on the byte after an ESC.
func (d *Decoder) State() State { return d.state }

// MaxPacketLen returns the truncation limit.
func (d *Decoder) MaxPacketLen() int { return d.maxLen }

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() Stats { return d.stats }
