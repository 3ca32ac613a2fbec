package slip

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedAll feeds input to d and collects every emitted packet.
func feedAll(d *Decoder, input []byte) []Packet {
	var out []Packet
	for _, b := range input {
		if p, ok := d.Feed(b); ok {
			out = append(out, p)
		}
	}
	return out
}

func TestDecoder_Feed(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []Packet
	}{
		{"plain packet", []byte{0x41, 0x42, End}, []Packet{{0x41, 0x42}}},
		{"duplicate ends absorbed", []byte{End, End}, nil},
		{"escaped end mid packet", []byte{0x41, Esc, EscEnd, 0x42, End}, []Packet{{0x41, 0xC0, 0x42}}},
		{"escaped esc", []byte{Esc, EscEsc, End}, []Packet{{0xDB}}},
		{"invalid escape passes through", []byte{Esc, 0x99, End}, []Packet{{0x99}}},
		{"escape resolves after one byte", []byte{Esc, 0x01, 0x02, End}, []Packet{{0x01, 0x02}}},
		{"esc followed by esc is pass-through", []byte{Esc, Esc, End}, []Packet{{Esc}}},
		{"leading end then packet", []byte{End, 0x01, End, End, 0x02, End}, []Packet{{0x01}, {0x02}}},
		{"no end no packet", []byte{0x01, 0x02, 0x03}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feedAll(NewDecoder(DefaultMaxPacketLen), tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("packets mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecoder_EscapedEndAsTerminator(t *testing.T) {
	// ESC END is a protocol violation: END is stored as data, not a boundary.
	d := NewDecoder(DefaultMaxPacketLen)
	got := feedAll(d, []byte{0x01, Esc, End, 0x02, End})
	require.Len(t, got, 1)
	assert.Equal(t, Packet{0x01, End, 0x02}, got[0])
	assert.Equal(t, uint64(1), d.Stats().InvalidEscapes)
}

func TestDecoder_NoEndAccumulates(t *testing.T) {
	d := NewDecoder(10)
	input := []byte{0x01, Esc, EscEnd, 0x02, Esc, 0x77, 0x03}

	for _, b := range input {
		_, ok := d.Feed(b)
		require.False(t, ok)
	}
	// two ESC bytes consumed, five data bytes kept
	assert.Equal(t, 5, d.Len())

	for i := 0; i < 20; i++ {
		_, ok := d.Feed(0x10)
		require.False(t, ok)
	}
	assert.Equal(t, 10, d.Len())
}

func TestDecoder_Truncation(t *testing.T) {
	const maxLen = 100
	d := NewDecoder(maxLen)

	input := make([]byte, maxLen+5)
	for i := range input {
		input[i] = byte(i)
	}

	got := feedAll(d, append(input, End))
	require.Len(t, got, 1)
	assert.Len(t, got[0], maxLen)
	assert.Equal(t, Packet(input[:maxLen]), got[0])
	assert.Equal(t, uint64(5), d.Stats().DroppedBytes)
}

func TestDecoder_TruncationAppliesToEscapes(t *testing.T) {
	d := NewDecoder(2)
	got := feedAll(d, []byte{0x01, 0x02, Esc, EscEnd, Esc, EscEsc, End})
	require.Len(t, got, 1)
	assert.Equal(t, Packet{0x01, 0x02}, got[0])
	assert.Equal(t, uint64(2), d.Stats().DroppedBytes)
}

func TestDecoder_ResetBetweenPackets(t *testing.T) {
	d := NewDecoder(DefaultMaxPacketLen)
	seq := []byte{0x41, Esc, EscEnd, 0x42, End}

	first := feedAll(d, seq)
	assert.Equal(t, StateNormal, d.State())
	assert.Zero(t, d.Len())

	second := feedAll(d, seq)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated sequence decoded differently (-first +second):\n%s", diff)
	}

	fresh := feedAll(NewDecoder(DefaultMaxPacketLen), seq)
	assert.Equal(t, fresh, second)
}

func TestDecoder_EmittedPacketIsIndependent(t *testing.T) {
	d := NewDecoder(DefaultMaxPacketLen)
	first := feedAll(d, []byte{0x01, 0x02, End})
	require.Len(t, first, 1)

	feedAll(d, []byte{0x09, 0x09, End})
	assert.Equal(t, Packet{0x01, 0x02}, first[0])
}

func TestDecoder_State(t *testing.T) {
	d := NewDecoder(DefaultMaxPacketLen)
	assert.Equal(t, StateNormal, d.State())

	d.Feed(Esc)
	assert.Equal(t, StateEscapePending, d.State())
	assert.Zero(t, d.Len())

	d.Feed(EscEsc)
	assert.Equal(t, StateNormal, d.State())
	assert.Equal(t, 1, d.Len())

	d.Feed(Esc)
	d.Reset()
	assert.Equal(t, StateNormal, d.State())
	assert.Zero(t, d.Len())
}

func TestDecoder_DefaultMaxLen(t *testing.T) {
	assert.Equal(t, DefaultMaxPacketLen, NewDecoder(0).MaxPacketLen())
	assert.Equal(t, DefaultMaxPacketLen, NewDecoder(-3).MaxPacketLen())
	assert.Equal(t, 7, NewDecoder(7).MaxPacketLen())
}

func TestDecoder_Stats(t *testing.T) {
	d := NewDecoder(3)
	feedAll(d, []byte{End, End, 0x01, Esc, 0x55, 0x02, 0x03, End, 0x04, End})

	want := Stats{
		PacketsDecoded: 2,
		BytesDecoded:   4,
		EmptyEnds:      2,
		InvalidEscapes: 1,
		DroppedBytes:   1,
	}
	assert.Equal(t, want, d.Stats())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "normal", StateNormal.String())
	assert.Equal(t, "escape-pending", StateEscapePending.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestEncode(t *testing.T) {
	got := Encode([]byte{0x41, End, 0x42, Esc})
	want := []byte{End, 0x41, Esc, EscEnd, 0x42, Esc, EscEsc, End}
	assert.Equal(t, want, got)

	assert.Equal(t, []byte{End, End}, Encode(nil))
	assert.Equal(t, []byte{0x99, End, 0x01, End}, AppendEncoded([]byte{0x99}, []byte{0x01}))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x00},
		{End, End, End},
		{Esc, EscEnd, Esc, EscEsc},
		bytes.Repeat([]byte{0x7e}, 60),
	}

	var stream []byte
	for _, p := range payloads {
		stream = AppendEncoded(stream, p)
	}

	got := feedAll(NewDecoder(DefaultMaxPacketLen), stream)
	require.Len(t, got, len(payloads))
	for i, p := range payloads {
		assert.Equal(t, Packet(p), got[i], "packet %d", i)
	}
}
