package serialmux

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/slip.capture/internal/slip"
)

// chunkReader returns one queued chunk (or error) per Read call.
type chunkReader struct {
	chunks [][]byte
	errs   []error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	chunk, err := c.chunks[0], c.errs[0]
	c.chunks, c.errs = c.chunks[1:], c.errs[1:]
	return copy(p, chunk), err
}

func TestPortSource_ReadByte(t *testing.T) {
	src := NewPortSource(&chunkReader{
		chunks: [][]byte{{0x01, 0x02}, {0x03}},
		errs:   []error{nil, nil},
	})

	for _, want := range []byte{0x01, 0x02, 0x03} {
		b, err := src.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, want, b)
	}

	_, err := src.ReadByte()
	assert.ErrorIs(t, err, slip.ErrSourceClosed)
}

func TestPortSource_Buffered(t *testing.T) {
	src := NewPortSource(&chunkReader{chunks: [][]byte{{1, 2, 3}}, errs: []error{nil}})
	_, err := src.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, 2, src.Buffered())
}

func TestPortSource_ZeroReadIsTimeout(t *testing.T) {
	src := NewPortSource(&chunkReader{
		chunks: [][]byte{{}, {0x7f}},
		errs:   []error{nil, nil},
	})

	_, err := src.ReadByte()
	assert.ErrorIs(t, err, slip.ErrReadTimeout)

	b, err := src.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x7f), b)
}

func TestPortSource_DataBeforeError(t *testing.T) {
	boom := errors.New("framing error")
	src := NewPortSource(&chunkReader{
		chunks: [][]byte{{0x10}, {}},
		errs:   []error{boom, boom},
	})

	b, err := src.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), b)

	_, err = src.ReadByte()
	var te *slip.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, boom)
}

func TestPortSource_ClosedPort(t *testing.T) {
	port := NewTestableSerialPort()
	port.Close()

	_, err := NewPortSource(port).ReadByte()
	assert.ErrorIs(t, err, slip.ErrSourceClosed)
}
