package driver

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSoftwareSliceSkipsAndLimits(t *testing.T) {
	body := io.NopCloser(strings.NewReader("0123456789"))
	sliced := SoftwareSlice(body, ByteRange{Start: 2, End: 4})
	got, err := io.ReadAll(sliced)
	require.NoError(t, err)
	assert.Equal(t, "234", string(got))
}

func TestSoftwareSliceOpenEndedReadsToEOF(t *testing.T) {
	body := io.NopCloser(strings.NewReader("0123456789"))
	sliced := SoftwareSlice(body, ByteRange{Start: 5, End: -1})
	got, err := io.ReadAll(sliced)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(got))
}

func TestSoftwareSliceFromStartReturnsWholePrefix(t *testing.T) {
	body := io.NopCloser(strings.NewReader("hello world"))
	sliced := SoftwareSlice(body, ByteRange{Start: 0, End: 4})
	got, err := io.ReadAll(sliced)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestSoftwareSliceSmallReadsAccumulateAcrossCalls(t *testing.T) {
	body := io.NopCloser(strings.NewReader("abcdefghij"))
	sliced := SoftwareSlice(body, ByteRange{Start: 3, End: 7})
	buf := make([]byte, 2)
	var out []byte
	for {
		n, err := sliced.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Equal(t, "defgh", string(out))
}

func TestSoftwareSliceClosesUnderlyingBody(t *testing.T) {
	body := &closeTrackingReader{Reader: strings.NewReader("0123456789")}
	sliced := SoftwareSlice(body, ByteRange{Start: 0, End: -1})
	require.NoError(t, sliced.Close())
	assert.True(t, body.closed)
}

type closeTrackingReader struct {
	io.Reader
	closed bool
}

func (c *closeTrackingReader) Close() error {
	c.closed = true
	return nil
}
