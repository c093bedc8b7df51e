package protocol

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestEncodeFrame(t *testing.T) {
	t.Run("length counts only the payload", func(t *testing.T) {
		frame, err := EncodeFrame([]byte{0x05, 'h', 'i'})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x03, 0x00, 0x05, 'h', 'i'}, frame)
	})

	t.Run("length is little-endian", func(t *testing.T) {
		frame, err := EncodeFrame(make([]byte, 0x0102))
		require.NoError(t, err)
		assert.Equal(t, byte(0x02), frame[0])
		assert.Equal(t, byte(0x01), frame[1])
	})

	t.Run("empty payload", func(t *testing.T) {
		frame, err := EncodeFrame(nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x00}, frame)
	})

	t.Run("max payload accepted", func(t *testing.T) {
		frame, err := EncodeFrame(make([]byte, MaxPayloadSize))
		require.NoError(t, err)
		assert.Len(t, frame, MaxPayloadSize+HeaderSize)
	})

	t.Run("oversized payload rejected", func(t *testing.T) {
		_, err := EncodeFrame(make([]byte, MaxPayloadSize+1))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})
}

func TestFrameRoundTrip(t *testing.T) {
	bodies := map[string][]byte{
		"empty body":   {},
		"short body":   []byte("hello"),
		"binary body":  {0x00, 0xFF, 0x10, 0x00},
		"largest body": bytes.Repeat([]byte{0xAB}, MaxPayloadSize-1),
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, EncodeMessage(0x2A, body)))

			payload, err := ReadFrame(&buf)
			require.NoError(t, err)

			op, got, ok := SplitPayload(payload)
			require.True(t, ok)
			assert.Equal(t, byte(0x2A), op)
			assert.Equal(t, body, got)
			assert.Zero(t, buf.Len())
		})
	}
}

func TestReadFrame_sequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte{0x01, 'a'}))
	require.NoError(t, WriteFrame(&buf, []byte{}))
	require.NoError(t, WriteFrame(&buf, []byte{0x02}))

	p1, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 'a'}, p1)

	p2, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, p2)

	p3, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, p3)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_failures(t *testing.T) {
	t.Run("clean EOF before header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
		assert.NotErrorIs(t, err, ErrShortFrame)
	})

	t.Run("partial header", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0x05}))
		assert.ErrorIs(t, err, ErrShortFrame)
	})

	t.Run("body cut short", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0x05, 0x00, 0x01, 0x02}))
		assert.ErrorIs(t, err, ErrShortFrame)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("body missing entirely", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader([]byte{0x02, 0x00}))
		assert.ErrorIs(t, err, ErrShortFrame)
	})

	t.Run("underlying error is surfaced", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := ReadFrame(failingReader{err: boom})
		assert.ErrorIs(t, err, boom)
	})
}

func TestSplitPayload(t *testing.T) {
	_, _, ok := SplitPayload(nil)
	assert.False(t, ok)

	op, body, ok := SplitPayload([]byte{0x07})
	assert.True(t, ok)
	assert.Equal(t, byte(0x07), op)
	assert.Empty(t, body)
}

func TestDatagram(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		raw := EncodeDatagram(0xBEEF, 0x09, []byte("pos"))
		assert.Equal(t, []byte{0xEF, 0xBE, 0x09, 'p', 'o', 's'}, raw)

		d, err := DecodeDatagram(raw)
		require.NoError(t, err)
		assert.Equal(t, uint16(0xBEEF), d.SessionID)
		assert.Equal(t, byte(0x09), d.Opcode)
		assert.Equal(t, []byte("pos"), d.Body)
	})

	t.Run("encode copies body", func(t *testing.T) {
		body := []byte("ab")
		raw := EncodeDatagram(7, 0x01, body)
		body[0] = 'z'

		assert.Equal(t, []byte{0x07, 0x00, 0x01, 'a', 'b'}, raw)
		assert.Equal(t, []byte{0x07, 0x00, 0x01}, EncodeDatagram(7, 0x01, nil))
	})

	t.Run("opcode without body", func(t *testing.T) {
		d, err := DecodeDatagram([]byte{0x01, 0x00, 0x03})
		require.NoError(t, err)
		assert.Equal(t, uint16(1), d.SessionID)
		assert.Empty(t, d.Body)
	})

	t.Run("too short", func(t *testing.T) {
		for _, raw := range [][]byte{nil, {0x01}, {0x01, 0x00}} {
			_, err := DecodeDatagram(raw)
			assert.ErrorIs(t, err, ErrShortDatagram)
		}
	})

	t.Run("peek id", func(t *testing.T) {
		id, ok := PeekDatagramID([]byte{0x34, 0x12})
		assert.True(t, ok)
		assert.Equal(t, uint16(0x1234), id)

		_, ok = PeekDatagramID([]byte{0x34})
		assert.False(t, ok)
	})
}

func TestIsHandshake(t *testing.T) {
	assert.True(t, IsHandshake([]byte{0xFF, 0x01}))

	rejected := [][]byte{
		nil,
		{},
		{0xFF},
		{0x01, 0xFF},
		{0xFF, 0x02},
		{0xFF, 0x01, 0x00},
	}
	for _, p := range rejected {
		assert.False(t, IsHandshake(p), "payload %x", p)
	}
}

func TestHandshakeReply(t *testing.T) {
	t.Run("success carries the udp id", func(t *testing.T) {
		reply := HandshakeReply(true, 0x0102)
		assert.Equal(t, []byte{0xFF, 0x01, 0x01, 0x02, 0x01}, reply)

		id, ok := ParseHandshakeReply(reply)
		assert.True(t, ok)
		assert.Equal(t, uint16(0x0102), id)
	})

	t.Run("failure has no id", func(t *testing.T) {
		reply := HandshakeReply(false, 99)
		assert.Equal(t, []byte{0xFF, 0x01, 0x00}, reply)

		_, ok := ParseHandshakeReply(reply)
		assert.False(t, ok)
	})

	t.Run("unrelated payload", func(t *testing.T) {
		_, ok := ParseHandshakeReply([]byte{0x05, 0x01, 0x01, 0x00, 0x00})
		assert.False(t, ok)
	})
}

func TestMessage(t *testing.T) {
	m := NewMessage(UDP, 0x10, []byte("héllo"))
	assert.Equal(t, UDP, m.Transport())
	assert.Equal(t, byte(0x10), m.Opcode())
	assert.Equal(t, "héllo", m.Text())
	assert.Equal(t, 6, m.Len())

	empty := NewMessage(TCP, 0x01, nil)
	assert.NotNil(t, empty.Payload())
	assert.Equal(t, "", empty.Text())

	assert.Equal(t, "tcp", TCP.String())
	assert.Equal(t, "udp", UDP.String())
	assert.Equal(t, "unknown", Transport(9).String())
}
