package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinBytes(t *testing.T) {
	t.Run("multiple slices concatenated", func(t *testing.T) {
		assert.Equal(t, []byte("foobarbaz"), JoinBytes([]byte("foo"), []byte("bar"), []byte("baz")))
	})

	t.Run("empty slices", func(t *testing.T) {
		assert.Equal(t, []byte("a"), JoinBytes([]byte{}, []byte("a"), nil))
	})

	t.Run("no args returns empty", func(t *testing.T) {
		assert.Empty(t, JoinBytes())
	})

	t.Run("result does not alias inputs", func(t *testing.T) {
		in := []byte{1, 2}
		out := JoinBytes(in)
		out[0] = 9
		assert.Equal(t, byte(1), in[0])
	})
}

func TestPrependByte(t *testing.T) {
	assert.Equal(t, []byte{0xFF, 0x04}, PrependByte(0xFF, []byte{0x04}))
	assert.Equal(t, []byte{0x05}, PrependByte(0x05, nil))
}
