package fast

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBuffer_Integration verifies the complete lifecycle of writing and reading.
// It ensures that data written via Writer is correctly retrieved via Reader.
func TestBuffer_Integration(t *testing.T) {
	var (
		w *Writer
		r *Reader
		// Custom byte sequence to test bulk writing/reading
		extraData = []byte{0, 0, 0xFF, 9, 0}
	)

	t.Run("Writer", func(t *testing.T) {
		require := require.New(t)

		w = NewWriter(make([]byte, 0, 16))
		w.WriteUint8(0x64)
		w.WriteUint16(0x0102)
		w.WriteUint24(0x030405)
		w.WriteUint32(0x06070809)
		require.Equal(1+2+3+4, len(w.Bytes()))

		w.Write(extraData)
		require.Equal(10+len(extraData), len(w.Bytes()))
		require.Equal([]byte{0x64, 1, 2, 3, 4, 5, 6, 7, 8, 9}, w.Bytes()[:10])
	})

	t.Run("Reader", func(t *testing.T) {
		require := require.New(t)

		r = NewReader(w.Bytes())
		require.False(r.Empty())
		require.Equal(0, r.Position())

		b, err := r.ReadByte()
		require.NoError(err)
		require.Equal(byte(0x64), b)

		u16, err := r.ReadUint16()
		require.NoError(err)
		require.Equal(uint16(0x0102), u16)

		u24, err := r.ReadUint24()
		require.NoError(err)
		require.Equal(uint32(0x030405), u24)

		u32, err := r.ReadUint32()
		require.NoError(err)
		require.Equal(uint32(0x06070809), u32)
		require.Equal(10, r.Position())
		require.Equal(len(extraData), r.Remaining())

		require.Equal(extraData, r.Rest())
		require.True(r.Empty())
	})
}

// TestBuffer_Boundaries checks that reads past the end fail with ErrShortBuffer
// and leave the cursor untouched.
func TestBuffer_Boundaries(t *testing.T) {
	t.Run("Empty Buffer", func(t *testing.T) {
		r := NewReader([]byte{})
		require.True(t, r.Empty())
		_, err := r.ReadByte()
		require.True(t, errors.Is(err, ErrShortBuffer))
		require.Equal(t, 0, r.Position())
	})

	t.Run("Partial Reads", func(t *testing.T) {
		require := require.New(t)
		r := NewReader([]byte{1, 2, 3, 4, 5})

		chunk1, err := r.Next(2)
		require.NoError(err)
		require.Equal([]byte{1, 2}, chunk1)

		_, err = r.ReadUint32()
		require.True(errors.Is(err, ErrShortBuffer))
		require.Equal(2, r.Position(), "failed read must not advance the cursor")

		chunk2, err := r.Next(3)
		require.NoError(err)
		require.Equal([]byte{3, 4, 5}, chunk2)
		require.True(r.Empty())
	})

	t.Run("Negative length", func(t *testing.T) {
		_, err := NewReader([]byte{1}).Next(-1)
		require.True(t, errors.Is(err, ErrShortBuffer))
	})

	t.Run("Write to nil buffer", func(t *testing.T) {
		w := NewWriter(nil)
		w.WriteUint8(0xAA)
		require.Equal(t, []byte{0xAA}, w.Bytes())
	})
}

// Benchmark compares the reader against bytes.Reader.
func Benchmark(b *testing.B) {
	src := make([]byte, 1000)
	_, _ = rand.Read(src)

	b.Run("Std", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			r := bytes.NewReader(src)
			for j := 0; j < len(src); j++ {
				_, _ = r.ReadByte()
			}
		}
	})
	b.Run("Fast", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			r := NewReader(src)
			for j := 0; j < len(src); j++ {
				_, _ = r.ReadByte()
			}
		}
	})
}
