package mem

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestStackPushPopRoundTrip(t *testing.T) {
	s := NewStack(1024, testLogger())
	off, err := s.Push([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	require.Equal(t, 0, off)
	require.Equal(t, 4, s.Top())

	got, err := s.Pop(4)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, got)
	require.Equal(t, 0, s.Top())
}

func TestStackOverflow(t *testing.T) {
	s := NewStack(4, testLogger())
	_, err := s.Push([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = s.Push([]byte{5})
	require.ErrorIs(t, err, ErrStackOverflow)
}

func TestStackUnderflow(t *testing.T) {
	s := NewStack(16, testLogger())
	_, err := s.Pop(1)
	require.ErrorIs(t, err, ErrStackUnderflow)
}

func TestStackDup(t *testing.T) {
	s := NewStack(16, testLogger())
	_, err := s.Push([]byte{9, 9})
	require.NoError(t, err)
	require.NoError(t, s.Dup(2))
	require.Equal(t, 4, s.Top())
	got, err := s.Pop(4)
	require.NoError(t, err)
	require.Equal(t, []byte{9, 9, 9, 9}, got)
}

func TestStackFrameChain(t *testing.T) {
	s := NewStack(64, testLogger())
	s.FramePush(0, 8)
	s.FramePush(16, 24)

	pb, lb, err := s.FrameAt(0)
	require.NoError(t, err)
	require.Equal(t, 16, pb)
	require.Equal(t, 24, lb)

	pb, lb, err = s.FrameAt(1)
	require.NoError(t, err)
	require.Equal(t, 0, pb)
	require.Equal(t, 8, lb)

	_, _, err = s.FrameAt(2)
	require.Error(t, err)

	require.NoError(t, s.FramePop())
	require.Equal(t, 1, s.FrameDepth())
	require.NoError(t, s.FramePop())
	require.Equal(t, 0, s.FrameDepth())
	require.Error(t, s.FramePop())
}

func TestStackWriteAtReadAt(t *testing.T) {
	s := NewStack(32, testLogger())
	_, err := s.Push([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, s.WriteAt(1, []byte{42, 43}))
	got, err := s.ReadAt(0, 4)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 42, 43, 0}, got)
}
