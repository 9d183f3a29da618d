package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeapAllocFreeRoundTrip(t *testing.T) {
	h := NewHeap(4096, testLogger())
	addr, err := h.Alloc(16)
	require.NoError(t, err)
	require.NotZero(t, addr)

	size, err := h.Size(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(16), size)

	require.NoError(t, h.Write(addr, []byte("0123456789abcdef")))
	got, err := h.Read(addr, 16)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789abcdef"), got)

	live := h.LiveBytes()
	require.NoError(t, h.Free(addr))
	require.Equal(t, live-16, h.LiveBytes())
}

func TestHeapFreeListReuse(t *testing.T) {
	h := NewHeap(4096, testLogger())
	a, err := h.Alloc(32)
	require.NoError(t, err)
	require.NoError(t, h.Free(a))

	b, err := h.Alloc(16)
	require.NoError(t, err)
	require.Equal(t, a, b, "free-list reuse should hand back the freed block")
}

func TestHeapReallocGrowMovesAndCopies(t *testing.T) {
	h := NewHeap(4096, testLogger())
	a, err := h.Alloc(4)
	require.NoError(t, err)
	require.NoError(t, h.Write(a, []byte("abcd")))

	b, err := h.Realloc(a, 8)
	require.NoError(t, err)
	got, err := h.Read(b, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("abcd"), got)

	size, err := h.Size(b)
	require.NoError(t, err)
	require.Equal(t, uint64(8), size)
}

func TestHeapReallocShrinkKeepsAddress(t *testing.T) {
	h := NewHeap(4096, testLogger())
	a, err := h.Alloc(16)
	require.NoError(t, err)
	b, err := h.Realloc(a, 4)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestHeapOutOfMemory(t *testing.T) {
	h := NewHeap(128, testLogger())
	_, err := h.Alloc(1024)
	require.ErrorIs(t, err, ErrHeapOutOfMemory)
}

func TestHeapConservation(t *testing.T) {
	h := NewHeap(1 << 20, testLogger())
	var addrs []uint64
	for i := 0; i < 50; i++ {
		a, err := h.Alloc(uint64(8 + i))
		require.NoError(t, err)
		addrs = append(addrs, a)
		require.LessOrEqual(t, h.LiveBytes(), h.Capacity())
	}
	for _, a := range addrs {
		require.NoError(t, h.Free(a))
	}
	require.Equal(t, uint64(0), h.LiveBytes())
}
