package mem

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrHeapOutOfMemory is returned when an allocation would exceed the heap's
// capacity and no free block is large enough to reuse.
var ErrHeapOutOfMemory = errors.New("heap out of memory")

const headerSize = 8

// freeBlock describes one entry on a size-bucketed free list.
type freeBlock struct {
	addr uint64
	size uint64
}

// Heap is a byte buffer with allocator metadata. Every live block carries
// an 8-byte size prefix at addr-8 (spec §3/§6) so realloc/free know the
// block's length without a side table. The heap never moves live data;
// addresses are stable until free. Freed blocks are kept on a free list and
// reused first-fit (the first block large enough) before the bump pointer
// is advanced, so repeated
// alloc/free cycles don't monotonically grow the backing buffer.
//
// Grounded on tinyrange-rtg/std/compiler/backend_vm.go's vm.alloc/
// vm.ensureMemory bump allocator, extended with free-list reuse and
// explicit realloc/free per spec §4.1 (the teacher's VM never frees).
type Heap struct {
	buf       []byte
	next      uint64
	capacity  uint64
	free      []freeBlock
	liveBytes uint64
	log       zerolog.Logger
}

// NewHeap allocates a Heap with the given maximum capacity in bytes. Address
// 0 is reserved as "null" — the first real block starts at a small non-zero
// offset, matching the teacher's guard-page convention.
func NewHeap(capacity uint64, log zerolog.Logger) *Heap {
	guard := uint64(64)
	if guard > capacity {
		guard = 0
	}
	return &Heap{
		buf:      make([]byte, guard, capacity),
		next:     guard,
		capacity: capacity,
		log:      log,
	}
}

func (h *Heap) ensure(n uint64) {
	if n <= uint64(len(h.buf)) {
		return
	}
	grown := make([]byte, n)
	copy(grown, h.buf)
	h.buf = grown
}

func (h *Heap) header(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(h.buf[addr-headerSize : addr])
}

func (h *Heap) setHeader(addr, size uint64) {
	binary.LittleEndian.PutUint64(h.buf[addr-headerSize:addr], size)
}

// Alloc reserves size bytes and returns the payload address (one past the
// size header). Reuses a free block of sufficient size when available
// before bumping the pointer.
func (h *Heap) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		size = 1
	}
	for i, fb := range h.free {
		if fb.size >= size {
			h.free = append(h.free[:i], h.free[i+1:]...)
			h.setHeader(fb.addr, fb.size)
			h.liveBytes += fb.size
			return fb.addr, nil
		}
	}
	headerAddr := h.next
	payload := headerAddr + headerSize
	end := payload + size
	if end > h.capacity {
		return 0, errors.Wrapf(ErrHeapOutOfMemory, "alloc %d bytes: heap capacity %d exhausted", size, h.capacity)
	}
	h.ensure(end)
	h.setHeader(payload, size)
	h.next = end
	h.liveBytes += size
	return payload, nil
}

// Size returns the size recorded in the -8 header of the block at addr:
// the requested size, or, for a block reused from the free list, that
// block's full size.
func (h *Heap) Size(addr uint64) (uint64, error) {
	if addr < headerSize || addr > uint64(len(h.buf)) {
		return 0, errors.Errorf("heap size: invalid address %d", addr)
	}
	return h.header(addr), nil
}

// Realloc resizes the block at addr to newSize, possibly moving it. The
// caller must use the returned address afterward.
func (h *Heap) Realloc(addr, newSize uint64) (uint64, error) {
	oldSize, err := h.Size(addr)
	if err != nil {
		return 0, err
	}
	if newSize <= oldSize {
		h.setHeader(addr, newSize)
		h.liveBytes -= oldSize - newSize
		return addr, nil
	}
	newAddr, err := h.Alloc(newSize)
	if err != nil {
		return 0, err
	}
	copy(h.buf[newAddr:newAddr+oldSize], h.buf[addr:addr+oldSize])
	h.free = append(h.free, freeBlock{addr: addr, size: oldSize})
	h.liveBytes -= oldSize
	return newAddr, nil
}

// Free releases the block at addr for reuse by a future Alloc/Realloc of
// equal or smaller size.
func (h *Heap) Free(addr uint64) error {
	size, err := h.Size(addr)
	if err != nil {
		return err
	}
	h.free = append(h.free, freeBlock{addr: addr, size: size})
	h.liveBytes -= size
	return nil
}

// Read returns n bytes starting at addr.
func (h *Heap) Read(addr uint64, n int) ([]byte, error) {
	if addr == 0 {
		return nil, errors.New("heap read through null pointer")
	}
	end := addr + uint64(n)
	if end > uint64(len(h.buf)) {
		return nil, errors.Errorf("heap read out of range: addr=%d n=%d size=%d", addr, n, len(h.buf))
	}
	out := make([]byte, n)
	copy(out, h.buf[addr:end])
	return out, nil
}

// Write overwrites bytes starting at addr.
func (h *Heap) Write(addr uint64, b []byte) error {
	if addr == 0 {
		return errors.New("heap write through null pointer")
	}
	end := addr + uint64(len(b))
	h.ensure(end)
	copy(h.buf[addr:end], b)
	return nil
}

// LiveBytes returns the sum of payload sizes of blocks currently allocated
// (not on the free list) — used by the heap-conservation property test
// (spec §8).
func (h *Heap) LiveBytes() uint64 { return h.liveBytes }

// Capacity returns the heap's maximum size in bytes.
func (h *Heap) Capacity() uint64 { return h.capacity }
