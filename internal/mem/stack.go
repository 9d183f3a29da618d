package mem

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrStackOverflow is returned when a push would exceed the stack's capacity.
var ErrStackOverflow = errors.New("stack overflow")

// ErrStackUnderflow is returned when a pop or frame_pop is requested beyond
// what the stack currently holds.
var ErrStackUnderflow = errors.New("stack underflow")

// frameRecord is one entry in the frame-pointer chain maintained alongside
// the byte stack by frame_push/frame_pop (see spec §4.1, call protocol in
// §4.4). paramBase is the FP(0) anchor, localBase is the FZ(0) anchor.
type frameRecord struct {
	paramBase int
	localBase int
}

// Stack is a contiguous byte buffer with a monotonically increasing "top"
// index, plus a secondary frame-pointer chain used by the call protocol.
// Grounded on tinyrange-rtg/std/compiler/backend_vm.go's flat []byte VM
// memory and its separate frame-stack region, generalized here into one
// reusable type used once per Thread.
type Stack struct {
	buf      []byte
	top      int
	capacity int
	frames   []frameRecord
	log      zerolog.Logger
}

// NewStack allocates a Stack with the given maximum capacity in bytes.
func NewStack(capacity int, log zerolog.Logger) *Stack {
	return &Stack{
		buf:      make([]byte, 0, capacity),
		capacity: capacity,
		log:      log,
	}
}

// Top returns the current top index (the stack's logical size in bytes).
func (s *Stack) Top() int { return s.top }

// Push appends bytes at the top of the stack and returns the offset they
// were written at. Fails only on capacity.
func (s *Stack) Push(b []byte) (int, error) {
	if s.top+len(b) > s.capacity {
		return 0, errors.Wrapf(ErrStackOverflow, "push %d bytes at top=%d capacity=%d", len(b), s.top, s.capacity)
	}
	start := s.top
	if start+len(b) > len(s.buf) {
		grown := make([]byte, start+len(b))
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[start:start+len(b)], b)
	s.top = start + len(b)
	return start, nil
}

// Pop removes and returns the top n bytes. Fails if n exceeds top.
func (s *Stack) Pop(n int) ([]byte, error) {
	if n > s.top {
		return nil, errors.Wrapf(ErrStackUnderflow, "pop %d bytes at top=%d", n, s.top)
	}
	out := make([]byte, n)
	copy(out, s.buf[s.top-n:s.top])
	s.top -= n
	return out, nil
}

// Dup duplicates the top n bytes, leaving two copies on the stack.
func (s *Stack) Dup(n int) error {
	if n > s.top {
		return errors.Wrapf(ErrStackUnderflow, "dup %d bytes at top=%d", n, s.top)
	}
	buf := make([]byte, n)
	copy(buf, s.buf[s.top-n:s.top])
	_, err := s.Push(buf)
	return err
}

// ReadAt reads n bytes starting at an absolute byte index, used once an
// Offset has been resolved to a concrete index by the caller (see
// internal/vm, which owns both Stack and Heap and so resolves FE
// indirection across both).
func (s *Stack) ReadAt(addr, n int) ([]byte, error) {
	if addr < 0 || addr+n > s.top {
		return nil, errors.Errorf("stack read out of range: addr=%d n=%d top=%d", addr, n, s.top)
	}
	out := make([]byte, n)
	copy(out, s.buf[addr:addr+n])
	return out, nil
}

// WriteAt overwrites n bytes starting at an absolute byte index in place.
func (s *Stack) WriteAt(addr int, b []byte) error {
	if addr < 0 || addr+len(b) > s.top {
		return errors.Errorf("stack write out of range: addr=%d n=%d top=%d", addr, len(b), s.top)
	}
	copy(s.buf[addr:addr+len(b)], b)
	return nil
}

// FramePush records a new frame on the frame-pointer chain: paramBase is
// the byte index of the first parameter (FP(0)), localBase is the byte
// index of the first local (FZ(0)).
func (s *Stack) FramePush(paramBase, localBase int) {
	s.frames = append(s.frames, frameRecord{paramBase: paramBase, localBase: localBase})
}

// FramePop removes the most recent frame record; it fails on an empty
// frame chain.
func (s *Stack) FramePop() error {
	if len(s.frames) == 0 {
		return errors.New("frame_pop on empty frame chain")
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// FrameDepth returns how many frames are currently on the chain.
func (s *Stack) FrameDepth() int { return len(s.frames) }

// FrameAt returns the (paramBase, localBase) pair k frames up from the
// current one (k=0 is the current frame), used to resolve AccessLevel
// Backward(k).
func (s *Stack) FrameAt(k int) (paramBase, localBase int, err error) {
	idx := len(s.frames) - 1 - k
	if idx < 0 || idx >= len(s.frames) {
		return 0, 0, errors.Errorf("frame chain has no entry %d frames back (depth=%d)", k, len(s.frames))
	}
	rec := s.frames[idx]
	return rec.paramBase, rec.localBase, nil
}
