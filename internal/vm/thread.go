// Package vm implements the Thread/Runtime/Scheduler cooperative-execution
// model and the CASM dispatch loop (spec §4.5, §4.6). Grounded on the
// teacher's backend_vm.go VM struct and execFunc dispatch loop, generalized
// from a single `main.main` execution to many cooperatively scheduled
// threads sharing one heap.
package vm

import (
	"encoding/binary"

	"github.com/rs/zerolog"

	"j5.nz/casm/internal/casm"
	"j5.nz/casm/internal/mem"
)

// ThreadStatus is a thread's scheduling state.
type ThreadStatus int

const (
	ThreadReady ThreadStatus = iota
	ThreadBlocked
	ThreadExited
)

// callRecord is pushed by Call.From and popped by Call.Return; it holds the
// return address and Call.From's IsDirectLoop flag, which no instruction
// reads (spec §4.4's call/return protocol).
type callRecord struct {
	returnIP     int
	isDirectLoop bool
}

// Thread is one cooperatively scheduled program counter plus its own
// stack, running against the Runtime's shared heap (spec §4.5: "Thread{tid,
// program, stack, heap-ref}").
type Thread struct {
	TID     int
	Program *casm.Program
	Stack   *mem.Stack

	Status   ThreadStatus
	ExitCode int
	Err      error

	calls []callRecord
	log   zerolog.Logger
}

// NewThread creates a thread with its own stack, ready to run prog from
// instruction 0.
func NewThread(tid int, prog *casm.Program, stackCapacity int, log zerolog.Logger) *Thread {
	return &Thread{
		TID:     tid,
		Program: prog,
		Stack:   mem.NewStack(stackCapacity, log),
		Status:  ThreadReady,
		log:     log.With().Int("tid", tid).Logger(),
	}
}

func (t *Thread) pushCall(rec callRecord) { t.calls = append(t.calls, rec) }

func (t *Thread) popCall() (callRecord, bool) {
	if len(t.calls) == 0 {
		return callRecord{}, false
	}
	rec := t.calls[len(t.calls)-1]
	t.calls = t.calls[:len(t.calls)-1]
	return rec, true
}

// CleanFrame implements StackFrame.Clean (spec §4.4 and §7's return
// protocol): pop the current frame's combined param+local region while
// preserving the top keepSize bytes (the in-flight return value), leaving
// the stack as it was before the call's parameters were pushed, plus the
// return value on top. It then pushes the 8-byte return_size and the 1-byte
// error flag the caller-side Call.CheckError inspects to decide whether to
// fall through with the return value or dispatch to the catch stack.
func (t *Thread) CleanFrame(keepSize int, flag byte) error {
	keep, err := t.Stack.Pop(keepSize)
	if err != nil {
		return err
	}
	paramBase, _, err := t.Stack.FrameAt(0)
	if err != nil {
		return err
	}
	frameBytes := t.Stack.Top() - paramBase
	if frameBytes > 0 {
		if _, err := t.Stack.Pop(frameBytes); err != nil {
			return err
		}
	}
	if len(keep) > 0 {
		if _, err := t.Stack.Push(keep); err != nil {
			return err
		}
	}
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(keepSize))
	if _, err := t.Stack.Push(sizeBuf[:]); err != nil {
		return err
	}
	if _, err := t.Stack.Push([]byte{flag}); err != nil {
		return err
	}
	return nil
}
