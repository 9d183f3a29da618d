package vm

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"j5.nz/casm/internal/casm"
	"j5.nz/casm/internal/mem"
)

// StdIO is the runtime's explicit output sink, threaded through Runtime
// rather than called as a package-global os.Stdout — this is the direct
// fix for REDESIGN FLAG "Global mutable state (stdio print buffers)",
// grounded on the teacher's std/io, std/fmt packages routing all output
// through explicit file descriptors rather than bare globals.
type StdIO struct {
	Out io.Writer
	Err io.Writer
}

// HostFunc is the signature every platform/FFI function implements: it
// receives the raw parameter bytes (concatenated per FunctionDescriptor's
// declared layout) and returns the raw result bytes (spec §6).
type HostFunc func(rt *Runtime, th *Thread, args []byte) ([]byte, error)

// FunctionDescriptor is one entry in the host FFI bridge's data-driven
// registry (spec §6, REDESIGN FLAG: replaces a proc-macro bridge with a
// `map[string]*FunctionDescriptor`).
type FunctionDescriptor struct {
	Name       string
	ParamSize  int
	ResultSize int
	Fn         HostFunc
}

// Runtime owns the shared heap, the thread table, the stdio sink, and the
// host FFI registry (spec §4.5: "Runtime{threads, heap, stdio}").
type Runtime struct {
	Heap  *mem.Heap
	Stdio *StdIO
	FFI   map[string]*FunctionDescriptor

	threads map[int]*Thread
	order   []int // tid ascending spawn order, for the scheduler's round-robin pass
	nextTID int

	maps      map[uint64]*mapTable
	nextMapID uint64

	log zerolog.Logger
}

func NewRuntime(heapCapacity uint64, stdio *StdIO, log zerolog.Logger) *Runtime {
	rt := &Runtime{
		Heap:    mem.NewHeap(heapCapacity, log),
		Stdio:   stdio,
		FFI:     make(map[string]*FunctionDescriptor),
		threads: make(map[int]*Thread),
		log:     log,
	}
	RegisterBuiltins(rt)
	return rt
}

// SpawnThread creates a new thread bound to prog, assigns it the next
// ascending thread id, and registers it for scheduling (spec §4.5/§4.6:
// the scheduler visits threads "in ascending tid order").
func (rt *Runtime) SpawnThread(prog *casm.Program, stackCapacity int) *Thread {
	tid := rt.nextTID
	rt.nextTID++
	th := NewThread(tid, prog, stackCapacity, rt.log)
	rt.threads[tid] = th
	rt.order = append(rt.order, tid)
	return th
}

// Thread looks up a thread by id.
func (rt *Runtime) Thread(tid int) (*Thread, bool) {
	th, ok := rt.threads[tid]
	return th, ok
}

// Threads returns all threads in ascending tid order.
func (rt *Runtime) Threads() []*Thread {
	ths := make([]*Thread, 0, len(rt.order))
	for _, tid := range rt.order {
		ths = append(ths, rt.threads[tid])
	}
	return ths
}

// RegisterFFI installs or replaces a platform function descriptor.
func (rt *Runtime) RegisterFFI(fd *FunctionDescriptor) { rt.FFI[fd.Name] = fd }

var ErrUnknownPlatformFunction = errors.New("vm: unknown platform function")
