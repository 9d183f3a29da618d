package vm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"j5.nz/casm/internal/casm"
	"j5.nz/casm/internal/mem"
)

func testRuntime() (*Runtime, *bytes.Buffer) {
	var out bytes.Buffer
	rt := NewRuntime(1<<20, &StdIO{Out: &out, Err: &out}, zerolog.Nop())
	return rt, &out
}

func encode32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

// TestHelloWorld exercises spec §8 scenario 1: a single thread prints a
// heap-resident string via the `println` platform call.
func TestHelloWorld(t *testing.T) {
	rt, out := testRuntime()
	addr, err := rt.NewString("hello, world")
	require.NoError(t, err)

	prog := casm.NewProgram()
	var ptr [8]byte
	binary.LittleEndian.PutUint64(ptr[:], addr)
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: ptr[:]})
	prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "println"})

	th := rt.SpawnThread(prog, 256)
	sched := NewScheduler(rt, 100)
	require.NoError(t, sched.RunUntilAllExited())
	require.Equal(t, ThreadExited, th.Status)
	require.NoError(t, th.Err)
	require.Equal(t, "hello, world\n", out.String())
}

// TestTwoCallArithmetic exercises scenario 2: calling add(2,3) through the
// Call.From/Call.Return protocol returns 5 on the stack.
func TestTwoCallArithmetic(t *testing.T) {
	rt, _ := testRuntime()
	prog := casm.NewProgram()

	addLabel := prog.NewLabel()
	prog.PlaceLabel(addLabel, "add")
	i32 := casm.NumType{Width: 4, Signed: true}
	prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: mem.FP(0), Level: mem.DirectLevel(), Size: 4})
	prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: mem.FP(4), Level: mem.DirectLevel(), Size: 4})
	prog.Emit(casm.Instruction{Op: casm.OpOperation, Kind: casm.OpAdd, NumT: i32})
	prog.Emit(casm.Instruction{Op: casm.OpStackFrameClean, Size: 4})
	prog.Emit(casm.Instruction{Op: casm.OpCallReturn})

	mainStart := prog.Len()
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: encode32(2)})
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: encode32(3)})
	prog.Emit(casm.Instruction{Op: casm.OpCallFrom, Label: addLabel, ParamSize: 8})
	prog.Emit(casm.Instruction{Op: casm.OpCallCheckError, Size: 4})
	prog.Cursor = mainStart

	th := rt.SpawnThread(prog, 256)
	sched := NewScheduler(rt, 100)
	require.NoError(t, sched.RunUntilAllExited())
	require.NoError(t, th.Err)

	require.Equal(t, 4, th.Stack.Top())
	b, err := th.Stack.ReadAt(0, 4)
	require.NoError(t, err)
	require.Equal(t, int32(5), int32(binary.LittleEndian.Uint32(b)))
}

// TestOperationOverflowTraps exercises spec §4.2's checked-arithmetic
// requirement: adding two i8 operands past 127 must trap with a MathError
// rather than silently wrap to a negative value.
func TestOperationOverflowTraps(t *testing.T) {
	rt, _ := testRuntime()
	prog := casm.NewProgram()
	i8 := casm.NumType{Width: 1, Signed: true}
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: []byte{100}})
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: []byte{100}})
	prog.Emit(casm.Instruction{Op: casm.OpOperation, Kind: casm.OpAdd, NumT: i8})

	th := rt.SpawnThread(prog, 256)
	sched := NewScheduler(rt, 100)
	require.NoError(t, sched.RunUntilAllExited())
	require.Equal(t, ThreadExited, th.Status)
	require.Error(t, th.Err)
}

// TestOperationNoOverflowWithinRange is the negative case for the same
// check: two i8 operands that sum within range must not trap.
func TestOperationNoOverflowWithinRange(t *testing.T) {
	rt, _ := testRuntime()
	prog := casm.NewProgram()
	i8 := casm.NumType{Width: 1, Signed: true}
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: []byte{100}})
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: []byte{20}})
	prog.Emit(casm.Instruction{Op: casm.OpOperation, Kind: casm.OpAdd, NumT: i8})

	th := rt.SpawnThread(prog, 256)
	sched := NewScheduler(rt, 100)
	require.NoError(t, sched.RunUntilAllExited())
	require.NoError(t, th.Err)
	require.Equal(t, 1, th.Stack.Top())
	b, err := th.Stack.ReadAt(0, 1)
	require.NoError(t, err)
	require.Equal(t, int8(120), int8(b[0]))
}

// TestVectorAppendGrowsOrderPreserving exercises scenario 3 and the
// resolved Open Question 1 growth policy: appending past capacity
// reallocates to cap*2*itemSize+16 total bytes and preserves element order.
func TestVectorAppendGrowsOrderPreserving(t *testing.T) {
	rt, _ := testRuntime()
	addr, err := rt.NewVector(0, 4)
	require.NoError(t, err)

	// Drive the append chain through the CASM Platform instruction rather
	// than calling AppendItem directly: each append's result address is
	// left on the stack, feeding straight into the next append.
	prog := casm.NewProgram()
	var ptr [8]byte
	binary.LittleEndian.PutUint64(ptr[:], addr)
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: ptr[:]})
	for i := int32(1); i <= 9; i++ {
		prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: encode32(i)})
		prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "append", Size: 4})
	}

	th := rt.SpawnThread(prog, 256)
	sched := NewScheduler(rt, 100)
	require.NoError(t, sched.RunUntilAllExited())
	require.NoError(t, th.Err)

	require.Equal(t, 8, th.Stack.Top())
	finalAddrB, err := th.Stack.ReadAt(0, 8)
	require.NoError(t, err)
	cur := binary.LittleEndian.Uint64(finalAddrB)

	head, err := rt.Heap.Read(cur, 16)
	require.NoError(t, err)
	length := binary.LittleEndian.Uint64(head[0:8])
	capacity := binary.LittleEndian.Uint64(head[8:16])
	require.Equal(t, uint64(9), length)
	require.Equal(t, uint64(16), capacity) // doubled 0->1->2->4->8->16

	payload, err := rt.Heap.Read(cur+16, int(length)*4)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		v := int32(binary.LittleEndian.Uint32(payload[i*4 : i*4+4]))
		require.Equal(t, int32(i+1), v)
	}
}

// TestTupleElementAssignment exercises scenario 4: writing to tuple
// element 1 of a 3-word tuple resident in the current frame's local block.
func TestTupleElementAssignment(t *testing.T) {
	rt, _ := testRuntime()
	prog := casm.NewProgram()
	prog.Emit(casm.Instruction{Op: casm.OpAllocStack, Size: 12})
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: encode32(42)})
	prog.Emit(casm.Instruction{Op: casm.OpMemCopyTake, Addr: mem.FZ(4), Level: mem.DirectLevel(), Size: 4})
	prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: mem.FZ(4), Level: mem.DirectLevel(), Size: 4})

	th := rt.SpawnThread(prog, 256)
	th.Stack.FramePush(0, 0) // synthetic "main" frame so FZ resolves
	sched := NewScheduler(rt, 100)
	require.NoError(t, sched.RunUntilAllExited())
	require.NoError(t, th.Err)

	b, err := th.Stack.ReadAt(th.Stack.Top()-4, 4)
	require.NoError(t, err)
	require.Equal(t, int32(42), int32(binary.LittleEndian.Uint32(b)))
}

// TestNestedStructFieldAssignment exercises scenario 5: a struct nested
// inside another struct is flattened to compile-time offsets, so assigning
// outer.inner.field is the same offset-write mechanism as a tuple element.
func TestNestedStructFieldAssignment(t *testing.T) {
	rt, _ := testRuntime()
	// struct Inner { a: i32, b: i32 }; struct Outer { x: i32, inner: Inner }
	// outer.inner.b lives at offset 4 (x) + 4 (inner.a) = 8.
	prog := casm.NewProgram()
	prog.Emit(casm.Instruction{Op: casm.OpAllocStack, Size: 12})
	prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: encode32(7)})
	prog.Emit(casm.Instruction{Op: casm.OpMemCopyTake, Addr: mem.FZ(8), Level: mem.DirectLevel(), Size: 4})
	prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: mem.FZ(8), Level: mem.DirectLevel(), Size: 4})

	th := rt.SpawnThread(prog, 256)
	th.Stack.FramePush(0, 0)
	sched := NewScheduler(rt, 100)
	require.NoError(t, sched.RunUntilAllExited())
	require.NoError(t, th.Err)

	b, err := th.Stack.ReadAt(th.Stack.Top()-4, 4)
	require.NoError(t, err)
	require.Equal(t, int32(7), int32(binary.LittleEndian.Uint32(b)))
}

// TestCrossThreadAscendingOrder exercises scenario 6's scheduling order
// with hand-built printer programs (no source is compiled): two threads,
// spawned in order, each printing one line; the scheduler visits them in
// ascending tid order every major frame, so output is deterministic.
func TestCrossThreadAscendingOrder(t *testing.T) {
	rt, out := testRuntime()

	mkPrinter := func(s string) *casm.Program {
		addr, err := rt.NewString(s)
		require.NoError(t, err)
		p := casm.NewProgram()
		var ptr [8]byte
		binary.LittleEndian.PutUint64(ptr[:], addr)
		p.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: ptr[:]})
		p.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "println"})
		return p
	}

	thA := rt.SpawnThread(mkPrinter("A"), 256)
	thB := rt.SpawnThread(mkPrinter("B"), 256)
	require.Equal(t, 0, thA.TID)
	require.Equal(t, 1, thB.TID)

	sched := NewScheduler(rt, 1)
	require.NoError(t, sched.RunUntilAllExited())
	require.Equal(t, "A\nB\n", out.String())
}
