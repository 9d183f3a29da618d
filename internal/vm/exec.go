package vm

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"j5.nz/casm/internal/casm"
)

// Signal is the result of one Step: either the instruction completed
// normally, or the thread voluntarily yielded, or it exited (spec §4.6:
// "Signal::YIELD / Signal::EXIT, scheduler-only").
type Signal int

const (
	SigNone Signal = iota
	SigYield
	SigExit
)

// RuntimeErrorKind classifies a RuntimeError (spec §7).
type RuntimeErrorKind int

const (
	ErrKindMath RuntimeErrorKind = iota
	ErrKindUnsupportedOperation
	ErrKindDeserialization
	ErrKindCodeSegmentation
	ErrKindStackOverflow
	ErrKindHeapOutOfMemory
	ErrKindAssert
)

// RuntimeError wraps a failure that occurred while executing an
// instruction, tagged with its taxonomy kind (spec §7) so the catch-stack
// dispatcher and structured logging can branch on it without string
// matching.
type RuntimeError struct {
	Kind RuntimeErrorKind
	Err  error
}

func (e *RuntimeError) Error() string { return e.Err.Error() }
func (e *RuntimeError) Unwrap() error { return e.Err }

func runtimeErr(kind RuntimeErrorKind, err error) *RuntimeError {
	return &RuntimeError{Kind: kind, Err: err}
}

// Step executes exactly one instruction at th's program cursor and
// advances it. It returns SigNone on a normal instruction, SigYield/SigExit
// for the two scheduler signals, and a non-nil error — always a
// *RuntimeError after classification — when an instruction fails. When a
// catch handler is active, Scheduler.runSlice does not surface that error;
// it re-enters at the top of the catch stack the way spec §7 describes.
func (rt *Runtime) Step(th *Thread) (Signal, error) {
	if th.Program.Cursor >= th.Program.Len() {
		return SigExit, nil
	}
	inst := th.Program.Instrs[th.Program.Cursor]
	th.Program.Cursor++

	switch inst.Op {
	case casm.OpLabel:
		return SigNone, nil

	case casm.OpSerialize:
		if _, err := th.Stack.Push(inst.Bytes); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	case casm.OpAllocStack:
		if _, err := th.Stack.Push(make([]byte, inst.Size)); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	case casm.OpAllocHeap:
		addr, err := rt.Heap.Alloc(uint64(inst.Size))
		if err != nil {
			return SigNone, runtimeErr(ErrKindHeapOutOfMemory, err)
		}
		if err := rt.pushU64(th, addr); err != nil {
			return SigNone, err
		}
		return SigNone, nil

	case casm.OpRealloc:
		old, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		addr, err := rt.Heap.Realloc(binary.LittleEndian.Uint64(old), uint64(inst.Size))
		if err != nil {
			return SigNone, runtimeErr(ErrKindHeapOutOfMemory, err)
		}
		if err := rt.pushU64(th, addr); err != nil {
			return SigNone, err
		}
		return SigNone, nil

	case casm.OpFree:
		b, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		if err := rt.Heap.Free(binary.LittleEndian.Uint64(b)); err != nil {
			return SigNone, runtimeErr(ErrKindHeapOutOfMemory, err)
		}
		return SigNone, nil

	case casm.OpStackFrameTransfer:
		// A no-op in every case: codegen never emits Transfer, and returns
		// go through StackFrame.Clean, which already positions the value.
		return SigNone, nil

	case casm.OpStackFrameClean:
		// flag is hardcoded 0: the surface language has no throw/raise
		// construct yet to set it, but the wire protocol (return_size + flag
		// pushed here, inspected by the caller's Call.CheckError) is complete.
		if err := th.CleanFrame(inst.Size, 0); err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		return SigNone, nil

	case casm.OpMemCopyDup:
		loc, err := rt.Resolve(th, inst.Addr, inst.Level)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		b, err := rt.Read(th, loc, inst.Size)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		if _, err := th.Stack.Push(b); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	case casm.OpMemCopyTake, casm.OpMemCopyTakeToHeap, casm.OpMemCopyTakeToStack:
		b, err := th.Stack.Pop(inst.Size)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		loc, err := rt.Resolve(th, inst.Addr, inst.Level)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		if err := rt.Write(th, loc, b); err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		return SigNone, nil

	case casm.OpMemCopyCloneFromSmartPointer:
		loc, err := rt.Resolve(th, inst.Addr, inst.Level)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		ptrBytes, err := rt.Read(th, loc, 8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		ptr := binary.LittleEndian.Uint64(ptrBytes)
		payload, err := rt.Heap.Read(ptr, inst.Size)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		if _, err := th.Stack.Push(payload); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	case casm.OpAccessStatic:
		loc, err := rt.Resolve(th, inst.Addr, inst.Level)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		b, err := rt.Read(th, loc, inst.Size)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		if _, err := th.Stack.Push(b); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	case casm.OpAccessIdx:
		idxB, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		ptrB, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		idx := int64(binary.LittleEndian.Uint64(idxB))
		base := binary.LittleEndian.Uint64(ptrB)
		addr := base + uint64(idx)*uint64(inst.Size)
		b, err := rt.Heap.Read(addr, inst.Size)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		if _, err := th.Stack.Push(b); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	// OpAccessIdxStore: stack holds [..., value(Size), basePtr(8), idx(8)]
	// top-down (value pushed first, then basePtr, then idx), mirroring
	// AccessIdx's load order (idx popped first, then ptr) with the value
	// popped last after both addressing operands.
	case casm.OpAccessIdxStore:
		idxB, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		ptrB, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		val, err := th.Stack.Pop(inst.Size)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		idx := int64(binary.LittleEndian.Uint64(idxB))
		base := binary.LittleEndian.Uint64(ptrB)
		addr := base + uint64(idx)*uint64(inst.Size)
		if err := rt.Heap.Write(addr, val); err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		return SigNone, nil

	case casm.OpOperation:
		if inst.Kind == casm.OpCast {
			x, err := th.Stack.Pop(inst.NumT.Width)
			if err != nil {
				return SigNone, runtimeErr(ErrKindStackOverflow, err)
			}
			out, err := applyCast(inst.NumT, inst.CastTo, x, inst.ToChar, inst.FromChar)
			if err != nil {
				return SigNone, runtimeErr(ErrKindMath, err)
			}
			if _, err := th.Stack.Push(out); err != nil {
				return SigNone, runtimeErr(ErrKindStackOverflow, err)
			}
			return SigNone, nil
		}
		if inst.Kind == casm.OpMinus || inst.Kind == casm.OpNot {
			x, err := th.Stack.Pop(inst.NumT.Width)
			if err != nil {
				return SigNone, runtimeErr(ErrKindStackOverflow, err)
			}
			out, err := applyUnary(inst.Kind, inst.NumT, x)
			if err != nil {
				return SigNone, runtimeErr(ErrKindUnsupportedOperation, err)
			}
			if _, err := th.Stack.Push(out); err != nil {
				return SigNone, runtimeErr(ErrKindStackOverflow, err)
			}
			return SigNone, nil
		}
		y, err := th.Stack.Pop(inst.NumT.Width)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		x, err := th.Stack.Pop(inst.NumT.Width)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		out, err := applyBinary(inst.Kind, inst.NumT, x, y)
		if err != nil {
			return SigNone, runtimeErr(ErrKindMath, err)
		}
		if _, err := th.Stack.Push(out); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	case casm.OpGoto:
		idx, err := th.Program.LabelIndex(inst.Label)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		th.Program.Cursor = idx
		return SigNone, nil

	case casm.OpIf:
		b, err := th.Stack.Pop(1)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		if !decodeBool(b) {
			idx, err := th.Program.LabelIndex(inst.Else)
			if err != nil {
				return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
			}
			th.Program.Cursor = idx
		}
		return SigNone, nil

	case casm.OpSwitch:
		b, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		v := int64(binary.LittleEndian.Uint64(b))
		target := inst.Else
		for _, c := range inst.Cases {
			if c.Value == v {
				target = c.Label
				break
			}
		}
		idx, err := th.Program.LabelIndex(target)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		th.Program.Cursor = idx
		return SigNone, nil

	case casm.OpCallFrom:
		idx, err := th.Program.LabelIndex(inst.Label)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		paramBase := th.Stack.Top() - inst.ParamSize
		th.Stack.FramePush(paramBase, th.Stack.Top())
		th.pushCall(callRecord{returnIP: th.Program.Cursor, isDirectLoop: inst.IsDirectLoop})
		th.Program.Cursor = idx
		return SigNone, nil

	case casm.OpCallIndirect:
		// Unlike Call.From, the target isn't a compile-time Label: it's the
		// code_idx half of a closure value (codegen.compileIndirectCall),
		// read back through the ordinary Addr/Level addressing machinery
		// instead of Program.LabelIndex.
		loc, err := rt.Resolve(th, inst.Addr, inst.Level)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		b, err := rt.Read(th, loc, 8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		idx := int64(binary.LittleEndian.Uint64(b))
		paramBase := th.Stack.Top() - inst.ParamSize
		th.Stack.FramePush(paramBase, th.Stack.Top())
		th.pushCall(callRecord{returnIP: th.Program.Cursor})
		th.Program.Cursor = int(idx)
		return SigNone, nil

	case casm.OpCallReturn:
		// The return value (plus its trailing return_size+flag pair) was
		// already placed on the stack by a preceding StackFrame.Clean
		// (codegen emits the two back to back); this only unwinds the frame
		// chain and the call stack.
		if err := th.Stack.FramePop(); err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		rec, ok := th.popCall()
		if !ok {
			return SigExit, nil // returning from the thread's entry function
		}
		th.Program.Cursor = rec.returnIP
		return SigNone, nil

	case casm.OpCallCheckError:
		flagB, err := th.Stack.Pop(1)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		sizeB, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		if flagB[0] == 0 {
			return SigNone, nil
		}
		retSize := binary.LittleEndian.Uint64(sizeB)
		if _, err := th.Stack.Pop(int(retSize)); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		target, ok := th.Program.CatchTop()
		if !ok {
			return SigNone, runtimeErr(ErrKindUnsupportedOperation, errors.New("vm: uncaught error return with no active catch handler"))
		}
		idx, err := th.Program.LabelIndex(target)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		th.Program.Cursor = idx
		return SigNone, nil

	case casm.OpTry:
		if inst.Label.IsZero() {
			th.Program.PopCatch()
		} else {
			th.Program.PushCatch(inst.Label)
		}
		return SigNone, nil

	case casm.OpPop:
		if _, err := th.Stack.Pop(inst.Size); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	case casm.OpPlatform:
		return SigNone, rt.execPlatform(th, inst)

	case casm.OpDataDump, casm.OpDataTable:
		return SigNone, nil

	case casm.OpAccessRuntime:
		offB, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		base, err := rt.Resolve(th, inst.Addr, inst.Level)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		dyn := base
		dyn.Addr += int64(binary.LittleEndian.Uint64(offB))
		b, err := rt.Read(th, dyn, inst.Size)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		if _, err := th.Stack.Push(b); err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		return SigNone, nil

	// OpAccessRuntimeStore: stack holds [..., value(Size), offset(8)]
	// top-down (value pushed first, then offset), mirroring
	// AccessRuntime's load (which pops offset first) and AccessIdxStore's
	// value-last pop order — the write counterpart needed for fixed-size
	// array element assignment, which (unlike a Vec's flat heap pointer)
	// may resolve to a stack-resident base via Resolve.
	case casm.OpAccessRuntimeStore:
		offB, err := th.Stack.Pop(8)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		val, err := th.Stack.Pop(inst.Size)
		if err != nil {
			return SigNone, runtimeErr(ErrKindStackOverflow, err)
		}
		base, err := rt.Resolve(th, inst.Addr, inst.Level)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		dyn := base
		dyn.Addr += int64(binary.LittleEndian.Uint64(offB))
		if err := rt.Write(th, dyn, val); err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		return SigNone, nil

	case casm.OpLocate:
		loc, err := rt.Resolve(th, inst.Addr, inst.Level)
		if err != nil {
			return SigNone, runtimeErr(ErrKindCodeSegmentation, err)
		}
		if !loc.Heap {
			return SigNone, runtimeErr(ErrKindUnsupportedOperation, errors.New("vm: Locate of a non-heap address is not supported"))
		}
		if err := rt.pushU64(th, uint64(loc.Addr)); err != nil {
			return SigNone, err
		}
		return SigNone, nil
	}

	return SigNone, runtimeErr(ErrKindUnsupportedOperation, errors.Errorf("vm: unimplemented opcode %s", inst.Op))
}

func (rt *Runtime) pushU64(th *Thread, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	if _, err := th.Stack.Push(b[:]); err != nil {
		return runtimeErr(ErrKindStackOverflow, err)
	}
	return nil
}

func (rt *Runtime) execPlatform(th *Thread, inst casm.Instruction) error {
	// append/str.new/vec.new/vec.get/vec.set are special-cased rather than
	// registered FunctionDescriptors because their argument/result shape
	// depends on inst.Size or inst.Bytes, which varies per call site —
	// codegen emits these names from its lowering of builtin calls, string
	// and vector literals, and vector indexing.
	switch inst.Name {
	case "append":
		itemSize := inst.Size
		args, err := th.Stack.Pop(8 + itemSize)
		if err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
		ptr := binary.LittleEndian.Uint64(args[0:8])
		item := args[8:]
		newAddr, err := rt.AppendItem(ptr, item)
		if err != nil {
			return runtimeErr(ErrKindHeapOutOfMemory, err)
		}
		return rt.pushU64(th, newAddr)

	case "str.new":
		addr, err := rt.NewString(string(inst.Bytes))
		if err != nil {
			return runtimeErr(ErrKindHeapOutOfMemory, err)
		}
		return rt.pushU64(th, addr)

	case "vec.new":
		addr, err := rt.NewVector(0, inst.Size)
		if err != nil {
			return runtimeErr(ErrKindHeapOutOfMemory, err)
		}
		return rt.pushU64(th, addr)

	case "vec.get":
		idxB, err := th.Stack.Pop(8)
		if err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
		ptrB, err := th.Stack.Pop(8)
		if err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
		item, err := rt.VecGet(binary.LittleEndian.Uint64(ptrB), int64(binary.LittleEndian.Uint64(idxB)), inst.Size)
		if err != nil {
			return runtimeErr(ErrKindCodeSegmentation, err)
		}
		if _, err := th.Stack.Push(item); err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
		return nil

	case "vec.set":
		item, err := th.Stack.Pop(inst.Size)
		if err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
		idxB, err := th.Stack.Pop(8)
		if err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
		ptrB, err := th.Stack.Pop(8)
		if err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
		if err := rt.VecSet(binary.LittleEndian.Uint64(ptrB), int64(binary.LittleEndian.Uint64(idxB)), inst.Size, item); err != nil {
			return runtimeErr(ErrKindCodeSegmentation, err)
		}
		return nil
	}

	fd, ok := rt.FFI[inst.Name]
	if !ok {
		return runtimeErr(ErrKindUnsupportedOperation, errors.Wrapf(ErrUnknownPlatformFunction, "%s", inst.Name))
	}
	var args []byte
	if fd.ParamSize > 0 {
		var err error
		args, err = th.Stack.Pop(fd.ParamSize)
		if err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
	}
	result, err := fd.Fn(rt, th, args)
	if err != nil {
		return runtimeErr(ErrKindUnsupportedOperation, err)
	}
	if fd.ResultSize > 0 {
		if _, err := th.Stack.Push(result); err != nil {
			return runtimeErr(ErrKindStackOverflow, err)
		}
	}
	return nil
}
