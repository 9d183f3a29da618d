package vm

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"j5.nz/casm/internal/mem"
)

// Location is a resolved, space-tagged address: either a byte offset into
// a thread's own stack, or a byte address into the runtime's shared heap.
// This is the piece `internal/mem` deliberately left unresolved (see its
// package doc / DESIGN.md): FE(env,k) needs to read a pointer out of the
// Stack and then dereference into the Heap, which only this package, owning
// both per Thread, can do.
type Location struct {
	Heap bool
	Addr int64 // stack offset, or (if Heap) a heap address truncated to int64
}

// Resolve turns a mem.Offset/mem.Level pair into a concrete Location
// against th's current frame chain (spec §3's addressing modes: SB, FP,
// FZ, ST, FE).
func (rt *Runtime) Resolve(th *Thread, off mem.Offset, lvl mem.Level) (Location, error) {
	switch off.Kind {
	case mem.OffSB:
		return Location{Addr: off.N}, nil
	case mem.OffST:
		return Location{Addr: int64(th.Stack.Top()) - off.N}, nil
	case mem.OffFP, mem.OffFZ:
		k := 0
		if lvl.Kind == mem.Backward {
			k = lvl.K
		}
		paramBase, localBase, err := th.Stack.FrameAt(k)
		if err != nil {
			return Location{}, err
		}
		if off.Kind == mem.OffFP {
			return Location{Addr: int64(paramBase) + off.N}, nil
		}
		return Location{Addr: int64(localBase) + off.N}, nil
	case mem.OffFE:
		// The environment pointer is an 8-byte heap address stored at
		// FP(Env) in th's CURRENT frame (SPEC_FULL.md's FE ABI note: always
		// FP(-8) for a closure-lowered function, but Env is carried on the
		// instruction so codegen is free to place it elsewhere).
		ptrLoc, err := rt.Resolve(th, mem.FP(off.Env), mem.DirectLevel())
		if err != nil {
			return Location{}, err
		}
		b, err := th.Stack.ReadAt(int(ptrLoc.Addr), 8)
		if err != nil {
			return Location{}, errors.Wrap(err, "vm: reading closure env pointer")
		}
		ptr := binary.LittleEndian.Uint64(b)
		return Location{Heap: true, Addr: int64(ptr) + off.K}, nil
	}
	return Location{}, errors.Errorf("vm: unresolvable offset kind %d", off.Kind)
}

// Read loads n bytes from a resolved Location.
func (rt *Runtime) Read(th *Thread, loc Location, n int) ([]byte, error) {
	if loc.Heap {
		return rt.Heap.Read(uint64(loc.Addr), n)
	}
	return th.Stack.ReadAt(int(loc.Addr), n)
}

// Write stores b at a resolved Location.
func (rt *Runtime) Write(th *Thread, loc Location, b []byte) error {
	if loc.Heap {
		return rt.Heap.Write(uint64(loc.Addr), b)
	}
	return th.Stack.WriteAt(int(loc.Addr), b)
}
