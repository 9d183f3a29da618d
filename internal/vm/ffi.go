package vm

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// RegisterBuiltins installs the platform stdlib call surface described in
// SPEC_FULL.md §6: print/println and a minimal map_* family (append is
// special-cased in execPlatform rather than registered here), the
// "minimum needed to run the [spec §8] scenarios, not a general standard
// library." Each is a FunctionDescriptor in the data-driven registry that
// replaces the REDESIGN-FLAGGED proc-macro bridge.
func RegisterBuiltins(rt *Runtime) {
	rt.RegisterFFI(&FunctionDescriptor{Name: "print", ParamSize: 8, ResultSize: 0, Fn: hostPrint(false)})
	rt.RegisterFFI(&FunctionDescriptor{Name: "println", ParamSize: 8, ResultSize: 0, Fn: hostPrint(true)})
	rt.RegisterFFI(&FunctionDescriptor{Name: "map_new", ParamSize: 0, ResultSize: 8, Fn: hostMapNew})
	rt.RegisterFFI(&FunctionDescriptor{Name: "map_len", ParamSize: 8, ResultSize: 8, Fn: hostMapLen})
	rt.RegisterFFI(&FunctionDescriptor{Name: "map_get", ParamSize: 16, ResultSize: 8, Fn: hostMapGet})
	rt.RegisterFFI(&FunctionDescriptor{Name: "map_set", ParamSize: 24, ResultSize: 0, Fn: hostMapSet})
	rt.RegisterFFI(&FunctionDescriptor{Name: "map_delete", ParamSize: 16, ResultSize: 0, Fn: hostMapDelete})
}

// readSmartBytes dereferences an 8-byte string/byte-vector smart pointer
// at vm's shared heap layout `[len:u64, cap:u64, payload...]` (spec §6).
func (rt *Runtime) readSmartBytes(ptr uint64) ([]byte, error) {
	head, err := rt.Heap.Read(ptr, 16)
	if err != nil {
		return nil, errors.Wrap(err, "vm: reading smart-pointer header")
	}
	length := binary.LittleEndian.Uint64(head[0:8])
	return rt.Heap.Read(ptr+16, int(length))
}

func hostPrint(newline bool) HostFunc {
	return func(rt *Runtime, th *Thread, args []byte) ([]byte, error) {
		if len(args) < 8 {
			return nil, errors.New("vm: print: short argument buffer")
		}
		ptr := binary.LittleEndian.Uint64(args[0:8])
		payload, err := rt.readSmartBytes(ptr)
		if err != nil {
			return nil, err
		}
		if _, err := rt.Stdio.Out.Write(payload); err != nil {
			return nil, errors.Wrap(err, "vm: print: write")
		}
		if newline {
			if _, err := rt.Stdio.Out.Write([]byte{'\n'}); err != nil {
				return nil, errors.Wrap(err, "vm: println: write newline")
			}
		}
		return nil, nil
	}
}

// AppendItem implements the vector append/grow policy resolved in
// SPEC_FULL.md §9 Open Question 1, confirmed directly against
// original_source/src/vm/platform/core/alloc.rs's valid_append test:
// order-preserving, new total block size `cap*2*itemSize + 16` on
// overflow. Exposed as a method (not a FunctionDescriptor closure) because
// codegen needs the item size, which varies per call site and is carried
// on the CASM Platform instruction's Size field rather than packed into
// the argument bytes.
func (rt *Runtime) AppendItem(vecPtr uint64, item []byte) (uint64, error) {
	itemSize := len(item)
	head, err := rt.Heap.Read(vecPtr, 16)
	if err != nil {
		return 0, errors.Wrap(err, "vm: append: reading vector header")
	}
	length := binary.LittleEndian.Uint64(head[0:8])
	cap_ := binary.LittleEndian.Uint64(head[8:16])

	addr := vecPtr
	if length >= cap_ {
		newCap := cap_ * 2
		if newCap == 0 {
			newCap = 1
		}
		newTotal := newCap*uint64(itemSize) + 16
		addr, err = rt.Heap.Realloc(vecPtr, newTotal)
		if err != nil {
			return 0, errors.Wrap(err, "vm: append: growing vector")
		}
		var capBuf [8]byte
		binary.LittleEndian.PutUint64(capBuf[:], newCap)
		if err := rt.Heap.Write(addr+8, capBuf[:]); err != nil {
			return 0, err
		}
	}
	offset := addr + 16 + length*uint64(itemSize)
	if err := rt.Heap.Write(offset, item); err != nil {
		return 0, errors.Wrap(err, "vm: append: writing item")
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], length+1)
	if err := rt.Heap.Write(addr, lenBuf[:]); err != nil {
		return 0, err
	}
	return addr, nil
}

// NewVector allocates an empty vector block with capacity for n items of
// itemSize bytes each (used by codegen when lowering a vec[...] literal).
func (rt *Runtime) NewVector(n, itemSize int) (uint64, error) {
	total := uint64(16 + n*itemSize)
	addr, err := rt.Heap.Alloc(total)
	if err != nil {
		return 0, err
	}
	var head [16]byte
	binary.LittleEndian.PutUint64(head[8:16], uint64(n))
	if err := rt.Heap.Write(addr, head[:]); err != nil {
		return 0, err
	}
	return addr, nil
}

// NewString allocates a heap block holding s in the shared
// `[len,cap,payload]` smart-pointer layout.
func (rt *Runtime) NewString(s string) (uint64, error) {
	addr, err := rt.Heap.Alloc(uint64(16 + len(s)))
	if err != nil {
		return 0, err
	}
	var head [16]byte
	binary.LittleEndian.PutUint64(head[0:8], uint64(len(s)))
	binary.LittleEndian.PutUint64(head[8:16], uint64(len(s)))
	if err := rt.Heap.Write(addr, head[:]); err != nil {
		return 0, err
	}
	if len(s) > 0 {
		if err := rt.Heap.Write(addr+16, []byte(s)); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// VecGet reads the item at idx out of a heap vector, bounds-checked against
// its live length (spec §6 Platform ops; grounds IndexExpr reads in
// internal/codegen, which has no static offset for a heap-indirected vector
// the way it does for a stack-resident fixed array).
func (rt *Runtime) VecGet(vecPtr uint64, idx int64, itemSize int) ([]byte, error) {
	head, err := rt.Heap.Read(vecPtr, 16)
	if err != nil {
		return nil, errors.Wrap(err, "vm: vec.get: reading vector header")
	}
	length := int64(binary.LittleEndian.Uint64(head[0:8]))
	if idx < 0 || idx >= length {
		return nil, errors.Errorf("vm: vec.get: index %d out of range (len=%d)", idx, length)
	}
	return rt.Heap.Read(vecPtr+16+uint64(idx)*uint64(itemSize), itemSize)
}

// VecSet writes the item at idx into a heap vector, bounds-checked against
// its live length; grounds IndexExpr assignment in internal/codegen.
func (rt *Runtime) VecSet(vecPtr uint64, idx int64, itemSize int, item []byte) error {
	head, err := rt.Heap.Read(vecPtr, 16)
	if err != nil {
		return errors.Wrap(err, "vm: vec.set: reading vector header")
	}
	length := int64(binary.LittleEndian.Uint64(head[0:8]))
	if idx < 0 || idx >= length {
		return errors.Errorf("vm: vec.set: index %d out of range (len=%d)", idx, length)
	}
	return rt.Heap.Write(vecPtr+16+uint64(idx)*uint64(itemSize), item)
}

// mapTable is the runtime-side representation backing the map_* builtins.
// Go-native maps stand in for a hand-rolled heap hash table: the map
// handle a CASM program holds is an opaque 8-byte id indexing into
// Runtime.maps, exactly the way the smart-pointer types are opaque handles
// over heap addresses elsewhere.
type mapTable struct {
	entries map[string][]byte
}

func hostMapNew(rt *Runtime, th *Thread, args []byte) ([]byte, error) {
	id := rt.newMapHandle()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], id)
	return b[:], nil
}

func hostMapLen(rt *Runtime, th *Thread, args []byte) ([]byte, error) {
	if len(args) < 8 {
		return nil, errors.New("vm: map_len: short argument buffer")
	}
	id := binary.LittleEndian.Uint64(args[0:8])
	tbl, err := rt.mapByHandle(id)
	if err != nil {
		return nil, err
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(len(tbl.entries)))
	return b[:], nil
}

// hostMapGet, hostMapSet, and hostMapDelete round out the map_* family
// promised in SPEC_FULL.md §6. Keys and values are fixed 8-byte words (the
// same handle/number/pointer-sized granularity map_new/map_len already
// assume), keyed into mapTable.entries by their raw byte pattern — enough
// for the §8 scenarios' integer- and pointer-keyed maps without a generic
// Map<K,V> layout in the type system.
func hostMapGet(rt *Runtime, th *Thread, args []byte) ([]byte, error) {
	if len(args) < 16 {
		return nil, errors.New("vm: map_get: short argument buffer")
	}
	tbl, err := rt.mapByHandle(binary.LittleEndian.Uint64(args[0:8]))
	if err != nil {
		return nil, err
	}
	val, ok := tbl.entries[string(args[8:16])]
	if !ok {
		return nil, errors.Errorf("vm: map_get: key not present")
	}
	out := make([]byte, 8)
	copy(out, val)
	return out, nil
}

func hostMapSet(rt *Runtime, th *Thread, args []byte) ([]byte, error) {
	if len(args) < 24 {
		return nil, errors.New("vm: map_set: short argument buffer")
	}
	tbl, err := rt.mapByHandle(binary.LittleEndian.Uint64(args[0:8]))
	if err != nil {
		return nil, err
	}
	val := make([]byte, 8)
	copy(val, args[16:24])
	tbl.entries[string(args[8:16])] = val
	return nil, nil
}

func hostMapDelete(rt *Runtime, th *Thread, args []byte) ([]byte, error) {
	if len(args) < 16 {
		return nil, errors.New("vm: map_delete: short argument buffer")
	}
	tbl, err := rt.mapByHandle(binary.LittleEndian.Uint64(args[0:8]))
	if err != nil {
		return nil, err
	}
	delete(tbl.entries, string(args[8:16]))
	return nil, nil
}

func (rt *Runtime) newMapHandle() uint64 {
	if rt.maps == nil {
		rt.maps = make(map[uint64]*mapTable)
	}
	id := rt.nextMapID
	rt.nextMapID++
	rt.maps[id] = &mapTable{entries: make(map[string][]byte)}
	return id
}

func (rt *Runtime) mapByHandle(id uint64) (*mapTable, error) {
	tbl, ok := rt.maps[id]
	if !ok {
		return nil, errors.Errorf("vm: unknown map handle %d", id)
	}
	return tbl, nil
}
