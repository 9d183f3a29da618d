package casm

import "j5.nz/casm/internal/mem"

// Opcode enumerates CASM's typed, stack-oriented instruction set (spec
// §4.2). Grounded on tinyrange-rtg/std/compiler/ir.go's Opcode enum, whose
// categories (const/local/global access, arithmetic, control, platform) we
// keep, generalized with the richer addressing and frame/heap operations
// spec §4.2 requires that the teacher's native-target IR didn't need.
type Opcode int

const (
	// Data/literal
	OpSerialize Opcode = iota
	OpDataDump
	OpDataTable

	// Alloc/Frame
	OpAllocStack
	OpAllocHeap
	OpRealloc
	OpFree
	OpStackFrameTransfer
	OpStackFrameClean

	// Memory (MemCopy family)
	OpMemCopyDup
	OpMemCopyTake
	OpMemCopyTakeToHeap
	OpMemCopyTakeToStack
	OpMemCopyCloneFromSmartPointer

	// Access
	OpAccessStatic
	OpAccessRuntime
	OpAccessRuntimeStore
	OpAccessIdx
	OpAccessIdxStore
	OpLocate

	// Arithmetic
	OpOperation

	// Control
	OpLabel
	OpGoto
	OpIf
	OpSwitch
	OpCallFrom
	OpCallIndirect
	OpCallReturn
	OpCallCheckError
	OpTry
	OpPop

	// Platform (host FFI / opaque library ops, §6)
	OpPlatform
)

func (op Opcode) String() string {
	switch op {
	case OpSerialize:
		return "Serialize"
	case OpDataDump:
		return "Data.Dump"
	case OpDataTable:
		return "Data.Table"
	case OpAllocStack:
		return "Alloc.Stack"
	case OpAllocHeap:
		return "Alloc.Heap"
	case OpRealloc:
		return "Realloc"
	case OpFree:
		return "Free"
	case OpStackFrameTransfer:
		return "StackFrame.Transfer"
	case OpStackFrameClean:
		return "StackFrame.Clean"
	case OpMemCopyDup:
		return "MemCopy.Dup"
	case OpMemCopyTake:
		return "MemCopy.Take"
	case OpMemCopyTakeToHeap:
		return "MemCopy.TakeToHeap"
	case OpMemCopyTakeToStack:
		return "MemCopy.TakeToStack"
	case OpMemCopyCloneFromSmartPointer:
		return "MemCopy.CloneFromSmartPointer"
	case OpAccessStatic:
		return "Access.Static"
	case OpAccessRuntime:
		return "Access.Runtime"
	case OpAccessRuntimeStore:
		return "Access.Runtime.Store"
	case OpAccessIdx:
		return "AccessIdx"
	case OpAccessIdxStore:
		return "AccessIdxStore"
	case OpLocate:
		return "Locate"
	case OpOperation:
		return "Operation"
	case OpLabel:
		return "Label"
	case OpGoto:
		return "Goto"
	case OpIf:
		return "If"
	case OpSwitch:
		return "Switch"
	case OpCallFrom:
		return "Call.From"
	case OpCallIndirect:
		return "Call.Indirect"
	case OpCallReturn:
		return "Call.Return"
	case OpCallCheckError:
		return "Call.CheckError"
	case OpTry:
		return "Try"
	case OpPop:
		return "Pop"
	case OpPlatform:
		return "Platform"
	default:
		return "?"
	}
}

// OperationKind enumerates the arithmetic/comparison/logic op families
// carried by an Operation instruction (spec §4.2).
type OperationKind int

const (
	OpAdd OperationKind = iota
	OpSub
	OpMult
	OpDiv
	OpMod
	OpShl
	OpShr
	OpBitAnd
	OpBitOr
	OpBitXor
	OpEq
	OpNeq
	OpLt
	OpLe
	OpGt
	OpGe
	OpLAnd
	OpLOr
	OpMinus
	OpNot
	OpCast
)

// NumType describes the operand type an Operation/Cast acts on: its width
// in bytes, signedness, and whether it's a float. Bool and Char operands
// are represented as NumType{Width:1} and NumType{Width:4} respectively,
// matching spec §3's Number{I8..I128,U8..U128,F64}|Bool|Char taxonomy
// collapsed to what the VM actually needs to pick an instruction.
type NumType struct {
	Width  int
	Signed bool
	Float  bool
}

func (n NumType) String() string {
	switch {
	case n.Float:
		return "f64"
	case n.Signed:
		return "i" + widthLabel(n.Width)
	default:
		return "u" + widthLabel(n.Width)
	}
}

func widthLabel(w int) string {
	switch w {
	case 1:
		return "8"
	case 2:
		return "16"
	case 4:
		return "32"
	case 8:
		return "64"
	default:
		return "?"
	}
}

// Instruction is one CASM instruction. Fields are a flat union, following
// the teacher's ir.go Instruction shape (Op/Arg/Val/Name/Width collapsed
// into one struct rather than a per-opcode type) — only the fields
// relevant to Op are populated.
type Instruction struct {
	Op Opcode

	// Control: Label/Goto/If targets. Else is the false-branch for If.
	Label LabelId
	Else  LabelId

	// Access/Locate/MemCopy addressing. Call.Indirect reuses these to locate
	// the code_idx half of a closure value it dispatches through, since the
	// target isn't known until runtime.
	Addr  mem.Offset
	Level mem.Level

	// Size in bytes: Alloc size, Access size, Pop count, MemCopy size,
	// AccessIdx item size, StackFrame.Transfer return-value size hint.
	Size int

	// Serialize/Data payload.
	Bytes []byte

	// Operation/Cast operand description. For Op==OpOperation with
	// Kind==OpCast, NumT is the SOURCE type and CastTo is the destination;
	// FromChar/ToChar flag the Char endpoints of a numeric<->Char cast
	// (spec §9 Open Question 2: such casts are always accepted at compile
	// time and range-checked at runtime).
	Kind    OperationKind
	NumT    NumType
	CastTo  NumType
	FromChar bool
	ToChar   bool

	// Call.From parameter block size.
	ParamSize int

	// Platform op name, Call target symbol, or Data table name.
	Name string

	// StackFrame.Transfer: true when this return is a tail position inside
	// a loop body that can reuse the caller's frame (spec §4.4 loops).
	IsDirectLoop bool

	// Switch case table: Cases holds the matched discriminant values and
	// their target labels; Else is the default/no-match target.
	Cases []SwitchCase
}

// SwitchCase is one arm of a Switch instruction: jump to Label when the
// discriminant on top of stack equals Value.
type SwitchCase struct {
	Value int64
	Label LabelId
}
