// Package mem implements the language's stack and heap: a contiguous,
// byte-addressable stack with framed addressing, and a bump/free heap with
// block headers. Neither performs garbage collection; heap blocks live
// until explicitly freed.
package mem

import "fmt"

// OffsetKind selects which addressing mode an Offset uses.
type OffsetKind int

const (
	// OffSB addresses bytes absolute from the stack base.
	OffSB OffsetKind = iota
	// OffFP addresses bytes relative to the current frame's parameter base.
	OffFP
	// OffFZ addresses bytes relative to the current frame's local base.
	OffFZ
	// OffST addresses bytes relative to the current stack top.
	OffST
	// OffFE indirects through an 8-byte pointer at a local offset, then
	// adds a further displacement: load the pointer at FZ/FP-relative
	// local offset Env, treat it as a heap address, and add K.
	OffFE
)

// Offset is an addressing-mode value as described in spec §3. Exactly one
// of the field groups is meaningful depending on Kind.
type Offset struct {
	Kind OffsetKind
	N    int64 // SB/FP/FZ/ST displacement
	Env  int64 // FE: local offset holding the environment pointer
	K    int64 // FE: displacement added to the dereferenced pointer
}

func SB(n int64) Offset { return Offset{Kind: OffSB, N: n} }
func FP(n int64) Offset { return Offset{Kind: OffFP, N: n} }
func FZ(n int64) Offset { return Offset{Kind: OffFZ, N: n} }
func ST(n int64) Offset { return Offset{Kind: OffST, N: n} }
func FE(env, k int64) Offset { return Offset{Kind: OffFE, Env: env, K: k} }

func (o Offset) String() string {
	switch o.Kind {
	case OffSB:
		return fmt.Sprintf("SB(%d)", o.N)
	case OffFP:
		return fmt.Sprintf("FP(%d)", o.N)
	case OffFZ:
		return fmt.Sprintf("FZ(%d)", o.N)
	case OffST:
		return fmt.Sprintf("ST(%d)", o.N)
	case OffFE:
		return fmt.Sprintf("FE(%d, %d)", o.Env, o.K)
	default:
		return "Offset(?)"
	}
}

// LevelKind disambiguates which frame in the saved chain an offset resolves
// against.
type LevelKind int

const (
	Direct LevelKind = iota
	Backward
)

// Level is an AccessLevel value: Direct (current frame) or Backward(K)
// (K frames up the call chain).
type Level struct {
	Kind LevelKind
	K    int
}

func DirectLevel() Level        { return Level{Kind: Direct} }
func BackwardLevel(k int) Level { return Level{Kind: Backward, K: k} }
