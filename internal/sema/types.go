// Package sema implements the semantic model: the scope manager, the type
// system (including polymorphic-numeric-literal inference and merging),
// and closure variable capture (spec §3, §4.3).
package sema

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TypeId identifies a user-defined type (struct/union/enum).
type TypeId uuid.UUID

func NewTypeId() TypeId       { return TypeId(uuid.New()) }
func (t TypeId) String() string { return uuid.UUID(t).String() }

// TypeKind discriminates the Either<UserType, StaticType> described in spec
// §3. Unresolved represents a polymorphic numeric literal before inference
// pins it down (spec §4.3: "Numeric literals start as Unresolved(i64)").
type TypeKind int

const (
	TyUnresolved TypeKind = iota
	TyNumber
	TyBool
	TyChar
	TyString
	TyStrSlice
	TySlice
	TyVec
	TyTuple
	TyFn
	TyChan
	TyAddress
	TyMap
	TyUnit
	TyAny
	TyError
	TyStruct
	TyUnion
	TyEnum
)

// NumKind enumerates the concrete numeric subtypes (spec §3:
// Primitive(Number{I8..I128,U8..U128,F64})).
type NumKind int

const (
	I8 NumKind = iota
	I16
	I32
	I64
	I128
	U8
	U16
	U32
	U64
	U128
	F64
)

func (n NumKind) size() int {
	switch n {
	case I8, U8:
		return 1
	case I16, U16:
		return 2
	case I32, U32:
		return 4
	case I64, U64, F64:
		return 8
	case I128, U128:
		return 16
	default:
		return 8
	}
}

func (n NumKind) signed() bool {
	switch n {
	case I8, I16, I32, I64, I128:
		return true
	default:
		return false
	}
}

func (n NumKind) float() bool { return n == F64 }

func (n NumKind) String() string {
	names := map[NumKind]string{
		I8: "i8", I16: "i16", I32: "i32", I64: "i64", I128: "i128",
		U8: "u8", U16: "u16", U32: "u32", U64: "u64", U128: "u128", F64: "f64",
	}
	return names[n]
}

// Field is a named struct field (spec §3: UserType::Struct{id,
// fields:[(name,type)]}).
type Field struct {
	Name   string
	Type   *Type
	Offset int
}

// UnionVariant is one named variant of a union, itself struct-shaped (spec
// §3: UserType::Union{id, variants:[(name, Struct)]}).
type UnionVariant struct {
	Name   string
	Fields []Field
}

// Type is the unified representation of Either<UserType, StaticType>. Only
// the fields relevant to Kind are populated, following the same flat-union
// shape as tinyrange-rtg/std/compiler/ir.go's TypeInfo.
type Type struct {
	Kind TypeKind

	Num NumKind // TyNumber

	Elem      *Type // TySlice/TyVec/TyAddress/TyChan item type
	SliceSize int   // TySlice fixed size

	Items []*Type // TyTuple element types

	Params []*Type // TyFn parameter types
	Ret    *Type   // TyFn return type

	Key   *Type // TyMap key type
	Value *Type // TyMap value type

	// User-defined types (TyStruct/TyUnion/TyEnum).
	ID         TypeId
	Name       string
	Fields     []Field
	Variants   []UnionVariant
	EnumValues []string
}

func Unresolved() *Type           { return &Type{Kind: TyUnresolved} }
func Number(n NumKind) *Type      { return &Type{Kind: TyNumber, Num: n} }
func Bool() *Type                 { return &Type{Kind: TyBool} }
func Char() *Type                 { return &Type{Kind: TyChar} }
func String() *Type               { return &Type{Kind: TyString} }
func Unit() *Type                 { return &Type{Kind: TyUnit} }
func Any() *Type                  { return &Type{Kind: TyAny} }
func ErrorType() *Type            { return &Type{Kind: TyError} }
func Address(inner *Type) *Type   { return &Type{Kind: TyAddress, Elem: inner} }
func VecOf(item *Type) *Type      { return &Type{Kind: TyVec, Elem: item} }
func SliceOf(item *Type, n int) *Type {
	return &Type{Kind: TySlice, Elem: item, SliceSize: n}
}
func TupleOf(items ...*Type) *Type { return &Type{Kind: TyTuple, Items: items} }
func Fn(params []*Type, ret *Type) *Type {
	return &Type{Kind: TyFn, Params: params, Ret: ret}
}
func MapOf(k, v *Type) *Type { return &Type{Kind: TyMap, Key: k, Value: v} }

// SizeOf returns the in-memory size of the type in bytes. Strings, str
// slices, vecs and maps are a single 8-byte smart pointer on the stack;
// fixed-size slices ([N]T), tuples and user structs are stored inline at
// their full size (spec §4.4).
func (t *Type) SizeOf() int {
	if t == nil {
		return 0
	}
	switch t.Kind {
	case TyUnresolved:
		return 8 // defaults to i64 width until resolved
	case TyNumber:
		return t.Num.size()
	case TyBool:
		return 1
	case TyChar:
		return 4
	case TyString, TyStrSlice, TyVec, TyMap, TyChan, TyAddress:
		return 8 // smart pointer, one word on the stack regardless of payload size
	case TyFn:
		return 16 // {code_idx, env_ptr} pair, spec §4.4's closure value layout
	case TyUnit:
		return 0
	case TyAny, TyError:
		return 16 // {type_id, value} interface box, spec §4.2 Iface box
	case TySlice:
		return t.SliceSize * t.Elem.SizeOf()
	case TyTuple:
		n := 0
		for _, it := range t.Items {
			n += it.SizeOf()
		}
		return n
	case TyStruct:
		n := 0
		for _, f := range t.Fields {
			n += f.Type.SizeOf()
		}
		return n
	case TyUnion:
		max := 0
		for _, v := range t.Variants {
			n := 0
			for _, f := range v.Fields {
				n += f.Type.SizeOf()
			}
			if n > max {
				max = n
			}
		}
		return max + 8 // discriminant word + widest variant payload
	case TyEnum:
		return 8
	default:
		return 8
	}
}

// FnSizeOf is a named accessor for a function/closure value's on-stack
// size (spec §4.4's {code_idx, env_ptr} pair), for call sites that already
// know they're sizing a closure and want that documented at the call site
// rather than a bare SizeOf().
func (t *Type) FnSizeOf() int { return t.SizeOf() }

// Equal reports structural type equality, used by register_var's "same
// name & different type" shadow-count rule (spec §4.3).
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TyNumber:
		return t.Num == o.Num
	case TySlice:
		return t.SliceSize == o.SliceSize && t.Elem.Equal(o.Elem)
	case TyVec, TyAddress, TyChan:
		return t.Elem.Equal(o.Elem)
	case TyTuple:
		if len(t.Items) != len(o.Items) {
			return false
		}
		for i := range t.Items {
			if !t.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	case TyFn:
		if len(t.Params) != len(o.Params) {
			return false
		}
		for i := range t.Params {
			if !t.Params[i].Equal(o.Params[i]) {
				return false
			}
		}
		return t.Ret.Equal(o.Ret)
	case TyMap:
		return t.Key.Equal(o.Key) && t.Value.Equal(o.Value)
	case TyStruct, TyUnion, TyEnum:
		return t.ID == o.ID
	default:
		return true
	}
}

func (t *Type) IsNumeric() bool { return t != nil && (t.Kind == TyNumber || t.Kind == TyUnresolved) }
func (t *Type) IsInteger() bool { return t.IsNumeric() && !(t.Kind == TyNumber && t.Num.float()) }
func (t *Type) IsFloat() bool   { return t != nil && t.Kind == TyNumber && t.Num.float() }

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TyUnresolved:
		return "{unresolved}"
	case TyNumber:
		return t.Num.String()
	case TyBool:
		return "bool"
	case TyChar:
		return "char"
	case TyString:
		return "string"
	case TyStrSlice:
		return "strslice"
	case TyUnit:
		return "unit"
	case TyAny:
		return "any"
	case TyError:
		return "error"
	case TySlice:
		return fmt.Sprintf("[%d]%s", t.SliceSize, t.Elem)
	case TyVec:
		return fmt.Sprintf("Vec<%s>", t.Elem)
	case TyAddress:
		return fmt.Sprintf("&%s", t.Elem)
	case TyChan:
		return fmt.Sprintf("Chan<%s>", t.Elem)
	case TyMap:
		return fmt.Sprintf("Map<%s,%s>", t.Key, t.Value)
	case TyTuple:
		var parts []string
		for _, it := range t.Items {
			parts = append(parts, it.String())
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case TyFn:
		var parts []string
		for _, p := range t.Params {
			parts = append(parts, p.String())
		}
		return fmt.Sprintf("fn(%s) -> %s", strings.Join(parts, ", "), t.Ret)
	case TyStruct:
		return t.Name
	case TyUnion:
		return t.Name
	case TyEnum:
		return t.Name
	default:
		return "?"
	}
}

// ErrIncompatibleTypes is the SemanticError kind for a failed merge/unify.
var ErrIncompatibleTypes = errors.New("incompatible types")

// Merge implements spec §4.3's literal-inference and promotion rules: the
// least type compatible with both operands.
func Merge(a, b *Type) (*Type, error) {
	if a.Kind == TyUnresolved && b.Kind == TyUnresolved {
		return Number(I64), nil // both literals default to i64 once forced to resolve
	}
	if a.Kind == TyUnresolved {
		if !b.IsNumeric() {
			return nil, errors.Wrapf(ErrIncompatibleTypes, "cannot resolve numeric literal against %s", b)
		}
		return resolvedOf(b), nil
	}
	if b.Kind == TyUnresolved {
		return Merge(b, a)
	}
	if a.Equal(b) {
		return a, nil
	}
	if a.Kind == TyNumber && b.Kind == TyNumber {
		if a.Num.float() || b.Num.float() {
			return Number(F64), nil
		}
		return Number(widestSigned(a.Num, b.Num)), nil
	}
	return nil, errors.Wrapf(ErrIncompatibleTypes, "%s vs %s", a, b)
}

func resolvedOf(concrete *Type) *Type {
	if concrete.Kind == TyNumber {
		return Number(concrete.Num)
	}
	return concrete
}

// widestSigned promotes two distinct concrete numeric kinds to the widest
// signed type able to represent both (spec §4.3).
func widestSigned(a, b NumKind) NumKind {
	w := a.size()
	if b.size() > w {
		w = b.size()
	}
	switch w {
	case 1:
		return I8
	case 2:
		return I16
	case 4:
		return I32
	case 16:
		return I128
	default:
		return I64
	}
}

// CompareCompatible reports whether two types may be compared with
// Eq/Neq/Lt/... (spec §4.3: "comparisons require comparable operand types").
func CompareCompatible(a, b *Type) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return true
	}
	return a.Equal(b)
}
