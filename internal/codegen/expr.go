package codegen

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"j5.nz/casm/internal/casm"
	"j5.nz/casm/internal/lang"
	"j5.nz/casm/internal/mem"
	"j5.nz/casm/internal/sema"
)

// compileExpr lowers e, emitting the instructions that leave its value on
// top of the stack, and returns its type. hint, when non-nil, is the
// type an enclosing context already expects (a declared let type, a
// parameter's declared type, a struct field's declared type): it lets an
// Unresolved numeric/char literal serialize directly at its final width
// instead of always defaulting to i64 and needing a later Cast (spec §4.3:
// "numeric literals start as Unresolved(i64) until a context forces
// resolution").
func (g *Generator) compileExpr(scope sema.ScopeId, e lang.Expr, hint *sema.Type) (*sema.Type, error) {
	switch x := e.(type) {
	case *lang.IntLit:
		ty := sema.Number(sema.I64)
		if hint != nil && hint.IsNumeric() {
			ty = hint
		}
		return ty, g.emitInt(x.Value, ty)

	case *lang.FloatLit:
		ty := sema.Number(sema.F64)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(x.Value))
		g.Prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: b[:]})
		return ty, nil

	case *lang.BoolLit:
		v := byte(0)
		if x.Value {
			v = 1
		}
		g.Prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: []byte{v}})
		return sema.Bool(), nil

	case *lang.CharLit:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(x.Value))
		g.Prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: b[:]})
		return sema.Char(), nil

	case *lang.StringLit:
		g.Prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "str.new", Bytes: []byte(x.Value)})
		return sema.String(), nil

	case *lang.Ident:
		v, err := g.Mgr.FindVarFrom(scope, x.Name)
		if err != nil {
			return nil, err
		}
		addr, lvl, err := g.addrOf(v)
		if err != nil {
			return nil, err
		}
		g.Prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: addr, Level: lvl, Size: v.Type.SizeOf()})
		return v.Type, nil

	case *lang.UnaryExpr:
		return g.compileUnary(scope, x)

	case *lang.BinaryExpr:
		return g.compileBinary(scope, x)

	case *lang.CastExpr:
		return g.compileCast(scope, x)

	case *lang.CallExpr:
		return g.compileCall(scope, x)

	case *lang.FieldExpr, *lang.TupleIndexExpr:
		addr, lvl, ty, err := g.staticAddr(scope, x)
		if err != nil {
			return nil, err
		}
		g.Prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: addr, Level: lvl, Size: ty.SizeOf()})
		return ty, nil

	case *lang.IndexExpr:
		return g.compileIndexLoad(scope, x)

	case *lang.TupleLit:
		return g.compileTupleLit(scope, x, hint)

	case *lang.StructLit:
		return g.compileStructLit(scope, x)

	case *lang.VecLit:
		return g.compileVecLit(scope, x, hint)

	case *lang.ClosureLit:
		return g.compileClosureValue(scope, x)
	}
	return nil, errors.Errorf("codegen: unsupported expression %T", e)
}

// compileClosureValue lowers a closure literal used as a first-class value
// (stored by a `let`, passed as an argument, returned): splice the body in
// and populate its environment exactly as compileIIFE does, then push the
// resulting {code_idx, env_ptr} pair as the expression's 16-byte value
// (sema.Type.FnSizeOf) instead of immediately calling through it.
func (g *Generator) compileClosureValue(scope sema.ScopeId, lit *lang.ClosureLit) (*sema.Type, error) {
	label, closureScope, params, ret, err := g.spliceClosureBody(scope, lit)
	if err != nil {
		return nil, err
	}
	envAddr, envLvl, err := g.compileClosureEnv(scope, closureScope, label)
	if err != nil {
		return nil, err
	}
	idx, err := g.Prog.LabelIndex(label)
	if err != nil {
		return nil, err
	}
	var idxB [8]byte
	binary.LittleEndian.PutUint64(idxB[:], uint64(idx))
	g.Prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: idxB[:]})
	g.Prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: envAddr, Level: envLvl, Size: 8})
	return sema.Fn(params, ret), nil
}

func (g *Generator) emitInt(v int64, ty *sema.Type) error {
	nt := numTypeOf(ty)
	b := make([]byte, nt.Width)
	switch nt.Width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: b})
	return nil
}

var opKindByToken = map[lang.TokenKind]casm.OperationKind{
	lang.TOKEN_PLUS: casm.OpAdd, lang.TOKEN_MINUS: casm.OpSub,
	lang.TOKEN_STAR: casm.OpMult, lang.TOKEN_SLASH: casm.OpDiv, lang.TOKEN_PERCENT: casm.OpMod,
	lang.TOKEN_SHL: casm.OpShl, lang.TOKEN_SHR: casm.OpShr,
	lang.TOKEN_AMP: casm.OpBitAnd, lang.TOKEN_PIPE: casm.OpBitOr, lang.TOKEN_CARET: casm.OpBitXor,
	lang.TOKEN_EQ: casm.OpEq, lang.TOKEN_NEQ: casm.OpNeq,
	lang.TOKEN_LT: casm.OpLt, lang.TOKEN_LEQ: casm.OpLe, lang.TOKEN_GT: casm.OpGt, lang.TOKEN_GEQ: casm.OpGe,
	lang.TOKEN_ANDAND: casm.OpLAnd, lang.TOKEN_OROR: casm.OpLOr,
}

var comparisonOps = map[lang.TokenKind]bool{
	lang.TOKEN_EQ: true, lang.TOKEN_NEQ: true, lang.TOKEN_LT: true,
	lang.TOKEN_LEQ: true, lang.TOKEN_GT: true, lang.TOKEN_GEQ: true,
}

func (g *Generator) compileBinary(scope sema.ScopeId, x *lang.BinaryExpr) (*sema.Type, error) {
	kind, ok := opKindByToken[x.Op]
	if !ok {
		return nil, errors.Errorf("codegen: unsupported binary operator %s", x.Op)
	}
	xt, err := g.compileExpr(scope, x.X, nil)
	if err != nil {
		return nil, err
	}
	yt, err := g.compileExpr(scope, x.Y, xt)
	if err != nil {
		return nil, err
	}
	opTy, err := sema.Merge(xt, yt)
	if err != nil {
		return nil, errors.Wrap(err, "codegen: binary operand types")
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpOperation, Kind: kind, NumT: numTypeOf(opTy)})
	if comparisonOps[x.Op] || kind == casm.OpLAnd || kind == casm.OpLOr {
		return sema.Bool(), nil
	}
	return opTy, nil
}

func (g *Generator) compileUnary(scope sema.ScopeId, x *lang.UnaryExpr) (*sema.Type, error) {
	xt, err := g.compileExpr(scope, x.X, nil)
	if err != nil {
		return nil, err
	}
	var kind casm.OperationKind
	switch x.Op {
	case lang.TOKEN_MINUS:
		kind = casm.OpMinus
	case lang.TOKEN_NOT:
		kind = casm.OpNot
	default:
		return nil, errors.Errorf("codegen: unsupported unary operator %s", x.Op)
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpOperation, Kind: kind, NumT: numTypeOf(xt)})
	return xt, nil
}

// compileCast lowers an `as` expression using the CastTo/FromChar/ToChar
// Instruction fields (spec §9 Open Question 2: numeric<->Char casts are
// always compile-time valid and range-checked at runtime by the VM's
// applyCast against the Unicode scalar range).
func (g *Generator) compileCast(scope sema.ScopeId, x *lang.CastExpr) (*sema.Type, error) {
	xt, err := g.compileExpr(scope, x.X, nil)
	if err != nil {
		return nil, err
	}
	to, err := g.resolveType(x.Type)
	if err != nil {
		return nil, err
	}
	g.Prog.Emit(casm.Instruction{
		Op: casm.OpOperation, Kind: casm.OpCast,
		NumT: numTypeOf(xt), CastTo: numTypeOf(to),
		FromChar: xt.Kind == sema.TyChar, ToChar: to.Kind == sema.TyChar,
	})
	return to, nil
}

// staticAddr resolves an lvalue expression chain (Ident, or a Field/
// TupleIndex access rooted at one) to a compile-time-constant address by
// accumulating field/element offsets onto the root variable's address.
// IndexExpr is NOT handled here: a Vec is heap-indirected behind a smart
// pointer that isn't known until runtime, so vector element access goes
// through the vec.get/vec.set platform ops instead (compileIndexLoad
// below, compileIndexAssign in stmt.go).
func (g *Generator) staticAddr(scope sema.ScopeId, e lang.Expr) (mem.Offset, mem.Level, *sema.Type, error) {
	switch x := e.(type) {
	case *lang.Ident:
		v, err := g.Mgr.FindVarFrom(scope, x.Name)
		if err != nil {
			return mem.Offset{}, mem.Level{}, nil, err
		}
		addr, lvl, err := g.addrOf(v)
		return addr, lvl, v.Type, err

	case *lang.FieldExpr:
		baseAddr, lvl, baseTy, err := g.staticAddr(scope, x.X)
		if err != nil {
			return mem.Offset{}, mem.Level{}, nil, err
		}
		if baseTy.Kind != sema.TyStruct {
			return mem.Offset{}, mem.Level{}, nil, errors.Errorf("codegen: field access on non-struct type %s", baseTy)
		}
		for _, f := range baseTy.Fields {
			if f.Name == x.Name {
				return addOffset(baseAddr, int64(f.Offset)), lvl, f.Type, nil
			}
		}
		return mem.Offset{}, mem.Level{}, nil, errors.Errorf("codegen: struct %s has no field %s", baseTy.Name, x.Name)

	case *lang.TupleIndexExpr:
		baseAddr, lvl, baseTy, err := g.staticAddr(scope, x.X)
		if err != nil {
			return mem.Offset{}, mem.Level{}, nil, err
		}
		if baseTy.Kind != sema.TyTuple || x.Index < 0 || x.Index >= len(baseTy.Items) {
			return mem.Offset{}, mem.Level{}, nil, errors.Errorf("codegen: tuple index %d out of range for %s", x.Index, baseTy)
		}
		off := 0
		for i := 0; i < x.Index; i++ {
			off += baseTy.Items[i].SizeOf()
		}
		return addOffset(baseAddr, int64(off)), lvl, baseTy.Items[x.Index], nil
	}
	return mem.Offset{}, mem.Level{}, nil, errors.Errorf("codegen: %T is not a static lvalue", e)
}

func addOffset(o mem.Offset, delta int64) mem.Offset {
	if o.Kind == mem.OffFE {
		return mem.FE(o.Env, o.K+delta)
	}
	o2 := o
	o2.N += delta
	return o2
}

// compileIndexLoad lowers a Vec read `x[i]` via the vec.get platform op
// (ffi.go's VecGet), and a fixed-size array read via Access.Runtime against
// the array's static base plus a computed byte offset (idx*elemSize) —
// arrays are inline value storage with no header, so unlike a Vec their
// elements ARE reachable with ordinary frame addressing once the dynamic
// index is scaled.
func (g *Generator) compileIndexLoad(scope sema.ScopeId, x *lang.IndexExpr) (*sema.Type, error) {
	if addr, lvl, arrTy, ok, err := g.tryStaticAddr(scope, x.X); err != nil {
		return nil, err
	} else if ok && arrTy.Kind == sema.TySlice {
		return g.compileArrayAccess(scope, addr, lvl, arrTy, x.Index)
	}
	xty, err := g.compileExpr(scope, x.X, nil)
	if err != nil {
		return nil, err
	}
	if xty.Kind != sema.TyVec {
		return nil, errors.Errorf("codegen: cannot index type %s", xty)
	}
	elemTy := xty.Elem
	if _, err := g.compileExpr(scope, x.Index, sema.Number(sema.I64)); err != nil {
		return nil, err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "vec.get", Size: elemTy.SizeOf()})
	return elemTy, nil
}

// tryStaticAddr attempts staticAddr and reports ok=false (no error) when e
// isn't a static lvalue shape at all, distinguishing "not applicable" from a
// genuine resolution failure.
func (g *Generator) tryStaticAddr(scope sema.ScopeId, e lang.Expr) (mem.Offset, mem.Level, *sema.Type, bool, error) {
	switch e.(type) {
	case *lang.Ident, *lang.FieldExpr, *lang.TupleIndexExpr:
	default:
		return mem.Offset{}, mem.Level{}, nil, false, nil
	}
	addr, lvl, ty, err := g.staticAddr(scope, e)
	if err != nil {
		return mem.Offset{}, mem.Level{}, nil, false, err
	}
	return addr, lvl, ty, true, nil
}

// compileArrayAccess scales idx by the element size and reads a fixed-size
// [N]T array element via Access.Runtime against a statically-known base.
// Array element assignment (compileIndexAssign in stmt.go) follows the same
// scaling but pushes the value first and the scaled offset on top of it,
// the order in which Access.Runtime.Store pops them.
func (g *Generator) compileArrayAccess(scope sema.ScopeId, base mem.Offset, lvl mem.Level, arrTy *sema.Type, idxExpr lang.Expr) (*sema.Type, error) {
	elemTy := arrTy.Elem
	if err := g.emitScaledOffset(scope, idxExpr, elemTy.SizeOf()); err != nil {
		return nil, err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpAccessRuntime, Addr: base, Level: lvl, Size: elemTy.SizeOf()})
	return elemTy, nil
}

// emitScaledOffset pushes idxExpr's value (as i64) multiplied by elemSize,
// the byte offset Access.Runtime expects on top of the stack.
func (g *Generator) emitScaledOffset(scope sema.ScopeId, idxExpr lang.Expr, elemSize int) error {
	i64 := sema.Number(sema.I64)
	if _, err := g.compileExpr(scope, idxExpr, i64); err != nil {
		return err
	}
	if err := g.emitInt(int64(elemSize), i64); err != nil {
		return err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpOperation, Kind: casm.OpMult, NumT: numTypeOf(i64)})
	return nil
}

func (g *Generator) compileTupleLit(scope sema.ScopeId, x *lang.TupleLit, hint *sema.Type) (*sema.Type, error) {
	items := make([]*sema.Type, len(x.Elems))
	for i, el := range x.Elems {
		var h *sema.Type
		if hint != nil && hint.Kind == sema.TyTuple && i < len(hint.Items) {
			h = hint.Items[i]
		}
		ty, err := g.compileExpr(scope, el, h)
		if err != nil {
			return nil, err
		}
		items[i] = ty
	}
	return sema.TupleOf(items...), nil
}

func (g *Generator) compileStructLit(scope sema.ScopeId, x *lang.StructLit) (*sema.Type, error) {
	t, ok := g.types[x.Type]
	if !ok || t.Kind != sema.TyStruct {
		return nil, errors.Errorf("codegen: unknown struct type %s", x.Type)
	}
	for _, f := range t.Fields {
		val, ok := x.Fields[f.Name]
		if !ok {
			return nil, errors.Errorf("codegen: struct literal %s missing field %s", x.Type, f.Name)
		}
		if _, err := g.compileExpr(scope, val, f.Type); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// compileVecLit lowers a vector literal to vec.new followed by one append
// per element (ffi.go's AppendItem), reusing the already-grounded append
// growth policy rather than hand-rolling a second heap-layout writer.
func (g *Generator) compileVecLit(scope sema.ScopeId, x *lang.VecLit, hint *sema.Type) (*sema.Type, error) {
	var elemTy *sema.Type
	if hint != nil && hint.Kind == sema.TyVec {
		elemTy = hint.Elem
	}
	if elemTy == nil && len(x.Elems) == 0 {
		return nil, errors.New("codegen: empty vector literal needs a type hint")
	}
	itemSize := 0
	if elemTy != nil {
		itemSize = elemTy.SizeOf()
	} else {
		// Peek the first element's type to size the empty vector; the value
		// is then re-compiled per element below in append order.
		var err error
		elemTy, err = g.peekType(scope, x.Elems[0])
		if err != nil {
			return nil, err
		}
		itemSize = elemTy.SizeOf()
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "vec.new", Size: itemSize})
	for _, el := range x.Elems {
		if _, err := g.compileExpr(scope, el, elemTy); err != nil {
			return nil, err
		}
		g.Prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "append", Size: itemSize})
	}
	return sema.VecOf(elemTy), nil
}

// peekType resolves an expression's static type without retaining any
// emitted instructions, used only to size an empty-hinted vector literal's
// first element before compiling it for real. This duplicates a small slice
// of compileExpr's literal-typing logic rather than threading a "dry run"
// mode through the whole lowering pass — acceptable because it only needs
// to cover the literal/ident shapes that can appear as a vector element
// without a declared element type.
func (g *Generator) peekType(scope sema.ScopeId, e lang.Expr) (*sema.Type, error) {
	switch x := e.(type) {
	case *lang.IntLit:
		return sema.Number(sema.I64), nil
	case *lang.FloatLit:
		return sema.Number(sema.F64), nil
	case *lang.BoolLit:
		return sema.Bool(), nil
	case *lang.CharLit:
		return sema.Char(), nil
	case *lang.StringLit:
		return sema.String(), nil
	case *lang.Ident:
		v, err := g.Mgr.FindVar(x.Name, scope)
		if err != nil {
			return nil, err
		}
		return v.Type, nil
	}
	return nil, errors.Errorf("codegen: cannot infer element type of %T without a declared Vec type", e)
}
