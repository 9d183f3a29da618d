package codegen

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"j5.nz/casm/internal/casm"
	"j5.nz/casm/internal/lang"
	"j5.nz/casm/internal/mem"
	"j5.nz/casm/internal/sema"
)

// builtinSigs maps each registered host FFI call (ffi.go's RegisterBuiltins)
// to its result type, so compileBuiltinCall knows what compileExpr should
// report the call as having produced.
var builtinSigs = map[string]*sema.Type{
	"print":      sema.Unit(),
	"println":    sema.Unit(),
	"map_new":    sema.Number(sema.U64),
	"map_len":    sema.Number(sema.U64),
	"map_get":    sema.Number(sema.U64),
	"map_set":    sema.Unit(),
	"map_delete": sema.Unit(),
}

// compileCall lowers a call expression: a named user function, a platform
// builtin, a call through a closure VALUE held in a local/parameter/capture
// (compileIndirectCall), or an immediately-invoked closure literal.
func (g *Generator) compileCall(scope sema.ScopeId, x *lang.CallExpr) (*sema.Type, error) {
	switch fn := x.Fn.(type) {
	case *lang.Ident:
		if fn.Name == "append" {
			return nil, errors.New("codegen: append() must be used as a statement (append(v, item);), not a value expression")
		}
		if _, ok := builtinSigs[fn.Name]; ok {
			return g.compileBuiltinCall(scope, fn.Name, x.Args)
		}
		if v, err := g.Mgr.FindVarFrom(scope, fn.Name); err == nil && v.Type.Kind == sema.TyFn {
			return g.compileIndirectCall(scope, v, x.Args)
		}
		return g.compileUserCall(scope, fn.Name, x.Args)

	case *lang.ClosureLit:
		return g.compileIIFE(scope, fn, x.Args)
	}
	return nil, errors.Errorf("codegen: call target %T is not supported", x.Fn)
}

// compileIndirectCall lowers a call through a closure value that isn't an
// immediately-invoked literal: a `let`-bound closure, a closure-typed
// parameter, or a captured closure. The callee's env_ptr half is pushed as
// the FP(-8) slot the target body expects (same convention compileIIFE
// uses), and Call.Indirect reads the code_idx half back out of the same
// closure value at runtime instead of a compile-time Label.
func (g *Generator) compileIndirectCall(scope sema.ScopeId, v *sema.VariableInfo, args []lang.Expr) (*sema.Type, error) {
	fnTy := v.Type
	if len(args) != len(fnTy.Params) {
		return nil, errors.Errorf("codegen: closure call expects %d arguments, got %d", len(fnTy.Params), len(args))
	}
	addr, lvl, err := g.addrOf(v)
	if err != nil {
		return nil, err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: addOffset(addr, 8), Level: lvl, Size: 8})
	for i, a := range args {
		if _, err := g.compileExpr(scope, a, fnTy.Params[i]); err != nil {
			return nil, err
		}
	}
	paramSize := 0
	for _, p := range fnTy.Params {
		paramSize += p.SizeOf()
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpCallIndirect, Addr: addr, Level: lvl, ParamSize: paramSize})
	g.Prog.Emit(casm.Instruction{Op: casm.OpCallCheckError, Size: fnTy.Ret.SizeOf()})
	return fnTy.Ret, nil
}

func (g *Generator) compileUserCall(scope sema.ScopeId, name string, args []lang.Expr) (*sema.Type, error) {
	info, ok := g.funcs[name]
	if !ok {
		return nil, errors.Errorf("codegen: call to unknown function %q", name)
	}
	if len(args) != len(info.Params) {
		return nil, errors.Errorf("codegen: %s expects %d arguments, got %d", name, len(info.Params), len(args))
	}
	paramSize := 0
	for i, a := range args {
		if _, err := g.compileExpr(scope, a, info.Params[i]); err != nil {
			return nil, err
		}
		paramSize += info.Params[i].SizeOf()
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpCallFrom, Label: info.Label, ParamSize: paramSize})
	g.Prog.Emit(casm.Instruction{Op: casm.OpCallCheckError, Size: info.Ret.SizeOf()})
	return info.Ret, nil
}

func (g *Generator) compileBuiltinCall(scope sema.ScopeId, name string, args []lang.Expr) (*sema.Type, error) {
	for _, a := range args {
		if _, err := g.compileExpr(scope, a, nil); err != nil {
			return nil, err
		}
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: name})
	return builtinSigs[name], nil
}

// compileAppendStmt lowers the `append(v, item);` builtin statement: unlike
// the other builtins it mutates its first argument in place (a Realloc may
// move the block), so it needs v's address to write the (possibly new)
// pointer back, not just its value — the reason it's a statement form
// rather than a plain call expression.
func (g *Generator) compileAppendStmt(scope sema.ScopeId, args []lang.Expr) error {
	if len(args) != 2 {
		return errors.Errorf("codegen: append expects 2 arguments, got %d", len(args))
	}
	addr, lvl, vecTy, err := g.staticAddr(scope, args[0])
	if err != nil {
		return errors.Wrap(err, "codegen: append: first argument must be a variable")
	}
	if vecTy.Kind != sema.TyVec {
		return errors.Errorf("codegen: append: first argument must be a Vec, got %s", vecTy)
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: addr, Level: lvl, Size: 8})
	if _, err := g.compileExpr(scope, args[1], vecTy.Elem); err != nil {
		return err
	}
	itemSize := vecTy.Elem.SizeOf()
	g.Prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "append", Size: itemSize})
	g.Prog.Emit(casm.Instruction{Op: casm.OpMemCopyTake, Addr: addr, Level: lvl, Size: 8})
	return nil
}

// spliceClosureBody compiles lit's body into a fresh segment under its own
// Closure scope, then splices it into the enclosing program behind an
// explicit skip-Goto — the body is reached only via Call.From/Call.Indirect,
// never by fallthrough, but the enclosing code is executing straight-line
// right past the insertion point, so a bare splice would otherwise fall
// through into it. Shared by compileIIFE and expr.go's compileClosureValue;
// it leaves closureScope open for the caller to read Mgr.Captured/envNext
// from before compiling anything else.
func (g *Generator) spliceClosureBody(scope sema.ScopeId, lit *lang.ClosureLit) (casm.LabelId, sema.ScopeId, []*sema.Type, *sema.Type, error) {
	params := make([]*sema.Type, len(lit.Params))
	for i, p := range lit.Params {
		ty, err := g.resolveType(p.Type)
		if err != nil {
			return casm.LabelId{}, sema.ScopeId{}, nil, nil, err
		}
		params[i] = ty
	}
	ret, err := g.resolveType(lit.Ret)
	if err != nil {
		return casm.LabelId{}, sema.ScopeId{}, nil, nil, err
	}

	closureScope := g.Mgr.OpenScope(scope, sema.ScopeClosure)
	g.closureStack = append(g.closureStack, closureScope)
	g.envNext[closureScope] = 16
	label := g.Prog.NewLabel()

	body := casm.NewProgram()
	saved := g.Prog
	g.Prog = body
	g.Prog.PlaceLabel(label, "")
	for i, p := range lit.Params {
		if _, err := g.Mgr.RegisterParameter(p.Name, params[i], closureScope); err != nil {
			g.Prog = saved
			g.closureStack = g.closureStack[:len(g.closureStack)-1]
			return casm.LabelId{}, sema.ScopeId{}, nil, nil, err
		}
	}
	g.retStack = append(g.retStack, ret)
	blockErr := g.compileBlock(closureScope, lit.Body.Stmts)
	g.retStack = g.retStack[:len(g.retStack)-1]
	if blockErr == nil && ret.Kind == sema.TyUnit {
		g.Prog.Emit(casm.Instruction{Op: casm.OpStackFrameClean, Size: 0})
		g.Prog.Emit(casm.Instruction{Op: casm.OpCallReturn})
	}
	g.Prog = saved
	g.closureStack = g.closureStack[:len(g.closureStack)-1]
	if blockErr != nil {
		return casm.LabelId{}, sema.ScopeId{}, nil, nil, blockErr
	}

	skip := saved.NewLabel()
	saved.Emit(casm.Instruction{Op: casm.OpGoto, Label: skip})
	saved.AppendSegment(body)
	saved.PlaceLabel(skip, "")
	return label, closureScope, params, ret, nil
}

// compileClosureEnv allocates and populates a closure's heap environment
// block: the self {code_idx, env_ptr} pair required at offset 0
// (SPEC_FULL.md §9 Open Question 3's required self-reference slot),
// followed by every variable Mgr.Captured(closureScope) recorded during
// body compilation, each copied from its CURRENT value here in the
// enclosing scope into the offset addrOf already assigned it while
// compiling the body. label's final resolved instruction index (valid only
// after spliceClosureBody's AppendSegment has merged it in) becomes the
// code_idx half.
//
// The env pointer is stashed in a fresh scratch local rather than left
// bare on the stack: FE addressing (mem/offset.go) always loads its
// pointer from a stack-resident slot, and writing into the freshly
// allocated block needs that same FE(addr,k) mechanism a closure body uses
// to read its own captures.
func (g *Generator) compileClosureEnv(scope, closureScope sema.ScopeId, label casm.LabelId) (mem.Offset, mem.Level, error) {
	envSize := g.envNext[closureScope]
	if envSize < 16 {
		envSize = 16
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpAllocHeap, Size: envSize})

	// Push-then-register, same convention compileLet uses: the heap pointer
	// just pushed by Alloc.Heap IS the new local's storage once RegisterVar
	// assigns it that stack position — no separate store needed.
	g.envScratch++
	scratchID, err := g.Mgr.RegisterVar(fmt.Sprintf("$env.%d", g.envScratch), sema.Number(sema.U64), scope)
	if err != nil {
		return mem.Offset{}, mem.Level{}, err
	}
	scratchVar, err := g.Mgr.Var(scratchID)
	if err != nil {
		return mem.Offset{}, mem.Level{}, err
	}
	scratchAddr, scratchLvl, err := g.addrOf(scratchVar)
	if err != nil {
		return mem.Offset{}, mem.Level{}, err
	}
	if scratchAddr.Kind != mem.OffFP {
		// FE always indirects through an FP-relative local (mem/offset.go,
		// vm/addr.go's Resolve); a closure literal needs its scratch env
		// pointer to live in one, which only an allocating (function-like)
		// enclosing scope provides.
		return mem.Offset{}, mem.Level{}, errors.New("codegen: closures are only supported inside a function body")
	}

	idx, err := g.Prog.LabelIndex(label)
	if err != nil {
		return mem.Offset{}, mem.Level{}, err
	}
	var idxB [8]byte
	binary.LittleEndian.PutUint64(idxB[:], uint64(idx))
	g.Prog.Emit(casm.Instruction{Op: casm.OpSerialize, Bytes: idxB[:]})
	g.Prog.Emit(casm.Instruction{Op: casm.OpMemCopyTake, Addr: mem.FE(scratchAddr.N, 0), Level: mem.DirectLevel(), Size: 8})
	g.Prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: scratchAddr, Level: scratchLvl, Size: 8})
	g.Prog.Emit(casm.Instruction{Op: casm.OpMemCopyTake, Addr: mem.FE(scratchAddr.N, 8), Level: mem.DirectLevel(), Size: 8})

	for _, id := range g.Mgr.Captured(closureScope) {
		vi, err := g.Mgr.Var(id)
		if err != nil {
			return mem.Offset{}, mem.Level{}, err
		}
		addr, lvl, err := g.addrOf(vi)
		if err != nil {
			return mem.Offset{}, mem.Level{}, err
		}
		size := vi.Type.SizeOf()
		g.Prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: addr, Level: lvl, Size: size})
		g.Prog.Emit(casm.Instruction{Op: casm.OpMemCopyTake, Addr: mem.FE(scratchAddr.N, int64(vi.Closed.OffsetInEnv)), Level: mem.DirectLevel(), Size: size})
	}

	return scratchAddr, scratchLvl, nil
}

// compileIIFE lowers an immediately-invoked closure literal: splice the
// body in, allocate and populate its environment block (captures and all),
// then push env_ptr and the call's arguments and Call.From straight into
// it, exactly like calling a named function except the target was just
// spliced in rather than declared up front.
func (g *Generator) compileIIFE(scope sema.ScopeId, lit *lang.ClosureLit, args []lang.Expr) (*sema.Type, error) {
	if len(args) != len(lit.Params) {
		return nil, errors.Errorf("codegen: closure expects %d arguments, got %d", len(lit.Params), len(args))
	}
	label, closureScope, params, ret, err := g.spliceClosureBody(scope, lit)
	if err != nil {
		return nil, err
	}
	envAddr, envLvl, err := g.compileClosureEnv(scope, closureScope, label)
	if err != nil {
		return nil, err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpAccessStatic, Addr: envAddr, Level: envLvl, Size: 8})
	for i, a := range args {
		if _, err := g.compileExpr(scope, a, params[i]); err != nil {
			return nil, err
		}
	}
	paramSize := 0
	for _, p := range params {
		paramSize += p.SizeOf()
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpCallFrom, Label: label, ParamSize: paramSize})
	g.Prog.Emit(casm.Instruction{Op: casm.OpCallCheckError, Size: ret.SizeOf()})
	return ret, nil
}
