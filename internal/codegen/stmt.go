package codegen

import (
	"github.com/pkg/errors"

	"j5.nz/casm/internal/casm"
	"j5.nz/casm/internal/lang"
	"j5.nz/casm/internal/sema"
)

// compileBlock lowers stmts in order against scope, then Pops however many
// bytes the enclosing frame's local-block grew by while compiling them
// (Mgr.LocalSize before/after, not a per-statement sum — see LocalSize's
// doc: a closure literal's environment scratch local grows the frame too,
// not just an explicit `let`). This applies uniformly to function bodies,
// if/else arms, and loop bodies: a while/for body's Pop runs every
// iteration, which is what keeps a loop that declares a local (or builds a
// closure) from leaking stack space on each pass.
func (g *Generator) compileBlock(scope sema.ScopeId, stmts []lang.Stmt) error {
	before, _, err := g.Mgr.LocalSize(scope)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := g.compileStmt(scope, s); err != nil {
			return err
		}
	}
	after, _, err := g.Mgr.LocalSize(scope)
	if err != nil {
		return err
	}
	if delta := after - before; delta > 0 {
		g.Prog.Emit(casm.Instruction{Op: casm.OpPop, Size: delta})
	}
	return nil
}

// CompileStmt lowers one statement directly against scope, with no
// trailing per-block Pop. internal/compiler's driver calls this once per
// incrementally compiled top-level statement (spec §4.7): a thread's
// top-level scope is non-allocating, so a `let` registered there becomes a
// persistent global (SB-addressed) binding that must NOT be popped the way
// compileBlock pops an ordinary block's locals — "globals allocated in
// earlier calls remain addressable in later ones."
func (g *Generator) CompileStmt(scope sema.ScopeId, s lang.Stmt) error {
	_, err := g.compileStmt(scope, s)
	return err
}

// compileStmt lowers one statement and reports how many bytes of `let`
// locals it registered directly into scope (nonzero only for LetStmt).
// compileBlock does not use that count: its trailing Pop is sized from the
// Mgr.LocalSize delta instead.
func (g *Generator) compileStmt(scope sema.ScopeId, s lang.Stmt) (int, error) {
	switch x := s.(type) {
	case *lang.LetStmt:
		return g.compileLet(scope, x)

	case *lang.ExprStmt:
		return 0, g.compileExprStmt(scope, x)

	case *lang.ReturnStmt:
		return 0, g.compileReturn(scope, x)

	case *lang.IfStmt:
		return 0, g.compileIf(scope, x)

	case *lang.WhileStmt:
		return 0, g.compileWhile(scope, x)

	case *lang.ForStmt:
		return 0, g.compileFor(scope, x)

	case *lang.AssignStmt:
		return 0, g.compileAssign(scope, x)

	case *lang.BreakStmt:
		if len(g.loopStack) == 0 {
			return 0, errors.New("codegen: break outside of a loop")
		}
		top := g.loopStack[len(g.loopStack)-1]
		g.Prog.Emit(casm.Instruction{Op: casm.OpGoto, Label: top.exit})
		return 0, nil

	case *lang.ContinueStmt:
		if len(g.loopStack) == 0 {
			return 0, errors.New("codegen: continue outside of a loop")
		}
		top := g.loopStack[len(g.loopStack)-1]
		g.Prog.Emit(casm.Instruction{Op: casm.OpGoto, Label: top.continueTarget})
		return 0, nil

	case *lang.BlockStmt:
		inner := g.Mgr.OpenScope(scope, sema.ScopeDefault)
		return 0, g.compileBlock(inner, x.Stmts)

	case *lang.SpawnStmt:
		return 0, errors.New("codegen: spawn statements are lowered by the compiler driver, not internal/codegen (each spawned call becomes its own thread program)")
	}
	return 0, errors.Errorf("codegen: unsupported statement %T", s)
}

// compileLet lowers `let name[: Type] = value;` using push-then-register:
// the value is compiled first (its bytes land exactly where the stack top
// already is), and only then does RegisterVar assign that same position as
// the variable's frame offset — sidestepping the need to know a variable's
// resolved type before evaluating a type-inferred initializer.
func (g *Generator) compileLet(scope sema.ScopeId, s *lang.LetStmt) (int, error) {
	var hint *sema.Type
	if s.Type != nil {
		var err error
		hint, err = g.resolveType(s.Type)
		if err != nil {
			return 0, err
		}
	}
	ty, err := g.compileExpr(scope, s.Value, hint)
	if err != nil {
		return 0, err
	}
	if _, err := g.Mgr.RegisterVar(s.Name, ty, scope); err != nil {
		return 0, err
	}
	return ty.SizeOf(), nil
}

// compileExprStmt lowers an expression used as a statement, discarding any
// produced value it doesn't need — except append(v, item), which is a
// special statement form (compileAppendStmt) since it must write its result
// back into v's storage, something a plain value expression can't do.
func (g *Generator) compileExprStmt(scope sema.ScopeId, s *lang.ExprStmt) error {
	if call, ok := s.X.(*lang.CallExpr); ok {
		if ident, ok2 := call.Fn.(*lang.Ident); ok2 && ident.Name == "append" {
			return g.compileAppendStmt(scope, call.Args)
		}
	}
	ty, err := g.compileExpr(scope, s.X, nil)
	if err != nil {
		return err
	}
	if ty.Kind != sema.TyUnit {
		g.Prog.Emit(casm.Instruction{Op: casm.OpPop, Size: ty.SizeOf()})
	}
	return nil
}

// compileReturn lowers `return [value];` per spec §7's return protocol:
// StackFrame.Clean pops the frame and re-pushes the return value alongside
// its return_size+flag pair, and Call.Return then unwinds the call stack —
// the caller-side Call.CheckError (call.go) is what actually inspects that
// flag.
func (g *Generator) compileReturn(scope sema.ScopeId, s *lang.ReturnStmt) error {
	ret := g.currentRet()
	if s.Value == nil {
		if ret.Kind != sema.TyUnit {
			return errors.New("codegen: bare return in a function with a non-unit return type")
		}
		g.Prog.Emit(casm.Instruction{Op: casm.OpStackFrameClean, Size: 0})
		g.Prog.Emit(casm.Instruction{Op: casm.OpCallReturn})
		return nil
	}
	ty, err := g.compileExpr(scope, s.Value, ret)
	if err != nil {
		return err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpStackFrameClean, Size: ty.SizeOf()})
	g.Prog.Emit(casm.Instruction{Op: casm.OpCallReturn})
	return nil
}

// compileIf lowers if/else-if/else chains with an If instruction (false
// branch jumps to Else) and a trailing Goto past the else arm, each branch
// in its own scope so its locals pop independently of the other.
func (g *Generator) compileIf(scope sema.ScopeId, s *lang.IfStmt) error {
	if _, err := g.compileExpr(scope, s.Cond, sema.Bool()); err != nil {
		return err
	}
	elseLabel := g.Prog.NewLabel()
	doneLabel := g.Prog.NewLabel()
	g.Prog.Emit(casm.Instruction{Op: casm.OpIf, Else: elseLabel})

	thenScope := g.Mgr.OpenScope(scope, sema.ScopeDefault)
	if err := g.compileBlock(thenScope, s.Then.Stmts); err != nil {
		return err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpGoto, Label: doneLabel})

	g.Prog.PlaceLabel(elseLabel, "")
	switch e := s.Else.(type) {
	case nil:
	case *lang.BlockStmt:
		elseScope := g.Mgr.OpenScope(scope, sema.ScopeDefault)
		if err := g.compileBlock(elseScope, e.Stmts); err != nil {
			return err
		}
	case *lang.IfStmt:
		if err := g.compileIf(scope, e); err != nil {
			return err
		}
	default:
		return errors.Errorf("codegen: unsupported else arm %T", s.Else)
	}
	g.Prog.PlaceLabel(doneLabel, "")
	return nil
}

// compileWhile lowers `while cond { body }` as a header-test loop: test,
// conditional exit, body, unconditional jump back to the header. The
// body's own scope pops its locals every iteration. `continue` jumps back
// to header (re-testing cond, same as falling off the body), `break` jumps
// to exit.
func (g *Generator) compileWhile(scope sema.ScopeId, s *lang.WhileStmt) error {
	header := g.Prog.NewLabel()
	exit := g.Prog.NewLabel()
	g.Prog.PlaceLabel(header, "")
	if _, err := g.compileExpr(scope, s.Cond, sema.Bool()); err != nil {
		return err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpIf, Else: exit})
	bodyScope := g.Mgr.OpenScope(scope, sema.ScopeLoop)
	g.loopStack = append(g.loopStack, loopLabels{continueTarget: header, exit: exit})
	err := g.compileBlock(bodyScope, s.Body.Stmts)
	g.loopStack = g.loopStack[:len(g.loopStack)-1]
	if err != nil {
		return err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpGoto, Label: header})
	g.Prog.PlaceLabel(exit, "")
	return nil
}

// compileFor lowers `for (init; cond; post) { body }`. Init (when a LetStmt)
// registers its loop variable into a scope that wraps the whole loop and is
// popped once after exit, not per iteration, so the variable keeps one
// fixed frame offset across passes; the body gets its own nested scope
// popped every iteration, matching compileWhile. `continue` jumps to a label
// placed right before the post clause (so the increment still runs, the
// usual C-style continue semantics), `break` jumps to exit.
func (g *Generator) compileFor(scope sema.ScopeId, s *lang.ForStmt) error {
	forScope := g.Mgr.OpenScope(scope, sema.ScopeDefault)
	forBefore, _, err := g.Mgr.LocalSize(forScope)
	if err != nil {
		return err
	}
	if s.Init != nil {
		let, ok := s.Init.(*lang.LetStmt)
		if !ok {
			return errors.Errorf("codegen: for-loop init must be a let statement, got %T", s.Init)
		}
		if _, err := g.compileLet(forScope, let); err != nil {
			return err
		}
	}
	forAfterInit, _, err := g.Mgr.LocalSize(forScope)
	if err != nil {
		return err
	}
	forBytes := forAfterInit - forBefore

	header := g.Prog.NewLabel()
	exit := g.Prog.NewLabel()
	contLabel := g.Prog.NewLabel()
	g.Prog.PlaceLabel(header, "")
	if s.Cond != nil {
		if _, err := g.compileExpr(forScope, s.Cond, sema.Bool()); err != nil {
			return err
		}
		g.Prog.Emit(casm.Instruction{Op: casm.OpIf, Else: exit})
	}

	bodyScope := g.Mgr.OpenScope(forScope, sema.ScopeLoop)
	g.loopStack = append(g.loopStack, loopLabels{continueTarget: contLabel, exit: exit})
	err = g.compileBlock(bodyScope, s.Body.Stmts)
	g.loopStack = g.loopStack[:len(g.loopStack)-1]
	if err != nil {
		return err
	}
	g.Prog.PlaceLabel(contLabel, "")
	if s.Post != nil {
		if _, err := g.compileStmt(forScope, s.Post); err != nil {
			return err
		}
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpGoto, Label: header})
	g.Prog.PlaceLabel(exit, "")
	if forBytes > 0 {
		g.Prog.Emit(casm.Instruction{Op: casm.OpPop, Size: forBytes})
	}
	return nil
}

// compileAssign lowers `target = value;`: Ident/Field/TupleIndex targets
// resolve to a static address and write via MemCopy.Take; an Index target
// on a Vec uses vec.set, and on a fixed array uses Access.Runtime.Store.
func (g *Generator) compileAssign(scope sema.ScopeId, s *lang.AssignStmt) error {
	if idx, ok := s.Target.(*lang.IndexExpr); ok {
		return g.compileIndexAssign(scope, idx, s.Value)
	}
	addr, lvl, ty, err := g.staticAddr(scope, s.Target)
	if err != nil {
		return err
	}
	if _, err := g.compileExpr(scope, s.Value, ty); err != nil {
		return err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpMemCopyTake, Addr: addr, Level: lvl, Size: ty.SizeOf()})
	return nil
}

// compileIndexAssign lowers `x[i] = value;`. A heap Vec goes through
// vec.set (ptr, idx, item pushed in that order — see ffi.go's VecSet pop
// order); a fixed-size array scales i by its element size and writes via
// Access.Runtime.Store against the array's static base.
func (g *Generator) compileIndexAssign(scope sema.ScopeId, idx *lang.IndexExpr, value lang.Expr) error {
	if addr, lvl, arrTy, ok, err := g.tryStaticAddr(scope, idx.X); err != nil {
		return err
	} else if ok && arrTy.Kind == sema.TySlice {
		elemTy := arrTy.Elem
		if _, err := g.compileExpr(scope, value, elemTy); err != nil {
			return err
		}
		if err := g.emitScaledOffset(scope, idx.Index, elemTy.SizeOf()); err != nil {
			return err
		}
		g.Prog.Emit(casm.Instruction{Op: casm.OpAccessRuntimeStore, Addr: addr, Level: lvl, Size: elemTy.SizeOf()})
		return nil
	}
	xty, err := g.compileExpr(scope, idx.X, nil)
	if err != nil {
		return err
	}
	if xty.Kind != sema.TyVec {
		return errors.Errorf("codegen: cannot index-assign type %s", xty)
	}
	elemTy := xty.Elem
	if _, err := g.compileExpr(scope, idx.Index, sema.Number(sema.I64)); err != nil {
		return err
	}
	if _, err := g.compileExpr(scope, value, elemTy); err != nil {
		return err
	}
	g.Prog.Emit(casm.Instruction{Op: casm.OpPlatform, Name: "vec.set", Size: elemTy.SizeOf()})
	return nil
}
