// Package codegen lowers the resolved surface AST (internal/lang) to CASM
// (internal/casm), driving internal/sema's scope manager the same way
// tinyrange-rtg's backend.go/backend_ir.go drive frame layout during native
// lowering, generalized here to spec §4.4's per-scope lowering algorithm and
// CASM's stack-oriented instruction set instead of a register/native target.
package codegen

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"j5.nz/casm/internal/casm"
	"j5.nz/casm/internal/lang"
	"j5.nz/casm/internal/mem"
	"j5.nz/casm/internal/sema"
)

// funcInfo is a function's compile-time signature: its entry label and
// resolved parameter/return types, recorded before the body is compiled so
// forward and recursive calls resolve.
type funcInfo struct {
	Label  casm.LabelId
	Params []*sema.Type
	Ret    *sema.Type
}

// Generator holds the state threaded through one file's lowering: the
// semantic scope manager, the CASM program being emitted into, the
// user-type and function registries, and the small amount of extra
// bookkeeping closure-environment layout needs.
//
// Generator deliberately keeps ONE piece of mutable, swappable state —
// Prog — rather than threading a *casm.Program through every method, since
// lowering a closure body temporarily redirects emission into a fresh
// segment (see call.go's compileIIFE) the same way the teacher's backend.go
// redirects into a per-function instruction buffer before splicing it into
// the final program.
type Generator struct {
	Mgr  *sema.Manager
	Prog *casm.Program
	log  zerolog.Logger

	global sema.ScopeId
	funcs  map[string]*funcInfo
	types  map[string]*sema.Type

	// envNext tracks the next free byte offset in a closure scope's heap
	// environment block, seeded at 16 (the self {code,env} slot) when the
	// scope opens and bumped by addrOf as captures are discovered lazily
	// during body compilation (see expr.go).
	envNext map[sema.ScopeId]int

	// closureStack is the chain of closure scopes currently being compiled
	// into, innermost last; empty outside any closure body.
	closureStack []sema.ScopeId

	// retStack is the chain of enclosing functions'/closures' declared
	// return types, innermost last, consulted by compileReturn (stmt.go) to
	// type-hint a `return expr;`'s value and size its Call.Return.
	retStack []*sema.Type

	// loopStack is the chain of enclosing while/for loops' break/continue
	// targets, innermost last, consulted by compileStmt's BreakStmt/
	// ContinueStmt cases (stmt.go).
	loopStack []loopLabels

	// envScratch counts synthetic "$env.N" locals handed out by
	// compileClosureEnv (call.go), one per closure literal compiled, so
	// concurrent closures in the same scope don't collide on a name.
	envScratch int
}

// loopLabels is one enclosing loop's jump targets: exit is where `break`
// goes, continueTarget is where `continue` goes — the loop header for a
// while (re-test the condition) or the post-increment for a for-loop (spec
// §4.4's loop bodies keep the C-style continue-runs-the-post semantics).
type loopLabels struct {
	continueTarget casm.LabelId
	exit           casm.LabelId
}

func (g *Generator) currentRet() *sema.Type {
	if len(g.retStack) == 0 {
		return sema.Unit()
	}
	return g.retStack[len(g.retStack)-1]
}

// NewGenerator returns a Generator ready to compile a single file's
// declarations into prog, registering globals under global.
func NewGenerator(mgr *sema.Manager, prog *casm.Program, global sema.ScopeId, log zerolog.Logger) *Generator {
	return &Generator{
		Mgr:     mgr,
		Prog:    prog,
		log:     log,
		global:  global,
		funcs:   make(map[string]*funcInfo),
		types:   make(map[string]*sema.Type),
		envNext: make(map[sema.ScopeId]int),
	}
}

// CompileFile lowers every declaration in f: user types first (so function
// signatures can reference them), then every function signature (so forward
// and mutually-recursive calls resolve), then every function body.
func (g *Generator) CompileFile(f *lang.File) error {
	for _, d := range f.Decls {
		switch decl := d.(type) {
		case *lang.StructDecl:
			if err := g.declareStruct(decl); err != nil {
				return errors.Wrapf(err, "codegen: struct %s", decl.Name)
			}
		case *lang.UnionDecl:
			if err := g.declareUnion(decl); err != nil {
				return errors.Wrapf(err, "codegen: union %s", decl.Name)
			}
		case *lang.EnumDecl:
			g.declareEnum(decl)
		}
	}
	for _, d := range f.Decls {
		if fn, ok := d.(*lang.FnDecl); ok {
			if err := g.declareFuncSignature(fn); err != nil {
				return errors.Wrapf(err, "codegen: fn %s signature", fn.Name)
			}
		}
	}
	for _, d := range f.Decls {
		if fn, ok := d.(*lang.FnDecl); ok {
			if err := g.compileFnDecl(fn); err != nil {
				return errors.Wrapf(err, "codegen: fn %s", fn.Name)
			}
		}
	}
	return nil
}

func (g *Generator) declareStruct(d *lang.StructDecl) error {
	var fields []sema.Field
	offset := 0
	for _, p := range d.Fields {
		ty, err := g.resolveType(p.Type)
		if err != nil {
			return err
		}
		fields = append(fields, sema.Field{Name: p.Name, Type: ty, Offset: offset})
		offset += ty.SizeOf()
	}
	t := &sema.Type{Kind: sema.TyStruct, Name: d.Name, Fields: fields}
	g.Mgr.RegisterType(t)
	g.types[d.Name] = t
	return nil
}

func (g *Generator) declareUnion(d *lang.UnionDecl) error {
	var variants []sema.UnionVariant
	for _, v := range d.Variants {
		var fields []sema.Field
		offset := 0
		for _, p := range v.Fields {
			ty, err := g.resolveType(p.Type)
			if err != nil {
				return err
			}
			fields = append(fields, sema.Field{Name: p.Name, Type: ty, Offset: offset})
			offset += ty.SizeOf()
		}
		variants = append(variants, sema.UnionVariant{Name: v.Name, Fields: fields})
	}
	t := &sema.Type{Kind: sema.TyUnion, Name: d.Name, Variants: variants}
	g.Mgr.RegisterType(t)
	g.types[d.Name] = t
	return nil
}

func (g *Generator) declareEnum(d *lang.EnumDecl) {
	t := &sema.Type{Kind: sema.TyEnum, Name: d.Name, EnumValues: d.Values}
	g.Mgr.RegisterType(t)
	g.types[d.Name] = t
}

func (g *Generator) declareFuncSignature(d *lang.FnDecl) error {
	params := make([]*sema.Type, len(d.Params))
	for i, p := range d.Params {
		ty, err := g.resolveType(p.Type)
		if err != nil {
			return err
		}
		params[i] = ty
	}
	ret := sema.Unit()
	if d.Ret != nil {
		var err error
		ret, err = g.resolveType(d.Ret)
		if err != nil {
			return err
		}
	}
	g.funcs[d.Name] = &funcInfo{Label: g.Prog.NewLabel(), Params: params, Ret: ret}
	return nil
}

// compileFnDecl lowers a function's body per spec §4.4: parameters are
// registered against a fresh Function scope (an allocating scope, so
// CallReturn's StackFrame.Clean reclaims the whole frame in one shot), the
// body is lowered statement by statement, and a trailing implicit
// Call.Return(0) is emitted for a unit-returning function whose body falls
// off the end without an explicit return.
func (g *Generator) compileFnDecl(d *lang.FnDecl) error {
	info := g.funcs[d.Name]
	scope := g.Mgr.OpenScope(g.global, sema.ScopeFunction)
	g.Prog.PlaceLabel(info.Label, d.Name)
	for i, p := range d.Params {
		if _, err := g.Mgr.RegisterParameter(p.Name, info.Params[i], scope); err != nil {
			return err
		}
	}
	g.retStack = append(g.retStack, info.Ret)
	err := g.compileBlock(scope, d.Body.Stmts)
	g.retStack = g.retStack[:len(g.retStack)-1]
	if err != nil {
		return err
	}
	if info.Ret.Kind == sema.TyUnit {
		g.Prog.Emit(casm.Instruction{Op: casm.OpStackFrameClean, Size: 0})
		g.Prog.Emit(casm.Instruction{Op: casm.OpCallReturn})
	}
	return nil
}

// addrOf computes the mem.Offset/mem.Level pair a variable resolves to from
// the point this is called, which may be from inside zero or more nested
// closure bodies. Grounded on SPEC_FULL.md §9 Open Question 4's ABI: a
// closure body's environment pointer always sits at FP(-8) (the caller
// pushes env_ptr immediately before the user argument block, so it lands
// exactly one word below Call.From's computed param base — see call.go's
// compileIIFE for the matching push order), so captured variables are
// addressed FE(-8, offsetInEnv).
//
// A variable is captured into the INNERMOST currently-compiling closure
// scope the first time it's referenced there; sema.Manager.FindVarFrom has
// already recorded that fact in scope_lookup by the time this is called
// (codegen calls FindVarFrom before addrOf for every Ident), so this simply
// consults Captured(cur) and assigns the next environment offset on first
// sight, caching it permanently via MarkAsClosedVar.
func (g *Generator) addrOf(v *sema.VariableInfo) (mem.Offset, mem.Level, error) {
	cur := g.currentClosure()
	if v.Closed.Closed && v.Closed.ClosedScope == cur {
		return mem.FE(v.Closed.EnvAddr.N, int64(v.Closed.OffsetInEnv)), mem.DirectLevel(), nil
	}
	if !cur.IsZero() {
		for _, id := range g.Mgr.Captured(cur) {
			if id != v.ID {
				continue
			}
			if !(v.Closed.Closed && v.Closed.ClosedScope == cur) {
				offset := g.envNext[cur]
				g.envNext[cur] = offset + v.Type.SizeOf()
				if err := g.Mgr.MarkAsClosedVar(v.ID, cur, mem.FP(-8), offset); err != nil {
					return mem.Offset{}, mem.Level{}, err
				}
				return mem.FE(-8, int64(offset)), mem.DirectLevel(), nil
			}
			return mem.FE(-8, int64(v.Closed.OffsetInEnv)), mem.DirectLevel(), nil
		}
	}
	switch v.Address.Kind {
	case sema.AddrGlobal:
		return mem.SB(int64(v.Address.Offset)), mem.DirectLevel(), nil
	case sema.AddrParameter:
		off := int64(v.Address.Offset)
		if g.Mgr.State(v.Scope) == sema.ScopeClosure {
			off += 8 // env_ptr occupies FP(-8..0); user params start at FP(0)
		}
		return mem.FP(off), mem.DirectLevel(), nil
	default: // AddrLocal: sema already folds the local offset onto the
		// allocating frame's FP-relative space (ParamSize+LocalSize), so
		// locals and parameters share one FP-addressed block.
		off := int64(v.Address.Offset)
		if g.Mgr.State(v.Scope) == sema.ScopeClosure || closureAncestor(g.Mgr, v.Scope) {
			off += 8
		}
		return mem.FP(off), mem.DirectLevel(), nil
	}
}

// closureAncestor reports whether the allocating scope that owns a local's
// frame is a closure — needed because a local declared in a nested
// non-allocating block (if/while/for body) inside a closure is registered
// with Scope set to that nested block, not the closure scope itself, yet
// still lives in the closure's FP space and needs the same +8 shift.
func closureAncestor(mgr *sema.Manager, scope sema.ScopeId) bool {
	for s := scope; !s.IsZero(); {
		if mgr.State(s) == sema.ScopeClosure {
			return true
		}
		parent, ok := mgr.Parent(s)
		if !ok {
			return false
		}
		s = parent
	}
	return false
}

// ImportModule copies mod's compiled function signatures and user-type
// registry into g, so a freshly spawned thread's Generator (internal/
// compiler's Driver.Spawn) can resolve calls to, and types named by,
// functions/structs/unions/enums declared in the shared module program it
// cloned into its own Prog.
func (g *Generator) ImportModule(mod *Generator) {
	for name, info := range mod.funcs {
		g.funcs[name] = info
	}
	for name, t := range mod.types {
		g.types[name] = t
	}
}

func (g *Generator) currentClosure() sema.ScopeId {
	if len(g.closureStack) == 0 {
		return sema.ScopeId{}
	}
	return g.closureStack[len(g.closureStack)-1]
}
