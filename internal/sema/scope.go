package sema

import (
	"sort"

	"github.com/pkg/errors"

	"j5.nz/casm/internal/mem"
)

// ScopeState classifies a scope the way tinyrange-rtg's frontend.go
// classifies a module's nested blocks, generalized to spec §3's scope
// kinds: a Function/Closure/Lambda/IIFE scope owns a stack frame
// (allocating_scope); Default/Inline/Loop scopes borrow their enclosing
// frame.
type ScopeState int

const (
	ScopeDefault ScopeState = iota
	ScopeFunction
	ScopeClosure
	ScopeLambda
	ScopeInline
	ScopeIIFE
	ScopeLoop
)

func (s ScopeState) allocates() bool {
	return s == ScopeFunction || s == ScopeClosure || s == ScopeLambda || s == ScopeIIFE
}

func (s ScopeState) closureLike() bool {
	return s == ScopeClosure || s == ScopeLambda || s == ScopeIIFE
}

// AddressKind discriminates where a VariableInfo's address lives.
type AddressKind int

const (
	AddrUnallocated AddressKind = iota
	AddrGlobal
	AddrLocal
	AddrParameter
)

// VariableAddress is the frame-relative (or global) location assigned to a
// variable at registration time; codegen turns it into a mem.Offset once
// the enclosing frame is lowered (spec §4.4).
type VariableAddress struct {
	Kind   AddressKind
	Offset int
}

// ClosedMarker records whether a variable has been captured into a
// closure's heap environment block (spec §3: "ClosedMarker{Open |
// Close{closed_scope, env_addr, offset}}").
type ClosedMarker struct {
	Closed      bool
	ClosedScope ScopeId
	EnvAddr     mem.Offset
	OffsetInEnv int
}

// VariableInfo is one registered variable or parameter.
type VariableInfo struct {
	ID      VarId
	Name    string
	Count   int // shadow generation: 1 for the first declaration of Name in this scope chain, 2 for the next distinctly-typed redeclaration, ...
	Type    *Type
	Scope   ScopeId
	Address VariableAddress
	Closed  ClosedMarker
}

// FrameMapping is the stack-frame layout being built for one allocating
// scope: a running parameter-block size and local-block size, plus the
// ordered list of variables placed in it. Grounded on tinyrange-rtg's
// backend.go frame-offset bookkeeping, generalized from a single
// compile-time-fixed frame to the spec's incrementally-built one.
type FrameMapping struct {
	ParamSize int
	LocalSize int
	Vars      []VarId
}

// TypeInfo records one user-defined type registration (spec §3: "types:
// TypeInfo[]").
type TypeInfo struct {
	ID   TypeId
	Type *Type
}

// txState is the undo log for one open scope-manager transaction (spec
// §4.7: "open_transaction / accept_transaction / reject_transaction" —
// rollback on a failed incremental compile must leave no trace).
type txState struct {
	createdScopes  []ScopeId
	createdVars    []VarId
	createdTypes   int // types are append-only; just remember the prior length
	savedGlobalTop int
}

// ErrNoTransaction / ErrTransactionOpen guard transaction misuse.
var (
	ErrNoTransaction   = errors.New("sema: no open transaction")
	ErrTransactionOpen = errors.New("sema: a transaction is already open")
	ErrUnknownVar      = errors.New("sema: unknown variable")
	ErrUnknownScope    = errors.New("sema: unknown scope")
)

// Manager is the ScopeManager of spec §3/§4.3: it tracks the scope tree,
// variable and type registration, frame layout accumulation, and closure
// capture, with transactional rollback for incremental compilation.
// Grounded on the original Rust source's scope.rs (register_var's
// count/hash scheme, find_var_by_name's most-specific-shadow selection by
// sorting candidates by count) and spec §4.3.
type Manager struct {
	scopeParent map[ScopeId]ScopeId
	scopeBranch map[ScopeId][]ScopeId // ordered root..self ancestor chain
	scopeState  map[ScopeId]ScopeState
	scopeLookup map[ScopeId]map[VarId]bool // captured vars per closure-like scope

	allocating map[ScopeId]*FrameMapping

	vars  map[VarId]*VariableInfo
	types []TypeInfo

	globalTop int

	tx *txState
}

func NewManager() *Manager {
	return &Manager{
		scopeParent: make(map[ScopeId]ScopeId),
		scopeBranch: make(map[ScopeId][]ScopeId),
		scopeState:  make(map[ScopeId]ScopeState),
		scopeLookup: make(map[ScopeId]map[VarId]bool),
		allocating:  make(map[ScopeId]*FrameMapping),
		vars:        make(map[VarId]*VariableInfo),
	}
}

// OpenScope creates a new scope nested under parent (the zero ScopeId for
// a root/global scope) and returns its id.
func (m *Manager) OpenScope(parent ScopeId, state ScopeState) ScopeId {
	id := newScopeId()
	var branch []ScopeId
	if !parent.IsZero() {
		branch = append(append([]ScopeId{}, m.scopeBranch[parent]...), id)
	} else {
		branch = []ScopeId{id}
	}
	m.scopeParent[id] = parent
	m.scopeBranch[id] = branch
	m.scopeState[id] = state
	if state.allocates() {
		m.allocating[id] = &FrameMapping{}
	}
	if state.closureLike() {
		m.scopeLookup[id] = make(map[VarId]bool)
	}
	if m.tx != nil {
		m.tx.createdScopes = append(m.tx.createdScopes, id)
	}
	return id
}

func (m *Manager) nearestAllocatingFrame(scope ScopeId) (ScopeId, *FrameMapping, error) {
	branch, ok := m.scopeBranch[scope]
	if !ok {
		return ScopeId{}, nil, errors.Wrapf(ErrUnknownScope, "%s", scope)
	}
	for i := len(branch) - 1; i >= 0; i-- {
		if fm, ok := m.allocating[branch[i]]; ok {
			return branch[i], fm, nil
		}
	}
	return ScopeId{}, nil, nil // no allocating ancestor: variable is global
}

// RegisterVar assigns a VarId to a new local/global binding, bumping the
// enclosing frame's (or the global segment's) layout. Re-registering the
// same (name, type, scope) triple is idempotent and returns the existing id
// — incremental per-statement compilation may re-resolve a statement that
// was already accepted in a prior transaction.
func (m *Manager) RegisterVar(name string, typ *Type, scope ScopeId) (VarId, error) {
	count := m.nextShadowCount(name, typ, scope)
	id := hashVarId(name, count, scope)
	if existing, ok := m.vars[id]; ok && existing.Type.Equal(typ) {
		return id, nil
	}

	allocScope, fm, err := m.nearestAllocatingFrame(scope)
	if err != nil {
		return VarId{}, err
	}

	var addr VariableAddress
	if fm == nil {
		addr = VariableAddress{Kind: AddrGlobal, Offset: m.globalTop}
		m.globalTop += typ.SizeOf()
	} else {
		addr = VariableAddress{Kind: AddrLocal, Offset: fm.ParamSize + fm.LocalSize}
		fm.LocalSize += typ.SizeOf()
		fm.Vars = append(fm.Vars, id)
		_ = allocScope
	}

	m.vars[id] = &VariableInfo{ID: id, Name: name, Count: count, Type: typ, Scope: scope, Address: addr}
	if m.tx != nil {
		m.tx.createdVars = append(m.tx.createdVars, id)
	}
	return id, nil
}

// RegisterParameter assigns a VarId to a function/closure parameter,
// bumping the frame's parameter-block size rather than its local-block
// size (spec §4.4: params and locals occupy disjoint, independently
// addressed sub-regions of FP-relative space).
func (m *Manager) RegisterParameter(name string, typ *Type, scope ScopeId) (VarId, error) {
	count := m.nextShadowCount(name, typ, scope)
	id := hashVarId(name, count, scope)
	if existing, ok := m.vars[id]; ok && existing.Type.Equal(typ) {
		return id, nil
	}
	_, fm, err := m.nearestAllocatingFrame(scope)
	if err != nil {
		return VarId{}, err
	}
	if fm == nil {
		return VarId{}, errors.New("sema: parameter registered outside an allocating scope")
	}
	addr := VariableAddress{Kind: AddrParameter, Offset: fm.ParamSize}
	fm.ParamSize += typ.SizeOf()
	fm.Vars = append(fm.Vars, id)

	m.vars[id] = &VariableInfo{ID: id, Name: name, Count: count, Type: typ, Scope: scope, Address: addr}
	if m.tx != nil {
		m.tx.createdVars = append(m.tx.createdVars, id)
	}
	return id, nil
}

// nextShadowCount implements the teacher-scope.rs shadow rule: the first
// declaration of a name in a scope gets count 1; a later declaration of the
// SAME name with a DIFFERENT type in a scope reachable from the same branch
// gets the next count. Re-declaring with the identical type reuses that
// declaration's count.
func (m *Manager) nextShadowCount(name string, typ *Type, scope ScopeId) int {
	branch := m.scopeBranch[scope]
	max := 0
	for _, v := range m.vars {
		if v.Name != name {
			continue
		}
		if !(v.IsGlobalAddr() || containsScope(branch, v.Scope)) {
			continue
		}
		if v.Type.Equal(typ) {
			return v.Count
		}
		if v.Count > max {
			max = v.Count
		}
	}
	return max + 1
}

func (v *VariableInfo) IsGlobalAddr() bool { return v.Address.Kind == AddrGlobal }

func containsScope(branch []ScopeId, s ScopeId) bool {
	for _, b := range branch {
		if b == s {
			return true
		}
	}
	return false
}

// FindVar resolves name to the most specific (highest shadow count)
// binding visible from scope's ancestor chain, without recording closure
// capture. Use FindVarFrom when resolution happens inside executable code
// that may need to cross a closure boundary.
func (m *Manager) FindVar(name string, scope ScopeId) (*VariableInfo, error) {
	branch, ok := m.scopeBranch[scope]
	if !ok && !scope.IsZero() {
		return nil, errors.Wrapf(ErrUnknownScope, "%s", scope)
	}
	var best *VariableInfo
	for _, v := range m.vars {
		if v.Name != name {
			continue
		}
		if !(v.IsGlobalAddr() || containsScope(branch, v.Scope)) {
			continue
		}
		if best == nil || v.Count > best.Count {
			best = v
		}
	}
	if best == nil {
		return nil, errors.Wrapf(ErrUnknownVar, "%s", name)
	}
	return best, nil
}

// FindVarFrom resolves name as used from useScope and, when the binding
// lives outside one or more enclosing Closure/Lambda/IIFE scopes, marks it
// captured in each such scope's scope_lookup set (spec §3/§4.4: "a used
// var from an outer scope is inserted into scope_lookup before the lookup
// crosses the closure boundary").
func (m *Manager) FindVarFrom(useScope ScopeId, name string) (*VariableInfo, error) {
	v, err := m.FindVar(name, useScope)
	if err != nil {
		return nil, err
	}
	if v.IsGlobalAddr() {
		return v, nil
	}
	branch := m.scopeBranch[useScope]
	defIdx := -1
	for i, s := range branch {
		if s == v.Scope {
			defIdx = i
			break
		}
	}
	if defIdx < 0 {
		return v, nil
	}
	for i := len(branch) - 1; i > defIdx; i-- {
		s := branch[i]
		if m.scopeState[s].closureLike() {
			m.markCaptured(s, v.ID)
		}
	}
	return v, nil
}

func (m *Manager) markCaptured(scope ScopeId, id VarId) {
	set, ok := m.scopeLookup[scope]
	if !ok {
		set = make(map[VarId]bool)
		m.scopeLookup[scope] = set
	}
	set[id] = true
}

// Captured returns the variable ids captured into scope's closure
// environment, in a stable deterministic order (sorted by VarId bytes) so
// codegen assigns identical environment layouts across repeated compiles.
func (m *Manager) Captured(scope ScopeId) []VarId {
	set := m.scopeLookup[scope]
	ids := make([]VarId, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		for k := 0; k < len(ids[i]); k++ {
			if ids[i][k] != ids[j][k] {
				return ids[i][k] < ids[j][k]
			}
		}
		return false
	})
	return ids
}

// MarkAsClosedVar records that id has been lowered into scope's heap
// environment block at byte offset offsetInEnv, reachable via the pointer
// held at envAddr (typically FP(-8) in the closure's own frame, per
// SPEC_FULL.md's FE(env,k) ABI note). Called by codegen while lowering a
// closure literal, once for each id in Captured(scope).
func (m *Manager) MarkAsClosedVar(id VarId, scope ScopeId, envAddr mem.Offset, offsetInEnv int) error {
	v, ok := m.vars[id]
	if !ok {
		return errors.Wrapf(ErrUnknownVar, "%s", id)
	}
	v.Closed = ClosedMarker{Closed: true, ClosedScope: scope, EnvAddr: envAddr, OffsetInEnv: offsetInEnv}
	return nil
}

// LocalSize returns the current local-block size of scope's nearest
// allocating frame (0, false if scope has no allocating ancestor — a
// top-level/global scope). codegen's compileBlock reads this before and
// after lowering a block's statements and Pops the difference, rather than
// summing each statement's own reported byte count, so a `let` isn't the
// only thing that can grow frame-resident storage a block is responsible
// for reclaiming — compileClosureEnv's scratch env-pointer local is the
// other case (call.go).
func (m *Manager) LocalSize(scope ScopeId) (int, bool, error) {
	_, fm, err := m.nearestAllocatingFrame(scope)
	if err != nil {
		return 0, false, err
	}
	if fm == nil {
		return 0, false, nil
	}
	return fm.LocalSize, true, nil
}

// Var fetches a registered variable by id.
func (m *Manager) Var(id VarId) (*VariableInfo, error) {
	v, ok := m.vars[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownVar, "%s", id)
	}
	return v, nil
}

// Frame returns the frame layout being accumulated for an allocating scope.
func (m *Manager) Frame(scope ScopeId) (*FrameMapping, bool) {
	fm, ok := m.allocating[scope]
	return fm, ok
}

// RegisterType appends a new user-defined type and returns its id.
func (m *Manager) RegisterType(t *Type) TypeId {
	if t.ID == (TypeId{}) {
		t.ID = NewTypeId()
	}
	m.types = append(m.types, TypeInfo{ID: t.ID, Type: t})
	return t.ID
}

// LookupType finds a previously registered user type by id.
func (m *Manager) LookupType(id TypeId) (*Type, bool) {
	for _, ti := range m.types {
		if ti.ID == id {
			return ti.Type, true
		}
	}
	return nil, false
}

// GlobalTop returns the current size of the global data segment.
func (m *Manager) GlobalTop() int { return m.globalTop }

// Parent returns scope's enclosing scope and true, or the zero ScopeId and
// false for a root/global scope.
func (m *Manager) Parent(scope ScopeId) (ScopeId, bool) {
	p, ok := m.scopeParent[scope]
	return p, ok
}

// State returns the ScopeState a scope was opened with, used by codegen to
// tell a closure/lambda frame apart from an ordinary function frame when
// deciding whether FP addressing needs the env-pointer shift (SPEC_FULL.md
// §4.4's FP(-8) convention applies only to closure bodies).
func (m *Manager) State(scope ScopeId) ScopeState { return m.scopeState[scope] }
