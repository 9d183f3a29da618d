package sema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"j5.nz/casm/internal/mem"
)

func TestRegisterVarDeterministicId(t *testing.T) {
	m1 := NewManager()
	s1 := m1.OpenScope(ScopeId{}, ScopeFunction)
	id1, err := m1.RegisterVar("x", Number(I64), s1)
	require.NoError(t, err)

	// A fresh manager processing an identical sequence of scope/var
	// registrations must derive the same VarId (spec §8 name-resolution
	// determinism), since hashVarId is pure over (name, count, scope) and
	// scope ids are the only non-reproducible input — so we compare against
	// a direct hash computation using the same scope id instead of a second
	// manager (which would mint a different random ScopeId).
	want := hashVarId("x", 1, s1)
	require.Equal(t, want, id1)
}

func TestRegisterVarShadowing(t *testing.T) {
	m := NewManager()
	s := m.OpenScope(ScopeId{}, ScopeFunction)
	id1, err := m.RegisterVar("x", Number(I32), s)
	require.NoError(t, err)
	id2, err := m.RegisterVar("x", Number(F64), s)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	v1, err := m.Var(id1)
	require.NoError(t, err)
	v2, err := m.Var(id2)
	require.NoError(t, err)
	require.Equal(t, 1, v1.Count)
	require.Equal(t, 2, v2.Count)

	// Re-registering the same (name,type) is idempotent.
	id1b, err := m.RegisterVar("x", Number(I32), s)
	require.NoError(t, err)
	require.Equal(t, id1, id1b)
}

func TestFindVarMostSpecificShadow(t *testing.T) {
	m := NewManager()
	outer := m.OpenScope(ScopeId{}, ScopeFunction)
	_, err := m.RegisterVar("x", Number(I32), outer)
	require.NoError(t, err)

	inner := m.OpenScope(outer, ScopeInline)
	idInner, err := m.RegisterVar("x", Bool(), inner)
	require.NoError(t, err)

	found, err := m.FindVar("x", inner)
	require.NoError(t, err)
	require.Equal(t, idInner, found.ID)
	require.Equal(t, TyBool, found.Type.Kind)
}

func TestRegisterVarGlobalWhenNoAllocatingAncestor(t *testing.T) {
	m := NewManager()
	root := m.OpenScope(ScopeId{}, ScopeDefault)
	id, err := m.RegisterVar("g", Number(I64), root)
	require.NoError(t, err)
	v, err := m.Var(id)
	require.NoError(t, err)
	require.Equal(t, AddrGlobal, v.Address.Kind)
	require.Equal(t, 8, m.GlobalTop())
}

func TestRegisterParameterAndLocalDisjointOffsets(t *testing.T) {
	m := NewManager()
	fn := m.OpenScope(ScopeId{}, ScopeFunction)
	pid, err := m.RegisterParameter("a", Number(I32), fn)
	require.NoError(t, err)
	lid, err := m.RegisterVar("b", Number(I64), fn)
	require.NoError(t, err)

	p, _ := m.Var(pid)
	l, _ := m.Var(lid)
	require.Equal(t, AddrParameter, p.Address.Kind)
	require.Equal(t, 0, p.Address.Offset)
	require.Equal(t, AddrLocal, l.Address.Kind)
	require.Equal(t, 4, l.Address.Offset) // after the 4-byte i32 param

	fm, ok := m.Frame(fn)
	require.True(t, ok)
	require.Equal(t, 4, fm.ParamSize)
	require.Equal(t, 8, fm.LocalSize)
}

func TestClosureCaptureMarksScopeLookup(t *testing.T) {
	m := NewManager()
	outer := m.OpenScope(ScopeId{}, ScopeFunction)
	xid, err := m.RegisterVar("x", Number(I64), outer)
	require.NoError(t, err)

	closure := m.OpenScope(outer, ScopeClosure)
	_, err = m.FindVarFrom(closure, "x")
	require.NoError(t, err)

	captured := m.Captured(closure)
	require.Len(t, captured, 1)
	require.Equal(t, xid, captured[0])
}

func TestClosureCaptureNestedTwoLevels(t *testing.T) {
	m := NewManager()
	outer := m.OpenScope(ScopeId{}, ScopeFunction)
	xid, err := m.RegisterVar("x", Number(I64), outer)
	require.NoError(t, err)

	mid := m.OpenScope(outer, ScopeClosure)
	inner := m.OpenScope(mid, ScopeLambda)

	_, err = m.FindVarFrom(inner, "x")
	require.NoError(t, err)

	require.Contains(t, m.Captured(mid), xid)
	require.Contains(t, m.Captured(inner), xid)
}

func TestMarkAsClosedVar(t *testing.T) {
	m := NewManager()
	outer := m.OpenScope(ScopeId{}, ScopeFunction)
	xid, err := m.RegisterVar("x", Number(I64), outer)
	require.NoError(t, err)
	closure := m.OpenScope(outer, ScopeClosure)
	_, err = m.FindVarFrom(closure, "x")
	require.NoError(t, err)

	err = m.MarkAsClosedVar(xid, closure, mem.FP(-8), 8)
	require.NoError(t, err)
	v, _ := m.Var(xid)
	require.True(t, v.Closed.Closed)
	require.Equal(t, 8, v.Closed.OffsetInEnv)
}

func TestTransactionRollback(t *testing.T) {
	m := NewManager()
	root := m.OpenScope(ScopeId{}, ScopeDefault)
	_, err := m.RegisterVar("kept", Number(I64), root)
	require.NoError(t, err)
	topBefore := m.GlobalTop()

	require.NoError(t, m.OpenTransaction())
	s := m.OpenScope(root, ScopeInline)
	id, err := m.RegisterVar("scratch", Number(I64), s)
	require.NoError(t, err)
	require.NoError(t, m.RejectTransaction())

	_, err = m.Var(id)
	require.Error(t, err)
	require.Equal(t, topBefore, m.GlobalTop())
	require.False(t, m.InTransaction())
}

func TestTransactionAcceptKeepsChanges(t *testing.T) {
	m := NewManager()
	root := m.OpenScope(ScopeId{}, ScopeDefault)
	require.NoError(t, m.OpenTransaction())
	id, err := m.RegisterVar("v", Number(I64), root)
	require.NoError(t, err)
	require.NoError(t, m.AcceptTransaction())

	v, err := m.Var(id)
	require.NoError(t, err)
	require.Equal(t, "v", v.Name)
}

func TestDoubleOpenTransactionErrors(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.OpenTransaction())
	require.Error(t, m.OpenTransaction())
	require.NoError(t, m.RejectTransaction())
}
