package sema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeUnresolvedWithConcrete(t *testing.T) {
	got, err := Merge(Unresolved(), Number(I32))
	require.NoError(t, err)
	require.Equal(t, TyNumber, got.Kind)
	require.Equal(t, I32, got.Num)
}

func TestMergeBothUnresolvedDefaultsI64(t *testing.T) {
	got, err := Merge(Unresolved(), Unresolved())
	require.NoError(t, err)
	require.True(t, got.Equal(Number(I64)))
}

func TestMergeWidensToFloat(t *testing.T) {
	got, err := Merge(Number(I32), Number(F64))
	require.NoError(t, err)
	require.Equal(t, F64, got.Num)
}

func TestMergeWidestInteger(t *testing.T) {
	got, err := Merge(Number(I8), Number(I32))
	require.NoError(t, err)
	require.Equal(t, I32, got.Num)
}

func TestMergeIncompatibleKinds(t *testing.T) {
	_, err := Merge(Bool(), Number(I32))
	require.Error(t, err)
}

func TestTypeEqualStructural(t *testing.T) {
	a := VecOf(Number(I64))
	b := VecOf(Number(I64))
	c := VecOf(Number(I32))
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestSizeOfAggregates(t *testing.T) {
	tup := TupleOf(Number(I32), Bool(), Char())
	require.Equal(t, 4+1+4, tup.SizeOf())

	vec := VecOf(Number(I64))
	require.Equal(t, 8, vec.SizeOf()) // smart pointer, not the element size

	sl := SliceOf(Number(I32), 3)
	require.Equal(t, 12, sl.SizeOf())
}

func TestCompareCompatible(t *testing.T) {
	require.True(t, CompareCompatible(Number(I32), Number(F64)))
	require.True(t, CompareCompatible(String(), String()))
	require.False(t, CompareCompatible(String(), Bool()))
}
