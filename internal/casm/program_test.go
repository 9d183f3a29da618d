package casm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelRoundTrip(t *testing.T) {
	p := NewProgram()
	l := p.NewLabel()
	p.Emit(Instruction{Op: OpGoto, Label: l})
	p.PlaceLabel(l, "top")

	idx, err := p.LabelIndex(l)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}

func TestCatchStackLIFO(t *testing.T) {
	p := NewProgram()
	a, b := p.NewLabel(), p.NewLabel()
	p.PlaceLabel(a, "a")
	p.PlaceLabel(b, "b")
	p.PushCatch(a)
	p.PushCatch(b)

	top, ok := p.CatchTop()
	require.True(t, ok)
	require.Equal(t, b, top)

	popped, ok := p.PopCatch()
	require.True(t, ok)
	require.Equal(t, b, popped)

	top, ok = p.CatchTop()
	require.True(t, ok)
	require.Equal(t, a, top)
}

func TestAppendSegmentAdvancesCursorOnlyPastEnd(t *testing.T) {
	p := NewProgram()
	p.Emit(Instruction{Op: OpPop, Size: 1})
	p.Cursor = 1 // at the end: exhausted

	seg := NewProgram()
	l := seg.NewLabel()
	seg.PlaceLabel(l, "seg")
	p.AppendSegment(seg)

	require.Equal(t, 1, p.Cursor, "cursor should jump to the new segment's start")
	idx, err := p.LabelIndex(l)
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	// A second append while cursor is NOT past the prior end must not move it.
	p.Cursor = 0
	seg2 := NewProgram()
	seg2.Emit(Instruction{Op: OpPop, Size: 2})
	p.AppendSegment(seg2)
	require.Equal(t, 0, p.Cursor)
}

func TestValidateCatchStackMustResolve(t *testing.T) {
	p := NewProgram()
	p.PushCatch(NewLabelId())
	require.Error(t, p.Validate())
}
