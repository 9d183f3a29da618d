package casm

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// labelInfo records where a label was placed (spec §3: "their position is
// recorded when emitted").
type labelInfo struct {
	index int
	name  string
}

// Program is an immutable-append CASM instruction vector with a cursor
// (program counter), a label table, and a catch stack of active exception
// handlers (spec §3). One Program backs one Thread (spec §4.5); the
// compiler driver appends new segments to it incrementally (spec §4.7).
type Program struct {
	Instrs     []Instruction
	Cursor     int
	labels     map[LabelId]labelInfo
	catchStack []LabelId
}

// NewProgram returns an empty program ready to receive segments.
func NewProgram() *Program {
	return &Program{labels: make(map[LabelId]labelInfo)}
}

// Len returns the number of instructions currently in the program.
func (p *Program) Len() int { return len(p.Instrs) }

// Emit appends one instruction and returns its index.
func (p *Program) Emit(i Instruction) int {
	p.Instrs = append(p.Instrs, i)
	return len(p.Instrs) - 1
}

// NewLabel allocates a fresh label id without placing it.
func (p *Program) NewLabel() LabelId { return NewLabelId() }

// PlaceLabel emits an OpLabel marker at the current end of the program and
// records the label's position and name.
func (p *Program) PlaceLabel(id LabelId, name string) {
	p.labels[id] = labelInfo{index: len(p.Instrs), name: name}
	p.Emit(Instruction{Op: OpLabel, Label: id, Name: name})
}

// LabelIndex returns the instruction index a label resolves to.
func (p *Program) LabelIndex(id LabelId) (int, error) {
	info, ok := p.labels[id]
	if !ok {
		return 0, errors.Errorf("casm: undefined label %s", id)
	}
	return info.index, nil
}

// PushCatch pushes a handler label onto the catch stack (Try instruction).
func (p *Program) PushCatch(id LabelId) { p.catchStack = append(p.catchStack, id) }

// PopCatch removes the most recently pushed handler.
func (p *Program) PopCatch() (LabelId, bool) {
	if len(p.catchStack) == 0 {
		return LabelId{}, false
	}
	top := p.catchStack[len(p.catchStack)-1]
	p.catchStack = p.catchStack[:len(p.catchStack)-1]
	return top, true
}

// CatchTop returns the active handler without popping it, for RuntimeError
// dispatch (spec §7): "runtime errors are re-entered by jumping cursor to
// the top of catch_stack".
func (p *Program) CatchTop() (LabelId, bool) {
	if len(p.catchStack) == 0 {
		return LabelId{}, false
	}
	return p.catchStack[len(p.catchStack)-1], true
}

// AppendSegment appends a freshly generated segment's instructions to this
// program, merging its label table and advancing the cursor to the new
// segment's start if it had fallen off the end of the prior one — the
// incremental-compile contract used by Thread.PushSegment (spec §4.5/§4.7):
// "Thread.push_instr(segment) appends a new program segment and, if the
// thread's cursor is past the prior end, advances it to the start of the
// new segment."
func (p *Program) AppendSegment(seg *Program) {
	base := len(p.Instrs)
	priorEnd := base
	for id, info := range seg.labels {
		p.labels[id] = labelInfo{index: info.index + base, name: info.name}
	}
	p.Instrs = append(p.Instrs, seg.Instrs...)
	if p.Cursor >= priorEnd {
		p.Cursor = base
	}
}

// Validate checks the CASM program invariants from spec §6: labels unique
// (guaranteed by construction via uuid), cursor in range, and catch stack
// entries resolvable.
func (p *Program) Validate() error {
	if p.Cursor < 0 || p.Cursor > len(p.Instrs) {
		return errors.Errorf("casm: cursor %d out of range [0,%d]", p.Cursor, len(p.Instrs))
	}
	for _, id := range p.catchStack {
		if _, err := p.LabelIndex(id); err != nil {
			return errors.Wrap(err, "casm: invalid catch stack entry")
		}
	}
	return nil
}

// Disassemble renders the program as human-readable text, one instruction
// per line, used by tests and the `casm disasm` CLI subcommand. Grounded on
// the teacher's -debug trace dumps (main.go, backend_vm.go step-limit dump).
func (p *Program) Disassemble() string {
	var b strings.Builder
	for i, inst := range p.Instrs {
		fmt.Fprintf(&b, "%4d  %s", i, inst.Op)
		switch inst.Op {
		case OpLabel:
			fmt.Fprintf(&b, " %s %q", inst.Label, inst.Name)
		case OpGoto:
			if !inst.Label.IsZero() {
				fmt.Fprintf(&b, " -> %s", inst.Label)
			}
		case OpIf:
			fmt.Fprintf(&b, " else -> %s", inst.Else)
		case OpCallFrom:
			fmt.Fprintf(&b, " %s params=%d", inst.Label, inst.ParamSize)
		case OpOperation:
			fmt.Fprintf(&b, " kind=%d type=%s", inst.Kind, inst.NumT)
		case OpAccessStatic, OpLocate:
			fmt.Fprintf(&b, " %s size=%d", inst.Addr, inst.Size)
		case OpPlatform:
			fmt.Fprintf(&b, " %s", inst.Name)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
