package codegen

import (
	"github.com/pkg/errors"

	"j5.nz/casm/internal/casm"
	"j5.nz/casm/internal/lang"
	"j5.nz/casm/internal/sema"
)

var primitiveNumbers = map[string]sema.NumKind{
	"i8": sema.I8, "i16": sema.I16, "i32": sema.I32, "i64": sema.I64, "i128": sema.I128,
	"u8": sema.U8, "u16": sema.U16, "u32": sema.U32, "u64": sema.U64, "u128": sema.U128,
	"f64": sema.F64,
}

// resolveType turns a surface-syntax TypeExpr into a *sema.Type, the way
// tinyrange-rtg's frontend.go resolves a parsed type name against its
// symbol table, extended here for the compound shapes (Vec/array/tuple/
// address/fn) spec §3's type grammar adds.
func (g *Generator) resolveType(te *lang.TypeExpr) (*sema.Type, error) {
	if te == nil {
		return sema.Unit(), nil
	}
	switch {
	case te.IsVec:
		elem, err := g.resolveType(te.Elem)
		if err != nil {
			return nil, err
		}
		return sema.VecOf(elem), nil
	case te.IsAddress:
		elem, err := g.resolveType(te.Elem)
		if err != nil {
			return nil, err
		}
		return sema.Address(elem), nil
	case te.ArraySize > 0:
		elem, err := g.resolveType(te.Elem)
		if err != nil {
			return nil, err
		}
		return sema.SliceOf(elem, te.ArraySize), nil
	case len(te.Items) > 0:
		items := make([]*sema.Type, len(te.Items))
		for i, it := range te.Items {
			ty, err := g.resolveType(it)
			if err != nil {
				return nil, err
			}
			items[i] = ty
		}
		return sema.TupleOf(items...), nil
	case te.Params != nil:
		params := make([]*sema.Type, len(te.Params))
		for i, p := range te.Params {
			ty, err := g.resolveType(p)
			if err != nil {
				return nil, err
			}
			params[i] = ty
		}
		ret, err := g.resolveType(te.Ret)
		if err != nil {
			return nil, err
		}
		return sema.Fn(params, ret), nil
	}

	switch te.Name {
	case "bool":
		return sema.Bool(), nil
	case "char":
		return sema.Char(), nil
	case "string":
		return sema.String(), nil
	case "unit", "":
		return sema.Unit(), nil
	case "any":
		return sema.Any(), nil
	}
	if nk, ok := primitiveNumbers[te.Name]; ok {
		return sema.Number(nk), nil
	}
	if t, ok := g.types[te.Name]; ok {
		return t, nil
	}
	return nil, errors.Errorf("codegen: unknown type %q", te.Name)
}

// numTypeOf maps a resolved numeric/bool/char type onto the NumType the VM's
// Operation/Cast instructions operate on (exec.go's arith.go), collapsing
// spec §3's wider taxonomy onto the width/signed/float triple the VM
// actually dispatches on.
func numTypeOf(t *sema.Type) casm.NumType {
	switch t.Kind {
	case sema.TyBool:
		return casm.NumType{Width: 1}
	case sema.TyChar:
		return casm.NumType{Width: 4}
	case sema.TyNumber, sema.TyUnresolved:
		if t.Kind == sema.TyUnresolved {
			return casm.NumType{Width: 8, Signed: true}
		}
		return numKindType(t.Num)
	default:
		return casm.NumType{Width: t.SizeOf(), Signed: true}
	}
}

func numKindType(n sema.NumKind) casm.NumType {
	nt := casm.NumType{Width: sema.Number(n).SizeOf()}
	switch n {
	case sema.F64:
		nt.Float = true
	case sema.I8, sema.I16, sema.I32, sema.I64, sema.I128:
		nt.Signed = true
	}
	return nt
}
