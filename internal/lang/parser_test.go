package lang

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFnDeclSimple(t *testing.T) {
	f, err := ParseFile([]byte(`
fn add(a: i32, b: i32) -> i32 {
	return a + b;
}
`))
	require.NoError(t, err)
	require.Len(t, f.Decls, 1)
	fn := f.Decls[0].(*FnDecl)
	require.Equal(t, "add", fn.Name)
	require.Len(t, fn.Params, 2)
	require.Equal(t, "i32", fn.Ret.Name)
	require.Len(t, fn.Body.Stmts, 1)
	ret := fn.Body.Stmts[0].(*ReturnStmt)
	bin := ret.Value.(*BinaryExpr)
	require.Equal(t, TOKEN_PLUS, bin.Op)
}

func TestParseLetAndIf(t *testing.T) {
	f, err := ParseFile([]byte(`
fn main() {
	let x: i32 = 1;
	if x > 0 {
		x = x - 1;
	} else {
		x = 0;
	}
}
`))
	require.NoError(t, err)
	fn := f.Decls[0].(*FnDecl)
	require.IsType(t, &LetStmt{}, fn.Body.Stmts[0])
	ifs := fn.Body.Stmts[1].(*IfStmt)
	require.NotNil(t, ifs.Else)
}

func TestParseWhileAndFor(t *testing.T) {
	f, err := ParseFile([]byte(`
fn main() {
	while true {
		let y: i32 = 1;
	}
	for (let i: i32 = 0; i < 10; i = i + 1) {
		let z: i32 = i;
	}
}
`))
	require.NoError(t, err)
	fn := f.Decls[0].(*FnDecl)
	require.IsType(t, &WhileStmt{}, fn.Body.Stmts[0])
	forStmt := fn.Body.Stmts[1].(*ForStmt)
	require.NotNil(t, forStmt.Init)
	require.NotNil(t, forStmt.Cond)
	require.NotNil(t, forStmt.Post)
}

func TestParseVecAndIndexAndAppend(t *testing.T) {
	f, err := ParseFile([]byte(`
fn main() {
	let v: Vec<i32> = vec[1, 2, 3];
	append(v, 4);
	let first: i32 = v[0];
}
`))
	require.NoError(t, err)
	fn := f.Decls[0].(*FnDecl)
	let0 := fn.Body.Stmts[0].(*LetStmt)
	vl := let0.Value.(*VecLit)
	require.Len(t, vl.Elems, 3)

	es := fn.Body.Stmts[1].(*ExprStmt)
	call := es.X.(*CallExpr)
	require.Equal(t, "append", call.Fn.(*Ident).Name)

	let2 := fn.Body.Stmts[2].(*LetStmt)
	idx := let2.Value.(*IndexExpr)
	require.Equal(t, int64(0), idx.Index.(*IntLit).Value)
}

func TestParseTupleLitAndIndex(t *testing.T) {
	f, err := ParseFile([]byte(`
fn main() {
	let t: (i32, bool) = (1, true);
	let b: bool = t.1;
}
`))
	require.NoError(t, err)
	fn := f.Decls[0].(*FnDecl)
	let0 := fn.Body.Stmts[0].(*LetStmt)
	tl := let0.Value.(*TupleLit)
	require.Len(t, tl.Elems, 2)

	let1 := fn.Body.Stmts[1].(*LetStmt)
	ti := let1.Value.(*TupleIndexExpr)
	require.Equal(t, 1, ti.Index)
}

func TestParseClosureLit(t *testing.T) {
	f, err := ParseFile([]byte(`
fn main() {
	let add: fn(i32, i32) -> i32 = |a: i32, b: i32| -> i32 {
		return a + b;
	};
}
`))
	require.NoError(t, err)
	fn := f.Decls[0].(*FnDecl)
	let0 := fn.Body.Stmts[0].(*LetStmt)
	cl := let0.Value.(*ClosureLit)
	require.Len(t, cl.Params, 2)
	require.Equal(t, "i32", cl.Ret.Name)
}

func TestParseStructUnionEnumDecls(t *testing.T) {
	f, err := ParseFile([]byte(`
struct Point { x: i32, y: i32 }
union Shape { Circle { r: i32 }, Square { s: i32 } }
enum Color { Red, Green, Blue }
`))
	require.NoError(t, err)
	require.Len(t, f.Decls, 3)
	st := f.Decls[0].(*StructDecl)
	require.Len(t, st.Fields, 2)
	un := f.Decls[1].(*UnionDecl)
	require.Len(t, un.Variants, 2)
	en := f.Decls[2].(*EnumDecl)
	require.Equal(t, []string{"Red", "Green", "Blue"}, en.Values)
}

func TestParseSpawnStmt(t *testing.T) {
	f, err := ParseFile([]byte(`
fn worker() {}
fn main() {
	spawn worker();
}
`))
	require.NoError(t, err)
	fn := f.Decls[1].(*FnDecl)
	sp := fn.Body.Stmts[0].(*SpawnStmt)
	require.Equal(t, "worker", sp.Call.Fn.(*Ident).Name)
}

func TestParseFieldAssignment(t *testing.T) {
	f, err := ParseFile([]byte(`
fn main() {
	p.x = 5;
}
`))
	require.NoError(t, err)
	fn := f.Decls[0].(*FnDecl)
	as := fn.Body.Stmts[0].(*AssignStmt)
	fe := as.Target.(*FieldExpr)
	require.Equal(t, "x", fe.Name)
}

func TestParseCastExpr(t *testing.T) {
	f, err := ParseFile([]byte(`
fn main() {
	let c: char = 65 as char;
}
`))
	require.NoError(t, err)
	fn := f.Decls[0].(*FnDecl)
	let0 := fn.Body.Stmts[0].(*LetStmt)
	ce := let0.Value.(*CastExpr)
	require.Equal(t, "char", ce.Type.Name)
}
