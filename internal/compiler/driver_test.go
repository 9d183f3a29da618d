package compiler_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"j5.nz/casm/internal/compiler"
	"j5.nz/casm/internal/vm"
)

func newTestDriver(out *bytes.Buffer) *compiler.Driver {
	stdio := &vm.StdIO{Out: out, Err: out}
	rt := vm.NewRuntime(1<<20, stdio, zerolog.Nop())
	return compiler.NewDriver(rt, 10000, zerolog.Nop())
}

// TestRunFileHelloWorld exercises spec §8's canonical scenario: loading a
// module with one function and running it produces exactly its printed
// text, nothing more.
func TestRunFileHelloWorld(t *testing.T) {
	var out bytes.Buffer
	d := newTestDriver(&out)
	src := []byte(`fn main() -> unit { print("Hello World"); }`)
	require.NoError(t, d.RunFile(src))
	require.Equal(t, "Hello World", out.String())
}

// TestRunFileArithmeticAndControlFlow exercises let/while/if lowering and
// the per-scope Pop discipline (stmt.go's compileBlock): a loop-local that
// leaked stack space across iterations would corrupt the final printed
// count.
func TestRunFileArithmeticAndControlFlow(t *testing.T) {
	var out bytes.Buffer
	d := newTestDriver(&out)
	src := []byte(`
fn count_up(n: i64) -> unit {
	let i: i64 = 0;
	while i < n {
		let doubled: i64 = i * 2;
		if doubled == 6 {
			println("found six");
		}
		i = i + 1;
	}
}
fn main() -> unit { count_up(5); }
`)
	require.NoError(t, d.RunFile(src))
	require.Equal(t, "found six\n", out.String())
}

// TestCompileIncrementalRollback exercises spec §8's transaction-rollback
// property: a failing incremental Compile call must leave the thread's
// program and scope state exactly as they were.
func TestCompileIncrementalRollback(t *testing.T) {
	var out bytes.Buffer
	d := newTestDriver(&out)
	require.NoError(t, d.LoadModule([]byte(`fn main() -> unit {}`)))
	tid := d.Spawn(compiler.DefaultStackCapacity)

	require.NoError(t, d.Compile(tid, []byte(`let x: i64 = 1;`)))
	listingBefore, err := d.Disassemble(tid)
	require.NoError(t, err)

	err = d.Compile(tid, []byte(`let y: i64 = undefined_name;`))
	require.Error(t, err)

	listingAfter, err := d.Disassemble(tid)
	require.NoError(t, err)
	require.Equal(t, listingBefore, listingAfter)
}

// TestRunFileClosureCaptureAndCall exercises SPEC_FULL.md §9 Open Question
// 3: a `let`-bound closure capturing an outer local, called both directly
// through its variable (Call.Indirect) and as an immediately-invoked
// literal. A wrong capture offset or a stale env pointer would print the
// uncaptured/garbage value instead of 15 and 14.
func TestRunFileClosureCaptureAndCall(t *testing.T) {
	var out bytes.Buffer
	d := newTestDriver(&out)
	src := []byte(`
fn main() -> unit {
	let base: i64 = 10;
	let add_base: fn(i64) -> i64 = |x: i64| -> i64 { return x + base; };
	let r: i64 = add_base(5);
	if r == 15 {
		println("closure ok");
	}
	let doubled: i64 = (|y: i64| -> i64 { return y * 2; })(base - 3);
	if doubled == 14 {
		println("iife ok");
	}
}
`)
	require.NoError(t, d.RunFile(src))
	require.Equal(t, "closure ok\niife ok\n", out.String())
}

// TestRunFileBreakContinue exercises spec §4.4's break/continue: continue
// skips the println for even i without skipping the increment, break stops
// the loop once i reaches 4 so 5 and beyond never print.
func TestRunFileBreakContinue(t *testing.T) {
	var out bytes.Buffer
	d := newTestDriver(&out)
	src := []byte(`
fn main() -> unit {
	let i: i64 = 0;
	while i < 10 {
		i = i + 1;
		if i == 4 {
			break;
		}
		if i == 2 {
			continue;
		}
		println("odd-ish");
	}
}
`)
	require.NoError(t, d.RunFile(src))
	require.Equal(t, "odd-ish\nodd-ish\n", out.String())
}

// TestRunFileMapBuiltins exercises the map_new/map_set/map_get/map_len/
// map_delete family (SPEC_FULL.md §6): a key written then read back must
// round-trip, and deleting it must drop map_len back to zero.
func TestRunFileMapBuiltins(t *testing.T) {
	var out bytes.Buffer
	d := newTestDriver(&out)
	src := []byte(`
fn main() -> unit {
	let m: u64 = map_new();
	map_set(m, 1, 42);
	let v: u64 = map_get(m, 1);
	if v == 42 {
		println("get ok");
	}
	map_delete(m, 1);
	let n: u64 = map_len(m);
	if n == 0 {
		println("delete ok");
	}
}
`)
	require.NoError(t, d.RunFile(src))
	require.Equal(t, "get ok\ndelete ok\n", out.String())
}

// TestSpawnCrossThread exercises spec §8's "cross-thread compile" scenario
// through the driver: a host thread compiles `spawn sayA();` and then
// `spawn sayB();`, each spawning a thread that runs print("A\n") or
// print("B\n"), and the scheduler runs until every thread has exited ⇒
// stdio contains A\n then B\n in ascending tid order. `spawn` is a driver-level,
// host-issued operation here (compiled as a top-level statement), not
// something a function body can contain (stmt.go's SpawnStmt case is
// deliberately unreachable from codegen).
func TestSpawnCrossThread(t *testing.T) {
	var out bytes.Buffer
	d := newTestDriver(&out)
	require.NoError(t, d.LoadModule([]byte(`
fn sayA() -> unit { print("A\n"); }
fn sayB() -> unit { print("B\n"); }
`)))
	host := d.Spawn(compiler.DefaultStackCapacity)
	require.NoError(t, d.Compile(host, []byte(`spawn sayA();`)))
	require.NoError(t, d.Compile(host, []byte(`spawn sayB();`)))
	require.NoError(t, d.Sched.RunUntilAllExited())
	require.Equal(t, "A\nB\n", out.String())
}
