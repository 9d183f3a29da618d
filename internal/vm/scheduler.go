package vm

// Scheduler runs a cooperative round-robin over a Runtime's ready threads.
// Grounded on spec §4.6: "a major frame is one round-robin pass over ready
// threads in ascending tid order; each gets a quantum-bounded slice; a
// thread only yields at Signal::YIELD, never preemptively" — and on the
// teacher's single-threaded backend_vm.go execFunc loop, generalized here
// from one program counter to many.
type Scheduler struct {
	rt      *Runtime
	Quantum int // max instructions executed per thread per major frame
}

func NewScheduler(rt *Runtime, quantum int) *Scheduler {
	if quantum <= 0 {
		quantum = 1000
	}
	return &Scheduler{rt: rt, Quantum: quantum}
}

// RunUntilAllExited drives major frames until every thread has exited or
// errored, ascending tid order within each frame (spec §8 testable
// property: "cooperative isolation" — thread B never observes thread A's
// partial stack state, since each owns its own Stack and only the shared
// Heap is visible across threads).
func (s *Scheduler) RunUntilAllExited() error {
	for {
		anyReady := false
		for _, th := range s.rt.Threads() {
			if th.Status != ThreadReady {
				continue
			}
			anyReady = true
			sig, err := s.runSlice(th)
			if err != nil {
				th.Status = ThreadExited
				th.Err = err
				continue
			}
			switch sig {
			case SigExit:
				th.Status = ThreadExited
			case SigYield:
				// remains ThreadReady; picked up again next major frame
			}
		}
		if !anyReady {
			return nil
		}
	}
}

// runSlice executes up to Quantum instructions of th, stopping early on
// Yield, Exit, or an unrecovered RuntimeError. A RuntimeError is first
// offered to th's active catch handler (spec §7: "runtime errors are
// re-entered by jumping cursor to the top of catch_stack") before being
// surfaced to the caller.
func (s *Scheduler) runSlice(th *Thread) (Signal, error) {
	for i := 0; i < s.Quantum; i++ {
		sig, err := s.rt.Step(th)
		if err != nil {
			if handlerIdx, ok := th.Program.CatchTop(); ok {
				idx, lerr := th.Program.LabelIndex(handlerIdx)
				if lerr == nil {
					th.Program.Cursor = idx
					continue
				}
			}
			return SigNone, err
		}
		if sig != SigNone {
			return sig, nil
		}
	}
	return SigYield, nil
}
