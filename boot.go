package main

import (
	"virel/kernel/boot"
	"virel/kernel/kmain"
)

// bootInfoPtr is populated by the architecture's rt0 trampoline before it
// jumps into main, once the raw Limine request/response structures have
// been translated into a boot.Info. Assigning through a global instead of
// passing it as an ordinary argument mirrors the rt0 calling convention: a
// minimal g0 stack is all that's set up at this point, and the trampoline
// communicates with Go code the same way it always has, via a symbol it
// can write to before transferring control.
var bootInfoPtr *boot.Info

// main is the only Go symbol visible (exported) to the rt0 initialization
// code. It is a trampoline for the real kernel entrypoint, kmain.Kmain,
// and exists so the compiler has a reachable root to keep that code from
// being optimized away; the rt0 assembly has no Go-level reference to it.
//
// main is invoked after rt0 has set up the GDT and a minimal g0 struct
// large enough to run Go code on the 4K stack the assembly allocated.
//
// main is not expected to return. If it does, the rt0 code halts the CPU.
func main() {
	kmain.Kmain(bootInfoPtr)
}
