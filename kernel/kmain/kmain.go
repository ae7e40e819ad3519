package kmain

import (
	"virel/kernel"
	"virel/kernel/boot"
	"virel/kernel/goruntime"
	"virel/kernel/kfmt"
	"virel/kernel/mem"
	"virel/kernel/mem/heap"
	"virel/kernel/mem/hhdm"
	"virel/kernel/mem/paging"
	"virel/kernel/mem/pmm"
	"virel/kernel/mem/pmm/allocator"
	"virel/kernel/mem/vmm"
)

// kernelHeapStart is the virtual address the kernel heap grows from. It
// sits well above every other kernel-half reservation so the heap never
// collides with .text/.rodata/.data or the goruntime bootstrap's own
// early-reserved range.
const kernelHeapStart = 0xffffffff90000000

// kernelHeapInitialSize is the size of the first heap region mapped by
// heap.Init.
const kernelHeapInitialSize = 1 << 20 // 1MiB

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

var (
	// The Init/SetOffset sequence below each touch real hardware state
	// (CR3, CR4, the HHDM window) the moment they run, so every step is
	// reached through a package-level indirection that tests can swap
	// out, following the pattern already used by goruntime and paging.
	hhdmSetOffsetFn = hhdm.SetOffset
	bootMemInitFn   = allocator.Init
	pmmInitFn       = pmm.Init
	pagingInitFn    = paging.Init
	heapInitFn      = heap.Init
	vmmInitFn       = vmm.Init
	goruntimeInitFn = goruntime.Init
	panicFn         = kfmt.Panic
)

// Kmain is the kernel entrypoint called by main.main, the Go symbol the rt0
// trampoline emitted by the architecture's boot stub jumps to. It is invoked
// once, on the bootstrap processor, after the stub has set up a stack and an
// initial g0 large enough to run Go code.
//
// info is filled in by the bootloader's request/response protocol before
// control reaches here; the stub is responsible for translating the raw
// Limine responses into it.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(info *boot.Info) {
	hhdmSetOffsetFn(info.HHDMOffset)
	bootMemInitFn(&info.MemMap, &info.Layout)

	if err := pmmInitFn(&info.MemMap, &info.Layout); err != nil {
		panic(err)
	}
	if err := pagingInitFn(&info.MemMap, &info.Layout, info.HHDMOffset, info.Executable.PhysicalBase); err != nil {
		panic(err)
	}
	if err := heapInitFn(mem.VirtAddr(kernelHeapStart), mem.Size(kernelHeapInitialSize)); err != nil {
		panic(err)
	}
	vmmInitFn()
	if err := goruntimeInitFn(); err != nil {
		panic(err)
	}

	// Use panicFn instead of the builtin panic here: this call is
	// expected to be unreachable in practice (every step above either
	// succeeds or halts the machine), and an ordinary panic at the tail
	// of a function with no other observable effects is exactly the
	// kind of call the compiler is free to reason about and drop.
	// kfmt.Panic always has the externally visible side effect of
	// halting the CPU, so it survives.
	panicFn(errKmainReturned)
}
