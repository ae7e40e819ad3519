package paging

import (
	"virel/kernel/mem"
	"virel/kernel/mem/pmm"
)

// entry is a single page table entry at any of the four paging levels. The
// physical frame it points to and the flags describing it share the same
// word, as dictated by the amd64 paging structures.
type entry uintptr

func (e entry) hasFlags(flags Flag) bool {
	return uintptr(e)&uintptr(flags) == uintptr(flags)
}

func (e entry) hasAnyFlag(flags Flag) bool {
	return uintptr(e)&uintptr(flags) != 0
}

func (e *entry) setFlags(flags Flag) {
	*e = entry(uintptr(*e) | uintptr(flags))
}

func (e *entry) clearFlags(flags Flag) {
	*e = entry(uintptr(*e) &^ uintptr(flags))
}

// frame returns the physical frame referenced by this entry.
func (e entry) frame() pmm.Frame {
	return pmm.FrameFromAddress((uintptr(e) & mem.PTEAddrMask))
}

// setFrame rewrites the physical frame referenced by this entry, leaving its
// flag bits untouched.
func (e *entry) setFrame(frame pmm.Frame) {
	*e = entry((uintptr(*e) &^ mem.PTEAddrMask) | frame.Address())
}
