// Package hhdm implements the higher-half direct map translator: a
// constant-offset mapping of all physical RAM into the kernel's virtual
// address space, established by the bootloader before the kernel gains
// control.
package hhdm

import (
	"virel/kernel"
	"virel/kernel/kfmt"
	"virel/kernel/mem"
)

var (
	offset mem.VirtAddr
	ready  bool

	errNotReady = &kernel.Error{Module: "hhdm", Message: "SetOffset was never called"}
)

// SetOffset records the bootloader-supplied HHDM offset. It must be called
// exactly once, before any other function in this package or any package
// that depends on it (effectively everything past the boot trampoline).
func SetOffset(off mem.VirtAddr) {
	offset = off
	ready = true
}

// Offset returns the currently configured HHDM offset.
func Offset() mem.VirtAddr {
	return offset
}

// PhysToVirt returns the HHDM virtual address that maps the given physical
// address. The caller is responsible for ensuring that p lies within the
// direct-map window (i.e. p < highest usable physical address).
func PhysToVirt(p mem.PhysAddr) mem.VirtAddr {
	if !ready {
		kfmt.Panic(errNotReady)
	}
	return mem.VirtAddr(uintptr(p) + uintptr(offset))
}

// VirtToPhys returns the physical address backing a virtual address that
// lies inside the HHDM window. Calling this with a virtual address outside
// the window yields a meaningless result; callers must enforce that
// themselves as this is pure arithmetic with no failure mode.
func VirtToPhys(v mem.VirtAddr) mem.PhysAddr {
	if !ready {
		kfmt.Panic(errNotReady)
	}
	return mem.PhysAddr(uintptr(v) - uintptr(offset))
}
