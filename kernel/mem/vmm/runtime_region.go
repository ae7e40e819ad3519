package vmm

import (
	"virel/kernel"
	"virel/kernel/mem"
	"virel/kernel/mem/paging"
	"virel/kernel/mem/pmm"
)

// earlyReserveLastUsed tracks the last address handed out by
// EarlyReserveRegion and decreases after every call. It starts at a fixed
// slot in the higher half reserved for the Go runtime's own allocator
// arenas, well above both the HHDM window and every process address space,
// so it never collides with either.
var earlyReserveLastUsed = uintptr(0xffff900000000000)

var errEarlyReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}

// EarlyReserveRegion reserves a page-aligned contiguous range of the
// kernel's own virtual address space, without mapping any physical memory
// to it. It exists for the Go runtime bootstrap, which needs to carve out
// its allocator arenas before general-purpose address-space management is
// available. Callers map individual pages into the returned range
// themselves, via MapKernelPage.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	size = (size + (mem.PageSize - 1)) &^ (mem.PageSize - 1)

	if uintptr(size) > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= uintptr(size)
	return earlyReserveLastUsed, nil
}

// MapKernelPage installs a single mapping directly into the kernel's own
// page tables, bypassing VMArea bookkeeping. It exists for callers, such as
// the Go runtime bootstrap, that manage their own reservations outside of
// AddressSpace.Alloc.
func MapKernelPage(virt mem.VirtAddr, frame pmm.Frame, flags paging.Flag) *kernel.Error {
	return paging.MapPage(paging.KernelPML4, virt, frame, flags)
}
