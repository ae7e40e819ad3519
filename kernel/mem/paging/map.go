// Package paging implements the four-level amd64 page table mapper (PML4,
// PDPT, PD, PT) used to back both the kernel's own address space and every
// process virtual address space managed by kernel/mem/vmm. Unlike a
// recursive self-mapping design, this mapper reaches every table through
// the higher-half direct map, so it never needs a table's own mapping to be
// active in order to edit it.
package paging

import (
	"virel/kernel"
	"virel/kernel/cpu"
	"virel/kernel/mem"
	"virel/kernel/mem/pmm"
)

var (
	// flushTLBEntryFn invalidates a single TLB entry after a mapping
	// changes. Swapped out in tests.
	flushTLBEntryFn = cpu.FlushTLBEntry

	errHugePageMismatch = &kernel.Error{Module: "paging", Message: "requested page size does not match the existing mapping"}
	errNotPresent       = &kernel.Error{Module: "paging", Message: "virtual address is not mapped"}
	errAlreadyMapped    = &kernel.Error{Module: "paging", Message: "virtual address is already mapped"}
)

// MapPage installs a 4KiB mapping from virt to frame in the address space
// rooted at pml4, allocating any missing intermediate tables.
func MapPage(pml4 mem.PhysAddr, virt mem.VirtAddr, frame pmm.Frame, flags Flag) *kernel.Error {
	ptTable, err := walkTo(pml4, virt, 3, true)
	if err != nil {
		return err
	}

	pte := entryAt(ptTable, levelIndex(virt, 3))
	if pte.hasFlags(FlagPresent) {
		return errAlreadyMapped
	}

	*pte = 0
	pte.setFrame(frame)
	pte.setFlags(flags | FlagPresent)
	flushTLBEntryFn(uintptr(virt))
	return nil
}

// MapHugePage installs a 2MiB mapping from virt to frame, which must be
// 2MiB-aligned. The mapping is installed directly at the PD level with the
// FlagHuge bit set; no PT is allocated.
func MapHugePage(pml4 mem.PhysAddr, virt mem.VirtAddr, frame pmm.Frame, flags Flag) *kernel.Error {
	pdTable, err := walkTo(pml4, virt, 2, true)
	if err != nil {
		return err
	}

	pde := entryAt(pdTable, levelIndex(virt, 2))
	if pde.hasFlags(FlagPresent) {
		return errAlreadyMapped
	}

	*pde = 0
	pde.setFrame(frame)
	pde.setFlags(flags | FlagPresent | FlagHuge)
	flushTLBEntryFn(uintptr(virt))
	return nil
}

// UnmapPage clears the mapping for a 4KiB page previously installed with
// MapPage.
func UnmapPage(pml4 mem.PhysAddr, virt mem.VirtAddr) *kernel.Error {
	ptTable, err := walkTo(pml4, virt, 3, false)
	if err != nil {
		return err
	}

	pte := entryAt(ptTable, levelIndex(virt, 3))
	if !pte.hasFlags(FlagPresent) {
		return errNotPresent
	}

	*pte = 0
	flushTLBEntryFn(uintptr(virt))
	return nil
}

// UnmapHugePage clears the mapping for a 2MiB page previously installed
// with MapHugePage.
func UnmapHugePage(pml4 mem.PhysAddr, virt mem.VirtAddr) *kernel.Error {
	pdTable, err := walkTo(pml4, virt, 2, false)
	if err != nil {
		return err
	}

	pde := entryAt(pdTable, levelIndex(virt, 2))
	if !pde.hasFlags(FlagPresent) || !pde.hasFlags(FlagHuge) {
		return errNotPresent
	}

	*pde = 0
	flushTLBEntryFn(uintptr(virt))
	return nil
}

// ChangeFlags replaces the permission/cache flags of an already-present 4KiB
// mapping, leaving its physical frame untouched.
func ChangeFlags(pml4 mem.PhysAddr, virt mem.VirtAddr, flags Flag) *kernel.Error {
	ptTable, err := walkTo(pml4, virt, 3, false)
	if err != nil {
		return err
	}

	pte := entryAt(ptTable, levelIndex(virt, 3))
	if !pte.hasFlags(FlagPresent) {
		return errNotPresent
	}

	frame := pte.frame()
	*pte = 0
	pte.setFrame(frame)
	pte.setFlags(flags | FlagPresent)
	flushTLBEntryFn(uintptr(virt))
	return nil
}

// Translate returns the physical address backing virt, or errNotPresent if
// virt is not mapped (at either the 4KiB or 2MiB granularity).
func Translate(pml4 mem.PhysAddr, virt mem.VirtAddr) (mem.PhysAddr, *kernel.Error) {
	pdTable, err := walkTo(pml4, virt, 2, false)
	if err != nil {
		return 0, err
	}

	pde := entryAt(pdTable, levelIndex(virt, 2))
	if !pde.hasFlags(FlagPresent) {
		return 0, errNotPresent
	}
	if pde.hasFlags(FlagHuge) {
		return pde.frame().PhysAddr() + mem.PhysAddr(uintptr(virt)&(uintptr(mem.HugePageSize)-1)), nil
	}

	ptTable := pde.frame().PhysAddr()
	pte := entryAt(ptTable, levelIndex(virt, 3))
	if !pte.hasFlags(FlagPresent) {
		return 0, errNotPresent
	}
	return pte.frame().PhysAddr() + mem.PhysAddr(virt.PageOffset()), nil
}

// MapRegion installs 4KiB mappings for count consecutive pages starting at
// virt, backed by count consecutive frames starting at frame.
func MapRegion(pml4 mem.PhysAddr, virt mem.VirtAddr, frame pmm.Frame, count uint64, flags Flag) *kernel.Error {
	for i := uint64(0); i < count; i++ {
		if err := MapPage(pml4, virt+mem.VirtAddr(i*uint64(mem.PageSize)), frame+pmm.Frame(i), flags); err != nil {
			return err
		}
	}
	return nil
}

// UnmapRegion clears the mappings for count consecutive pages starting at
// virt. When huge is true, virt must be 2MiB-aligned and the unmap steps by
// mem.HugePageSize, clearing PD-level entries installed by MapHugePage;
// otherwise it steps by mem.PageSize, clearing PT-level entries installed
// by MapPage.
func UnmapRegion(pml4 mem.PhysAddr, virt mem.VirtAddr, count uint64, huge bool) *kernel.Error {
	if huge {
		for i := uint64(0); i < count; i++ {
			if err := UnmapHugePage(pml4, virt+mem.VirtAddr(i*uint64(mem.HugePageSize))); err != nil {
				return err
			}
		}
		return nil
	}

	for i := uint64(0); i < count; i++ {
		if err := UnmapPage(pml4, virt+mem.VirtAddr(i*uint64(mem.PageSize))); err != nil {
			return err
		}
	}
	return nil
}
