package paging

import (
	"unsafe"

	"virel/kernel"
	"virel/kernel/mem"
	"virel/kernel/mem/hhdm"
	"virel/kernel/mem/pmm"
)

// pageLevelShifts gives the virtual-address bit offset of the index for
// each of the four paging levels: PML4, PDPT, PD, PT.
var pageLevelShifts = [mem.PageLevels]uint{39, 30, 21, 12}

const pageIndexMask = uintptr(mem.PageTableEntries - 1)

var (
	// frameAllocatorFn allocates the physical frames backing newly
	// created page tables. Swapped out in tests.
	frameAllocatorFn = pmm.AllocFrame

	// physToVirtFn translates a table's physical address into the HHDM
	// virtual address used to read/write its entries. Swapped out in
	// tests so they can operate on plain Go-allocated memory instead of
	// real physical addresses.
	physToVirtFn = hhdm.PhysToVirt

	errOutOfMemory = &kernel.Error{Module: "paging", Message: "could not allocate a frame for a new page table"}
)

// levelIndex extracts the page-table index for virt at the given paging
// level (0 = PML4 ... 3 = PT).
func levelIndex(virt mem.VirtAddr, level int) uintptr {
	return (uintptr(virt) >> pageLevelShifts[level]) & pageIndexMask
}

// entryAt returns a pointer to the index'th entry of the table whose
// physical address is table.
func entryAt(table mem.PhysAddr, index uintptr) *entry {
	tableVirt := physToVirtFn(table)
	return (*entry)(unsafe.Pointer(uintptr(tableVirt) + index*unsafe.Sizeof(entry(0))))
}

// clearTable zeroes every entry of the table whose physical address is phys.
func clearTable(phys mem.PhysAddr) {
	base := uintptr(physToVirtFn(phys))
	mem.Memset(base, 0, mem.PageSize)
}

// walkTo descends from root down to the paging level immediately above
// targetLevel and returns the physical address of the table at targetLevel
// (e.g. targetLevel=3 walks PML4->PDPT->PD->PT and returns the PT's physical
// address so the caller can address its entries; targetLevel=2 stops one
// level earlier, returns the PD, and is used for 2MiB mappings).
// When create is true, missing intermediate tables are allocated and
// zeroed; when false, walkTo returns errNotPresent the first time it finds
// a missing or huge intermediate entry.
func walkTo(root mem.PhysAddr, virt mem.VirtAddr, targetLevel int, create bool) (mem.PhysAddr, *kernel.Error) {
	table := root

	for level := 0; level < targetLevel; level++ {
		pte := entryAt(table, levelIndex(virt, level))

		if !pte.hasFlags(FlagPresent) {
			if !create {
				return 0, errNotPresent
			}

			frame, err := frameAllocatorFn()
			if err != nil {
				return 0, errOutOfMemory
			}

			*pte = 0
			pte.setFrame(frame)
			pte.setFlags(FlagPresent | FlagRW)
			clearTable(frame.PhysAddr())
		} else if pte.hasFlags(FlagHuge) {
			return 0, errHugePageMismatch
		}

		table = pte.frame().PhysAddr()
	}

	return table, nil
}
