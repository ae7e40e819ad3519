package vmm

import (
	"virel/kernel"
	"virel/kernel/cpu"
	"virel/kernel/mem"
	"virel/kernel/mem/hhdm"
	"virel/kernel/mem/paging"
)

// pml4HalfEntries is the number of PML4 slots covered by each half of the
// canonical address range: entries 0..255 are user space, 256..511 are the
// shared kernel half.
const pml4HalfEntries = mem.PageTableEntries / 2

var (
	// switchPML4Fn and copyKernelHalfFn are indirections so tests can
	// avoid touching CR3 and the live kernel page tables.
	switchPML4Fn     = cpu.SwitchPML4
	copyKernelHalfFn = realCopyKernelHalf
)

// realCopyKernelHalf overwrites PML4 entries 256..511 of pml4 with the
// corresponding entries from paging.KernelPML4, so that every address space
// sees the same kernel mappings, and zeroes entries 0..255 for a fresh user
// half.
func realCopyKernelHalf(pml4 mem.PhysAddr) *kernel.Error {
	const entryBytes = uintptr(8)
	halfBytes := mem.Size(entryBytes * pml4HalfEntries)

	newTable := uintptr(hhdm.PhysToVirt(pml4))
	mem.Memset(newTable, 0, halfBytes)

	kernelTable := uintptr(hhdm.PhysToVirt(paging.KernelPML4))
	mem.Memcopy(
		kernelTable+entryBytes*pml4HalfEntries,
		newTable+entryBytes*pml4HalfEntries,
		halfBytes,
	)

	return nil
}
