package vmm

import (
	"virel/kernel"
	"virel/kernel/mem"
	"virel/kernel/mem/paging"
	"virel/kernel/mem/pmm"
)

// MapMMIO reserves a region of size bytes in as, eagerly maps every page of
// it to the physical range starting at physBase, and returns the region's
// start address. Unlike Alloc, no page fault is ever expected against an
// MMIO region: every page is present from the moment this call returns.
// flags selects the cache hint via GenericWriteCombining/GenericUncacheable
// (framebuffer-style MMIO wants write-combining; register blocks want
// uncacheable); callers that set neither get the uncacheable default, since
// that is the only hint safe for arbitrary device memory.
func MapMMIO(as *AddressSpace, physBase mem.PhysAddr, size mem.Size, flags paging.GenericFlag) (mem.VirtAddr, *kernel.Error) {
	size = mem.Size(mem.SizeToPages(size)) * mem.PageSize

	as.lock.Acquire()
	defer as.lock.Release()

	start, err := firstFit(as, size)
	if err != nil {
		return 0, err
	}

	flags |= paging.GenericMMIO
	if flags&(paging.GenericWriteCombining|paging.GenericUncacheable) == 0 {
		flags |= paging.GenericUncacheable
	}

	archFlags := paging.TranslateFlags(flags)
	pageCount := uint64(size / mem.PageSize)
	baseFrame := pmm.FrameFromPhysAddr(physBase)

	if err := paging.MapRegion(as.pml4, start, baseFrame, pageCount, archFlags); err != nil {
		return 0, err
	}

	insertArea(as, &VMArea{start: start, end: start + mem.VirtAddr(size), flags: flags, kind: areaMMIO, physBase: physBase})
	return start, nil
}

// UnmapMMIO releases a region previously reserved with MapMMIO.
func UnmapMMIO(as *AddressSpace, virt mem.VirtAddr) *kernel.Error {
	return Free(as, virt)
}
