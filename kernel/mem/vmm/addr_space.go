package vmm

import (
	"virel/kernel"
	"virel/kernel/mem"
	"virel/kernel/mem/paging"
	"virel/kernel/mem/pmm"
	"virel/kernel/sync"
)

const (
	// userSpaceStart leaves the first 4MiB of every address space
	// unmapped so that a null pointer dereference always faults.
	userSpaceStart = mem.VirtAddr(0x0000000000400000)

	// userSpaceEnd is the first address of the non-canonical hole; no
	// area may extend past it.
	userSpaceEnd = mem.VirtAddr(uint64(1) << mem.CanonicalHoleHighBit)

	// kernelHalfStart is the first non-canonical address; every canonical
	// address at or above it lies in the upper canonical half, which begins
	// at 0xffff800000000000. The page-fault handler uses it to decide
	// whether a faulting address
	// belongs to the kernel's own address space or to whatever address
	// space is current; it is numerically the same boundary as
	// userSpaceEnd, named separately because the two constants answer
	// different questions (where user placement must stop vs. which VAS a
	// fault resolves against).
	kernelHalfStart = userSpaceEnd

	// kernelRegionStart and kernelRegionEnd bound the kernel-half window in
	// which Alloc and MapMMIO place regions of kernelVAS.
	kernelRegionStart = mem.VirtAddr(0xffffc00000000000)
	kernelRegionEnd   = mem.VirtAddr(0xffffffff80000000)
)

var (
	errNoSuchArea     = &kernel.Error{Module: "vmm", Message: "no mapped area contains the given address"}
	errOutOfRangeSize = &kernel.Error{Module: "vmm", Message: "requested size exceeds the placement address range"}

	// frameAllocatorFn is swapped out by tests.
	frameAllocatorFn = pmm.AllocFrame
)

// AddressSpace is a complete virtual address space: its own user-half page
// tables plus the kernel-half tables shared with every other address space.
type AddressSpace struct {
	pml4 mem.PhysAddr

	// regions is a singly linked list of VMArea, kept sorted by start
	// address to make first-fit placement and overlap checks a single
	// linear scan.
	regions *VMArea

	// lock documents where per-address-space synchronization belongs
	// once more than one thread of execution can touch the same address
	// space concurrently; the kernel is currently single-threaded.
	lock sync.Spinlock
}

// PML4 returns the physical address of the address space's top-level page
// table, the value that must be loaded into CR3 to activate it.
func (as *AddressSpace) PML4() mem.PhysAddr { return as.pml4 }

// New allocates a fresh address space whose kernel half is shared with
// every other address space (the upper 256 PML4 slots are copied from
// paging.KernelPML4, so a change to kernel mappings after New is not
// automatically visible in already-created address spaces unless the
// kernel always edits through that shared sub-tree).
func New() (*AddressSpace, *kernel.Error) {
	frame, err := frameAllocatorFn()
	if err != nil {
		return nil, err
	}

	pml4 := frame.PhysAddr()
	if err := copyKernelHalf(pml4); err != nil {
		return nil, err
	}

	return &AddressSpace{pml4: pml4}, nil
}

// Destroy releases every frame backing the address space's regions and the
// address space's own PML4. It does not reclaim the intermediate PDPT/PD/PT
// frames allocated for the user half; those remain attributed to the
// process until a future table-walking reclaim pass is added.
func Destroy(as *AddressSpace) *kernel.Error {
	for area := as.regions; area != nil; area = area.next {
		if area.kind != areaDemand {
			continue
		}
		for addr := area.start; addr < area.end; addr += mem.VirtAddr(mem.PageSize) {
			phys, err := paging.Translate(as.pml4, addr)
			if err != nil {
				continue
			}
			paging.UnmapPage(as.pml4, addr)
			pmm.DecRef(pmm.FrameFromPhysAddr(phys))
		}
	}

	return pmm.FreeFrames(pmm.FrameFromPhysAddr(as.pml4), 0)
}

// active is the address space last installed via Switch: whichever
// process's pages are currently mapped into the user half. The page-fault
// handler consults it for faults below kernelHalfStart.
var active *AddressSpace

// kernelVAS is the kernel's own address space: the one whose region list a
// kernel-half demand-paged reservation (registered through Alloc or
// MapMMIO) is tracked against. It is shared kernel-half page-table state
// that every AddressSpace's upper PML4 entries point at, but its VMArea
// bookkeeping is its own and does not change as Switch moves active
// between process address spaces — see GetKernelVAS.
var kernelVAS *AddressSpace

// GetKernelVAS returns the kernel's own address space, set up once during
// kernel/mem/vmm.Init. Code that needs to reserve or fault in a kernel-half
// region (outside of the raw EarlyReserveRegion/MapKernelPage path used by
// the Go runtime bootstrap) must allocate against this address space, not
// whichever one happens to be active, since the fault handler always
// resolves a kernel-half address against it regardless of the current
// process.
func GetKernelVAS() *AddressSpace { return kernelVAS }

// Switch loads as's PML4 into CR3, making it the active address space.
func Switch(as *AddressSpace) {
	switchPML4Fn(uintptr(as.pml4))
	active = as
}

// Alloc reserves a demand-paged region of at least size bytes (rounded up
// to a page boundary) in the placement window of as (see firstFit) using a
// first-fit scan of the existing regions, and returns the region's start
// address. No
// physical memory is committed until each page is first touched.
func Alloc(as *AddressSpace, size mem.Size, flags paging.GenericFlag) (mem.VirtAddr, *kernel.Error) {
	size = mem.Size(mem.SizeToPages(size)) * mem.PageSize

	as.lock.Acquire()
	defer as.lock.Release()

	start, err := firstFit(as, size)
	if err != nil {
		return 0, err
	}

	insertArea(as, &VMArea{start: start, end: start + mem.VirtAddr(size), flags: flags | paging.GenericAnon, kind: areaDemand})
	return start, nil
}

// Free releases the region that starts at virt, unmapping and dropping a
// reference on every page currently backing it.
func Free(as *AddressSpace, virt mem.VirtAddr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	var prev *VMArea
	for area := as.regions; area != nil; area = area.next {
		if area.start != virt {
			prev = area
			continue
		}

		if area.kind == areaDemand {
			for addr := area.start; addr < area.end; addr += mem.VirtAddr(mem.PageSize) {
				phys, err := paging.Translate(as.pml4, addr)
				if err != nil {
					continue
				}
				paging.UnmapPage(as.pml4, addr)
				pmm.DecRef(pmm.FrameFromPhysAddr(phys))
			}
		} else {
			paging.UnmapRegion(as.pml4, area.start, uint64(area.Size()/mem.PageSize), false)
		}

		if prev == nil {
			as.regions = area.next
		} else {
			prev.next = area.next
		}
		return nil
	}

	return errNoSuchArea
}

// firstFit returns the lowest address in the placement window of as at which
// a size-byte region fits without overlapping an existing area. The window
// is [kernelRegionStart, kernelRegionEnd) for kernelVAS and
// [userSpaceStart, userSpaceEnd) for every other address space.
func firstFit(as *AddressSpace, size mem.Size) (mem.VirtAddr, *kernel.Error) {
	lo, hi := userSpaceStart, userSpaceEnd
	if as == kernelVAS {
		lo, hi = kernelRegionStart, kernelRegionEnd
	}
	candidate := lo

	for area := as.regions; area != nil; area = area.next {
		if candidate+mem.VirtAddr(size) <= area.start {
			break
		}
		if area.end > candidate {
			candidate = area.end
		}
	}

	if candidate+mem.VirtAddr(size) > hi || candidate+mem.VirtAddr(size) < candidate {
		return 0, errOutOfRangeSize
	}

	return candidate, nil
}

// insertArea links area into as.regions keeping the list sorted by start
// address.
func insertArea(as *AddressSpace, area *VMArea) {
	var prev *VMArea
	cur := as.regions
	for cur != nil && cur.start < area.start {
		prev = cur
		cur = cur.next
	}

	area.next = cur
	if prev == nil {
		as.regions = area
	} else {
		prev.next = area
	}
}

// findArea returns the VMArea containing addr, or nil if none does.
func findArea(as *AddressSpace, addr mem.VirtAddr) *VMArea {
	for area := as.regions; area != nil; area = area.next {
		if area.contains(addr) {
			return area
		}
	}
	return nil
}

// copyKernelHalf copies PML4 entries 256..511 (the kernel half) from the
// shared kernel page tables into the freshly allocated pml4, and zeroes the
// user half.
func copyKernelHalf(pml4 mem.PhysAddr) *kernel.Error {
	return copyKernelHalfFn(pml4)
}
