// Package allocator provides the rudimentary, free-less frame allocator used
// to bootstrap the kernel before the buddy allocator in pmm is initialized.
package allocator

import (
	"virel/kernel"
	"virel/kernel/boot"
	"virel/kernel/kfmt"
	"virel/kernel/mem"
	"virel/kernel/mem/pmm"
)

var (
	// earlyAllocator is a boot mem allocator instance used for page
	// allocations before switching to the buddy allocator.
	earlyAllocator bootMemAllocator

	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// bootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// The allocator implementation uses the memory region information provided by
// the bootloader to detect free memory blocks and return the next available
// free frame.  Allocations are tracked via an internal counter that contains
// the last allocated frame.
//
// Due to the way that the allocator works, it is not possible to free
// allocated pages. pmm.Init does not know which frames were handed out here,
// so this allocator is not used once pmm.Init has run.
type bootMemAllocator struct {
	// allocCount tracks the total number of allocated frames.
	allocCount uint64

	// lastAllocFrame tracks the last allocated frame number.
	lastAllocFrame pmm.Frame

	memMap *boot.MemoryMap

	// Keep track of kernel location so we exclude this region.
	kernelStartAddr, kernelEndAddr   mem.VirtAddr
	kernelStartFrame, kernelEndFrame pmm.Frame
}

// Init sets up the boot memory allocator internal state. It must be called
// once, before the first call to AllocFrame.
func Init(memMap *boot.MemoryMap, kernelLayout *boot.KernelLayout) {
	earlyAllocator.init(memMap, kernelLayout.Start, kernelLayout.End)
}

// AllocFrame reserves the next available free frame, using the boot
// allocator set up by Init.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return earlyAllocator.AllocFrame()
}

// init sets up the boot memory allocator internal state.
func (alloc *bootMemAllocator) init(memMap *boot.MemoryMap, kernelStart, kernelEnd mem.VirtAddr) {
	alloc.memMap = memMap

	// round down kernel start to the nearest page and round up kernel end
	// to the nearest page.
	alloc.kernelStartAddr = kernelStart
	alloc.kernelEndAddr = kernelEnd

	pageSizeMinus1 := uintptr(mem.PageSize - 1)
	alloc.kernelStartFrame = pmm.FrameFromAddress(uintptr(kernelStart) &^ pageSizeMinus1)
	alloc.kernelEndFrame = pmm.FrameFromAddress((uintptr(kernelEnd)+pageSizeMinus1)&^pageSizeMinus1) - 1
}

// AllocFrame scans the system memory regions reported by the bootloader and
// reserves the next available free frame.
//
// AllocFrame returns an error if no more memory can be allocated.
func (alloc *bootMemAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	var err = errBootAllocOutOfMemory

	alloc.memMap.VisitMemRegions(func(region *boot.MemoryMapEntry) bool {
		// Ignore reserved regions and regions smaller than a single page
		if region.Type != boot.Usable || region.Length < mem.PageSize {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		regionStartFrame := pmm.FrameFromPhysAddr(region.Base.PageAlignUp())
		regionEndFrame := pmm.FrameFromPhysAddr(region.End().PageAlignDown()) - 1

		// Skip over already allocated regions
		if alloc.lastAllocFrame >= regionEndFrame {
			return true
		}

		// If last frame used a different region and the kernel image
		// is located at the beginning of this region OR we are in
		// current region but lastAllocFrame + 1 points to the kernel
		// start we need to jump to the page following the kernel end
		// frame
		if (alloc.lastAllocFrame <= regionStartFrame && alloc.kernelStartFrame == regionStartFrame) ||
			(alloc.lastAllocFrame <= regionEndFrame && alloc.lastAllocFrame+1 == alloc.kernelStartFrame) {
			alloc.lastAllocFrame = alloc.kernelEndFrame + 1
		} else if alloc.lastAllocFrame < regionStartFrame || alloc.allocCount == 0 {
			// we are in the previous region and need to jump to this one OR
			// this is the first allocation and the region begins at frame 0
			alloc.lastAllocFrame = regionStartFrame
		} else {
			// we are in the region and we can select the next frame
			alloc.lastAllocFrame++
		}

		// The above adjustment might push lastAllocFrame outside of the
		// region end (e.g kernel ends at last page in the region)
		if alloc.lastAllocFrame > regionEndFrame {
			return true
		}

		err = nil
		return false
	})

	if err != nil {
		return pmm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	return alloc.lastAllocFrame, nil
}

// printMemoryMap scans the memory region information provided by the
// bootloader and prints out the system's memory map.
func (alloc *bootMemAllocator) printMemoryMap() {
	kfmt.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree mem.Size
	alloc.memMap.VisitMemRegions(func(region *boot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", uint64(region.Base), uint64(region.End()), uint64(region.Length), region.Type.String())

		if region.Type == boot.Usable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Printf("[boot_mem_alloc] available memory: %dKb\n", uint64(totalFree/mem.Kb))
	kfmt.Printf("[boot_mem_alloc] kernel loaded at 0x%x - 0x%x\n", uint64(alloc.kernelStartAddr), uint64(alloc.kernelEndAddr))
}
