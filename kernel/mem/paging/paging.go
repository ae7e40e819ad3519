package paging

import (
	"virel/kernel"
	"virel/kernel/boot"
	"virel/kernel/cpu"
	"virel/kernel/mem"
	"virel/kernel/mem/pmm"
)

const cr4PGE = uint64(1) << 7

var (
	// KernelPML4 is the physical address of the PML4 built by Init. Every
	// process address space shares this tree for its upper half (kernel
	// slots 256..511 of the PML4); see kernel/mem/vmm.
	KernelPML4 mem.PhysAddr

	errNoUsableMemory = &kernel.Error{Module: "paging", Message: "bootloader reported no usable memory"}
)

// Init builds the kernel's own page tables from scratch: it programs the
// PAT, maps each kernel image segment with the permissions its ELF flags
// call for, maps the whole of physical memory through the higher-half
// direct map using 2MiB pages, switches CR3 to the new PML4 and enables
// global pages. After Init returns, the identity mapping installed by the
// bootloader for its own trampoline code is no longer required and may be
// reclaimed by the caller.
func Init(memMap *boot.MemoryMap, layout *boot.KernelLayout, hhdmOffset mem.VirtAddr, kernelPhysBase mem.PhysAddr) *kernel.Error {
	initPAT()

	pml4Frame, err := pmm.AllocFrame()
	if err != nil {
		return err
	}
	clearTable(pml4Frame.PhysAddr())
	pml4 := pml4Frame.PhysAddr()

	if err := mapKernelSegments(pml4, layout, kernelPhysBase); err != nil {
		return err
	}

	if err := mapHHDM(pml4, memMap, hhdmOffset); err != nil {
		return err
	}

	KernelPML4 = pml4
	cpu.WriteCR4(cpu.ReadCR4() | cr4PGE)
	cpu.SwitchPML4(uintptr(pml4))
	return nil
}

// mapKernelSegments installs 4KiB mappings for the kernel's limine-requests,
// text, rodata and data segments, each with the permissions implied by its
// name (limine-requests and data/bss are read-write and non-executable,
// text is read-execute, rodata is read-only), all marked global since they
// never change across an address space switch.
func mapKernelSegments(pml4 mem.PhysAddr, layout *boot.KernelLayout, physBase mem.PhysAddr) *kernel.Error {
	segments := []struct {
		start, end mem.VirtAddr
		flags      Flag
	}{
		{layout.LimineRequestsStart, layout.LimineRequestsEnd, FlagPresent | FlagRW | FlagNoExecute | FlagGlobal},
		{layout.TextStart, layout.TextEnd, FlagPresent | FlagGlobal},
		{layout.RodataStart, layout.RodataEnd, FlagPresent | FlagNoExecute | FlagGlobal},
		{layout.DataStart, layout.DataEnd, FlagPresent | FlagRW | FlagNoExecute | FlagGlobal},
	}

	for _, seg := range segments {
		if seg.end <= seg.start {
			continue
		}
		start := seg.start.PageAlignDown()
		for addr := start; addr < seg.end; addr += mem.VirtAddr(mem.PageSize) {
			offset := uintptr(addr) - uintptr(layout.Start)
			frame := pmm.FrameFromPhysAddr(physBase + mem.PhysAddr(offset))
			if err := MapPage(pml4, addr, frame, seg.flags); err != nil {
				return err
			}
		}
	}

	return nil
}

// mapHHDM maps every byte of physical memory reported by the bootloader
// into the higher-half direct map window using 2MiB pages, rounding the
// covered range up to a huge-page boundary.
func mapHHDM(pml4 mem.PhysAddr, memMap *boot.MemoryMap, hhdmOffset mem.VirtAddr) *kernel.Error {
	var highest mem.PhysAddr
	found := false

	memMap.VisitMemRegions(func(entry *boot.MemoryMapEntry) bool {
		if entry.Type == boot.Bad {
			return true
		}
		found = true
		if end := entry.End(); end > highest {
			highest = end
		}
		return true
	})
	if !found {
		return errNoUsableMemory
	}

	highest = (highest + mem.PhysAddr(mem.HugePageSize-1)).HugePageAlignDown()

	for phys := mem.PhysAddr(0); phys < highest; phys += mem.PhysAddr(mem.HugePageSize) {
		frame := pmm.FrameFromPhysAddr(phys)
		virt := hhdmOffset + mem.VirtAddr(phys)
		if err := MapHugePage(pml4, virt, frame, FlagRW|FlagNoExecute|FlagGlobal); err != nil {
			return err
		}
	}

	return nil
}
