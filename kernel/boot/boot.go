// Package boot models the subset of the Limine boot protocol that the
// memory-management core consumes: the physical memory map, the HHDM
// offset, the kernel's load addresses, the framebuffer and the RSDP
// pointer. Everything else about the protocol (the request/response
// handshake, the base-revision negotiation) is the bootloader's concern and
// is represented here only as much as the core needs to read the result.
package boot

import "virel/kernel/mem"

// MemoryMapEntryType classifies a single memory map entry. The values and
// names mirror the Limine protocol's memmap entry types.
type MemoryMapEntryType uint32

const (
	// Usable indicates memory that is immediately available for use.
	Usable MemoryMapEntryType = iota

	// Reserved indicates memory that must never be touched.
	Reserved

	// AcpiReclaimable indicates memory holding ACPI tables that can be
	// reclaimed once the OS is done parsing them.
	AcpiReclaimable

	// AcpiNvs indicates memory that must be preserved across sleep
	// states.
	AcpiNvs

	// Bad indicates memory reported as defective by the firmware.
	Bad

	// BootloaderReclaimable indicates memory used by the bootloader
	// itself that can be reclaimed after the kernel no longer needs the
	// structures living there (including this memory map).
	BootloaderReclaimable

	// ExecutableAndModules indicates memory holding the kernel image and
	// any boot modules.
	ExecutableAndModules

	// Framebuffer indicates memory backing a linear framebuffer.
	Framebuffer
)

// String implements fmt.Stringer for MemoryMapEntryType.
func (t MemoryMapEntryType) String() string {
	switch t {
	case Usable:
		return "usable"
	case Reserved:
		return "reserved"
	case AcpiReclaimable:
		return "ACPI (reclaimable)"
	case AcpiNvs:
		return "ACPI NVS"
	case Bad:
		return "bad"
	case BootloaderReclaimable:
		return "bootloader (reclaimable)"
	case ExecutableAndModules:
		return "executable/modules"
	case Framebuffer:
		return "framebuffer"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes one contiguous physical memory region as
// reported by the bootloader.
type MemoryMapEntry struct {
	Base   mem.PhysAddr
	Length mem.Size
	Type   MemoryMapEntryType
}

// End returns the first address past the end of this entry.
func (e *MemoryMapEntry) End() mem.PhysAddr {
	return e.Base + mem.PhysAddr(e.Length)
}

// MemoryMap is the full set of memory regions reported by the bootloader.
// The entries are not guaranteed to be sorted or non-overlapping by the
// protocol, but Limine in practice hands back a sorted, non-overlapping
// list; consumers should not rely on that and use VisitMemRegions.
type MemoryMap struct {
	Entries []*MemoryMapEntry
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region; it
// must return true to keep scanning or false to abort early.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// VisitMemRegions calls visitor for each entry in the map, in the order
// supplied by the bootloader, stopping early if visitor returns false.
func (m *MemoryMap) VisitMemRegions(visitor MemRegionVisitor) {
	for _, entry := range m.Entries {
		if !visitor(entry) {
			return
		}
	}
}

// ExecutableAddress describes where the kernel image was actually loaded,
// both virtually (the link-time address) and physically.
type ExecutableAddress struct {
	VirtualBase  mem.VirtAddr
	PhysicalBase mem.PhysAddr
}

// FramebufferInfo describes the framebuffer set up by the bootloader.
type FramebufferInfo struct {
	PhysAddr      mem.PhysAddr
	Pitch         uint32
	Width, Height uint32
	Bpp           uint8
	RedMaskShift  uint8
	RedMaskSize   uint8
	GreenMaskShift uint8
	GreenMaskSize  uint8
	BlueMaskShift  uint8
	BlueMaskSize   uint8
}

// Info aggregates everything the kernel reads from the bootloader exactly
// once, early in Kmain, before handing control to the memory subsystems.
type Info struct {
	// BaseRevisionSupported reports whether the bootloader understood
	// the base revision the kernel requested.
	BaseRevisionSupported bool

	// HHDMOffset is the offset to add to a physical address to obtain
	// its higher-half direct-map virtual address.
	HHDMOffset mem.VirtAddr

	// MemMap is the physical memory map.
	MemMap MemoryMap

	// Executable describes the kernel's own load addresses.
	Executable ExecutableAddress

	// Framebuffer is nil if the bootloader did not set one up.
	Framebuffer *FramebufferInfo

	// RSDP is the physical address of the ACPI RSDP table, or 0 if not
	// reported. Consumed only by the (out-of-scope) ACPI driver.
	RSDP mem.PhysAddr

	// Layout is populated from the linker-script symbols, not from the
	// bootloader protocol, but travels alongside the rest of Info since
	// every consumer of one needs the other.
	Layout KernelLayout
}

// KernelLayout describes the linker-script-provided bounds of the loaded
// kernel image and its segments, consumed by the paging mapper to install
// per-segment permissions.
type KernelLayout struct {
	Start, End mem.VirtAddr

	LimineRequestsStart, LimineRequestsEnd mem.VirtAddr
	TextStart, TextEnd                     mem.VirtAddr
	RodataStart, RodataEnd                 mem.VirtAddr
	DataStart, DataEnd                     mem.VirtAddr
}
