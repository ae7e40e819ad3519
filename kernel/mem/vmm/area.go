// Package vmm implements per-address-space virtual memory management: a
// list of mapped regions (VM areas) per address space, demand-paged
// allocation backed by kernel/mem/pmm and kernel/mem/paging, eager MMIO
// mappings and the page-fault handler that ties the two allocation styles
// together.
package vmm

import (
	"virel/kernel/mem"
	"virel/kernel/mem/paging"
)

// areaKind distinguishes how a VMArea's pages are populated.
type areaKind uint8

const (
	// areaDemand pages are allocated lazily, the first time they are
	// touched, by the page-fault handler.
	areaDemand areaKind = iota

	// areaMMIO pages are mapped eagerly at reservation time to a fixed
	// physical range and are never demand-paged or swappable.
	areaMMIO
)

// VMArea describes one contiguous mapped region of an address space. Areas
// are kept in a singly linked list off AddressSpace.regions, ordered by
// start address, mirroring the intrusive free lists used elsewhere in the
// memory subsystem rather than reaching for a container/list.
type VMArea struct {
	start, end mem.VirtAddr
	flags      paging.GenericFlag
	kind       areaKind

	// physBase is only meaningful for areaMMIO regions.
	physBase mem.PhysAddr

	next *VMArea
}

// Start returns the first virtual address covered by the area.
func (a *VMArea) Start() mem.VirtAddr { return a.start }

// End returns the first virtual address past the area.
func (a *VMArea) End() mem.VirtAddr { return a.end }

// Size returns the size of the area in bytes.
func (a *VMArea) Size() mem.Size { return mem.Size(uintptr(a.end) - uintptr(a.start)) }

// contains reports whether addr falls within [start, end).
func (a *VMArea) contains(addr mem.VirtAddr) bool {
	return addr >= a.start && addr < a.end
}
