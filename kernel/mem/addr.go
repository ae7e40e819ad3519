package mem

// PhysAddr represents a physical memory address.
type PhysAddr uintptr

// PageAlignDown rounds addr down to the nearest page boundary.
func (addr PhysAddr) PageAlignDown() PhysAddr {
	return addr &^ PhysAddr(PageSize-1)
}

// PageAlignUp rounds addr up to the nearest page boundary.
func (addr PhysAddr) PageAlignUp() PhysAddr {
	return (addr + PhysAddr(PageSize-1)) &^ PhysAddr(PageSize-1)
}

// HugePageAlignDown rounds addr down to the nearest 2MiB boundary.
func (addr PhysAddr) HugePageAlignDown() PhysAddr {
	return addr &^ PhysAddr(HugePageSize-1)
}

// PFN returns the page frame number for this physical address.
func (addr PhysAddr) PFN() uint64 {
	return uint64(addr) >> PageShift
}

// VirtAddr represents a virtual memory address.
type VirtAddr uintptr

// PageAlignDown rounds addr down to the nearest page boundary.
func (addr VirtAddr) PageAlignDown() VirtAddr {
	return addr &^ VirtAddr(PageSize-1)
}

// PageOffset returns the offset of addr within its containing 4KiB page.
func (addr VirtAddr) PageOffset() uintptr {
	return uintptr(addr) & uintptr(PageSize-1)
}

// IsCanonical returns true if addr is a canonical amd64 virtual address,
// i.e. bits 63..48 are a sign-extension of bit 47.
func (addr VirtAddr) IsCanonical() bool {
	top := uintptr(addr) >> CanonicalHoleHighBit
	return top == 0 || top == ^uintptr(0)>>CanonicalHoleHighBit
}

// PagesToSize converts a page count to a byte Size.
func PagesToSize(pages uint64) Size {
	return Size(pages) * PageSize
}

// SizeToPages rounds a byte Size up to a number of 4KiB pages.
func SizeToPages(size Size) uint64 {
	return uint64((size + PageSize - 1) / PageSize)
}
