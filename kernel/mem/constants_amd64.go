// +build amd64

package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// HugePageShift is equal to log2(HugePageSize).
	HugePageShift = 21

	// HugePageSize defines the size of a 2MiB huge page.
	HugePageSize = Size(1 << HugePageShift)

	// MaxOrder is the number of buddy orders supported by the physical
	// memory allocator. The largest block the allocator can hand out is
	// 4KiB * 2^(MaxOrder-1).
	MaxOrder = 11

	// PageTableEntries is the number of entries in a single page table at
	// any of the four paging levels (512 on amd64, 9 index bits).
	PageTableEntries = 512

	// PageLevelBits is the number of bits used to index a single paging
	// level.
	PageLevelBits = 9

	// PageLevels is the number of paging levels walked for a 4KiB
	// mapping: PML4, PDPT, PD, PT.
	PageLevels = 4

	// PTEAddrMask isolates the physical frame bits (12..51) of a page
	// table entry.
	PTEAddrMask = uintptr(0x000F_FFFF_FFFF_F000)

	// CanonicalHoleHighBit marks the first bit (47) whose sign-extension
	// determines canonicality of a 48-bit virtual address.
	CanonicalHoleHighBit = 47
)
