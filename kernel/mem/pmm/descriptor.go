package pmm

// descFlag holds per-frame state tracked by the buddy allocator.
type descFlag uint8

const (
	// descFlagReserved marks a frame that the allocator must never hand
	// out: it backs the kernel image, the descriptor table itself or a
	// region the bootloader reported as unusable.
	descFlagReserved descFlag = 1 << iota

	// descFlagFree marks a frame that currently sits on a free-area list.
	descFlagFree
)

// descriptor tracks the allocator-visible state of a single physical page
// frame. The table is indexed by Frame so looking up a frame's descriptor is
// an O(1) slice access; no pointers are stored to other descriptors, only
// Frame indices, so the table can be memset to its zero value and relocated
// without fixing up links.
type descriptor struct {
	flags    descFlag
	order    uint8
	refCount uint32

	// prev/next chain this descriptor into the free-area list for its
	// order. Meaningless unless descFlagFree is set.
	prev, next Frame
}

func (d *descriptor) isFree() bool {
	return d.flags&descFlagFree != 0
}

func (d *descriptor) isReserved() bool {
	return d.flags&descFlagReserved != 0
}
