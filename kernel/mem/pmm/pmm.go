// Package pmm implements the buddy-system physical frame allocator. It hands
// out power-of-two runs of page frames (orders 0..mem.MaxOrder-1) and
// coalesces adjacent free runs back into larger blocks on free.
package pmm

import (
	"reflect"
	"unsafe"

	"virel/kernel"
	"virel/kernel/boot"
	"virel/kernel/kfmt"
	"virel/kernel/mem"
	"virel/kernel/mem/hhdm"
	"virel/kernel/sync"
)

var (
	errOutOfMemory    = &kernel.Error{Module: "pmm", Message: "no free frames of the requested order"}
	errNotInitialized = &kernel.Error{Module: "pmm", Message: "Init was never called"}
	errBadFrame       = &kernel.Error{Module: "pmm", Message: "frame index out of range"}

	// descriptors is the flat table of per-frame bookkeeping state,
	// overlaid on top of a physical region reserved during Init. Indexed
	// by Frame.
	descriptors []descriptor

	// freeLists holds one doubly-linked, Frame-indexed free list per
	// buddy order.
	freeLists [mem.MaxOrder]freeList

	frameCount   uint64
	highestFrame Frame

	// lock serializes access to descriptors/freeLists. The allocator is
	// currently only ever called from the single boot thread of
	// execution; the field documents where a real lock belongs once
	// additional cores or interrupt-context allocations exist.
	lock sync.Spinlock
)

// freeList is the head of the free-area list for a single buddy order.
type freeList struct {
	head  Frame
	count uint64
}

// Init builds the frame descriptor table from the bootloader-supplied memory
// map and populates the free lists with every usable frame outside the
// kernel image and the descriptor table itself.
func Init(memMap *boot.MemoryMap, kernelLayout *boot.KernelLayout) *kernel.Error {
	for i := range freeLists {
		freeLists[i] = freeList{head: InvalidFrame}
	}

	highestFrame = 0
	memMap.VisitMemRegions(func(entry *boot.MemoryMapEntry) bool {
		if entry.Type == boot.Bad || entry.Length == 0 {
			return true
		}
		if last := FrameFromPhysAddr(entry.End().PageAlignUp()) - 1; last > highestFrame {
			highestFrame = last
		}
		return true
	})
	frameCount = uint64(highestFrame) + 1

	descBytes := mem.Size(frameCount) * mem.Size(unsafe.Sizeof(descriptor{}))
	descBase, err := reserveRegion(memMap, descBytes)
	if err != nil {
		return err
	}

	descTableVirt := hhdm.PhysToVirt(descBase)
	descriptors = *(*[]descriptor)(unsafe.Pointer(&reflect.SliceHeader{
		Data: uintptr(descTableVirt),
		Len:  int(frameCount),
		Cap:  int(frameCount),
	}))
	for i := range descriptors {
		descriptors[i] = descriptor{flags: descFlagReserved}
	}

	descEnd := (descBase + mem.PhysAddr(descBytes)).PageAlignUp()
	kernelStart := FrameFromPhysAddr(mem.PhysAddr(kernelLayout.Start))
	kernelEnd := FrameFromPhysAddr(mem.PhysAddr(kernelLayout.End))

	memMap.VisitMemRegions(func(entry *boot.MemoryMapEntry) bool {
		if entry.Type != boot.Usable {
			return true
		}
		freeUsableRegion(entry.Base, entry.End(), descBase, descEnd, kernelStart, kernelEnd)
		return true
	})

	return nil
}

// reserveRegion finds the first usable region large enough to hold size
// bytes and returns its base address. The caller is responsible for marking
// the returned frames as reserved (Init relies on every descriptor
// defaulting to descFlagReserved and never freeing this range).
func reserveRegion(memMap *boot.MemoryMap, size mem.Size) (mem.PhysAddr, *kernel.Error) {
	var (
		found mem.PhysAddr
		ok    bool
	)

	memMap.VisitMemRegions(func(entry *boot.MemoryMapEntry) bool {
		if entry.Type != boot.Usable || entry.Length < size {
			return true
		}
		found = entry.Base.PageAlignUp()
		ok = true
		return false
	})

	if !ok {
		return 0, errOutOfMemory
	}
	return found, nil
}

// freeUsableRegion releases every page-aligned frame in [base, end) to the
// buddy free lists, skipping frames reserved for the kernel image or the
// descriptor table. Each eligible run is released using the largest
// power-of-two block that both the alignment of its start frame and its
// remaining length allow, matching the buddy system's invariant that a free
// block of order N always starts on a 2^N-frame boundary.
func freeUsableRegion(base, end mem.PhysAddr, descBase, descEnd mem.PhysAddr, kernelStart, kernelEnd Frame) {
	frame := FrameFromPhysAddr(base.PageAlignUp())
	limit := FrameFromPhysAddr(end.PageAlignDown())

	for frame < limit {
		if inRange(frame, kernelStart, kernelEnd) {
			frame = kernelEnd + 1
			continue
		}
		if inRange(frame, FrameFromPhysAddr(descBase), FrameFromPhysAddr(descEnd)-1) {
			frame = FrameFromPhysAddr(descEnd)
			continue
		}

		order := alignmentOrder(frame)
		for order > 0 && frame+Frame(1<<order) > limit {
			order--
		}

		descriptors[frame] = descriptor{flags: 0}
		pushFree(frame, uint8(order))
		frame += Frame(1 << order)
	}
}

func inRange(f, start, end Frame) bool {
	return f >= start && f <= end
}

// alignmentOrder returns the largest order such that frame is aligned to a
// 2^order frame boundary, capped at mem.MaxOrder-1.
func alignmentOrder(frame Frame) uint64 {
	if frame == 0 {
		return mem.MaxOrder - 1
	}
	order := uint64(0)
	for order < mem.MaxOrder-1 && frame&(Frame(1<<(order+1))-1) == 0 {
		order++
	}
	return order
}

// sizeToOrder returns the smallest buddy order whose block size is >= size,
// capped at mem.MaxOrder-1.
func sizeToOrder(size mem.Size) uint8 {
	pages := mem.SizeToPages(size)
	if pages == 0 {
		pages = 1
	}
	var order uint8
	for (uint64(1) << order) < pages {
		order++
	}
	if order >= mem.MaxOrder {
		order = mem.MaxOrder - 1
	}
	return order
}

// pushFree links frame onto the head of the order's free list.
func pushFree(frame Frame, order uint8) {
	d := &descriptors[frame]
	d.flags |= descFlagFree
	d.order = order
	d.prev = InvalidFrame
	d.next = freeLists[order].head

	if freeLists[order].head.Valid() {
		descriptors[freeLists[order].head].prev = frame
	}
	freeLists[order].head = frame
	freeLists[order].count++
}

// popFree unlinks frame from its free list.
func popFree(frame Frame, order uint8) {
	d := &descriptors[frame]
	d.flags &^= descFlagFree

	if d.prev.Valid() {
		descriptors[d.prev].next = d.next
	} else {
		freeLists[order].head = d.next
	}
	if d.next.Valid() {
		descriptors[d.next].prev = d.prev
	}
	freeLists[order].count--
}

// buddyOf returns the buddy frame of frame at the given order.
func buddyOf(frame Frame, order uint8) Frame {
	return frame ^ Frame(1<<order)
}

// AllocFrame reserves a single physical frame. It is a convenience wrapper
// around AllocFrames(0) used by callers that only ever need one frame at a
// time, such as the page table mapper.
func AllocFrame() (Frame, *kernel.Error) {
	return AllocFrames(0)
}

// AllocFrames reserves a contiguous, naturally aligned run of 2^order frames
// and returns the index of its first frame.
func AllocFrames(order uint8) (Frame, *kernel.Error) {
	lock.Acquire()
	defer lock.Release()

	if descriptors == nil {
		return InvalidFrame, errNotInitialized
	}
	if order >= mem.MaxOrder {
		return InvalidFrame, errBadFrame
	}

	splitFrom := order
	for splitFrom < mem.MaxOrder && !freeLists[splitFrom].head.Valid() {
		splitFrom++
	}
	if splitFrom == mem.MaxOrder {
		return InvalidFrame, errOutOfMemory
	}

	frame := freeLists[splitFrom].head
	popFree(frame, splitFrom)

	// Split the block down to the requested order, pushing the unused
	// buddy half back onto the free list at each step.
	for splitFrom > order {
		splitFrom--
		buddy := frame + Frame(1<<splitFrom)
		descriptors[buddy] = descriptor{}
		pushFree(buddy, splitFrom)
	}

	descriptors[frame].flags = 0
	descriptors[frame].order = order
	descriptors[frame].refCount = 1
	return frame, nil
}

// FreeFrames releases a run of 2^order frames previously returned by
// AllocFrames, coalescing with its buddy for as long as the buddy is free
// and of the same order.
func FreeFrames(frame Frame, order uint8) *kernel.Error {
	lock.Acquire()
	defer lock.Release()

	if descriptors == nil {
		return errNotInitialized
	}
	if frame >= Frame(frameCount) {
		return errBadFrame
	}

	for order < mem.MaxOrder-1 {
		buddy := buddyOf(frame, order)
		if buddy >= Frame(frameCount) || !descriptors[buddy].isFree() || descriptors[buddy].order != order {
			break
		}

		popFree(buddy, order)
		if buddy < frame {
			frame = buddy
		}
		order++
	}

	descriptors[frame] = descriptor{}
	pushFree(frame, order)
	return nil
}

// Alloc reserves the smallest power-of-two run of frames able to hold size
// bytes and returns its physical base address.
func Alloc(size mem.Size) (mem.PhysAddr, *kernel.Error) {
	order := sizeToOrder(size)
	if mem.PagesToSize(uint64(1)<<order) < size {
		return 0, errBadFrame
	}
	frame, err := AllocFrames(order)
	if err != nil {
		return 0, err
	}
	return frame.PhysAddr(), nil
}

// Free releases the run of frames backing the size-byte allocation at addr.
func Free(addr mem.PhysAddr, size mem.Size) *kernel.Error {
	return FreeFrames(FrameFromPhysAddr(addr), sizeToOrder(size))
}

// IncRef increments the reference count of frame, so that one more DecRef
// is needed before the frame is freed.
func IncRef(frame Frame) *kernel.Error {
	lock.Acquire()
	defer lock.Release()

	if frame >= Frame(frameCount) {
		return errBadFrame
	}
	descriptors[frame].refCount++
	return nil
}

// DecRef decrements the reference count of frame, freeing it (at the order
// it was allocated with) once the count reaches zero.
func DecRef(frame Frame) *kernel.Error {
	lock.Acquire()
	if frame >= Frame(frameCount) {
		lock.Release()
		return errBadFrame
	}

	descriptors[frame].refCount--
	shouldFree := descriptors[frame].refCount == 0
	order := descriptors[frame].order
	lock.Release()

	if shouldFree {
		return FreeFrames(frame, order)
	}
	return nil
}

// HighestAddr returns the first physical address past the end of the
// highest frame known to the allocator.
func HighestAddr() mem.PhysAddr {
	return (highestFrame + 1).PhysAddr()
}

// DumpState prints the number of free frames at each buddy order.
func DumpState() {
	kfmt.Printf("[pmm] free frames by order:\n")
	for order, list := range freeLists {
		if list.count == 0 {
			continue
		}
		kfmt.Printf("\torder %2d (%8d pages): %6d blocks\n", order, uint64(1)<<uint(order), list.count)
	}
}
