// Package heap implements the kernel's dynamic memory allocator: a header
// prefixed free-list allocator that grows on demand by asking pmm for frames
// and paging to map them into the kernel's half of the address space.
package heap

import (
	"unsafe"

	"virel/kernel"
	"virel/kernel/mem"
	"virel/kernel/mem/paging"
	"virel/kernel/mem/pmm"
	"virel/kernel/sync"
)

// growIncrement is how much the heap grows by when no free block is large
// enough to satisfy an allocation. A var rather than a const so tests can
// shrink it to fit a Go-allocated slab instead of a full 1MiB region.
var growIncrement = mem.Size(1 << 20)

const (
	// minSplitSize is the smallest remainder, beyond the size of the
	// header it would need, worth splitting off into its own free node.
	// Below this threshold the whole block is handed to the caller
	// instead, trading a little internal fragmentation for fewer tiny
	// nodes.
	minSplitSize = mem.Size(16)

	// allocAlign is the granularity every returned allocation size is
	// rounded up to.
	allocAlign = mem.Size(16)
)

// node is the header prefixing every block, free or allocated. size excludes
// the header itself.
type node struct {
	size   mem.Size
	isFree bool
	next   *node
	prev   *node
}

const headerSize = mem.Size(unsafe.Sizeof(node{}))

var (
	errOutOfMemory = &kernel.Error{Module: "heap", Message: "could not grow the kernel heap any further"}
	errNotOwned    = &kernel.Error{Module: "heap", Message: "pointer was not allocated by this heap"}

	head, tail *node
	heapStart  mem.VirtAddr
	heapEnd    mem.VirtAddr

	lock sync.Spinlock

	// growFn commits size bytes of newly backed memory at the current
	// heapEnd; swapped out by tests so they never touch pmm or the real
	// page tables.
	growFn = growHeap
)

// Init reserves and maps an initial region of at least initialSize bytes
// starting at start, establishing it as the kernel heap. It must be called
// exactly once, after paging.Init has built the kernel's page tables.
func Init(start mem.VirtAddr, initialSize mem.Size) *kernel.Error {
	heapStart = start
	heapEnd = start
	head = nil
	tail = nil

	return extend(initialSize)
}

// Alloc reserves at least size bytes and returns a pointer to the start of
// the usable region. The heap is grown automatically when no existing free
// block is large enough.
func Alloc(size mem.Size) (unsafe.Pointer, *kernel.Error) {
	if rem := size % allocAlign; rem != 0 {
		size += allocAlign - rem
	}

	lock.Acquire()
	defer lock.Release()

	for {
		for cur := head; cur != nil; cur = cur.next {
			if !cur.isFree || cur.size < size {
				continue
			}

			if cur.size-size >= headerSize+minSplitSize {
				split(cur, size)
			}
			cur.isFree = false

			return unsafe.Pointer(uintptr(unsafe.Pointer(cur)) + uintptr(headerSize)), nil
		}

		if err := extend(growIncrement); err != nil {
			return nil, err
		}
	}
}

// Free releases a block previously returned by Alloc, coalescing it with its
// free neighbours.
func Free(ptr unsafe.Pointer) *kernel.Error {
	if ptr == nil {
		return nil
	}

	lock.Acquire()
	defer lock.Release()

	n := (*node)(unsafe.Pointer(uintptr(ptr) - uintptr(headerSize)))
	if uintptr(unsafe.Pointer(n)) < uintptr(heapStart) || uintptr(unsafe.Pointer(n)) >= uintptr(heapEnd) {
		return errNotOwned
	}

	n.isFree = true

	for n.prev != nil && n.prev.isFree {
		prev := n.prev
		prev.size += headerSize + n.size
		prev.next = n.next
		if n.next != nil {
			n.next.prev = prev
		}
		if tail == n {
			tail = prev
		}
		n = prev
	}

	for n.next != nil && n.next.isFree {
		next := n.next
		n.size += headerSize + next.size
		n.next = next.next
		if next.next != nil {
			next.next.prev = n
		}
		if tail == next {
			tail = n
		}
	}

	return nil
}

// split carves a new free node out of the tail of cur, leaving cur with
// exactly size usable bytes.
func split(cur *node, size mem.Size) {
	newAddr := uintptr(unsafe.Pointer(cur)) + uintptr(headerSize) + uintptr(size)
	newNode := (*node)(unsafe.Pointer(newAddr))

	newNode.isFree = true
	newNode.size = cur.size - size - headerSize
	newNode.next = cur.next
	newNode.prev = cur

	if cur.next != nil {
		cur.next.prev = newNode
	}
	cur.next = newNode
	cur.size = size

	if tail == cur {
		tail = newNode
	}
}

// extend grows the heap by at least minSize bytes, mapping the new memory
// via growFn and either widening the current tail (if it is free) or
// appending a fresh free node.
func extend(minSize mem.Size) *kernel.Error {
	size := minSize
	if size < growIncrement {
		size = growIncrement
	}

	pages := mem.SizeToPages(size)
	size = mem.Size(pages) * mem.PageSize

	if err := growFn(heapEnd, size); err != nil {
		return err
	}

	if tail != nil && tail.isFree {
		tail.size += size
	} else {
		newNode := (*node)(unsafe.Pointer(uintptr(heapEnd)))
		newNode.isFree = true
		newNode.size = size - headerSize
		newNode.next = nil
		newNode.prev = tail

		if tail != nil {
			tail.next = newNode
		} else {
			head = newNode
		}
		tail = newNode
	}

	heapEnd += mem.VirtAddr(size)
	return nil
}

// growHeap commits size bytes of physical memory starting at virt into the
// kernel's page tables, one page at a time.
func growHeap(virt mem.VirtAddr, size mem.Size) *kernel.Error {
	pages := uint64(size / mem.PageSize)

	for i := uint64(0); i < pages; i++ {
		frame, err := pmm.AllocFrame()
		if err != nil {
			return errOutOfMemory
		}

		target := virt + mem.VirtAddr(i*uint64(mem.PageSize))
		if err := paging.MapPage(paging.KernelPML4, target, frame, paging.FlagRW|paging.FlagGlobal); err != nil {
			return err
		}
	}

	return nil
}
