package vmm

import (
	"testing"
	"unsafe"

	"virel/kernel"
	"virel/kernel/mem"
	"virel/kernel/mem/hhdm"
	"virel/kernel/mem/paging"
	"virel/kernel/mem/pmm"
)

// withStubbedAddressSpace swaps out every function var that would otherwise
// touch real hardware (CR3, HHDM-backed page tables) so AddressSpace
// bookkeeping can be exercised in a hosted test binary.
func withStubbedAddressSpace(t *testing.T) func() {
	t.Helper()

	origFrameAllocator := frameAllocatorFn
	origSwitch := switchPML4Fn
	origCopyHalf := copyKernelHalfFn

	var nextFrame pmm.Frame
	frameAllocatorFn = func() (pmm.Frame, *kernel.Error) {
		f := nextFrame
		nextFrame++
		return f, nil
	}
	switchPML4Fn = func(uintptr) {}
	copyKernelHalfFn = func(mem.PhysAddr) *kernel.Error { return nil }

	return func() {
		frameAllocatorFn = origFrameAllocator
		switchPML4Fn = origSwitch
		copyKernelHalfFn = origCopyHalf
	}
}

func TestNewAndSwitch(t *testing.T) {
	defer withStubbedAddressSpace(t)()

	as, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	Switch(as)
	if active != as {
		t.Fatal("expected Switch to record the address space as active")
	}
}

func TestAllocFirstFit(t *testing.T) {
	defer withStubbedAddressSpace(t)()

	as, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	addr1, err := Alloc(as, mem.PageSize, paging.GenericRead|paging.GenericWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr1 != userSpaceStart {
		t.Errorf("expected first allocation to start at %#x; got %#x", userSpaceStart, addr1)
	}

	addr2, err := Alloc(as, mem.PageSize*2, paging.GenericRead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr2 != addr1+mem.VirtAddr(mem.PageSize) {
		t.Errorf("expected second allocation to start right after the first; got %#x", addr2)
	}

	if area := findArea(as, addr1); area == nil {
		t.Fatal("expected to find the first area")
	} else if area.Size() != mem.PageSize {
		t.Errorf("expected area size %d; got %d", mem.PageSize, area.Size())
	}

	if area := findArea(as, addr2+mem.VirtAddr(mem.PageSize)); area == nil {
		t.Fatal("expected the second address within the second (2-page) area to resolve")
	}
}

func TestAllocRejectsOversizeRegion(t *testing.T) {
	defer withStubbedAddressSpace(t)()

	as, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := Alloc(as, mem.Size(userSpaceEnd)*2, paging.GenericRead); err != errOutOfRangeSize {
		t.Fatalf("expected errOutOfRangeSize; got %v", err)
	}
}

func TestFreeRemovesArea(t *testing.T) {
	defer withStubbedAddressSpace(t)()

	// Free walks real page tables via the paging package, so back HHDM
	// with a plain Go slab instead of real physical memory.
	slab := make([]byte, 16*int(mem.PageSize))
	hhdm.SetOffset(mem.VirtAddr(uintptr(unsafe.Pointer(&slab[0]))))

	as, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Insert an MMIO area directly so Free can be exercised without
	// first needing a successful MapMMIO call.
	insertArea(as, &VMArea{start: userSpaceStart, end: userSpaceStart + mem.VirtAddr(mem.PageSize), kind: areaMMIO})

	if err := Free(as, userSpaceStart); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if as.regions != nil {
		t.Fatal("expected the region list to be empty after Free")
	}

	if err := Free(as, userSpaceStart); err != errNoSuchArea {
		t.Fatalf("expected errNoSuchArea for a repeated Free; got %v", err)
	}
}
