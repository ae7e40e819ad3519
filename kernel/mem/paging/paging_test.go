package paging

import (
	"runtime"
	"testing"
	"unsafe"

	"virel/kernel"
	"virel/kernel/mem"
	"virel/kernel/mem/pmm"
)

// withFakeMemory backs the mapper with a plain Go byte slice instead of real
// physical memory, so tests can run on any host. physToVirtFn treats the
// slab's own address as physical address 0 and frameAllocatorFn hands out
// frames carved out of the same slab, in order.
func withFakeMemory(t *testing.T, pages int) func() {
	t.Helper()

	slab := make([]byte, pages*int(mem.PageSize))
	slabBase := uintptr(unsafe.Pointer(&slab[0]))

	origPhysToVirt := physToVirtFn
	origFrameAllocator := frameAllocatorFn
	origFlushTLB := flushTLBEntryFn

	var nextFrame pmm.Frame
	physToVirtFn = func(p mem.PhysAddr) mem.VirtAddr {
		return mem.VirtAddr(slabBase + uintptr(p))
	}
	frameAllocatorFn = func() (pmm.Frame, *kernel.Error) {
		if (uint64(nextFrame)+1)*uint64(mem.PageSize) > uint64(len(slab)) {
			return pmm.InvalidFrame, errOutOfMemory
		}
		f := nextFrame
		nextFrame++
		return f, nil
	}
	flushTLBEntryFn = func(uintptr) {}

	return func() {
		physToVirtFn = origPhysToVirt
		frameAllocatorFn = origFrameAllocator
		flushTLBEntryFn = origFlushTLB
		runtime.KeepAlive(slab)
	}
}

func TestMapUnmapPage(t *testing.T) {
	restore := withFakeMemory(t, 64)
	defer restore()

	root, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clearTable(root.PhysAddr())

	virt := mem.VirtAddr(0x1000)
	dataFrame, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := MapPage(root.PhysAddr(), virt, dataFrame, FlagRW); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	got, err := Translate(root.PhysAddr(), virt)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != dataFrame.PhysAddr() {
		t.Errorf("expected translated address %#x; got %#x", dataFrame.PhysAddr(), got)
	}

	if err := MapPage(root.PhysAddr(), virt, dataFrame, FlagRW); err != errAlreadyMapped {
		t.Errorf("expected errAlreadyMapped on double map; got %v", err)
	}

	if err := UnmapPage(root.PhysAddr(), virt); err != nil {
		t.Fatalf("UnmapPage: %v", err)
	}

	if _, err := Translate(root.PhysAddr(), virt); err != errNotPresent {
		t.Errorf("expected errNotPresent after unmap; got %v", err)
	}
}

func TestMapHugePage(t *testing.T) {
	restore := withFakeMemory(t, 1024)
	defer restore()

	root, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clearTable(root.PhysAddr())

	virt := mem.VirtAddr(0)
	dataFrame, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := MapHugePage(root.PhysAddr(), virt, dataFrame, FlagRW); err != nil {
		t.Fatalf("MapHugePage: %v", err)
	}

	offset := mem.VirtAddr(0x1234)
	got, err := Translate(root.PhysAddr(), virt+offset)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if exp := dataFrame.PhysAddr() + mem.PhysAddr(offset); got != exp {
		t.Errorf("expected translated address %#x; got %#x", exp, got)
	}
}

func TestMapRegion(t *testing.T) {
	restore := withFakeMemory(t, 64)
	defer restore()

	root, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clearTable(root.PhysAddr())

	dataFrame, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const count = 4
	if err := MapRegion(root.PhysAddr(), mem.VirtAddr(0x2000), dataFrame, count, FlagRW); err != nil {
		t.Fatalf("MapRegion: %v", err)
	}

	for i := uint64(0); i < count; i++ {
		virt := mem.VirtAddr(0x2000) + mem.VirtAddr(i*uint64(mem.PageSize))
		got, err := Translate(root.PhysAddr(), virt)
		if err != nil {
			t.Fatalf("Translate page %d: %v", i, err)
		}
		if exp := (dataFrame + pmm.Frame(i)).PhysAddr(); got != exp {
			t.Errorf("page %d: expected %#x; got %#x", i, exp, got)
		}
	}

	if err := UnmapRegion(root.PhysAddr(), mem.VirtAddr(0x2000), count, false); err != nil {
		t.Fatalf("UnmapRegion: %v", err)
	}
}

func TestUnmapRegionHuge(t *testing.T) {
	restore := withFakeMemory(t, 1024)
	defer restore()

	root, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clearTable(root.PhysAddr())

	dataFrame, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const count = 2
	base := mem.VirtAddr(0)
	for i := uint64(0); i < count; i++ {
		virt := base + mem.VirtAddr(i*uint64(mem.HugePageSize))
		if err := MapHugePage(root.PhysAddr(), virt, dataFrame+pmm.Frame(i), FlagRW); err != nil {
			t.Fatalf("MapHugePage %d: %v", i, err)
		}
	}

	if err := UnmapRegion(root.PhysAddr(), base, count, true); err != nil {
		t.Fatalf("UnmapRegion(huge=true): %v", err)
	}

	for i := uint64(0); i < count; i++ {
		virt := base + mem.VirtAddr(i*uint64(mem.HugePageSize))
		if _, err := Translate(root.PhysAddr(), virt); err != errNotPresent {
			t.Errorf("huge page %d: expected errNotPresent after unmap; got %v", i, err)
		}
	}
}

func TestChangeFlags(t *testing.T) {
	restore := withFakeMemory(t, 64)
	defer restore()

	root, err := frameAllocatorFn()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clearTable(root.PhysAddr())

	dataFrame, _ := frameAllocatorFn()
	virt := mem.VirtAddr(0x3000)
	if err := MapPage(root.PhysAddr(), virt, dataFrame, FlagRW); err != nil {
		t.Fatalf("MapPage: %v", err)
	}

	if err := ChangeFlags(root.PhysAddr(), virt, FlagNoExecute); err != nil {
		t.Fatalf("ChangeFlags: %v", err)
	}

	ptTable, err := walkTo(root.PhysAddr(), virt, 3, false)
	if err != nil {
		t.Fatalf("walkTo: %v", err)
	}
	pte := entryAt(ptTable, levelIndex(virt, 3))
	if !pte.hasFlags(FlagNoExecute) || pte.hasFlags(FlagRW) {
		t.Errorf("expected flags to be updated to NX-only; entry is %x", uintptr(*pte))
	}
}
