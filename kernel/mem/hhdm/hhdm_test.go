package hhdm

import (
	"testing"

	"virel/kernel/mem"
)

func TestPhysToVirtAndBack(t *testing.T) {
	defer func() {
		offset = 0
		ready = false
	}()

	SetOffset(mem.VirtAddr(0xffff800000000000))

	phys := mem.PhysAddr(0x123456)
	virt := PhysToVirt(phys)

	if exp := mem.VirtAddr(0xffff800000123456); virt != exp {
		t.Fatalf("expected virt addr 0x%x; got 0x%x", uintptr(exp), uintptr(virt))
	}

	if got := VirtToPhys(virt); got != phys {
		t.Fatalf("expected VirtToPhys to invert PhysToVirt; got 0x%x want 0x%x", uintptr(got), uintptr(phys))
	}
}

func TestOffset(t *testing.T) {
	defer func() {
		offset = 0
		ready = false
	}()

	SetOffset(mem.VirtAddr(0xdeadb000))
	if got := Offset(); got != mem.VirtAddr(0xdeadb000) {
		t.Fatalf("expected Offset to return the value set via SetOffset; got 0x%x", uintptr(got))
	}
}

func TestReadyGuardsAgainstUnsetOffset(t *testing.T) {
	defer func() {
		offset = 0
		ready = false
	}()

	ready = false
	if ready {
		t.Fatal("expected ready to be false before SetOffset is called")
	}

	SetOffset(0)
	if !ready {
		t.Fatal("expected SetOffset to set ready, even when offset is the zero value")
	}
}
