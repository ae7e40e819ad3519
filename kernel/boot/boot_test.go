package boot

import (
	"testing"

	"virel/kernel/mem"
)

func TestMemoryMapEntryTypeString(t *testing.T) {
	specs := []struct {
		typ MemoryMapEntryType
		exp string
	}{
		{Usable, "usable"},
		{Reserved, "reserved"},
		{AcpiReclaimable, "ACPI (reclaimable)"},
		{AcpiNvs, "ACPI NVS"},
		{Bad, "bad"},
		{BootloaderReclaimable, "bootloader (reclaimable)"},
		{ExecutableAndModules, "executable/modules"},
		{Framebuffer, "framebuffer"},
		{MemoryMapEntryType(0xff), "unknown"},
	}

	for _, spec := range specs {
		if got := spec.typ.String(); got != spec.exp {
			t.Errorf("expected %q; got %q", spec.exp, got)
		}
	}
}

func TestMemoryMapEntryEnd(t *testing.T) {
	entry := &MemoryMapEntry{Base: mem.PhysAddr(0x1000), Length: mem.Size(0x2000)}
	if got, exp := entry.End(), mem.PhysAddr(0x3000); got != exp {
		t.Errorf("expected End() to be 0x%x; got 0x%x", uintptr(exp), uintptr(got))
	}
}

func TestVisitMemRegions(t *testing.T) {
	m := &MemoryMap{
		Entries: []*MemoryMapEntry{
			{Base: 0, Length: mem.Size(0x1000), Type: Usable},
			{Base: 0x1000, Length: mem.Size(0x1000), Type: Reserved},
			{Base: 0x2000, Length: mem.Size(0x1000), Type: Usable},
		},
	}

	t.Run("full scan", func(t *testing.T) {
		var bases []mem.PhysAddr
		m.VisitMemRegions(func(e *MemoryMapEntry) bool {
			bases = append(bases, e.Base)
			return true
		})

		if len(bases) != len(m.Entries) {
			t.Fatalf("expected to visit all %d entries; visited %d", len(m.Entries), len(bases))
		}
	})

	t.Run("early abort", func(t *testing.T) {
		var visited int
		m.VisitMemRegions(func(e *MemoryMapEntry) bool {
			visited++
			return e.Type != Reserved
		})

		if visited != 2 {
			t.Fatalf("expected the visitor to stop after the second (reserved) entry; visited %d entries", visited)
		}
	})
}
