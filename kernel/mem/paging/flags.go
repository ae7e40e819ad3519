package paging

// Flag describes a bit that can be set on a page table entry. The bit
// positions mirror the amd64 PTE/PDE/PDPTE/PML4E format.
type Flag uintptr

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent Flag = 1 << iota

	// FlagRW allows writes to the page. When clear the page is read-only.
	FlagRW

	// FlagUser allows ring-3 access. When clear only ring-0 code may
	// access the page.
	FlagUser

	// FlagWriteThrough selects write-through caching for the page.
	FlagWriteThrough

	// FlagCacheDisable disables caching for the page.
	FlagCacheDisable

	// FlagAccessed is set by the CPU the first time the page is
	// referenced.
	FlagAccessed

	// FlagDirty is set by the CPU the first time the page is written to.
	// Meaningless above the PT level.
	FlagDirty

	// FlagHuge marks a PDPT or PD entry as mapping a large page directly
	// (1GiB or 2MiB) instead of pointing at the next table level. This
	// mapper only ever sets it at the PD level, producing 2MiB mappings.
	FlagHuge

	// FlagGlobal prevents the TLB entry from being flushed on a CR3
	// reload. Requires CR4.PGE.
	FlagGlobal
)

// FlagNoExecute occupies bit 63 and requires the NXE bit in EFER to be set
// before the CPU honors it.
const FlagNoExecute Flag = 1 << 63

// Has reports whether all bits in flags are set.
func (f Flag) Has(flags Flag) bool {
	return f&flags == flags
}

// GenericFlag describes mapping intent independent of any architecture.
// Callers outside this package (notably kernel/mem/vmm) should build up
// permissions using GenericFlag and let TranslateFlags turn them into the
// amd64-specific Flag bits, so that the generic/arch split called out by the
// region bookkeeping stays enforced at the type level.
type GenericFlag uint8

const (
	// GenericRead is implicit for every present mapping; it exists as a
	// bit so callers can spell out read-only intent explicitly.
	GenericRead GenericFlag = 1 << iota
	GenericWrite
	GenericExec
	GenericUser

	// GenericAnon marks a demand-paged area backed by zero-filled
	// anonymous memory, as opposed to a fixed physical range. It carries
	// no x86 flag of its own: kernel/mem/vmm.Alloc adds it to the flags of
	// every area it creates to record that intent, the same way areaDemand
	// already does at the bookkeeping level.
	GenericAnon

	// GenericMMIO marks a region backed by a fixed physical range rather
	// than demand-paged anonymous memory. Like GenericAnon, it carries no
	// x86 flag of its own; kernel/mem/vmm.MapMMIO adds it to the flags of
	// every area it creates, mirroring areaMMIO at the bookkeeping level.
	GenericMMIO

	// GenericWriteCombining selects write-combining caching (PAT slot
	// CacheWriteCombining), the cache hint framebuffer-style MMIO wants.
	// Mutually exclusive with GenericUncacheable; if both are set,
	// GenericUncacheable wins.
	GenericWriteCombining

	// GenericUncacheable selects uncacheable caching (PAT slot
	// CacheUncacheable), the default cache hint for ordinary MMIO
	// registers.
	GenericUncacheable
)

// TranslateFlags converts a GenericFlag set into the amd64 Flag bits needed
// to implement it. FlagPresent is always included.
func TranslateFlags(generic GenericFlag) Flag {
	flags := FlagPresent

	if generic&GenericWrite != 0 {
		flags |= FlagRW
	}
	if generic&GenericExec == 0 {
		flags |= FlagNoExecute
	}
	if generic&GenericUser != 0 {
		flags |= FlagUser
	} else {
		flags |= FlagGlobal
	}

	switch {
	case generic&GenericUncacheable != 0:
		flags |= flagsForCacheType(CacheUncacheable)
	case generic&GenericWriteCombining != 0:
		flags |= flagsForCacheType(CacheWriteCombining)
	}

	return flags
}
