package paging

import "virel/kernel/cpu"

// patMSR is the IA32_PAT model-specific register.
const patMSR = 0x277

// CacheType selects one of the eight PAT slots for a mapping. Combined with
// FlagWriteThrough and FlagCacheDisable (and, for 4KiB mappings, FlagHuge
// reused as the PAT bit per the amd64 spec) a PTE selects one of these
// encodings.
type CacheType uint8

const (
	// CacheWriteBack is the default: reads are cached, writes update
	// both cache and memory lazily.
	CacheWriteBack CacheType = iota

	// CacheWriteCombining buffers writes and issues them as bursts;
	// used for framebuffer-style MMIO.
	CacheWriteCombining

	// CacheUncacheable disables caching entirely; the default for MMIO.
	CacheUncacheable
)

// patEncoding is indexed by the 3-bit PAT selector amd64 builds from the
// PWT, PCD and PAT flag bits (in that significance order) and gives the PAT
// table entry value to place at that slot. The layout is the canonical
// {WB, WC, UC, UC, WB, WC, UC, UC} sequence: slots 0 and 4 select
// write-back, 1 and 5 write-combining, the rest uncacheable, so that
// flagsForCacheType only ever needs to toggle PWT/PCD and can leave the PAT
// bit (FlagHuge, reused at the PT level) clear.
var patEncoding = [8]byte{
	0x06, // slot 0 (PWT=0,PCD=0,PAT=0): write-back
	0x01, // slot 1 (PWT=1,PCD=0,PAT=0): write-combining
	0x00, // slot 2 (PWT=0,PCD=1,PAT=0): uncacheable
	0x00, // slot 3 (PWT=1,PCD=1,PAT=0): uncacheable
	0x06, // slot 4 (PWT=0,PCD=0,PAT=1): write-back
	0x01, // slot 5 (PWT=1,PCD=0,PAT=1): write-combining
	0x00, // slot 6 (PWT=0,PCD=1,PAT=1): uncacheable
	0x00, // slot 7 (PWT=1,PCD=1,PAT=1): uncacheable
}

// initPAT programs IA32_PAT so that the flag combinations used by
// flagsForCacheType below select the cache types this mapper relies on.
func initPAT() {
	var value uint64
	for i, entry := range patEncoding {
		value |= uint64(entry) << uint(i*8)
	}
	cpu.WriteMSR(patMSR, value)
}

// flagsForCacheType returns the PWT/PCD flag combination that selects ct
// for a mapping. It never touches the PAT bit, so every mapping stays
// within PAT slots 0-3.
func flagsForCacheType(ct CacheType) Flag {
	switch ct {
	case CacheWriteCombining:
		return FlagWriteThrough
	case CacheUncacheable:
		return FlagCacheDisable
	default:
		return 0
	}
}
