package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPML4 loads CR3 with the physical address of a PML4 table, making it
// the active root page table and implicitly flushing all non-global TLB
// entries.
func SwitchPML4(pml4PhysAddr uintptr)

// ActivePML4 returns the physical address of the currently active PML4,
// i.e. the current contents of CR3.
func ActivePML4() uintptr

// ReadCR2 returns the value stored in the CR2 register, i.e. the faulting
// virtual address for the page fault currently being serviced.
func ReadCR2() uint64

// ReadCR4 returns the value stored in the CR4 register.
func ReadCR4() uint64

// WriteCR4 stores a new value into the CR4 register.
func WriteCR4(val uint64)

// ReadMSR returns the value of the model-specific register identified by id.
func ReadMSR(id uint32) uint64

// WriteMSR stores val into the model-specific register identified by id.
func WriteMSR(id uint32, val uint64)

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
