package vmm

import (
	"virel/kernel"
	"virel/kernel/cpu"
	"virel/kernel/irq"
	"virel/kernel/kfmt"
	"virel/kernel/mem"
	"virel/kernel/mem/hhdm"
	"virel/kernel/mem/paging"
)

// pageFaultErrCode bits, per the amd64 exception-14 error code.
const (
	pfPresent = 1 << 0
	pfWrite   = 1 << 1
	pfUser    = 1 << 2
)

var (
	// readCR2Fn and handleExceptionWithCodeFn are swapped out by tests.
	readCR2Fn                = cpu.ReadCR2
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode

	errUnresolvableFault = &kernel.Error{Module: "vmm", Message: "page fault at an address with no backing VM area"}
)

// InstallFaultHandlers registers the page-fault and general-protection-fault
// handlers. Called once during kernel/mem/vmm.Init.
func InstallFaultHandlers() {
	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
}

// pageFaultHandler resolves a page fault against the target address
// space's VM areas: a fault inside a demand-paged area that wasn't yet
// backed by a frame is serviced by allocating and mapping one; every other
// fault is fatal. The target is kernelVAS for a fault at or above
// kernelHalfStart, and active (whatever process is currently switched in)
// otherwise, matching the split every AddressSpace's shared upper PML4
// entries imply but do not by themselves enforce at the VMArea level.
func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	faultAddr := mem.VirtAddr(readCR2Fn())

	target := active
	if faultAddr >= kernelHalfStart {
		target = kernelVAS
	}
	if target == nil {
		fatalFault(faultAddr, errorCode, frame, regs, errUnresolvableFault)
		return
	}

	area := findArea(target, faultAddr)
	if area == nil || area.kind != areaDemand || errorCode&pfPresent != 0 {
		fatalFault(faultAddr, errorCode, frame, regs, errUnresolvableFault)
		return
	}

	newFrame, err := frameAllocatorFn()
	if err != nil {
		fatalFault(faultAddr, errorCode, frame, regs, err)
		return
	}

	pageAddr := faultAddr.PageAlignDown()
	mem.Memset(uintptr(hhdm.PhysToVirt(newFrame.PhysAddr())), 0, mem.PageSize)

	flags := paging.TranslateFlags(area.flags)
	if err := paging.MapPage(target.pml4, pageAddr, newFrame, flags); err != nil {
		fatalFault(faultAddr, errorCode, frame, regs, err)
		return
	}
}

func fatalFault(faultAddr mem.VirtAddr, errorCode uint64, frame *irq.Frame, regs *irq.Regs, err *kernel.Error) {
	kfmt.Printf("\npage fault at 0x%16x (code: %d): %s\n", uintptr(faultAddr), errorCode, err.Message)
	regs.Print()
	frame.Print()
	kfmt.Panic(err)
}

func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\ngeneral protection fault, faulting address 0x%x\n", readCR2Fn())
	regs.Print()
	frame.Print()
	kfmt.Panic(errUnresolvableFault)
}
