package vmm

import "virel/kernel/mem/paging"

// Init installs the page/general-protection fault handlers and builds the
// kernel's own address space (rooted at the page tables kernel/mem/paging.
// Init already built), both as kernelVAS — the permanent target of every
// kernel-half fault — and, until the first process address space is
// switched in, as active too.
func Init() {
	InstallFaultHandlers()
	kernelVAS = &AddressSpace{pml4: paging.KernelPML4}
	active = kernelVAS
}
