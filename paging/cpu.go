package paging

import (
	"github.com/aligator/kfat/mem"
	"github.com/golang/glog"
)

// CPU provides the privileged operations which make a page directory visible
// to the MMU.
// Generated mock using mockgen:
//  mockgen -source=cpu.go -destination=cpu_mock.go -package paging
type CPU interface {
	// LoadPageDirectory installs the directory at addr as translation root (CR3).
	LoadPageDirectory(addr mem.PhysAddr)
	// EnablePaging sets the paging and protection bits in CR0.
	EnablePaging()
	// FlushTLBEntry invalidates the cached translation for virt.
	FlushTLBEntry(virt mem.VirtAddr)
}

// SimulatedCPU records the effect of the privileged operations. It is used
// when the kernel runs hosted instead of on real hardware.
type SimulatedCPU struct {
	Root           mem.PhysAddr
	RootLoaded     bool
	PagingEnabled  bool
	FlushedEntries []mem.VirtAddr
}

// LoadPageDirectory implements CPU.
func (c *SimulatedCPU) LoadPageDirectory(addr mem.PhysAddr) {
	glog.V(1).Infof("cpu: cr3 <- %v", addr)
	c.Root = addr
	c.RootLoaded = true
}

// EnablePaging implements CPU.
func (c *SimulatedCPU) EnablePaging() {
	glog.V(1).Info("cpu: cr0 |= PG|PE")
	c.PagingEnabled = true
}

// FlushTLBEntry implements CPU.
func (c *SimulatedCPU) FlushTLBEntry(virt mem.VirtAddr) {
	c.FlushedEntries = append(c.FlushedEntries, virt)
}
