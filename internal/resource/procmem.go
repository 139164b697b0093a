package resource

import "github.com/NGIOproject/norns-go/internal/cos"

// ProcessMemory resolves MemoryRegion resources: a byte span inside a
// client process's address space, never a collection, never tracked for
// quota (spec §3, §4.1; original_source/src/backends/process-memory.cpp).
type ProcessMemory struct {
	nsid string
}

func NewProcessMemory(nsid string) *ProcessMemory { return &ProcessMemory{nsid: nsid} }

func (b *ProcessMemory) Nsid() string     { return b.nsid }
func (b *ProcessMemory) Kind() BackendKind { return BackendProcessMemory }
func (b *ProcessMemory) IsTracked() bool  { return false }
func (b *ProcessMemory) IsEmpty() bool    { return false }
func (b *ProcessMemory) Mount() string    { return "" }
func (b *ProcessMemory) Quota() uint64    { return 0 }
func (b *ProcessMemory) String() string   { return "process-memory[" + b.nsid + "]" }

func (b *ProcessMemory) Accepts(info Info) bool {
	return info.Kind == KindMemoryRegion && info.Nsid == b.nsid
}

func (b *ProcessMemory) NewResource(Info, bool) (Resource, error) {
	return nil, cos.NewError(cos.NotSupported, "process-memory resources cannot be created")
}

func (b *ProcessMemory) GetResource(info Info) (Resource, error) {
	return &MemoryRegionResource{ParentBackend: b, Address: info.Address, Size: info.Size}, nil
}

func (b *ProcessMemory) Remove(Resource) error { return nil }

func (b *ProcessMemory) GetSize(info Info) (uint64, error) { return info.Size, nil }
