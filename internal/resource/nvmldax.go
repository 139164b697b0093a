package resource

// NvmlDax resolves LocalPath resources backed by a DAX-mapped NVM device
// mount. It shares PosixFilesystem's path resolution (DAX mounts still
// present a POSIX namespace) but is tagged distinctly because its quota
// accounting and allocation granularity differ in the original implementation
// (original_source/src/backends/nvml-dax.cpp wraps posix_filesystem the same
// way; spec §3 lists it as its own Backend variant).
type NvmlDax struct {
	*PosixFilesystem
}

func NewNvmlDax(nsid, mount string, quota uint64) *NvmlDax {
	pf := NewPosixFilesystem(nsid, mount, quota, true)
	pf.kind = BackendNvmlDax
	return &NvmlDax{PosixFilesystem: pf}
}
