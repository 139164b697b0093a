package resource

// Backend is the capability set every storage driver variant implements
// (spec §3/§4.1). The namespace registry owns Backend instances; resolved
// Resources only hold a reference, never ownership (invariant 2).
type Backend interface {
	Nsid() string
	Kind() BackendKind
	IsTracked() bool
	IsEmpty() bool
	Mount() string
	Quota() uint64

	// NewResource creates (or truncates) the named resource, transactionally
	// creating intermediate parent directories as required (spec §4.1).
	NewResource(info Info, isCollection bool) (Resource, error)

	// GetResource resolves an existing resource. It fails with a
	// NoSuchNamespace-coded error (the same code as a missing resource) if
	// the canonical path would escape the mount, even through a symlink that
	// would otherwise resolve inside it — the security invariant of spec §4.1.
	GetResource(info Info) (Resource, error)

	Remove(res Resource) error
	GetSize(info Info) (uint64, error)

	// Accepts reports whether this backend is willing to resolve/create the
	// given (client-supplied, unresolved) resource info.
	Accepts(info Info) bool

	String() string
}
