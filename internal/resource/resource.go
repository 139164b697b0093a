package resource

// NetAddr names a peer daemon (spec §3 Remote.address).
type NetAddr struct {
	Host string
	Port int
}

func (a NetAddr) String() string {
	if a.Port == 0 {
		return a.Host
	}
	return a.Host + ":" + itoa(a.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ExposedMemoryHandle is the wire-transmissible descriptor for a buffer the
// RDMA engine has registered (spec glossary "Exposed buffer"). The engine
// itself is an external collaborator (spec §1); this struct is the one piece
// of its contract the task engine needs to serialize over the wire.
type ExposedMemoryHandle struct {
	ID   string
	Size int64
}

// Info is the client-supplied, unresolved form of a resource: enough to look
// up a Backend and ask it to resolve (Get) or create (New) the concrete
// Resource (spec §3 ResourceInfo).
type Info struct {
	Kind Kind
	Nsid string
	Name string // path (LocalPath/Remote) — ignored for MemoryRegion

	// MemoryRegion fields
	Address uint64
	Size    uint64

	// Remote fields
	Peer    NetAddr
	Buffers ExposedMemoryHandle

	IsCollection bool
}

// Resource is the resolved, tagged variant from spec §3. All three variants
// share a back-reference to the Backend that resolved them (invariant 2: a
// Resource is only valid while that Backend stays registered) and report
// whether they denote a collection (directory-shaped) resource.
type Resource interface {
	Parent() Backend
	IsCollection() bool
	Kind() Kind
	String() string
}

type MemoryRegionResource struct {
	ParentBackend Backend
	PID           int
	Address       uint64
	Size          uint64
}

func (r *MemoryRegionResource) Parent() Backend    { return r.ParentBackend }
func (r *MemoryRegionResource) IsCollection() bool  { return false }
func (r *MemoryRegionResource) Kind() Kind          { return KindMemoryRegion }
func (r *MemoryRegionResource) String() string {
	return "memory-region[pid=" + itoa(r.PID) + ",addr=" + itoa64(int64(r.Address)) + ",size=" + itoa64(int64(r.Size)) + "]"
}

type LocalPathResource struct {
	ParentBackend Backend
	CanonicalPath string
	Name          string
	Collection    bool
}

func (r *LocalPathResource) Parent() Backend   { return r.ParentBackend }
func (r *LocalPathResource) IsCollection() bool { return r.Collection }
func (r *LocalPathResource) Kind() Kind         { return KindLocalPath }
func (r *LocalPathResource) String() string     { return "local-path[" + r.CanonicalPath + "]" }

type RemoteResource struct {
	ParentBackend Backend
	Address       NetAddr
	Name          string
	Buffers       ExposedMemoryHandle
	Collection    bool
}

func (r *RemoteResource) Parent() Backend   { return r.ParentBackend }
func (r *RemoteResource) IsCollection() bool { return r.Collection }
func (r *RemoteResource) Kind() Kind         { return KindRemote }
func (r *RemoteResource) String() string {
	return "remote[" + r.Address.String() + ":" + r.Name + "]"
}

func itoa64(n int64) string {
	return itoa(int(n))
}
