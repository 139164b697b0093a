package task

import (
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/NGIOproject/norns-go/internal/cos"
	"github.com/NGIOproject/norns-go/internal/nlog"
	"github.com/NGIOproject/norns-go/internal/resource"
	"github.com/NGIOproject/norns-go/internal/wpool"
)

// Transferor is the narrow slice of transfer.Transferor the manager needs,
// kept local to avoid an import cycle between internal/task and
// internal/transfer (which itself depends on internal/task.Info).
type Transferor interface {
	Validate(src, dst resource.Info) bool
	Transfer(ti *Info, srcRes, dstRes resource.Resource) (taskError string, sysErrnum int32)
}

// TransferorLookup resolves a Transferor by (src_kind,dst_kind); for a
// remote-initiated task CreateTask passes the two kinds in swapped order
// (spec §4.6).
type TransferorLookup func(srcKind, dstKind resource.Kind) (Transferor, bool)

// GlobalStats is spec §3's GlobalStats: {running, pending, eta_seconds}.
type GlobalStats struct {
	Running uint32
	Pending uint32
	ETA     float64
}

// Manager is the task manager of spec §4.8: creates, stores, dispatches,
// and tracks tasks, producing globally consistent status.
type Manager struct {
	nextID  uint64 // atomic; 0 is the reserved sentinel, first real id is 1
	mu      sync.RWMutex
	byID    map[uint64]*Info
	pool    *wpool.Pool
	lookup  TransferorLookup
	backlog *Backlog
	dryRun  bool
	dryDur  time.Duration
	paused  int32 // atomic bool: accept-paused gate (spec §4.9)
	metrics *Metrics
	store   *Retention
}

type Options struct {
	Pool            *wpool.Pool
	Lookup          TransferorLookup
	BacklogCapacity int
	DryRun          bool
	DryRunDuration  time.Duration
	Metrics         *Metrics
	Store           *Retention
}

func NewManager(opts Options) *Manager {
	return &Manager{
		byID:    make(map[uint64]*Info),
		pool:    opts.Pool,
		lookup:  opts.Lookup,
		backlog: NewBacklog(opts.BacklogCapacity),
		dryRun:  opts.DryRun,
		dryDur:  opts.DryRunDuration,
		metrics: opts.Metrics,
		store:   opts.Store,
	}
}

// PauseAccept/ResumeAccept implement the gate half of spec §4.9.
func (m *Manager) PauseAccept()  { atomic.StoreInt32(&m.paused, 1) }
func (m *Manager) ResumeAccept() { atomic.StoreInt32(&m.paused, 0) }
func (m *Manager) isPaused() bool {
	return atomic.LoadInt32(&m.paused) != 0
}

// Submission bundles what create_*_task needs to admit a task (spec §4.8).
type Submission struct {
	Kind       Kind
	Remote     bool
	Cred       Credentials
	SrcBackend resource.Backend
	SrcInfo    resource.Info
	DstBackend resource.Backend
	DstInfo    resource.Info
	HasDst     bool
}

// CreateTask implements create_local_initiated_task / create_remote_initiated_task
// (spec §4.8): the two differ only in whether kind pairing is looked up in
// swapped order, which the caller encodes into sub.Remote.
func (m *Manager) CreateTask(sub Submission) (*Info, error) {
	if m.isPaused() {
		return nil, cos.NewError(cos.AcceptPaused, "")
	}

	id := atomic.AddUint64(&m.nextID, 1) // ids allocated under exclusive (atomic) access, strictly increasing (invariant 1)

	var totalBytes uint64
	if sub.SrcBackend != nil {
		if sz, err := sub.SrcBackend.GetSize(sub.SrcInfo); err == nil {
			totalBytes = sz
		}
	}

	ti := New(id, sub.Kind, sub.Remote, sub.Cred, totalBytes)
	ti.SrcBackend = sub.SrcBackend
	ti.SrcInfo = sub.SrcInfo
	ti.DstBackend = sub.DstBackend
	ti.DstInfo = sub.DstInfo
	ti.SrcNsid = sub.SrcInfo.Nsid
	ti.DstNsid = sub.DstInfo.Nsid

	var transferor Transferor
	if sub.Kind == KindCopy || sub.Kind == KindMove {
		var ok bool
		if m.lookup == nil {
			return nil, cos.NewError(cos.NotSupported, "")
		}
		srcKind, dstKind := sub.SrcInfo.Kind, sub.DstInfo.Kind
		if sub.Remote {
			transferor, ok = m.lookup(dstKind, srcKind)
		} else {
			transferor, ok = m.lookup(srcKind, dstKind)
		}
		if !ok {
			return nil, cos.NewError(cos.NotSupported, "")
		}
		if !transferor.Validate(sub.SrcInfo, sub.DstInfo) {
			return nil, cos.NewError(cos.BadArgs, "")
		}
	}

	effectiveKind := sub.Kind
	if m.dryRun && (sub.Kind == KindCopy || sub.Kind == KindMove || sub.Kind == KindRemove) {
		effectiveKind = KindNoop
	}
	ti.Kind = effectiveKind

	m.mu.Lock()
	m.byID[id] = ti
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.TaskCreated()
	}

	closure := m.buildClosure(ti, sub, transferor, effectiveKind)
	return ti, m.enqueue(ti, closure)
}

func (m *Manager) buildClosure(ti *Info, sub Submission, transferor Transferor, effectiveKind Kind) wpool.Closure {
	switch effectiveKind {
	case KindNoop:
		dur := m.dryDur
		return func() {
			ti.SetRunning()
			noopSleep(dur)
			ti.Finish("", 0)
		}
	case KindRemove:
		return func() {
			ti.SetRunning()
			res, err := sub.SrcBackend.GetResource(sub.SrcInfo)
			if err != nil {
				ti.Finish(err.Error(), int32(cos.CodeOf(err)))
				return
			}
			if err := sub.SrcBackend.Remove(res); err != nil {
				wrapped := pkgerrors.Wrap(err, "remove")
				ti.Finish(wrapped.Error(), int32(cos.CodeOf(err)))
				return
			}
			ti.Finish("", 0)
		}
	default: // Copy, Move
		return func() {
			ti.SetRunning()
			srcRes, err := sub.SrcBackend.GetResource(sub.SrcInfo)
			if err != nil {
				ti.Finish(err.Error(), int32(cos.CodeOf(err)))
				return
			}
			dstRes, err := sub.DstBackend.NewResource(sub.DstInfo, sub.SrcInfo.IsCollection)
			if err != nil {
				ti.Finish(err.Error(), int32(cos.CodeOf(err)))
				return
			}
			start := time.Now()
			taskErr, sysErr := transferor.Transfer(ti, srcRes, dstRes)
			ti.elapsed = time.Since(start)
			ti.Finish(taskErr, sysErr)
			if sub.Kind == KindMove && taskErr == "" && sysErr == 0 {
				if rmErr := sub.SrcBackend.Remove(srcRes); rmErr != nil {
					nlog.Warningf("move: source removal failed after copy: %v", rmErr)
				}
			}
		}
	}
}

// noopSleep is the two-phase sleep grounded on the original fake-task
// implementation: two back-to-back sleeps of half the duration each, with
// the task Running throughout; neither phase can be cut short.
func noopSleep(total time.Duration) {
	half := total / 2
	time.Sleep(half)
	time.Sleep(total - half)
}

// enqueue implements spec §4.8's dispatch rule: Remove/Noop go in plain,
// Copy/Move carry a completion epilog that folds the finished bandwidth
// into the backlog.
func (m *Manager) enqueue(ti *Info, closure wpool.Closure) error {
	if m.pool == nil {
		return cos.NewError(cos.Snafu, "no worker pool configured")
	}
	switch ti.Kind {
	case KindRemove, KindNoop:
		m.pool.SubmitAndForget(closure)
	default:
		m.pool.SubmitWithEpilogAndForget(closure, func() { m.completionEpilog(ti) })
	}
	return nil
}

func (m *Manager) completionEpilog(ti *Info) {
	if ti.elapsed > 0 {
		snap := ti.Snapshot()
		sent := snap.TotalBytes - snap.PendingBytes
		mib := float64(sent) / (1 << 20)
		secs := ti.elapsed.Seconds()
		if secs > 0 {
			bw := mib / secs
			ti.SetBandwidth(bw)
			m.backlog.Record(ti.SrcNsid, ti.DstNsid, bw)
			if m.metrics != nil {
				m.metrics.ObserveBandwidth(ti.SrcNsid, ti.DstNsid, bw)
			}
		}
	}
	if m.metrics != nil {
		m.metrics.TaskCompleted(ti.Status())
	}
	if m.store != nil && (ti.Status() == StatusFinished || ti.Status() == StatusFinishedWithError) {
		m.store.Save(ti)
	}
}

// RecordRemoteTask implements create_remote_initiated_task's bookkeeping
// half (spec §3 "is_remote_initiated", §4.6): the receiving node's peer RPC
// handlers move the bytes themselves over the HTTP body (a push has finished
// by the time this is called; a pull is recorded once its source is open and
// handed to the response stream), so there is no closure to dispatch onto the
// worker pool — only a terminal TaskInfo to register for visibility via
// IoTaskStatus/count_if/global_stats on this node too.
func (m *Manager) RecordRemoteTask(cred Credentials, kind Kind, srcNsid, dstNsid string, totalBytes uint64, taskErr string, sysErr int32) *Info {
	id := atomic.AddUint64(&m.nextID, 1)
	ti := New(id, kind, true, cred, totalBytes)
	ti.SrcNsid, ti.DstNsid = srcNsid, dstNsid
	ti.SetRunning()
	if taskErr == "" && sysErr == 0 {
		ti.AddSent(totalBytes)
	}
	ti.Finish(taskErr, sysErr)

	m.mu.Lock()
	m.byID[id] = ti
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.TaskCreated()
		m.metrics.TaskCompleted(ti.Status())
	}
	if m.store != nil {
		m.store.Save(ti)
	}
	return ti
}

// NamespaceInUse implements nsreg.InUseChecker: a namespace is in use while
// any non-terminal task still references it as either endpoint (spec §4.2
// "Unregister ... refuses while referenced by a live task").
func (m *Manager) NamespaceInUse(nsid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ti := range m.byID {
		if ti.SrcNsid != nsid && ti.DstNsid != nsid {
			continue
		}
		switch ti.Status() {
		case StatusPending, StatusRunning:
			return true
		}
	}
	return false
}

// Find implements find(id) (spec §4.8).
func (m *Manager) Find(id uint64) (*Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ti, ok := m.byID[id]
	return ti, ok
}

// Erase implements erase(id) (spec §4.8).
func (m *Manager) Erase(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return false
	}
	delete(m.byID, id)
	return true
}

// CountIf implements count_if(pred) (spec §4.8), used by both global_stats
// and the shutdown gate (spec §4.9).
func (m *Manager) CountIf(pred func(*Info) bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ti := range m.byID {
		if pred(ti) {
			n++
		}
	}
	return n
}

// GlobalStats implements spec §4.8's global_stats, including the ETA
// formula: for each running task, pending_bytes / average(backlog); overall
// eta = max(per-task eta); NaN if any running task's key lacks history; 0
// with no running tasks.
func (m *Manager) GlobalStats() GlobalStats {
	m.mu.RLock()
	running := make([]*Info, 0)
	pending := 0
	for _, ti := range m.byID {
		switch ti.Status() {
		case StatusRunning:
			running = append(running, ti)
		case StatusPending:
			pending++
		}
	}
	m.mu.RUnlock()

	stats := GlobalStats{Running: uint32(len(running)), Pending: uint32(pending)}
	if len(running) == 0 {
		stats.ETA = 0
		return stats
	}
	var maxETA float64
	for _, ti := range running {
		snap := ti.Snapshot()
		avg, ok := m.backlog.Average(ti.SrcNsid, ti.DstNsid)
		if !ok || avg <= 0 {
			stats.ETA = nan()
			return stats
		}
		mib := float64(snap.PendingBytes) / (1 << 20)
		eta := mib / avg
		if eta > maxETA {
			maxETA = eta
		}
	}
	stats.ETA = maxETA
	return stats
}

func nan() float64 {
	var zero float64
	return zero / zero
}

// StopAllTasks implements stop_all_tasks (spec §4.8): drains the worker
// pool (letting every already-queued closure finish) and joins it. There is
// no cancellation (spec §9 "No dynamic cancellation").
func (m *Manager) StopAllTasks() {
	if m.pool != nil {
		m.pool.Stop()
	}
}
