package task

import (
	"sync"
	"time"

	"github.com/lufia/iostat"

	"github.com/NGIOproject/norns-go/internal/nlog"
)

// DriveSample is a single device's point-in-time counters, copied out of
// iostat.DriveStats so callers don't hold a reference into the sampler's
// internal slice.
type DriveSample struct {
	Name       string
	ReadBytes  int64
	WriteBytes int64
	ReadCount  int64
	WriteCount int64
}

// IOStatSampler periodically snapshots host block-device counters purely for
// diagnostics, read back through Snapshot; GlobalStats carries nothing from
// it. It must never feed the §4.8 ETA formula, which is derived solely
// from Backlog's per-task observed application-level bandwidth — device
// counters mix in unrelated host I/O and would make the estimate lie.
type IOStatSampler struct {
	interval time.Duration
	mu       sync.RWMutex
	latest   []DriveSample
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewIOStatSampler(interval time.Duration) *IOStatSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &IOStatSampler{interval: interval}
}

// Start launches the background polling loop; idempotent no-op if already running.
func (s *IOStatSampler) Start() {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

func (s *IOStatSampler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *IOStatSampler) poll() {
	drives, err := iostat.ReadDriveStats()
	if err != nil {
		nlog.Warningf("iostat: sample failed: %v", err)
		return
	}
	samples := make([]DriveSample, 0, len(drives))
	for _, d := range drives {
		samples = append(samples, DriveSample{
			Name:       d.Name,
			ReadBytes:  d.ReadBytes,
			WriteBytes: d.WriteBytes,
			ReadCount:  d.ReadCount,
			WriteCount: d.WriteCount,
		})
	}
	s.mu.Lock()
	s.latest = samples
	s.mu.Unlock()
}

// Snapshot returns a copy of the most recent sample set, or an empty slice
// before the first poll.
func (s *IOStatSampler) Snapshot() []DriveSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DriveSample, len(s.latest))
	copy(out, s.latest)
	return out
}

func (s *IOStatSampler) Stop() {
	s.mu.Lock()
	ch := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if ch == nil {
		return
	}
	close(ch)
	s.wg.Wait()
}
