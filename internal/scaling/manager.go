package scaling

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/AMDEPYC/cluster-plug/internal/hotplug"
	"github.com/AMDEPYC/cluster-plug/internal/metrics"
)

// Func definitions for unit testing
var (
	newCPULoadSamplerFunc = metrics.NewCPULoadSampler
	newClusterPluggerFunc = NewClusterPlugger
)

// ClusterPlugManager drives the sample -> decide -> plug loop and exposes the
// mode changes that race with it. All mode changes serialize against the
// loop: a pending tick is cancelled, a running one is waited for, then the
// new mode is applied and the loop is either re-armed or left suppressed.
type ClusterPlugManager interface {
	manager.Runnable

	UpdateOpts(opts ClusterPlugOpts) error
	Opts() ClusterPlugOpts

	Activate()
	Deactivate()
	IsActive() bool

	EnterLowPower()
	ExitLowPower()
	IsLowPower() bool

	Suspend()
	Resume()

	ParamNames() []string
	GetParam(name string) (string, error)
	SetParam(name, value string) error

	Status() Status
	Topology() Topology
}

// Status is a point in time copy of the manager state.
type Status struct {
	Active      bool
	LowPower    bool
	Suspended   bool
	Engine      EngineState
	LastSummary metrics.LoadSummary
	LastPlug    PlugResult
	Counters    Counters
}

type Counters struct {
	Ticks           uint64
	StaleResets     uint64
	Vetoes          uint64
	OfflineFailures uint64
}

type clusterPlugManagerImpl struct {
	host     hotplug.Host
	topology Topology
	sampler  metrics.CPULoadSampler
	engine   *voteEngine
	plugger  ClusterPlugger
	clock    clock.WithDelayedExecution
	work     *delayedWork
	logger   logr.Logger

	opts   atomic.Pointer[ClusterPlugOpts]
	optsMu sync.Mutex

	// serializes mode changes, never taken by the loop
	opMu sync.Mutex

	// guards everything below, held by the loop for a whole tick
	mu          sync.Mutex
	active      bool
	lowPower    bool
	suspended   bool
	lastSummary metrics.LoadSummary
	lastPlug    PlugResult
	counters    Counters
}

type Option func(*clusterPlugManagerImpl)

// WithClock replaces the clock used for scheduling and staleness detection.
func WithClock(clk clock.WithDelayedExecution) Option {
	return func(m *clusterPlugManagerImpl) { m.clock = clk }
}

// WithCPUTimeReader replaces the /proc/stat based counter source.
func WithCPUTimeReader(reader metrics.CPUTimeReader) Option {
	return func(m *clusterPlugManagerImpl) {
		m.sampler = newCPULoadSamplerFunc(reader, m.logger.WithName("sampler"))
	}
}

func NewClusterPlugManager(host hotplug.Host, topology Topology, opts ClusterPlugOpts, options ...Option) (ClusterPlugManager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	nodeName := os.Getenv("NODE_NAME")

	mgr := &clusterPlugManagerImpl{
		host:     host,
		topology: topology,
		engine:   newVoteEngine(topology),
		clock:    clock.RealClock{},
		logger:   ctrl.Log.WithName("ClusterPlugManager").WithName(nodeName),
	}
	mgr.opts.Store(&opts)
	for _, option := range options {
		option(mgr)
	}
	if mgr.sampler == nil {
		mgr.sampler = newCPULoadSamplerFunc(nil, mgr.logger.WithName("sampler"))
	}
	mgr.plugger = newClusterPluggerFunc(host, topology, mgr.logger.WithName("plugger"))
	mgr.work = newDelayedWork(mgr.clock, mgr.tick)
	mgr.engine.reset(mgr.clock.Now())

	mgr.logger.V(4).Info("New ClusterPlugManager created",
		"big", topology.Big.String(), "little", topology.Little.String())

	return mgr, nil
}

func (m *clusterPlugManagerImpl) Start(ctx context.Context) error {
	m.logger.Info("cluster plug manager started", "active", m.IsActive(), "lowPower", m.IsLowPower())
	<-ctx.Done()
	m.stop()
	return nil
}

func (m *clusterPlugManagerImpl) stop() {
	m.logger.V(5).Info("stopping the sampling loop")

	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.work.cancel()
	m.work.flush()

	m.logger.V(5).Info("sampling loop stopped")
}

func (m *clusterPlugManagerImpl) UpdateOpts(opts ClusterPlugOpts) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	m.optsMu.Lock()
	defer m.optsMu.Unlock()

	m.opts.Store(&opts)
	m.logger.V(4).Info("options updated", "opts", fmt.Sprintf("%+v", opts))
	return nil
}

func (m *clusterPlugManagerImpl) Opts() ClusterPlugOpts {
	return *m.opts.Load()
}

func (m *clusterPlugManagerImpl) Topology() Topology {
	return m.topology
}

// tick is a single pass of the loop, run by delayedWork.
func (m *clusterPlugManagerImpl) tick() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	opts := m.opts.Load()
	if !m.active || m.suspended {
		return 0, false
	}
	m.counters.Ticks++

	online, err := m.host.OnlineCPUs()
	if err != nil {
		m.logger.Error(err, "unable to list online cpus, skipping tick")
		return opts.SamplePeriod, true
	}
	m.lastSummary = m.sampler.Sample(online.Intersection(m.topology.All()),
		opts.LoadThresholdUp, opts.LoadThresholdDown)

	target := targetLittleOnly
	if !m.lowPower {
		d := m.engine.update(m.lastSummary.Loaded, m.lastSummary.Unloaded, m.clock.Now(), opts)
		if d.stale {
			m.counters.StaleResets++
			m.logger.V(4).Info("ticks were missed, votes discarded")
		}
		if d.crossedUp || d.crossedDown {
			m.logger.V(4).Info("vote threshold crossed", "littleDesired", m.engine.state.LittleDesired)
		}
		target = d.target
	}
	m.logger.V(5).Info("tick",
		"loaded", m.lastSummary.Loaded, "unloaded", m.lastSummary.Unloaded,
		"voteUp", m.engine.state.VoteUp, "voteDown", m.engine.state.VoteDown, "target", target.String())

	m.plugLocked(target)

	return opts.SamplePeriod, true
}

func (m *clusterPlugManagerImpl) plugLocked(target Target) {
	m.lastPlug = m.plugger.Plug(target)
	if m.lastPlug.Vetoed {
		m.counters.Vetoes++
	}
	m.counters.OfflineFailures += uint64(len(m.lastPlug.OfflineFailures))
}

// forcedTargetLocked is what the clusters are forced to outside the vote loop.
func (m *clusterPlugManagerImpl) forcedTargetLocked() Target {
	if m.lowPower || m.suspended {
		return targetLittleOnly
	}
	return targetBoth
}

func (m *clusterPlugManagerImpl) resetLocked(now time.Time) {
	m.engine.reset(now)
	m.sampler.Reset()
}

// transition cancels the pending tick, waits for a running one and applies
// fn with the state lock held. fn returns the delay of the next tick, or
// false to leave the loop suppressed.
func (m *clusterPlugManagerImpl) transition(fn func(now time.Time) (time.Duration, bool)) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.work.cancel()
	m.work.flush()

	m.mu.Lock()
	delay, rearm := fn(m.clock.Now())
	m.mu.Unlock()

	if rearm {
		m.work.queue(delay)
	}
}

func (m *clusterPlugManagerImpl) Activate() {
	m.transition(func(now time.Time) (time.Duration, bool) {
		if m.active {
			return m.opts.Load().SamplePeriod, !m.suspended
		}
		m.active = true
		m.logger.Info("activated")
		if m.suspended {
			return 0, false
		}
		m.resetLocked(now)
		m.plugLocked(m.forcedTargetLocked())
		return settleDelay, true
	})
}

func (m *clusterPlugManagerImpl) Deactivate() {
	m.transition(func(time.Time) (time.Duration, bool) {
		if m.active {
			m.logger.Info("deactivated")
		}
		m.active = false
		return 0, false
	})
}

func (m *clusterPlugManagerImpl) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active
}

func (m *clusterPlugManagerImpl) EnterLowPower() {
	m.transition(func(time.Time) (time.Duration, bool) {
		if !m.lowPower {
			m.logger.Info("entering low power override")
		}
		m.lowPower = true
		if !m.active || m.suspended {
			return 0, false
		}
		m.plugLocked(targetLittleOnly)
		return m.opts.Load().SamplePeriod, true
	})
}

func (m *clusterPlugManagerImpl) ExitLowPower() {
	m.transition(func(now time.Time) (time.Duration, bool) {
		wasLowPower := m.lowPower
		m.lowPower = false
		if !m.active || m.suspended {
			return 0, false
		}
		if wasLowPower {
			m.logger.Info("leaving low power override")
			m.resetLocked(now)
			m.plugLocked(targetBoth)
		}
		return m.opts.Load().SamplePeriod, true
	})
}

func (m *clusterPlugManagerImpl) IsLowPower() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lowPower
}

// Suspend prefers the little cluster while the system sleeps. The loop stays
// suppressed until Resume.
func (m *clusterPlugManagerImpl) Suspend() {
	m.transition(func(time.Time) (time.Duration, bool) {
		m.suspended = true
		m.logger.Info("suspended")
		if m.active {
			m.plugLocked(targetLittleOnly)
		}
		return 0, false
	})
}

func (m *clusterPlugManagerImpl) Resume() {
	m.transition(func(now time.Time) (time.Duration, bool) {
		m.suspended = false
		m.logger.Info("resumed")
		m.resetLocked(now)
		if !m.active {
			return 0, false
		}
		m.plugLocked(m.forcedTargetLocked())
		return settleDelay, true
	})
}

func (m *clusterPlugManagerImpl) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := m.lastSummary
	summary.Loads = make(map[int]int, len(m.lastSummary.Loads))
	for cpu, load := range m.lastSummary.Loads {
		summary.Loads[cpu] = load
	}

	return Status{
		Active:      m.active,
		LowPower:    m.lowPower,
		Suspended:   m.suspended,
		Engine:      m.engine.state,
		LastSummary: summary,
		LastPlug:    m.lastPlug,
		Counters:    m.counters,
	}
}
