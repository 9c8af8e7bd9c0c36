package metrics

import (
	"github.com/go-logr/logr"
	"k8s.io/utils/cpuset"
)

// Func definitions for unit testing
var (
	newProcStatReaderFunc = NewProcStatReader
)

// LoadSummary is the result of a single sampling pass.
type LoadSummary struct {
	// Loaded is the number of CPUs with load above the up threshold.
	Loaded   int
	// Unloaded is the number of CPUs with load below the down threshold.
	Unloaded int
	// Sampled is the number of CPUs that produced a usable sample.
	Sampled  int
	// Skipped is the number of online CPUs excluded from this pass.
	Skipped  int
	// Loads holds the load percentage of every sampled CPU.
	Loads    map[int]int
}

// CPULoadSampler turns busy/idle counters into per-CPU load and counts the
// CPUs on either side of the load thresholds. It is not safe for concurrent
// use; the caller guarantees ticks never overlap.
type CPULoadSampler interface {
	Sample(online cpuset.CPUSet, thresholdUp, thresholdDown int) LoadSummary
	Reset()
}

type coreSample struct {
	prevTotal uint64
	prevIdle  uint64
}

type cpuLoadSamplerImpl struct {
	reader  CPUTimeReader
	samples map[int]coreSample
	log     logr.Logger
}

// NewCPULoadSampler creates a sampler on top of reader. When reader is nil
// the /proc/stat reader is used.
func NewCPULoadSampler(reader CPUTimeReader, log logr.Logger) CPULoadSampler {
	if reader == nil {
		reader = newProcStatReaderFunc()
	}

	return &cpuLoadSamplerImpl{
		reader:  reader,
		samples: make(map[int]coreSample),
		log:     log,
	}
}

// CalculateLoad returns the load percentage between two readings of the same
// CPU. The second return value is false when the sample has to be skipped:
// no wall time elapsed, or more idle than wall time was accounted, both of
// which happen around hotplug transitions and counter resets.
func CalculateLoad(prev, cur CPUTime) (int, bool) {
	wallDelta := cur.Total - prev.Total
	idleDelta := cur.Idle - prev.Idle

	if wallDelta == 0 || idleDelta > wallDelta {
		return 0, false
	}

	return int(float64(wallDelta-idleDelta) * percentFactor / float64(wallDelta)), true
}

func (s *cpuLoadSamplerImpl) Sample(online cpuset.CPUSet, thresholdUp, thresholdDown int) LoadSummary {
	summary := LoadSummary{Loads: make(map[int]int, online.Size())}

	times, err := s.reader.CPUTimes()
	if err != nil {
		s.log.Error(err, "unable to read cpu time counters, skipping sample")
		summary.Skipped = online.Size()
		return summary
	}

	for _, cpu := range online.List() {
		logger := s.log.WithValues(cpuLogKey, cpu)

		cur, ok := times[cpu]
		if !ok {
			logger.V(5).Info("skipping cpu", "err", ErrCPUTimeUnavailable)
			delete(s.samples, cpu)
			summary.Skipped++
			continue
		}

		prev, seen := s.samples[cpu]
		s.samples[cpu] = coreSample{prevTotal: cur.Total, prevIdle: cur.Idle}
		if !seen {
			// first tick after the cpu came online only establishes a baseline
			logger.V(5).Info("baseline recorded")
			summary.Skipped++
			continue
		}

		load, ok := CalculateLoad(CPUTime{Total: prev.prevTotal, Idle: prev.prevIdle}, cur)
		if !ok {
			logger.V(5).Info("discarding anomalous sample",
				wallLogKey, cur.Total-prev.prevTotal, idleLogKey, cur.Idle-prev.prevIdle)
			summary.Skipped++
			continue
		}

		summary.Sampled++
		summary.Loads[cpu] = load
		if load > thresholdUp {
			summary.Loaded++
		}
		if load < thresholdDown {
			summary.Unloaded++
		}
		logger.V(5).Info("sampled", loadLogKey, load)
	}

	// forget cpus that went offline so they get a fresh baseline when they return
	for cpu := range s.samples {
		if !online.Contains(cpu) {
			delete(s.samples, cpu)
		}
	}

	return summary
}

func (s *cpuLoadSamplerImpl) Reset() {
	s.samples = make(map[int]coreSample)
}
