package monitoring

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/exp/constraints"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	ctrlMetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/AMDEPYC/cluster-plug/internal/hotplug"
	"github.com/AMDEPYC/cluster-plug/internal/scaling"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "power"

	LogTopName           string = "monitoring"
	clusterPlugSubsystem string = "clusterplug"

	logNameKey string = "name"
)

var errNotSampled = errors.New("cpu was not sampled in the last tick")

// StatusSource is the part of the cluster plug manager the collectors read.
type StatusSource interface {
	Status() scaling.Status
	Topology() scaling.Topology
}

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newPerCPUCollector is generic factory of prometheus Collectors for metrics that are CPU bound.
// topology lists the CPUs to report, labelled with the cluster they belong to.
// readFunc returns the value for a single CPU; an error skips that CPU for the current scrape.
// log is Logger that should have all Names, KeysValues and other... already attached.
// return prometheus Collector that is ready for registration
func newPerCPUCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	topology scaling.Topology, readFunc func(cpu int) (T, error), log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(
		metricName,
		metricDesc,
		[]string{"cpu", "cluster"},
		nil,
	)

	collectorFuncs := make([]func(ch chan<- prom.Metric), 0)
	for _, cpu := range topology.All().List() {
		cluster, _ := topology.ClusterOf(cpu)
		collectorFuncs = append(collectorFuncs, func(ch chan<- prom.Metric) {
			log.V(5).Info("Collecting metrics for prometheus", "cpu", cpu)
			if val, err := readFunc(cpu); err == nil {
				ch <- prom.MustNewConstMetric(
					desc,
					metricType,
					float64(val),
					strconv.Itoa(cpu),
					string(cluster),
				)
			} else {
				log.V(5).Info(fmt.Sprintf("error reading metric value, err: %v", err), "cpu", cpu)
			}
		})
	}
	log.V(4).Info("New perCPU prometheus Collector created")

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			for _, collectFunc := range collectorFuncs {
				collectFunc(ch)
			}
		},
	}
}

// newScalarCollector is generic factory of prometheus Collectors for metrics that have a single value.
func newScalarCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	readFunc func() T, log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(metricName, metricDesc, nil, nil)
	log.V(4).Info("New scalar prometheus Collector created")

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			log.V(5).Info("Collecting metrics for prometheus")
			ch <- prom.MustNewConstMetric(desc, metricType, float64(readFunc()))
		},
	}
}

func boolToGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewClusterPlugCollectors builds the collectors exposing the decision loop
// state and the online state of every managed cpu.
func NewClusterPlugCollectors(source StatusSource, host hotplug.Host, logger logr.Logger) []prom.Collector {
	logger = logger.WithName(clusterPlugSubsystem)
	topology := source.Topology()

	fqName := func(name string) string {
		return prom.BuildFQName(promNamespace, clusterPlugSubsystem, name)
	}
	scalar := func(name, help string, valueType prom.ValueType, readFunc func(scaling.Status) uint64) prom.Collector {
		return newScalarCollector(fqName(name), help, valueType,
			func() uint64 { return readFunc(source.Status()) },
			logger.WithValues(logNameKey, name),
		)
	}

	return []prom.Collector{
		newPerCPUCollector(
			fqName("cpu_load_percent"),
			"Gauge of CPU load measured in the last tick",
			prom.GaugeValue,
			topology,
			func(cpu int) (int, error) {
				load, ok := source.Status().LastSummary.Loads[cpu]
				if !ok {
					return 0, errNotSampled
				}
				return load, nil
			},
			logger.WithValues(logNameKey, "cpu_load_percent"),
		),
		newPerCPUCollector(
			fqName("cpu_online"),
			"Gauge set to 1 when the CPU is online",
			prom.GaugeValue,
			topology,
			func(cpu int) (int, error) {
				online, err := host.OnlineCPUs()
				if err != nil {
					return 0, err
				}
				return boolToGauge(online.Contains(cpu)), nil
			},
			logger.WithValues(logNameKey, "cpu_online"),
		),
		scalar("vote_up", "Gauge of accumulated votes for bringing the little cluster online", prom.GaugeValue,
			func(s scaling.Status) uint64 { return uint64(s.Engine.VoteUp) }),
		scalar("vote_down", "Gauge of accumulated votes for taking the little cluster offline", prom.GaugeValue,
			func(s scaling.Status) uint64 { return uint64(s.Engine.VoteDown) }),
		scalar("little_desired", "Gauge set to 1 when the little cluster is wanted online", prom.GaugeValue,
			func(s scaling.Status) uint64 { return uint64(boolToGauge(s.Engine.LittleDesired)) }),
		scalar("active", "Gauge set to 1 when the controller is active", prom.GaugeValue,
			func(s scaling.Status) uint64 { return uint64(boolToGauge(s.Active)) }),
		scalar("low_power", "Gauge set to 1 while the low power override holds", prom.GaugeValue,
			func(s scaling.Status) uint64 { return uint64(boolToGauge(s.LowPower)) }),
		scalar("suspended", "Gauge set to 1 while the system is suspended", prom.GaugeValue,
			func(s scaling.Status) uint64 { return uint64(boolToGauge(s.Suspended)) }),
		scalar("ticks_total", "Counter of decision loop ticks", prom.CounterValue,
			func(s scaling.Status) uint64 { return s.Counters.Ticks }),
		scalar("stale_resets_total", "Counter of vote resets caused by missed ticks", prom.CounterValue,
			func(s scaling.Status) uint64 { return s.Counters.StaleResets }),
		scalar("online_vetoes_total", "Counter of reconciliations in which bringing a CPU online was refused", prom.CounterValue,
			func(s scaling.Status) uint64 { return s.Counters.Vetoes }),
		scalar("offline_failures_total", "Counter of failed attempts to take a CPU offline", prom.CounterValue,
			func(s scaling.Status) uint64 { return s.Counters.OfflineFailures }),
	}
}

func RegisterClusterPlugCollectors(source StatusSource, host hotplug.Host, logger logr.Logger) {
	ctrlMetrics.Registry.MustRegister(NewClusterPlugCollectors(source, host, logger)...)
}
