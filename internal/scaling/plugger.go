package scaling

import (
	"errors"

	"github.com/go-logr/logr"
	"k8s.io/utils/cpuset"

	"github.com/AMDEPYC/cluster-plug/internal/hotplug"
)

// PlugResult describes what a single reconciliation did.
type PlugResult struct {
	Target Target

	// Vetoed is set when bringing a CPU online was refused; no CPU is taken
	// offline in that case.
	Vetoed          bool
	Onlined         []int
	Offlined        []int
	OnlineFailures  []int
	OfflineFailures []int
	// Missing lists topology CPUs the host does not report as present.
	Missing []int
	Err     error
}

type ClusterPlugger interface {
	Plug(target Target) PlugResult
}

type clusterPluggerImpl struct {
	host     hotplug.Host
	topology Topology
	logger   logr.Logger

	// last reported set of missing cpus, so a change is logged once
	missing cpuset.CPUSet
}

func NewClusterPlugger(host hotplug.Host, topology Topology, logger logr.Logger) ClusterPlugger {
	return &clusterPluggerImpl{
		host:     host,
		topology: topology,
		logger:   logger,
	}
}

// Plug brings the CPUs of every wanted cluster online first and only then
// takes the CPUs of unwanted clusters offline, so the replacement capacity is
// up before the outgoing one goes down.
func (p *clusterPluggerImpl) Plug(target Target) PlugResult {
	logger := p.logger.WithValues("target", target.String())
	result := PlugResult{Target: target}

	online, err := p.host.OnlineCPUs()
	if err != nil {
		logger.Error(err, "unable to list online cpus, not reconciling")
		result.Err = err
		return result
	}

	present, err := p.host.PresentCPUs()
	if err != nil {
		logger.Error(err, "unable to list present cpus, not reconciling")
		result.Err = err
		return result
	}
	candidates := p.topology.All().Intersection(present)
	missing := p.topology.All().Difference(present)
	if !missing.Equals(p.missing) {
		if missing.Size() > 0 {
			logger.Info("cpus of the topology are not present, skipping them", "cpus", missing.String())
		} else {
			logger.Info("every cpu of the topology is present")
		}
		p.missing = missing
	}
	if missing.Size() > 0 {
		result.Missing = missing.List()
	}

	wantedOnline := 0
	for _, cpu := range candidates.List() {
		cluster, _ := p.topology.ClusterOf(cpu)
		if !target.wants(cluster) {
			continue
		}
		if online.Contains(cpu) {
			wantedOnline++
			continue
		}

		if err := p.host.BringOnline(cpu); err != nil {
			if errors.Is(err, hotplug.ErrPermissionDenied) {
				// thermal or power management is interfering
				logger.Info("bringing cpu online was vetoed", "cpu", cpu, "cluster", cluster)
				result.Vetoed = true
			} else {
				logger.Error(err, "unable to bring cpu online", "cpu", cpu, "cluster", cluster)
			}
			result.OnlineFailures = append(result.OnlineFailures, cpu)
			continue
		}
		logger.V(4).Info("cpu brought online", "cpu", cpu, "cluster", cluster)
		result.Onlined = append(result.Onlined, cpu)
		wantedOnline++
	}

	if result.Vetoed {
		logger.Info("online pass was vetoed, keeping every cpu online this cycle")
		return result
	}
	if wantedOnline == 0 {
		logger.Info("no cpu of the target clusters is online, keeping every cpu online this cycle")
		return result
	}

	for _, cpu := range online.List() {
		cluster, managed := p.topology.ClusterOf(cpu)
		if !managed || target.wants(cluster) {
			continue
		}

		if err := p.host.TakeOffline(cpu); err != nil {
			logger.Error(err, "unable to take cpu offline", "cpu", cpu, "cluster", cluster)
			result.OfflineFailures = append(result.OfflineFailures, cpu)
			continue
		}
		logger.V(4).Info("cpu taken offline", "cpu", cpu, "cluster", cluster)
		result.Offlined = append(result.Offlined, cpu)
	}

	return result
}
