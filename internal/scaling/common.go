package scaling

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/cpuset"
)

const (
	DefaultSamplePeriod      time.Duration = 50 * time.Millisecond
	DefaultLoadThresholdUp   int           = 80
	DefaultLoadThresholdDown int           = 20
	DefaultVoteThresholdUp   int           = 3
	DefaultVoteThresholdDown int           = 10
	DefaultStaleTickFactor   int           = 5

	MinSamplePeriod time.Duration = time.Millisecond

	// delay before the first tick after the clusters were forced on
	settleDelay time.Duration = 10 * time.Millisecond
)

var (
	// ErrInvalidArgument is returned when a tunable write does not parse or is
	// out of range. The previous value is kept.
	ErrInvalidArgument  = errors.New("invalid argument")
	// ErrUnknownParameter is returned for reads and writes of unknown tunables.
	ErrUnknownParameter = errors.New("unknown parameter")
)

type ClusterPlugOpts struct {
	SamplePeriod      time.Duration
	LoadThresholdUp   int
	LoadThresholdDown int
	VoteThresholdUp   int
	VoteThresholdDown int
	// A gap between two ticks longer than StaleTickFactor sample periods
	// discards the accumulated votes.
	StaleTickFactor   int
}

func DefaultClusterPlugOpts() ClusterPlugOpts {
	return ClusterPlugOpts{
		SamplePeriod:      DefaultSamplePeriod,
		LoadThresholdUp:   DefaultLoadThresholdUp,
		LoadThresholdDown: DefaultLoadThresholdDown,
		VoteThresholdUp:   DefaultVoteThresholdUp,
		VoteThresholdDown: DefaultVoteThresholdDown,
		StaleTickFactor:   DefaultStaleTickFactor,
	}
}

// Validate only rejects values that cannot be applied at all. Up and down
// thresholds are deliberately not checked against each other.
func (o ClusterPlugOpts) Validate() error {
	if o.SamplePeriod < MinSamplePeriod {
		return fmt.Errorf("%w: sample period %s is below minimum limit %s", ErrInvalidArgument, o.SamplePeriod, MinSamplePeriod)
	}
	// the period is read back in whole milliseconds
	if o.SamplePeriod%time.Millisecond != 0 {
		return fmt.Errorf("%w: sample period %s is not a whole number of milliseconds", ErrInvalidArgument, o.SamplePeriod)
	}
	// a zero factor would treat every tick as stale
	if o.StaleTickFactor < 1 {
		return fmt.Errorf("%w: %s must be at least 1, got %d", ErrInvalidArgument, ParamStaleTickFactor, o.StaleTickFactor)
	}
	for name, val := range map[string]int{
		ParamLoadThresholdUp:   o.LoadThresholdUp,
		ParamLoadThresholdDown: o.LoadThresholdDown,
		ParamVoteThresholdUp:   o.VoteThresholdUp,
		ParamVoteThresholdDown: o.VoteThresholdDown,
	} {
		if val < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidArgument, name, val)
		}
	}

	return nil
}

type Cluster string

const (
	BigCluster    Cluster = "big"
	LittleCluster Cluster = "little"
)

// Topology is the fixed partition of CPUs into the big and little cluster.
type Topology struct {
	Big    cpuset.CPUSet
	Little cpuset.CPUSet
}

func NewTopology(big, little cpuset.CPUSet) (Topology, error) {
	if big.IsEmpty() {
		return Topology{}, fmt.Errorf("big cluster must contain at least one cpu")
	}
	if little.IsEmpty() {
		return Topology{}, fmt.Errorf("little cluster must contain at least one cpu")
	}
	if shared := big.Intersection(little); !shared.IsEmpty() {
		return Topology{}, fmt.Errorf("cpus %s belong to both clusters", shared.String())
	}

	return Topology{Big: big, Little: little}, nil
}

func (t Topology) All() cpuset.CPUSet {
	return t.Big.Union(t.Little)
}

func (t Topology) ClusterOf(cpu int) (Cluster, bool) {
	switch {
	case t.Big.Contains(cpu):
		return BigCluster, true
	case t.Little.Contains(cpu):
		return LittleCluster, true
	}

	return "", false
}

// Target is the desired on/off state of both clusters.
type Target struct {
	Big    bool
	Little bool
}

var (
	targetBoth       = Target{Big: true, Little: true}
	targetLittleOnly = Target{Big: false, Little: true}
)

func (t Target) wants(cluster Cluster) bool {
	if cluster == BigCluster {
		return t.Big
	}
	return t.Little
}

func (t Target) String() string {
	return fmt.Sprintf("big=%t little=%t", t.Big, t.Little)
}
