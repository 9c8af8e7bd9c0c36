package scaling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Names of the runtime tunables.
const (
	ParamSamplingMs        = "sampling_ms"
	ParamLoadThresholdUp   = "load_threshold_up"
	ParamLoadThresholdDown = "load_threshold_down"
	ParamVoteThresholdUp   = "vote_threshold_up"
	ParamVoteThresholdDown = "vote_threshold_down"
	ParamStaleTickFactor   = "stale_tick_factor"
	ParamActive            = "active"
	ParamLowPower          = "low_power"
)

var paramNames = []string{
	ParamSamplingMs,
	ParamLoadThresholdUp,
	ParamLoadThresholdDown,
	ParamVoteThresholdUp,
	ParamVoteThresholdDown,
	ParamStaleTickFactor,
	ParamActive,
	ParamLowPower,
}

func (m *clusterPlugManagerImpl) ParamNames() []string {
	names := make([]string, len(paramNames))
	copy(names, paramNames)
	return names
}

func (m *clusterPlugManagerImpl) GetParam(name string) (string, error) {
	opts := m.Opts()

	switch name {
	case ParamSamplingMs:
		return strconv.FormatInt(opts.SamplePeriod.Milliseconds(), 10), nil
	case ParamLoadThresholdUp:
		return strconv.Itoa(opts.LoadThresholdUp), nil
	case ParamLoadThresholdDown:
		return strconv.Itoa(opts.LoadThresholdDown), nil
	case ParamVoteThresholdUp:
		return strconv.Itoa(opts.VoteThresholdUp), nil
	case ParamVoteThresholdDown:
		return strconv.Itoa(opts.VoteThresholdDown), nil
	case ParamStaleTickFactor:
		return strconv.Itoa(opts.StaleTickFactor), nil
	case ParamActive:
		return formatFlag(m.IsActive()), nil
	case ParamLowPower:
		return formatFlag(m.IsLowPower()), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownParameter, name)
}

// SetParam parses value and applies it. Numeric tunables take effect from the
// next tick; the flags go through the same path as Activate and friends.
func (m *clusterPlugManagerImpl) SetParam(name, value string) error {
	switch name {
	case ParamActive, ParamLowPower:
		on, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidArgument, name, err)
		}
		m.setFlag(name, on)
		return nil
	}

	n, err := parseUint(value)
	if err != nil {
		if !isParam(name) {
			return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
		}
		return fmt.Errorf("%w: %s: %w", ErrInvalidArgument, name, err)
	}

	m.optsMu.Lock()
	defer m.optsMu.Unlock()

	opts := *m.opts.Load()
	switch name {
	case ParamSamplingMs:
		opts.SamplePeriod = time.Duration(n) * time.Millisecond
	case ParamLoadThresholdUp:
		opts.LoadThresholdUp = n
	case ParamLoadThresholdDown:
		opts.LoadThresholdDown = n
	case ParamVoteThresholdUp:
		opts.VoteThresholdUp = n
	case ParamVoteThresholdDown:
		opts.VoteThresholdDown = n
	case ParamStaleTickFactor:
		opts.StaleTickFactor = n
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	m.opts.Store(&opts)
	m.logger.V(4).Info("tunable updated", "param", name, "value", n)
	return nil
}

func (m *clusterPlugManagerImpl) setFlag(name string, on bool) {
	switch {
	case name == ParamActive && on:
		m.Activate()
	case name == ParamActive:
		m.Deactivate()
	case on:
		m.EnterLowPower()
	default:
		m.ExitLowPower()
	}
}

func parseUint(value string) (int, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 31)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func isParam(name string) bool {
	for _, p := range paramNames {
		if p == name {
			return true
		}
	}
	return false
}

func formatFlag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
