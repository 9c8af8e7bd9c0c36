package scaling

import (
	"time"
)

// EngineState is the mutable state of the vote engine.
type EngineState struct {
	VoteUp        int
	VoteDown      int
	LittleDesired bool
	LastTick      time.Time
}

type decision struct {
	target      Target
	stale       bool
	crossedUp   bool
	crossedDown bool
}

// voteEngine decides whether the little cluster should be on. Two vote
// counters move independently: the up vote when all but one big CPU are
// loaded and the down vote when more than a little cluster's worth of CPUs
// are unloaded. The little cluster is switched on as soon as the up vote
// passes its threshold, and switched off only after the up vote fully drained
// and the down vote passed its own threshold.
type voteEngine struct {
	loadedCPUsUp     int
	unloadedCPUsDown int
	state            EngineState
}

func newVoteEngine(topology Topology) *voteEngine {
	return &voteEngine{
		loadedCPUsUp:     topology.Big.Size() - 1,
		unloadedCPUsDown: topology.Little.Size() + 1,
	}
}

// reset is used whenever both clusters were forced on from outside the vote
// loop, so the engine starts from "little desired" with no pending votes.
func (e *voteEngine) reset(now time.Time) {
	e.state = EngineState{
		LittleDesired: true,
		LastTick:      now,
	}
}

func (e *voteEngine) update(loaded, unloaded int, now time.Time, opts *ClusterPlugOpts) decision {
	d := decision{}
	staleAfter := time.Duration(opts.StaleTickFactor) * opts.SamplePeriod

	if now.Sub(e.state.LastTick) > staleAfter {
		// ticks were missed, the accumulated votes no longer describe recent load
		e.state.VoteUp = 0
		e.state.VoteDown = 0
		d.stale = true
	} else {
		// votes may go one past their threshold here so that the crossing
		// below can be detected; they are pinned back before returning
		if loaded >= e.loadedCPUsUp {
			e.state.VoteUp = min(e.state.VoteUp+1, opts.VoteThresholdUp+1)
		} else if e.state.VoteUp > 0 {
			e.state.VoteUp--
		}

		if unloaded >= e.unloadedCPUsDown {
			e.state.VoteDown = min(e.state.VoteDown+1, opts.VoteThresholdDown+1)
		} else if e.state.VoteDown > 0 {
			e.state.VoteDown--
		}

		if e.state.VoteUp > opts.VoteThresholdUp {
			e.state.LittleDesired = true
			e.state.VoteUp = opts.VoteThresholdUp
			e.state.VoteDown = 0
			d.crossedUp = true
		} else if e.state.VoteUp == 0 && e.state.VoteDown > opts.VoteThresholdDown {
			e.state.LittleDesired = false
			e.state.VoteDown = opts.VoteThresholdDown
			d.crossedDown = true
		}
	}

	// thresholds may have been lowered since the last tick, and a down vote
	// waiting for the up vote to drain must not grow past its threshold
	e.state.VoteUp = clampVote(e.state.VoteUp, opts.VoteThresholdUp)
	e.state.VoteDown = clampVote(e.state.VoteDown, opts.VoteThresholdDown)
	e.state.LastTick = now

	d.target = Target{Big: true, Little: e.state.LittleDesired}
	return d
}

func clampVote(vote, threshold int) int {
	return max(0, min(vote, threshold))
}
