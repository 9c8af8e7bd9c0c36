package metrics

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const procStatCPUPrefix string = "cpu"

// user nice system idle iowait irq softirq steal; guest time is already
// accounted in user and nice.
const (
	procStatTimeFields  int = 8
	procStatIdleField   int = 3
	procStatIOWaitField int = 4
)

var procStatPath = "/proc/stat"

// CPUTime holds the monotonically increasing counters of a single CPU, in
// USER_HZ ticks. Total is the wall time the CPU was accounted for and Idle
// the part of it spent idle (including iowait).
type CPUTime struct {
	Total uint64
	Idle  uint64
}

// CPUTimeReader reports per-CPU time counters for all online CPUs.
type CPUTimeReader interface {
	CPUTimes() (map[int]CPUTime, error)
}

type procStatReaderImpl struct {
	path string
}

func NewProcStatReader() CPUTimeReader {
	return &procStatReaderImpl{path: procStatPath}
}

func (p *procStatReaderImpl) CPUTimes() (map[int]CPUTime, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p.path, err)
	}
	defer file.Close()

	times, err := parseProcStat(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p.path, err)
	}

	return times, nil
}

// parseProcStat extracts the per-CPU lines ("cpuN ...") and skips the
// aggregate "cpu" line. Offline CPUs have no line at all.
func parseProcStat(r io.Reader) (map[int]CPUTime, error) {
	times := make(map[int]CPUTime)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || !strings.HasPrefix(fields[0], procStatCPUPrefix) {
			continue
		}
		idStr := strings.TrimPrefix(fields[0], procStatCPUPrefix)
		if idStr == "" {
			continue
		}
		cpu, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("malformed cpu label %q: %w", fields[0], err)
		}
		if len(fields)-1 < procStatTimeFields {
			return nil, fmt.Errorf("cpu %d has %d time fields, expected at least %d",
				cpu, len(fields)-1, procStatTimeFields)
		}

		var t CPUTime
		for i := 0; i < procStatTimeFields; i++ {
			val, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed time field %d for cpu %d: %w", i, cpu, err)
			}
			t.Total += val
			if i == procStatIdleField || i == procStatIOWaitField {
				t.Idle += val
			}
		}
		times[cpu] = t
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return times, nil
}
