package hotplug

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"
)

const (
	cpuBasePath     = "/sys/devices/system/cpu"
	onlineResource  = "online"
	presentResource = "present"
	onlineValue     = "1"
	offlineValue    = "0"
)

// ErrPermissionDenied is returned when the kernel refuses to bring a CPU
// online, typically because thermal or power management code vetoed it.
var ErrPermissionDenied = errors.New("cpu hotplug not permitted")

// Host is the hotplug facility of the node: it lists CPUs and changes their
// online state one at a time.
type Host interface {
	OnlineCPUs() (cpuset.CPUSet, error)
	PresentCPUs() (cpuset.CPUSet, error)
	BringOnline(cpu int) error
	TakeOffline(cpu int) error
}

func getCPUListPath(resource string) string {
	return filepath.Join(cpuBasePath, resource)
}

func getCPUOnlinePath(cpu int) string {
	return filepath.Join(cpuBasePath, fmt.Sprintf("cpu%d", cpu), onlineResource)
}

var (
	getCPUListPathFunction   = getCPUListPath
	getCPUOnlinePathFunction = getCPUOnlinePath
	writeFileFunction        = os.WriteFile
)

type sysfsHostImpl struct{}

// NewSysfsHost returns a Host backed by /sys/devices/system/cpu.
func NewSysfsHost() Host {
	return &sysfsHostImpl{}
}

func (h *sysfsHostImpl) OnlineCPUs() (cpuset.CPUSet, error) {
	return readCPUList(onlineResource)
}

func (h *sysfsHostImpl) PresentCPUs() (cpuset.CPUSet, error) {
	return readCPUList(presentResource)
}

func (h *sysfsHostImpl) BringOnline(cpu int) error {
	if err := writeCPUOnline(cpu, onlineValue); err != nil {
		if errors.Is(err, unix.EPERM) {
			return fmt.Errorf("failed to bring cpu %d online: %w: %w", cpu, ErrPermissionDenied, err)
		}
		return fmt.Errorf("failed to bring cpu %d online: %w", cpu, err)
	}

	return nil
}

func (h *sysfsHostImpl) TakeOffline(cpu int) error {
	if err := writeCPUOnline(cpu, offlineValue); err != nil {
		return fmt.Errorf("failed to take cpu %d offline: %w", cpu, err)
	}

	return nil
}

func readCPUList(resource string) (cpuset.CPUSet, error) {
	path := getCPUListPathFunction(resource)

	data, err := os.ReadFile(path)
	if err != nil {
		return cpuset.New(), fmt.Errorf("failed to read %s cpu list: %w", resource, err)
	}

	cpus, err := cpuset.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return cpuset.New(), fmt.Errorf("failed to parse %s cpu list %q: %w", resource, string(data), err)
	}

	return cpus, nil
}

func writeCPUOnline(cpu int, value string) error {
	return writeFileFunction(getCPUOnlinePathFunction(cpu), []byte(value), 0644)
}
