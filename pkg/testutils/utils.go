package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/intel/power-optimization-library/pkg/power"
	"github.com/stretchr/testify/mock"
	"golang.org/x/sys/unix"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/cpuset"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/config"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/AMDEPYC/cluster-plug/internal/hotplug"
	"github.com/AMDEPYC/cluster-plug/internal/metrics"
)

type MockHost struct {
	mock.Mock
	power.Host
}

func (m *MockHost) GetName() string {
	return m.Called().String(0)
}

func (m *MockHost) GetAllCpus() *power.CpuList {
	ret := m.Called().Get(0)
	if ret == nil {
		return nil
	} else {
		return ret.(*power.CpuList)
	}
}

type MockCPU struct {
	mock.Mock
	power.Cpu
}

func (m *MockCPU) GetID() uint {
	return m.Called().Get(0).(uint)
}

func MakeCPUList(mockedCPUs ...*MockCPU) power.CpuList {
	cpuList := power.CpuList{}
	for _, mockedCPU := range mockedCPUs {
		cpuList = append(cpuList, mockedCPU)
	}

	return cpuList
}

// MakePowerHost returns a power host mock that reports the given cpu ids.
func MakePowerHost(ids ...uint) *MockHost {
	cpus := []*MockCPU{}
	for _, id := range ids {
		cpu := &MockCPU{}
		cpu.On("GetID").Return(id)
		cpus = append(cpus, cpu)
	}
	cpuList := MakeCPUList(cpus...)

	host := &MockHost{}
	host.On("GetAllCpus").Return(&cpuList)
	host.On("GetName").Return("test-node")
	return host
}

// MockHotplugHost is a testify mock of hotplug.Host.
type MockHotplugHost struct {
	mock.Mock
}

func (m *MockHotplugHost) OnlineCPUs() (cpuset.CPUSet, error) {
	args := m.Called()
	return args.Get(0).(cpuset.CPUSet), args.Error(1)
}

func (m *MockHotplugHost) PresentCPUs() (cpuset.CPUSet, error) {
	args := m.Called()
	return args.Get(0).(cpuset.CPUSet), args.Error(1)
}

func (m *MockHotplugHost) BringOnline(cpu int) error {
	return m.Called(cpu).Error(0)
}

func (m *MockHotplugHost) TakeOffline(cpu int) error {
	return m.Called(cpu).Error(0)
}

// FakeHotplugHost keeps the online state in memory. CPUs in Vetoed refuse to
// come online with a permission error and CPUs in Busy refuse to go offline.
type FakeHotplugHost struct {
	mu      sync.Mutex
	present cpuset.CPUSet
	online  cpuset.CPUSet
	Vetoed  cpuset.CPUSet
	Busy    cpuset.CPUSet
	Calls   []string
	// OnPlug is called with every online or offline request before it is
	// applied, while no lock is held.
	OnPlug func(cpu int, online bool)
}

func NewFakeHotplugHost(present, online cpuset.CPUSet) *FakeHotplugHost {
	return &FakeHotplugHost{
		present: present,
		online:  online,
	}
}

func (f *FakeHotplugHost) OnlineCPUs() (cpuset.CPUSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.online, nil
}

func (f *FakeHotplugHost) PresentCPUs() (cpuset.CPUSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.present, nil
}

func (f *FakeHotplugHost) BringOnline(cpu int) error {
	if f.OnPlug != nil {
		f.OnPlug(cpu, true)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, fmt.Sprintf("online %d", cpu))
	if f.Vetoed.Contains(cpu) {
		return fmt.Errorf("%w: %w", hotplug.ErrPermissionDenied, unix.EPERM)
	}
	f.online = f.online.Union(cpuset.New(cpu))
	return nil
}

func (f *FakeHotplugHost) TakeOffline(cpu int) error {
	if f.OnPlug != nil {
		f.OnPlug(cpu, false)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, fmt.Sprintf("offline %d", cpu))
	if f.Busy.Contains(cpu) {
		return unix.EBUSY
	}
	f.online = f.online.Difference(cpuset.New(cpu))
	return nil
}

// Online returns the current online set.
func (f *FakeHotplugHost) Online() cpuset.CPUSet {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.online
}

// ResetCalls returns the recorded requests and clears them.
func (f *FakeHotplugHost) ResetCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	calls := f.Calls
	f.Calls = nil
	return calls
}

// FakeCPUTimeReader returns counters set by the test. Every CPU not given an
// explicit value advances by 100 ticks with the configured load.
type FakeCPUTimeReader struct {
	mu    sync.Mutex
	times map[int]metrics.CPUTime
	loads map[int]int
	Err   error
}

func NewFakeCPUTimeReader() *FakeCPUTimeReader {
	return &FakeCPUTimeReader{
		times: map[int]metrics.CPUTime{},
		loads: map[int]int{},
	}
}

// SetLoad makes cpu report load percent busy time on every following read.
func (f *FakeCPUTimeReader) SetLoad(load int, cpus ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, cpu := range cpus {
		f.loads[cpu] = load
	}
}

func (f *FakeCPUTimeReader) CPUTimes() (map[int]metrics.CPUTime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	result := make(map[int]metrics.CPUTime, len(f.loads))
	for cpu, load := range f.loads {
		cur := f.times[cpu]
		cur.Total += 100
		cur.Idle += uint64(100 - load)
		f.times[cpu] = cur
		result[cpu] = cur
	}
	return result, nil
}

// mock required for testing client errs
type ErrClient struct {
	client.Client
	mock.Mock
}

func (e *ErrClient) Get(ctx context.Context, NamespacedName types.NamespacedName, obj client.Object, opts ...client.GetOption) error {
	if len(opts) != 0 {
		return e.Called(ctx, NamespacedName, obj, opts).Error(0)
	}
	return e.Called(ctx, NamespacedName, obj).Error(0)
}

func (e *ErrClient) Status() client.SubResourceWriter {
	return e.Called().Get(0).(client.SubResourceWriter)
}

type MockResourceWriter struct {
	mock.Mock
	client.SubResourceWriter
}

func (m *MockResourceWriter) Update(ctx context.Context, obj client.Object, opts ...client.SubResourceUpdateOption) error {
	if len(opts) != 0 {
		return m.Called(ctx, obj, opts).Error(0)
	}
	return m.Called(ctx, obj).Error(0)
}

// MgrMock covers the manager calls made while a controller is built
type MgrMock struct {
	mock.Mock
	manager.Manager
}

func (m *MgrMock) Add(r manager.Runnable) error {
	return m.Called(r).Error(0)
}

func (m *MgrMock) GetLogger() logr.Logger {
	return m.Called().Get(0).(logr.Logger)
}

func (m *MgrMock) GetControllerOptions() config.Controller {
	return m.Called().Get(0).(config.Controller)
}

func (m *MgrMock) GetScheme() *runtime.Scheme {
	return m.Called().Get(0).(*runtime.Scheme)
}

func (m *MgrMock) GetCache() cache.Cache {
	return m.Called().Get(0).(cache.Cache)
}
