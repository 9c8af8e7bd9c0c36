/*


Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/config"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/cpuset"
	"k8s.io/utils/ptr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	powerv1 "github.com/AMDEPYC/cluster-plug/api/v1"
	"github.com/AMDEPYC/cluster-plug/internal/scaling"
	"github.com/AMDEPYC/cluster-plug/pkg/testutils"
)

const (
	nodeName  string = "TestNode"
	namespace string = "power-manager"
)

type ClusterPlugMgrMock struct {
	scaling.ClusterPlugManager
	mock.Mock
}

func (m *ClusterPlugMgrMock) UpdateOpts(opts scaling.ClusterPlugOpts) error {
	return m.Called(opts).Error(0)
}

func (m *ClusterPlugMgrMock) Activate() {
	m.Called()
}

func (m *ClusterPlugMgrMock) Deactivate() {
	m.Called()
}

func (m *ClusterPlugMgrMock) EnterLowPower() {
	m.Called()
}

func (m *ClusterPlugMgrMock) ExitLowPower() {
	m.Called()
}

func (m *ClusterPlugMgrMock) Status() scaling.Status {
	return m.Called().Get(0).(scaling.Status)
}

func (m *ClusterPlugMgrMock) Topology() scaling.Topology {
	return m.Called().Get(0).(scaling.Topology)
}

// the builder only hands the cache to the watch source before start
type cacheMk struct {
	cache.Cache
}

func newClusterPlugMgrMock(t *testing.T, status scaling.Status) *ClusterPlugMgrMock {
	topology, err := scaling.NewTopology(cpuset.New(0, 1, 2, 3), cpuset.New(4, 5, 6, 7))
	require.NoError(t, err)

	mgrmk := new(ClusterPlugMgrMock)
	mgrmk.On("Topology").Return(topology)
	mgrmk.On("Status").Return(status)
	return mgrmk
}

func createClusterPlugConfigurationReconcilerObject(objs []client.Object) (*ClusterPlugConfigurationReconciler, error) {
	log.SetLogger(zap.New(
		zap.UseDevMode(true),
		func(opts *zap.Options) {
			opts.TimeEncoder = zapcore.ISO8601TimeEncoder
		},
	))
	// Register operator types with the runtime scheme.
	s := runtime.NewScheme()

	if err := powerv1.AddToScheme(s); err != nil {
		return nil, err
	}
	cl := fake.NewClientBuilder().WithObjects(objs...).WithStatusSubresource(objs...).WithScheme(s).Build()
	r := &ClusterPlugConfigurationReconciler{
		Client:   cl,
		Log:      ctrl.Log.WithName("testing"),
		Scheme:   s,
		Recorder: record.NewFakeRecorder(10),
	}

	return r, nil
}

func newConfig(spec powerv1.ClusterPlugConfigurationSpec) *powerv1.ClusterPlugConfiguration {
	return &powerv1.ClusterPlugConfiguration{
		ObjectMeta: metav1.ObjectMeta{
			Name:      nodeName,
			Namespace: namespace,
			UID:       "test",
		},
		Spec: spec,
	}
}

var testRequest = reconcile.Request{
	NamespacedName: client.ObjectKey{
		Name:      nodeName,
		Namespace: namespace,
	},
}

func TestClusterPlugConfiguration_Reconcile_InvalidRequests(t *testing.T) {
	t.Setenv("NODE_NAME", nodeName)
	r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{})
	assert.NoError(t, err)
	mgrmk := new(ClusterPlugMgrMock)
	r.ClusterPlugManager = mgrmk

	req := reconcile.Request{
		NamespacedName: client.ObjectKey{
			Name:      nodeName,
			Namespace: "wrong-ns",
		},
	}
	_, err = r.Reconcile(context.TODO(), req)
	assert.ErrorContains(t, err, "incorrect namespace")

	// configurations of other nodes are ignored
	req = reconcile.Request{
		NamespacedName: client.ObjectKey{
			Name:      "OtherNode",
			Namespace: namespace,
		},
	}
	_, err = r.Reconcile(context.TODO(), req)
	assert.NoError(t, err)
	mgrmk.AssertNotCalled(t, "Deactivate")
}

func TestClusterPlugConfiguration_Reconcile_Validation(t *testing.T) {
	tcases := []struct {
		testCase       string
		spec           powerv1.ClusterPlugConfigurationSpec
		powerLibrary   *testutils.MockHost
		expectedErrs   []string
		expectedReason string
	}{
		{
			testCase:     "Test Case 1 - Topology CPU not available on node",
			spec:         powerv1.ClusterPlugConfigurationSpec{Active: true},
			powerLibrary: testutils.MakePowerHost(0, 1, 2, 3, 4, 5),
			expectedErrs: []string{
				"cpu with id 6 is not available on node test-node",
				"cpu with id 7 is not available on node test-node",
			},
			expectedReason: "InvalidTopology",
		},
		{
			testCase: "Test Case 2 - Sample Period is too low",
			spec: powerv1.ClusterPlugConfigurationSpec{
				SamplePeriod: &metav1.Duration{Duration: 100 * time.Microsecond},
			},
			expectedErrs:   []string{"sample period 100µs is below minimum limit 1ms"},
			expectedReason: "InvalidTunables",
		},
		{
			testCase: "Test Case 3 - Sample Period is too high",
			spec: powerv1.ClusterPlugConfigurationSpec{
				SamplePeriod: &metav1.Duration{Duration: 2 * time.Second},
			},
			expectedErrs:   []string{"sample period 2s is above maximum limit 1s"},
			expectedReason: "InvalidTunables",
		},
		{
			testCase: "Test Case 4 - Several invalid tunables",
			spec: powerv1.ClusterPlugConfigurationSpec{
				LoadThresholdUp:   ptr.To(101),
				VoteThresholdDown: ptr.To(-2),
			},
			expectedErrs: []string{
				"load threshold up 101 is above maximum limit 100",
				"vote threshold down -2 must not be negative",
			},
			expectedReason: "InvalidTunables",
		},
		{
			testCase: "Test Case 5 - Sample Period is not whole milliseconds",
			spec: powerv1.ClusterPlugConfigurationSpec{
				SamplePeriod: &metav1.Duration{Duration: 1500 * time.Microsecond},
			},
			expectedErrs:   []string{"sample period 1.5ms is not a whole number of milliseconds"},
			expectedReason: "InvalidTunables",
		},
		{
			testCase: "Test Case 6 - Stale tick factor of zero",
			spec: powerv1.ClusterPlugConfigurationSpec{
				StaleTickFactor: ptr.To(0),
			},
			expectedErrs:   []string{"stale tick factor 0 is below minimum limit 1"},
			expectedReason: "InvalidTunables",
		},
	}

	for _, tc := range tcases {
		t.Log(tc.testCase)
		t.Setenv("NODE_NAME", nodeName)
		config := newConfig(tc.spec)

		r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{config})
		assert.NoError(t, err)
		mgrmk := newClusterPlugMgrMock(t, scaling.Status{})
		r.ClusterPlugManager = mgrmk
		if tc.powerLibrary != nil {
			r.PowerLibrary = tc.powerLibrary
		}

		_, err = r.Reconcile(context.TODO(), testRequest)
		assert.NoError(t, err)

		err = r.Client.Get(context.TODO(), testRequest.NamespacedName, config)
		assert.NoError(t, err)
		assert.Equal(t, tc.expectedErrs, config.Status.Errors)
		mgrmk.AssertNotCalled(t, "UpdateOpts", mock.Anything)
		mgrmk.AssertNotCalled(t, "Activate")

		events := r.Recorder.(*record.FakeRecorder).Events
		require.Len(t, events, 1)
		assert.Contains(t, <-events, "Warning "+tc.expectedReason+" ")
	}
}

func TestClusterPlugConfiguration_Reconcile_Success(t *testing.T) {
	t.Setenv("NODE_NAME", nodeName)

	config := newConfig(powerv1.ClusterPlugConfigurationSpec{
		Active:            true,
		LowPower:          true,
		SamplePeriod:      &metav1.Duration{Duration: 20 * time.Millisecond},
		LoadThresholdUp:   ptr.To(90),
		VoteThresholdDown: ptr.To(0),
	})
	config.Status.Errors = []string{"stale error"}

	expectedOpts := scaling.DefaultClusterPlugOpts()
	expectedOpts.SamplePeriod = 20 * time.Millisecond
	expectedOpts.LoadThresholdUp = 90
	expectedOpts.VoteThresholdDown = 0

	mgrmk := newClusterPlugMgrMock(t, scaling.Status{
		Active:   true,
		LowPower: true,
		Engine:   scaling.EngineState{LittleDesired: true},
	})
	var calls []string
	for _, method := range []string{"EnterLowPower", "Activate"} {
		mgrmk.On(method).Run(func(mock.Arguments) { calls = append(calls, method) }).Return()
	}
	mgrmk.On("UpdateOpts", expectedOpts).Return(nil)

	r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{config})
	assert.NoError(t, err)
	r.ClusterPlugManager = mgrmk
	r.PowerLibrary = testutils.MakePowerHost(0, 1, 2, 3, 4, 5, 6, 7)
	r.Host = testutils.NewFakeHotplugHost(cpuset.New(0, 1, 2, 3, 4, 5, 6, 7), cpuset.New(4, 5, 6, 7))

	_, err = r.Reconcile(context.TODO(), testRequest)
	assert.NoError(t, err)
	mgrmk.AssertCalled(t, "UpdateOpts", expectedOpts)
	assert.Equal(t, []string{"EnterLowPower", "Activate"}, calls)
	mgrmk.AssertNotCalled(t, "Deactivate")
	mgrmk.AssertNotCalled(t, "ExitLowPower")

	err = r.Client.Get(context.TODO(), testRequest.NamespacedName, config)
	assert.NoError(t, err)
	assert.Empty(t, config.Status.Errors)
	assert.Equal(t, powerv1.ClusterPlugConfigurationStatus{
		Active:        true,
		LowPower:      true,
		LittleDesired: true,
		OnlineCPUs:    "4-7",
	}, config.Status)
}

func TestClusterPlugConfiguration_Reconcile_BaseOpts(t *testing.T) {
	t.Setenv("NODE_NAME", nodeName)

	base := scaling.DefaultClusterPlugOpts()
	base.VoteThresholdUp = 1
	base.StaleTickFactor = 20
	expectedOpts := base
	expectedOpts.StaleTickFactor = 7

	mgrmk := newClusterPlugMgrMock(t, scaling.Status{})
	mgrmk.On("UpdateOpts", expectedOpts).Return(nil)
	mgrmk.On("ExitLowPower").Return()
	mgrmk.On("Deactivate").Return()

	config := newConfig(powerv1.ClusterPlugConfigurationSpec{StaleTickFactor: ptr.To(7)})
	r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{config})
	assert.NoError(t, err)
	r.ClusterPlugManager = mgrmk
	r.BaseOpts = base

	_, err = r.Reconcile(context.TODO(), testRequest)
	assert.NoError(t, err)
	mgrmk.AssertCalled(t, "UpdateOpts", expectedOpts)
	mgrmk.AssertCalled(t, "ExitLowPower")
	mgrmk.AssertCalled(t, "Deactivate")
}

func TestClusterPlugConfiguration_Reconcile_UpdateOptsError(t *testing.T) {
	t.Setenv("NODE_NAME", nodeName)

	mgrmk := newClusterPlugMgrMock(t, scaling.Status{})
	mgrmk.On("UpdateOpts", mock.Anything).Return(scaling.ErrInvalidArgument)

	config := newConfig(powerv1.ClusterPlugConfigurationSpec{Active: true})
	r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{config})
	assert.NoError(t, err)
	r.ClusterPlugManager = mgrmk

	_, err = r.Reconcile(context.TODO(), testRequest)
	assert.NoError(t, err)
	mgrmk.AssertNotCalled(t, "Activate")

	err = r.Client.Get(context.TODO(), testRequest.NamespacedName, config)
	assert.NoError(t, err)
	assert.Equal(t, []string{"invalid argument"}, config.Status.Errors)
}

func TestClusterPlugConfiguration_Reconcile_NotFound(t *testing.T) {
	t.Setenv("NODE_NAME", nodeName)

	mgrmk := newClusterPlugMgrMock(t, scaling.Status{})
	mgrmk.On("Deactivate").Return()

	r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{})
	assert.NoError(t, err)
	r.ClusterPlugManager = mgrmk

	_, err = r.Reconcile(context.TODO(), testRequest)
	assert.NoError(t, err)
	mgrmk.AssertCalled(t, "Deactivate")
}

func TestClusterPlugConfiguration_Reconcile_ClientErrs(t *testing.T) {
	t.Setenv("NODE_NAME", nodeName)

	mgrmk := newClusterPlugMgrMock(t, scaling.Status{})
	r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{})
	assert.NoError(t, err)
	r.ClusterPlugManager = mgrmk

	clientmk := new(testutils.ErrClient)
	clientmk.On("Get", mock.Anything, mock.AnythingOfType("types.NamespacedName"), mock.AnythingOfType("*v1.ClusterPlugConfiguration")).
		Return(errors.New("client get error"))
	clientmk.On("Status").Return(new(testutils.MockResourceWriter))
	r.Client = clientmk

	_, err = r.Reconcile(context.TODO(), testRequest)
	assert.ErrorContains(t, err, "client get error")
	mgrmk.AssertNotCalled(t, "Deactivate")
}

func TestWriteUpdatedStatusIfRequired(t *testing.T) {
	config := newConfig(powerv1.ClusterPlugConfigurationSpec{})
	writer := new(testutils.MockResourceWriter)
	writer.On("Update", mock.Anything, mock.Anything).Return(nil)

	// nothing to write
	assert.NoError(t, writeUpdatedStatusIfRequired(context.TODO(), writer, config, nil, false))
	writer.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)

	// observed state changed
	assert.NoError(t, writeUpdatedStatusIfRequired(context.TODO(), writer, config, nil, true))
	writer.AssertNumberOfCalls(t, "Update", 1)

	assert.NoError(t, writeUpdatedStatusIfRequired(context.TODO(), writer, config, errors.New("boom"), false))
	writer.AssertNumberOfCalls(t, "Update", 2)
	assert.Equal(t, []string{"boom"}, config.Status.Errors)

	// objects without uid are never written
	config.UID = types.UID("")
	assert.NoError(t, writeUpdatedStatusIfRequired(context.TODO(), writer, config, errors.New("other"), true))
	writer.AssertNumberOfCalls(t, "Update", 2)
}

func TestClusterPlugConfiguration_SetupWithManager(t *testing.T) {
	r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{})
	assert.NoError(t, err)

	mgr := new(testutils.MgrMock)
	mgr.On("GetControllerOptions").Return(config.Controller{})
	mgr.On("GetScheme").Return(r.Scheme)
	mgr.On("GetLogger").Return(r.Log)
	mgr.On("GetCache").Return(new(cacheMk))
	mgr.On("Add", mock.Anything).Return(nil)

	err = r.SetupWithManager(mgr)
	assert.NoError(t, err)
	mgr.AssertCalled(t, "Add", mock.Anything)
	mgr.AssertCalled(t, "GetCache")
}

func TestClusterPlugConfiguration_SetupWithManager_Fail(t *testing.T) {
	r, err := createClusterPlugConfigurationReconcilerObject([]client.Object{})
	assert.NoError(t, err)

	mgr := new(testutils.MgrMock)
	mgr.On("GetControllerOptions").Return(config.Controller{})
	mgr.On("GetScheme").Return(r.Scheme)
	mgr.On("GetLogger").Return(r.Log)
	mgr.On("GetCache").Return(new(cacheMk))
	mgr.On("Add", mock.Anything).Return(errors.New("setup fail"))

	err = r.SetupWithManager(mgr)
	assert.ErrorContains(t, err, "setup fail")
	mgr.AssertNotCalled(t, "GetCache")
}
