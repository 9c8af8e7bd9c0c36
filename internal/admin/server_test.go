package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"k8s.io/utils/cpuset"
	testclock "k8s.io/utils/clock/testing"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/AMDEPYC/cluster-plug/internal/scaling"
	"github.com/AMDEPYC/cluster-plug/pkg/testutils"
)

type controllerMock struct {
	mock.Mock
}

func (c *controllerMock) ParamNames() []string {
	return c.Called().Get(0).([]string)
}

func (c *controllerMock) GetParam(name string) (string, error) {
	args := c.Called(name)
	return args.String(0), args.Error(1)
}

func (c *controllerMock) SetParam(name, value string) error {
	return c.Called(name, value).Error(0)
}

func (c *controllerMock) Status() scaling.Status {
	return c.Called().Get(0).(scaling.Status)
}

func (c *controllerMock) Suspend() {
	c.Called()
}

func (c *controllerMock) Resume() {
	c.Called()
}

func setupTestLogger() {
	log.SetLogger(zap.New(zap.UseDevMode(true), func(opts *zap.Options) {
		opts.TimeEncoder = zapcore.ISO8601TimeEncoder
	}))
}

type serverFixture struct {
	mgr  scaling.ClusterPlugManager
	host *testutils.FakeHotplugHost
	srv  *httptest.Server
}

func newServerFixture(t *testing.T, opts ...ServerOption) *serverFixture {
	setupTestLogger()

	topology, err := scaling.NewTopology(cpuset.New(0, 1), cpuset.New(2, 3))
	require.NoError(t, err)
	host := testutils.NewFakeHotplugHost(cpuset.New(0, 1, 2, 3), cpuset.New(0, 1, 2, 3))
	reader := testutils.NewFakeCPUTimeReader()
	reader.SetLoad(50, 0, 1, 2, 3)

	mgr, err := scaling.NewClusterPlugManager(host, topology, scaling.DefaultClusterPlugOpts(),
		scaling.WithClock(testclock.NewFakeClock(time.Now())),
		scaling.WithCPUTimeReader(reader),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(mgr, ctrl.Log.WithName("testing"), opts...).Handler())
	t.Cleanup(func() {
		srv.Close()
		mgr.Deactivate()
	})

	return &serverFixture{mgr: mgr, host: host, srv: srv}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *http.Response {
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_ListParams(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodGet, "/params", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, map[string]string{
		"sampling_ms":         "50",
		"load_threshold_up":   "80",
		"load_threshold_down": "20",
		"vote_threshold_up":   "3",
		"vote_threshold_down": "10",
		"stale_tick_factor":   "5",
		"active":              "0",
		"low_power":           "0",
	}, decode[map[string]string](t, resp))
}

func TestServer_GetParam(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodGet, "/params/load_threshold_up", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, paramResponse{Name: "load_threshold_up", Value: "80"}, decode[paramResponse](t, resp))

	resp = f.do(t, http.MethodGet, "/params/bogus", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode[errorResponse](t, resp).Error, "unknown parameter")
}

func TestServer_SetParam(t *testing.T) {
	tcases := []struct {
		name       string
		param      string
		body       string
		wantStatus int
		wantValue  string
	}{
		{name: "threshold", param: "load_threshold_up", body: "90\n", wantStatus: http.StatusOK, wantValue: "90"},
		{name: "sampling interval", param: "sampling_ms", body: "200", wantStatus: http.StatusOK, wantValue: "200"},
		{name: "zero sampling interval", param: "sampling_ms", body: "0", wantStatus: http.StatusBadRequest},
		{name: "not a number", param: "vote_threshold_down", body: "ten", wantStatus: http.StatusBadRequest},
		{name: "negative", param: "load_threshold_down", body: "-1", wantStatus: http.StatusBadRequest},
		{name: "unknown", param: "bogus", body: "1", wantStatus: http.StatusNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServerFixture(t)
			before, _ := f.mgr.GetParam(tc.param)

			resp := f.do(t, http.MethodPut, "/params/"+tc.param, tc.body)
			require.Equal(t, tc.wantStatus, resp.StatusCode)

			if tc.wantStatus != http.StatusOK {
				after, _ := f.mgr.GetParam(tc.param)
				assert.Equal(t, before, after, "rejected write must not change the value")
				return
			}
			assert.Equal(t, paramResponse{Name: tc.param, Value: tc.wantValue}, decode[paramResponse](t, resp))
			value, err := f.mgr.GetParam(tc.param)
			assert.NoError(t, err)
			assert.Equal(t, tc.wantValue, value)
		})
	}
}

func TestServer_SetParam_BodyTooLarge(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPut, "/params/load_threshold_up", strings.Repeat("9", maxRequestBodyBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	value, _ := f.mgr.GetParam("load_threshold_up")
	assert.Equal(t, "80", value)
}

func TestServer_ActivateAndStatus(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodPut, "/params/active", "1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.mgr.IsActive())

	resp = f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[statusResponse](t, resp)
	assert.True(t, status.Active)
	assert.False(t, status.LowPower)
	assert.False(t, status.Suspended)
	assert.True(t, status.LittleDesired)

	resp = f.do(t, http.MethodPut, "/params/low_power", "1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2-3", f.host.Online().String())

	resp = f.do(t, http.MethodGet, "/status", "")
	assert.True(t, decode[statusResponse](t, resp).LowPower)
}

func TestServer_SuspendResume(t *testing.T) {
	f := newServerFixture(t)
	f.mgr.Activate()

	resp := f.do(t, http.MethodPost, "/suspend", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, f.mgr.Status().Suspended)
	assert.Equal(t, "2-3", f.host.Online().String())

	resp = f.do(t, http.MethodPost, "/resume", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, f.mgr.Status().Suspended)
	assert.Equal(t, "0-3", f.host.Online().String())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	f := newServerFixture(t)

	resp := f.do(t, http.MethodGet, "/suspend", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.False(t, f.mgr.Status().Suspended)
}

func TestServer_WriteLimit(t *testing.T) {
	f := newServerFixture(t, WithWriteLimit(rate.Every(time.Hour), 1))

	resp := f.do(t, http.MethodPut, "/params/load_threshold_up", "85")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/params/load_threshold_up", "90")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	value, _ := f.mgr.GetParam("load_threshold_up")
	assert.Equal(t, "85", value)

	// reads are never limited
	resp = f.do(t, http.MethodGet, "/params/load_threshold_up", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_InternalError(t *testing.T) {
	setupTestLogger()

	ctrlmk := new(controllerMock)
	ctrlmk.On("ParamNames").Return([]string{"sampling_ms"})
	ctrlmk.On("GetParam", "sampling_ms").Return("", errors.New("opts unavailable"))
	srv := httptest.NewServer(NewServer(ctrlmk, ctrl.Log.WithName("testing")).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/params")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	ctrlmk.AssertExpectations(t)
}
