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

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/intel/power-optimization-library/pkg/power"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	powerv1 "github.com/AMDEPYC/cluster-plug/api/v1"
	"github.com/AMDEPYC/cluster-plug/internal/admin"
	"github.com/AMDEPYC/cluster-plug/internal/config"
	"github.com/AMDEPYC/cluster-plug/internal/controller"
	"github.com/AMDEPYC/cluster-plug/internal/hotplug"
	"github.com/AMDEPYC/cluster-plug/internal/monitoring"
	"github.com/AMDEPYC/cluster-plug/internal/scaling"
	"github.com/AMDEPYC/cluster-plug/pkg/util"
	// +kubebuilder:scaffold:imports
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	utilruntime.Must(powerv1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

func main() {
	var configPath string
	var standalone bool
	var metricsAddr string
	var probeAddr string
	var adminAddr string
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file. Built-in defaults are used when empty.")
	flag.BoolVar(&standalone, "standalone", false,
		"Run without Kubernetes. Activation and the low power override are taken from the configuration file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":10001", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":10002", "The address the probe endpoint binds to.")
	flag.StringVar(&adminAddr, "admin-bind-address", "127.0.0.1:10003",
		"The address the admin API binds to. Set to empty to disable it.")
	logOpts := zap.Options{}
	logOpts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(
		zap.UseDevMode(true),
		func(o *zap.Options) {
			o.TimeEncoder = zapcore.ISO8601TimeEncoder
		},
		zap.UseFlagOptions(&logOpts),
	),
	)

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			setupLog.Error(err, "unable to load configuration", "path", configPath)
			os.Exit(1)
		}
	}

	power.SetLogger(ctrl.Log.WithName("powerLibrary"))
	nodeName := os.Getenv("NODE_NAME")
	powerLibrary, err := power.CreateInstance(nodeName)
	if powerLibrary == nil {
		setupLog.Error(err, "unable to create Power Library instance")
		os.Exit(1)
	}
	topology := cfg.ClusterTopology()
	if err := util.ValidateCPUs(powerLibrary, topology.All()); err != nil {
		setupLog.Error(err, "cluster topology does not match the node")
		os.Exit(1)
	}

	host := hotplug.NewSysfsHost()
	clusterPlugManager, err := scaling.NewClusterPlugManager(host, topology, cfg.Opts())
	if err != nil {
		setupLog.Error(err, "unable to create the cluster plug manager")
		os.Exit(1)
	}
	setupLog.Info("cluster topology", "big", topology.Big.String(), "little", topology.Little.String())

	adminServer := admin.NewServer(clusterPlugManager, ctrl.Log.WithName("adminServer"))
	ctx := ctrl.SetupSignalHandler()

	if standalone {
		err = runStandalone(ctx, cfg, clusterPlugManager, host, adminServer, metricsAddr, adminAddr)
	} else {
		err = runManaged(ctx, cfg, powerLibrary, clusterPlugManager, host, adminServer, metricsAddr, probeAddr, adminAddr)
	}
	if err != nil {
		setupLog.Error(err, "problem running node agent")
		os.Exit(1)
	}
}

// runManaged runs the decision loop under the controller manager and lets
// the ClusterPlugConfiguration of this node drive it.
func runManaged(ctx context.Context, cfg *config.Config, powerLibrary power.Host, clusterPlugManager scaling.ClusterPlugManager,
	host hotplug.Host, adminServer *admin.Server, metricsAddr, probeAddr, adminAddr string,
) error {
	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: probeAddr,
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		return err
	}

	if err = (&controller.ClusterPlugConfigurationReconciler{
		Client:             mgr.GetClient(),
		Log:                ctrl.Log.WithName("controllers").WithName("ClusterPlugConfiguration"),
		Scheme:             mgr.GetScheme(),
		Recorder:           mgr.GetEventRecorderFor("clusterplug-controller"),
		PowerLibrary:       powerLibrary,
		Host:               host,
		ClusterPlugManager: clusterPlugManager,
		BaseOpts:           cfg.Opts(),
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "ClusterPlugConfiguration")
		return err
	}
	// +kubebuilder:scaffold:builder

	if err = mgr.Add(clusterPlugManager); err != nil {
		setupLog.Error(err, "unable to add the cluster plug manager")
		return err
	}
	if adminAddr != "" {
		err = mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
			return adminServer.ListenAndServe(ctx, adminAddr)
		}))
		if err != nil {
			setupLog.Error(err, "unable to add the admin server")
			return err
		}
	}
	monitoring.RegisterClusterPlugCollectors(clusterPlugManager, host, ctrl.Log.WithName(monitoring.LogTopName))

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		return err
	}

	setupLog.Info("starting manager")
	return mgr.Start(ctx)
}

// runStandalone applies the configuration file once and serves metrics and
// the admin API until ctx is cancelled.
func runStandalone(ctx context.Context, cfg *config.Config, clusterPlugManager scaling.ClusterPlugManager,
	host hotplug.Host, adminServer *admin.Server, metricsAddr, adminAddr string,
) error {
	registry := prom.NewRegistry()
	registry.MustRegister(monitoring.NewClusterPlugCollectors(clusterPlugManager, host, ctrl.Log.WithName(monitoring.LogTopName))...)

	if cfg.LowPower {
		clusterPlugManager.EnterLowPower()
	}
	if cfg.Active {
		clusterPlugManager.Activate()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return clusterPlugManager.Start(ctx)
	})
	if metricsAddr != "" && metricsAddr != "0" {
		g.Go(func() error {
			return serveMetrics(ctx, registry, metricsAddr)
		})
	}
	if adminAddr != "" {
		g.Go(func() error {
			return adminServer.ListenAndServe(ctx, adminAddr)
		})
	}

	setupLog.Info("starting standalone node agent", "active", cfg.Active, "lowPower", cfg.LowPower)
	return g.Wait()
}

func serveMetrics(ctx context.Context, registry *prom.Registry, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	setupLog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
