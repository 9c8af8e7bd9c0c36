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
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/intel/power-optimization-library/pkg/power"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	powerv1 "github.com/AMDEPYC/cluster-plug/api/v1"
	"github.com/AMDEPYC/cluster-plug/internal/hotplug"
	"github.com/AMDEPYC/cluster-plug/internal/scaling"
	"github.com/AMDEPYC/cluster-plug/pkg/util"
)

// ClusterPlugConfigurationReconciler reconciles a ClusterPlugConfiguration object
type ClusterPlugConfigurationReconciler struct {
	client.Client
	Log                logr.Logger
	Scheme             *runtime.Scheme
	Recorder           record.EventRecorder
	PowerLibrary       power.Host
	Host               hotplug.Host
	ClusterPlugManager scaling.ClusterPlugManager
	// Tunables not set in the spec fall back to these, zero value means defaults
	BaseOpts scaling.ClusterPlugOpts
}

var (
	minSamplePeriod = scaling.MinSamplePeriod
	maxSamplePeriod = time.Duration(1 * time.Second)
)

//+kubebuilder:rbac:groups=power.amdepyc.com,resources=clusterplugconfigurations,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=power.amdepyc.com,resources=clusterplugconfigurations/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=power.amdepyc.com,resources=clusterplugconfigurations/finalizers,verbs=update
//+kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile is part of the main kubernetes reconciliation loop which aims to
// move the current state of the cluster closer to the desired state.
// For more details, check Reconcile and its Result here:
// - https://pkg.go.dev/sigs.k8s.io/controller-runtime@v0.17.2/pkg/reconcile
func (r *ClusterPlugConfigurationReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	var err error
	nodeName := os.Getenv("NODE_NAME")

	// check if this config belongs to the current node
	if req.Name != nodeName {
		return ctrl.Result{}, nil
	}

	logger := r.Log.WithValues("clusterplugconfiguration", req.NamespacedName)
	if req.Namespace != PowerNamespace {
		err := fmt.Errorf("incorrect namespace")
		logger.Error(err, "resource is not in the power-manager namespace, ignoring")
		// NOTE: Returning error is not the correct way to refuse reconciliation as
		// it will not prevent requeueing. But it is used regardless because
		// it allows testing this specific condition.
		return ctrl.Result{}, err
	}

	config := &powerv1.ClusterPlugConfiguration{}
	defer func() {
		statusChanged := r.observe(config)
		_ = writeUpdatedStatusIfRequired(ctx, r.Status(), config, err, statusChanged)
	}()

	err = r.Client.Get(context.TODO(), req.NamespacedName, config)
	logger.V(5).Info("retrieving the cluster plug configuration instance")
	if err != nil {
		if k8serrors.IsNotFound(err) {
			logger.Info("configuration removed, deactivating the hotplug controller")
			r.ClusterPlugManager.Deactivate()

			return ctrl.Result{}, nil
		}

		logger.Error(err, "could not retrieve the cluster plug configuration instance")
		return ctrl.Result{}, err
	}

	// validate values
	err = r.validateTopology()
	if err != nil {
		logger.Error(err, "error validating cluster topology")
		r.recordWarning(config, "InvalidTopology", err)
		return ctrl.Result{}, nil
	}
	opts, err := r.parseOpts(&config.Spec)
	if err != nil {
		logger.Error(err, "error validating tunables")
		r.recordWarning(config, "InvalidTunables", err)
		return ctrl.Result{}, nil
	}

	err = r.ClusterPlugManager.UpdateOpts(opts)
	if err != nil {
		logger.Error(err, "error applying tunables")
		r.recordWarning(config, "InvalidTunables", err)
		return ctrl.Result{}, nil
	}

	// the override goes first so that activation already honours it
	if config.Spec.LowPower {
		r.ClusterPlugManager.EnterLowPower()
	} else {
		r.ClusterPlugManager.ExitLowPower()
	}
	if config.Spec.Active {
		r.ClusterPlugManager.Activate()
	} else {
		r.ClusterPlugManager.Deactivate()
	}
	logger.V(4).Info("configuration applied", "active", config.Spec.Active, "lowPower", config.Spec.LowPower)

	return ctrl.Result{}, nil
}

func (r *ClusterPlugConfigurationReconciler) recordWarning(config *powerv1.ClusterPlugConfiguration, reason string, err error) {
	if r.Recorder != nil {
		r.Recorder.Event(config, corev1.EventTypeWarning, reason, err.Error())
	}
}

func (r *ClusterPlugConfigurationReconciler) validateTopology() error {
	if r.PowerLibrary == nil {
		return nil
	}

	return util.ValidateCPUs(r.PowerLibrary, r.ClusterPlugManager.Topology().All())
}

func (r *ClusterPlugConfigurationReconciler) parseOpts(spec *powerv1.ClusterPlugConfigurationSpec) (scaling.ClusterPlugOpts, error) {
	opts := r.BaseOpts
	if opts.SamplePeriod == 0 {
		opts = scaling.DefaultClusterPlugOpts()
	}

	var errs error
	if spec.SamplePeriod != nil {
		samplePeriod := spec.SamplePeriod.Duration
		if samplePeriod < minSamplePeriod {
			errs = errors.Join(errs, fmt.Errorf("sample period %s is below minimum limit %s", samplePeriod, minSamplePeriod))
		}
		if samplePeriod > maxSamplePeriod {
			errs = errors.Join(errs, fmt.Errorf("sample period %s is above maximum limit %s", samplePeriod, maxSamplePeriod))
		}
		if samplePeriod >= minSamplePeriod && samplePeriod%time.Millisecond != 0 {
			errs = errors.Join(errs, fmt.Errorf("sample period %s is not a whole number of milliseconds", samplePeriod))
		}
		opts.SamplePeriod = samplePeriod
	}
	for _, field := range []struct {
		name  string
		value *int
		dest  *int
		min   int
		max   int
	}{
		{"load threshold up", spec.LoadThresholdUp, &opts.LoadThresholdUp, 0, 100},
		{"load threshold down", spec.LoadThresholdDown, &opts.LoadThresholdDown, 0, 100},
		{"vote threshold up", spec.VoteThresholdUp, &opts.VoteThresholdUp, 0, -1},
		{"vote threshold down", spec.VoteThresholdDown, &opts.VoteThresholdDown, 0, -1},
		{"stale tick factor", spec.StaleTickFactor, &opts.StaleTickFactor, 1, -1},
	} {
		if field.value == nil {
			continue
		}
		if *field.value < 0 {
			errs = errors.Join(errs, fmt.Errorf("%s %d must not be negative", field.name, *field.value))
		} else if *field.value < field.min {
			errs = errors.Join(errs, fmt.Errorf("%s %d is below minimum limit %d", field.name, *field.value, field.min))
		}
		if field.max >= 0 && *field.value > field.max {
			errs = errors.Join(errs, fmt.Errorf("%s %d is above maximum limit %d", field.name, *field.value, field.max))
		}
		*field.dest = *field.value
	}

	return opts, errs
}

// observe copies the controller state into the status and reports whether it changed.
func (r *ClusterPlugConfigurationReconciler) observe(config *powerv1.ClusterPlugConfiguration) bool {
	status := r.ClusterPlugManager.Status()
	observed := config.Status
	observed.Active = status.Active
	observed.LowPower = status.LowPower
	observed.Suspended = status.Suspended
	observed.LittleDesired = status.Engine.LittleDesired
	if r.Host != nil {
		if online, err := r.Host.OnlineCPUs(); err == nil {
			observed.OnlineCPUs = online.String()
		}
	}

	changed := observed.Active != config.Status.Active ||
		observed.LowPower != config.Status.LowPower ||
		observed.Suspended != config.Status.Suspended ||
		observed.LittleDesired != config.Status.LittleDesired ||
		observed.OnlineCPUs != config.Status.OnlineCPUs
	config.Status = observed

	return changed
}

// SetupWithManager sets up the controller with the Manager.
func (r *ClusterPlugConfigurationReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&powerv1.ClusterPlugConfiguration{}).
		WithEventFilter(predicate.GenerationChangedPredicate{}).
		Complete(r)
}
