package util

import (
	"errors"
	"fmt"
	"slices"

	"github.com/intel/power-optimization-library/pkg/power"
	"k8s.io/utils/cpuset"
)

// UnpackErrsToStrings flattens errors created with errors.Join into a list of
// messages, nil yields an empty list
func UnpackErrsToStrings(err error) *[]string {
	var strs []string
	if err == nil {
		return &strs
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			strs = append(strs, *UnpackErrsToStrings(e)...)
		}
		return &strs
	}
	strs = append(strs, err.Error())
	return &strs
}

// ValidateCPUs checks that every cpu in cpus is known to the power library host.
func ValidateCPUs(host power.Host, cpus cpuset.CPUSet) error {
	cpuList := host.GetAllCpus()
	if cpuList == nil {
		return fmt.Errorf("no cpus reported on node %s", host.GetName())
	}
	available := cpuList.IDs()

	var errs error
	for _, cpu := range cpus.List() {
		if !slices.Contains(available, uint(cpu)) {
			errs = errors.Join(errs, fmt.Errorf("cpu with id %d is not available on node %s", cpu, host.GetName()))
		}
	}
	return errs
}
