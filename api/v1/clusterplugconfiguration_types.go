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

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ClusterPlugConfigurationSpec defines the desired state of ClusterPlugConfiguration.
// Unset fields keep the node agent defaults.
type ClusterPlugConfigurationSpec struct {
	// Whether the hotplug controller drives the clusters at all
	Active bool `json:"active"`

	// Keep only the little cluster online regardless of load
	// +optional
	LowPower bool `json:"lowPower,omitempty"`

	// Time between two load samples
	//+kubebuilder:validation:Format=duration
	// +optional
	SamplePeriod *metav1.Duration `json:"samplePeriod,omitempty"`

	// CPU load above which a CPU counts as loaded, in percent
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=100
	// +optional
	LoadThresholdUp *int `json:"loadThresholdUp,omitempty"`

	// CPU load below which a CPU counts as unloaded, in percent
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=100
	// +optional
	LoadThresholdDown *int `json:"loadThresholdDown,omitempty"`

	// Number of consecutive loaded ticks needed to bring the little cluster online
	// +kubebuilder:validation:Minimum=0
	// +optional
	VoteThresholdUp *int `json:"voteThresholdUp,omitempty"`

	// Number of consecutive unloaded ticks needed to take the little cluster offline
	// +kubebuilder:validation:Minimum=0
	// +optional
	VoteThresholdDown *int `json:"voteThresholdDown,omitempty"`

	// Multiple of the sample period after which accumulated votes are discarded
	// +kubebuilder:validation:Minimum=0
	// +optional
	StaleTickFactor *int `json:"staleTickFactor,omitempty"`
}

// ClusterPlugConfigurationStatus defines the observed state of ClusterPlugConfiguration
type ClusterPlugConfigurationStatus struct {
	Active        bool   `json:"active,omitempty"`
	LowPower      bool   `json:"lowPower,omitempty"`
	Suspended     bool   `json:"suspended,omitempty"`
	LittleDesired bool   `json:"littleDesired,omitempty"`
	OnlineCPUs    string `json:"onlineCPUs,omitempty"`

	StatusErrors `json:",inline,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status

// ClusterPlugConfiguration is the Schema for the clusterplugconfigurations API
type ClusterPlugConfiguration struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ClusterPlugConfigurationSpec   `json:"spec,omitempty"`
	Status ClusterPlugConfigurationStatus `json:"status,omitempty"`
}

//+kubebuilder:object:root=true

// ClusterPlugConfigurationList contains a list of ClusterPlugConfiguration
type ClusterPlugConfigurationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ClusterPlugConfiguration `json:"items"`
}

func (config *ClusterPlugConfiguration) SetStatusErrors(errs *[]string) {
	config.Status.Errors = *errs
}

func (config *ClusterPlugConfiguration) GetStatusErrors() *[]string {
	return &config.Status.Errors
}

func init() {
	SchemeBuilder.Register(&ClusterPlugConfiguration{}, &ClusterPlugConfigurationList{})
}
