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

package types

import "time"

// PodTemplate is the stamp a ReplicaSet/DaemonSet/Job uses to synthesize Pods.
type PodTemplate struct {
	Labels map[string]string `json:"labels,omitempty"`
	Spec   PodSpec           `json:"spec"`
}

// StrategyKind is one of the four Deployment rollout strategies, spec.md §3.
type StrategyKind string

const (
	StrategyRecreate      StrategyKind = "Recreate"
	StrategyRollingUpdate StrategyKind = "RollingUpdate"
	StrategyBlueGreen     StrategyKind = "BlueGreen"
	StrategyCanary        StrategyKind = "Canary"
)

// DeploymentStrategy carries the parameters for whichever StrategyKind is set.
type DeploymentStrategy struct {
	Kind           StrategyKind `json:"kind"`
	MaxSurge       int          `json:"maxSurge,omitempty"`
	MaxUnavailable int          `json:"maxUnavailable,omitempty"`
	CanaryWeight   int          `json:"canaryWeight,omitempty"` // 0..100
}

type DeploymentSpec struct {
	Replicas int                `json:"replicas"`
	Selector map[string]string  `json:"selector"`
	Template PodTemplate        `json:"template"`
	Strategy DeploymentStrategy `json:"strategy"`
}

type DeploymentStatus struct {
	Replicas  int `json:"replicas"`
	Ready     int `json:"ready"`
	Available int `json:"available"`
	Updated   int `json:"updated"`
}

// Deployment is a declarative workload kind that owns one or more
// ReplicaSets across rollouts.
type Deployment struct {
	Name               string           `json:"name"`
	Namespace          string           `json:"namespace"`
	Spec               DeploymentSpec   `json:"spec"`
	Generation         int64            `json:"generation"`
	ObservedGeneration int64            `json:"observedGeneration"`
	Status             DeploymentStatus `json:"status"`
}

func (d Deployment) Key() string { return DeploymentKey(d.Namespace, d.Name) }

func (d Deployment) Validate() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	return ValidateName(d.Namespace)
}

type ReplicaSetSpec struct {
	Replicas int         `json:"replicas"`
	Selector map[string]string `json:"selector"`
	Template PodTemplate `json:"template"`
}

type ReplicaSetStatus struct {
	Replicas int `json:"replicas"`
	Ready    int `json:"ready"`
}

// ReplicaSet maintains a fixed number of Pod replicas matching Selector.
type ReplicaSet struct {
	Name         string           `json:"name"`
	Namespace    string           `json:"namespace"`
	Spec         ReplicaSetSpec   `json:"spec"`
	OwnerRef     *OwnerRef        `json:"ownerRef,omitempty"`
	TemplateHash string           `json:"templateHash"`
	Status       ReplicaSetStatus `json:"status"`
}

func (r ReplicaSet) Key() string { return ReplicaSetKey(r.Namespace, r.Name) }

type DaemonSetSpec struct {
	Template     PodTemplate       `json:"template"`
	NodeSelector map[string]string `json:"nodeSelector,omitempty"`
}

type DaemonSetStatus struct {
	Desired int `json:"desired"`
	Current int `json:"current"`
	Ready   int `json:"ready"`
}

// DaemonSet ensures exactly one Pod runs per qualifying Node.
type DaemonSet struct {
	Name      string          `json:"name"`
	Namespace string          `json:"namespace"`
	Spec      DaemonSetSpec   `json:"spec"`
	Status    DaemonSetStatus `json:"status"`
}

func (d DaemonSet) Key() string { return DaemonSetKey(d.Namespace, d.Name) }

type JobPhase string

const (
	JobRunning  JobPhase = "Running"
	JobComplete JobPhase = "Complete"
	JobFailed   JobPhase = "Failed"
)

type JobSpec struct {
	Template     PodTemplate `json:"template"`
	Completions  int         `json:"completions"`
	Parallelism  int         `json:"parallelism"`
	BackoffLimit int         `json:"backoffLimit"`
}

type JobStatus struct {
	Active    int      `json:"active"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Phase     JobPhase `json:"phase"`
}

// Job runs Pods to completion, terminal transitions are sticky.
type Job struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	Spec      JobSpec   `json:"spec"`
	OwnerRef  *OwnerRef `json:"ownerRef,omitempty"`
	Status    JobStatus `json:"status"`
}

func (j Job) Key() string { return JobKey(j.Namespace, j.Name) }

type CronJobSpec struct {
	Schedule    string  `json:"schedule"`
	JobTemplate JobSpec `json:"jobTemplate"`
	Suspend     bool    `json:"suspend"`
}

type CronJobStatus struct {
	ActiveJobs      []string  `json:"activeJobs,omitempty"`
	LastScheduleTime time.Time `json:"lastScheduleTime"`
}

// CronJob creates a Job on a recurring schedule, restricted per spec.md §9 to
// the minute-field subset `*`, `M`, `*/N`.
type CronJob struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Spec      CronJobSpec   `json:"spec"`
	Status    CronJobStatus `json:"status"`
}

func (c CronJob) Key() string { return CronJobKey(c.Namespace, c.Name) }

type HPAMetrics struct {
	CPUUtilizationPercent    *int `json:"cpuUtilizationPercent,omitempty"`
	MemoryUtilizationPercent *int `json:"memoryUtilizationPercent,omitempty"`
}

type HPASpec struct {
	TargetDeployment string     `json:"targetDeployment"`
	MinReplicas      int        `json:"minReplicas"`
	MaxReplicas      int        `json:"maxReplicas"`
	Metrics          HPAMetrics `json:"metrics"`
}

type HPAStatus struct {
	CurrentReplicas int       `json:"currentReplicas"`
	LastScaleTime   time.Time `json:"lastScaleTime"`
}

// HPA scales a target Deployment's replica count from observed utilization.
type HPA struct {
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	Spec      HPASpec   `json:"spec"`
	Status    HPAStatus `json:"status"`
}

func (h HPA) Key() string { return HPAKey(h.Namespace, h.Name) }
