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

import (
	"fmt"
	"time"

	"github.com/k3rs/k3rs/internal/kerrors"
)

// PodPhase is the lifecycle state of a Pod, spec.md §3.
type PodPhase string

const (
	PodPending     PodPhase = "Pending"
	PodScheduled   PodPhase = "Scheduled"
	PodRunning     PodPhase = "Running"
	PodSucceeded   PodPhase = "Succeeded"
	PodFailed      PodPhase = "Failed"
	PodTerminating PodPhase = "Terminating"
)

// Terminal reports whether the phase will never transition again without
// external intervention (controller recreation).
func (p PodPhase) Terminal() bool {
	return p == PodSucceeded || p == PodFailed
}

// ResourceRequirements mirrors the teacher's requests/limits split.
type ResourceRequirements struct {
	Requests ResourceList `json:"requests"`
	Limits   ResourceList `json:"limits,omitempty"`
}

// VolumeMount binds a container path to a named Volume declared on the Pod.
type VolumeMount struct {
	Name      string `json:"name"`
	MountPath string `json:"mountPath"`
}

// Volume is a named storage source attached to a Pod. Only the name is load
// bearing for the core; volume source kinds are an external collaborator.
type Volume struct {
	Name string `json:"name"`
}

// ContainerSpec is the declarative description of one container within a Pod.
type ContainerSpec struct {
	Name         string            `json:"name"`
	Image        string            `json:"image"`
	Command      []string          `json:"command,omitempty"`
	Args         []string          `json:"args,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Resources    ResourceRequirements `json:"resources"`
	VolumeMounts []VolumeMount     `json:"volumeMounts,omitempty"`
}

// Affinity is intentionally minimal: k3rs only models node affinity via
// node_selector (spec.md §4.4); pod (anti-)affinity is out of scope for the
// core scheduler and is carried as an opaque map for forward compatibility.
type Affinity struct {
	RequiredNodeSelector map[string]string `json:"requiredNodeSelector,omitempty"`
}

// PodSpec is the part of a Pod supplied by its creator (client or controller).
type PodSpec struct {
	Containers   []ContainerSpec   `json:"containers"`
	Volumes      []Volume          `json:"volumes,omitempty"`
	NodeSelector map[string]string `json:"nodeSelector,omitempty"`
	Tolerations  []Toleration      `json:"tolerations,omitempty"`
	Affinity     Affinity          `json:"affinity,omitempty"`
}

// Requests sums the resource requests of every container in the Pod, used by
// the Scheduler's filter stage (5) and the Node controller's allocation
// bookkeeping.
func (s PodSpec) Requests() ResourceList {
	var total ResourceList
	for _, c := range s.Containers {
		total = total.Add(c.Resources.Requests)
	}
	total.Pods = 1
	return total
}

// RuntimeInfo is set by the agent once a container is created, spec.md §3.
type RuntimeInfo struct {
	Backend string `json:"backend"`
	Version string `json:"version"`
}

// Pod is the unit of scheduling: one or more co-located containers bound to
// exactly one Node once scheduled.
type Pod struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Namespace      string    `json:"namespace"`
	Labels         map[string]string `json:"labels,omitempty"`
	Spec           PodSpec   `json:"spec"`
	Status         PodPhase  `json:"status"`
	StatusMessage  string    `json:"statusMessage,omitempty"`
	NodeName       string    `json:"nodeName,omitempty"`
	OwnerRef       *OwnerRef `json:"ownerRef,omitempty"`
	RestartCount   int       `json:"restartCount"`
	ContainerID    string    `json:"containerId,omitempty"`
	RuntimeInfo    RuntimeInfo `json:"runtimeInfo,omitempty"`
	// CreatedAt is not part of spec.md §3's semantic field list; it is
	// carried so the ReplicaSet controller can break scale-down ties by
	// "youngest" (spec.md §4.5) without inferring age from Store ordering.
	CreatedAt time.Time `json:"createdAt"`
}

// Key returns the Store key for this Pod.
func (p Pod) Key() string { return PodKey(p.Namespace, p.Name) }

// Validate enforces invariant 1 of spec.md §3 ("node_name is non-null iff
// status != Pending") along with name validation.
func (p Pod) Validate() error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if err := ValidateName(p.Namespace); err != nil {
		return err
	}
	if (p.NodeName != "") == (p.Status == PodPending) {
		return fmt.Errorf("%w: pod %s/%s: node_name must be set iff status != Pending (status=%s, node_name=%q)",
			kerrors.Invalid, p.Namespace, p.Name, p.Status, p.NodeName)
	}
	return nil
}

// MatchesSelector reports whether the Pod's labels satisfy selector, used by
// ReplicaSet/Deployment ownership counting.
func (p Pod) MatchesSelector(selector map[string]string) bool {
	return LabelsSubset(selector, p.Labels)
}

// ControlPlane reports whether this Pod is labeled as control-plane, which
// the Eviction controller (spec.md §4.5) must skip.
func (p Pod) ControlPlane() bool {
	return p.Labels["k3rs.io/control-plane"] == "true"
}
