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

// ResourceList models spec.md §3's three scheduling dimensions: cpu-millis,
// memory-bytes, and pod-count. Kept as a flat struct rather than a generic
// map[string]Quantity (as the teacher's v1.ResourceList does it) since k3rs
// only ever schedules on these three.
type ResourceList struct {
	CPUMillis   int64 `json:"cpuMillis"`
	MemoryBytes int64 `json:"memoryBytes"`
	Pods        int64 `json:"pods"`
}

// Add returns the element-wise sum.
func (r ResourceList) Add(o ResourceList) ResourceList {
	return ResourceList{
		CPUMillis:   r.CPUMillis + o.CPUMillis,
		MemoryBytes: r.MemoryBytes + o.MemoryBytes,
		Pods:        r.Pods + o.Pods,
	}
}

// Sub returns the element-wise difference.
func (r ResourceList) Sub(o ResourceList) ResourceList {
	return ResourceList{
		CPUMillis:   r.CPUMillis - o.CPUMillis,
		MemoryBytes: r.MemoryBytes - o.MemoryBytes,
		Pods:        r.Pods - o.Pods,
	}
}

// Fits reports whether want fits within the remaining capacity r, per
// dimension, satisfying invariant 6 of spec.md §3.
func (r ResourceList) Fits(want ResourceList) bool {
	return r.CPUMillis >= want.CPUMillis && r.MemoryBytes >= want.MemoryBytes && r.Pods >= want.Pods
}

// TaintEffect is one of the three node-repulsion effects spec.md §4.4 names.
type TaintEffect string

const (
	NoSchedule       TaintEffect = "NoSchedule"
	NoExecute        TaintEffect = "NoExecute"
	PreferNoSchedule TaintEffect = "PreferNoSchedule"
)

// Taint is a Node repulsion marker.
type Taint struct {
	Key    string      `json:"key"`
	Value  string      `json:"value"`
	Effect TaintEffect `json:"effect"`
}

// TolerationOperator mirrors the two comparison modes spec.md §4.4 describes:
// exact key/value match, or "Exists" on key alone.
type TolerationOperator string

const (
	OpEqual  TolerationOperator = "Equal"
	OpExists TolerationOperator = "Exists"
)

// Toleration is a Pod's counterpart to a Node Taint.
type Toleration struct {
	Key      string             `json:"key"`
	Value    string             `json:"value"`
	Operator TolerationOperator `json:"operator"`
	Effect   TaintEffect        `json:"effect,omitempty"`
}

// Matches reports whether t tolerates taint per spec.md §4.4: "key and value
// match, or operator is Exists on key".
func (t Toleration) Matches(taint Taint) bool {
	if t.Key != taint.Key {
		return false
	}
	if t.Effect != "" && t.Effect != taint.Effect {
		return false
	}
	if t.Operator == OpExists {
		return true
	}
	return t.Value == taint.Value
}

// TolerateAll reports whether tolerations cover every NoSchedule/NoExecute
// taint in taints, the filter-stage condition (3) of spec.md §4.4.
func TolerateAll(tolerations []Toleration, taints []Taint) bool {
	for _, taint := range taints {
		if taint.Effect != NoSchedule && taint.Effect != NoExecute {
			continue
		}
		tolerated := false
		for _, tol := range tolerations {
			if tol.Matches(taint) {
				tolerated = true
				break
			}
		}
		if !tolerated {
			return false
		}
	}
	return true
}

// LabelsSubset reports whether selector's keys/values are all present in labels,
// used for node_selector (filter stage (4)) and ReplicaSet/DaemonSet selection.
func LabelsSubset(selector, labels map[string]string) bool {
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// OwnerRef is a weak, lookup-only back-reference from a child resource to its
// owning controller record (spec.md §9: "not an ownership relation in the
// memory sense; only a lookup tuple").
type OwnerRef struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	UID  string `json:"uid"`
}
