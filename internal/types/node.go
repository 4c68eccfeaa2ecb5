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

// NodeStatus is one of the three states the Node controller drives, per
// spec.md §4.5.
type NodeStatus string

const (
	NodeReady    NodeStatus = "Ready"
	NodeNotReady NodeStatus = "NotReady"
	NodeUnknown  NodeStatus = "Unknown"
)

// Node is a worker machine the scheduler binds Pods to.
type Node struct {
	Name           string            `json:"name"`
	Status         NodeStatus        `json:"status"`
	LastHeartbeat  time.Time         `json:"lastHeartbeat"`
	Labels         map[string]string `json:"labels,omitempty"`
	Taints         []Taint           `json:"taints,omitempty"`
	Capacity       ResourceList      `json:"capacity"`
	Allocated      ResourceList      `json:"allocated"`
	Unschedulable  bool              `json:"unschedulable"`
}

// Available returns the capacity remaining for new Pods.
func (n Node) Available() ResourceList {
	return n.Capacity.Sub(n.Allocated)
}

func (n Node) Validate() error {
	return ValidateName(n.Name)
}
