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

package scheduler_test

import (
	"errors"
	"testing"

	"github.com/k3rs/k3rs/internal/kerrors"
	"github.com/k3rs/k3rs/internal/scheduler"
	"github.com/k3rs/k3rs/internal/types"
)

func readyNode(name string, cpuMillis int64) types.Node {
	return types.Node{
		Name:     name,
		Status:   types.NodeReady,
		Capacity: types.ResourceList{CPUMillis: cpuMillis, MemoryBytes: 1 << 30, Pods: 10},
	}
}

func podRequesting(cpuMillis int64) *types.Pod {
	return &types.Pod{
		Name:      "p",
		Namespace: "default",
		Spec: types.PodSpec{
			Containers: []types.ContainerSpec{{
				Name:      "c",
				Resources: types.ResourceRequirements{Requests: types.ResourceList{CPUMillis: cpuMillis}},
			}},
		},
	}
}

func TestScheduleBindsOnlyEligibleNode(t *testing.T) {
	s := scheduler.New()
	nodes := []types.Node{
		{Name: "tainted", Status: types.NodeReady, Capacity: types.ResourceList{CPUMillis: 1000, Pods: 10},
			Taints: []types.Taint{{Key: "dedicated", Value: "x", Effect: types.NoSchedule}}},
		{Name: "unschedulable", Status: types.NodeReady, Unschedulable: true, Capacity: types.ResourceList{CPUMillis: 1000, Pods: 10}},
		{Name: "notready", Status: types.NodeNotReady, Capacity: types.ResourceList{CPUMillis: 1000, Pods: 10}},
		readyNode("eligible", 1000),
	}

	name, err := s.Schedule(podRequesting(100), nodes)
	if err != nil {
		t.Fatalf("expected a bind, got error: %v", err)
	}
	if name != "eligible" {
		t.Fatalf("expected the only untainted/schedulable/ready node to be chosen, got %q", name)
	}
}

func TestScheduleRefusesWhenNoCapacityFits(t *testing.T) {
	s := scheduler.New()
	nodes := []types.Node{readyNode("small", 100)}

	_, err := s.Schedule(podRequesting(1000), nodes)
	if !errors.Is(err, kerrors.SchedulingDeferred) {
		t.Fatalf("expected kerrors.SchedulingDeferred, got %v", err)
	}
}

func TestScheduleRoundRobinsAcrossCalls(t *testing.T) {
	s := scheduler.New()
	nodes := []types.Node{readyNode("a", 1000), readyNode("b", 1000)}

	first, err := s.Schedule(podRequesting(100), nodes)
	if err != nil {
		t.Fatalf("schedule 1: %v", err)
	}
	second, err := s.Schedule(podRequesting(100), nodes)
	if err != nil {
		t.Fatalf("schedule 2: %v", err)
	}
	if first == second {
		t.Fatalf("expected round-robin to alternate nodes, got %q then %q", first, second)
	}
	third, err := s.Schedule(podRequesting(100), nodes)
	if err != nil {
		t.Fatalf("schedule 3: %v", err)
	}
	if third != first {
		t.Fatalf("expected the third bind to cycle back to %q, got %q", first, third)
	}
}

func TestScheduleRespectsTolerations(t *testing.T) {
	s := scheduler.New()
	node := readyNode("tainted", 1000)
	node.Taints = []types.Taint{{Key: "dedicated", Value: "gpu", Effect: types.NoSchedule}}

	pod := podRequesting(100)
	_, err := s.Schedule(pod, []types.Node{node})
	if !errors.Is(err, kerrors.SchedulingDeferred) {
		t.Fatalf("expected untolerated taint to defer scheduling, got %v", err)
	}

	pod.Spec.Tolerations = []types.Toleration{{Key: "dedicated", Value: "gpu", Operator: types.OpEqual, Effect: types.NoSchedule}}
	name, err := s.Schedule(pod, []types.Node{node})
	if err != nil {
		t.Fatalf("expected matching toleration to allow the bind, got %v", err)
	}
	if name != "tainted" {
		t.Fatalf("expected bind to tainted node once tolerated, got %q", name)
	}
}

func TestScheduleRespectsNodeSelector(t *testing.T) {
	s := scheduler.New()
	plain := readyNode("plain", 1000)
	labeled := readyNode("labeled", 1000)
	labeled.Labels = map[string]string{"disk": "ssd"}

	pod := podRequesting(100)
	pod.Spec.NodeSelector = map[string]string{"disk": "ssd"}

	name, err := s.Schedule(pod, []types.Node{plain, labeled})
	if err != nil {
		t.Fatalf("expected a bind to the labeled node, got %v", err)
	}
	if name != "labeled" {
		t.Fatalf("expected node_selector to restrict the bind to %q, got %q", "labeled", name)
	}
}
