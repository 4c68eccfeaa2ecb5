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

// Package scheduler implements the pure Schedule function of spec.md §4.4:
// given a Pod and a Node list, select a bound Node or refuse. Grounded on the
// teacher's Scheduler.add/filter/rank split (pkg/controllers/provisioning/
// scheduling/scheduler.go), trimmed down from "create a new node if none
// fits" (karpenter's job) to "pick an existing node or defer" (k3rs's job,
// since k3rs has no node-provisioning cloud provider in scope).
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/k3rs/k3rs/internal/kerrors"
	"github.com/k3rs/k3rs/internal/metrics"
	"github.com/k3rs/k3rs/internal/types"
)

// Scheduler holds the round-robin counter spec.md §4.4's ranking stage needs
// ("least recently scheduled to"); it is otherwise stateless and safe for
// concurrent use from multiple controller goroutines.
type Scheduler struct {
	counter uint64
	mu      sync.Mutex
	lastUse map[string]uint64
}

func New() *Scheduler {
	return &Scheduler{lastUse: map[string]uint64{}}
}

// eligible reports whether node passes every filter-stage condition of
// spec.md §4.4 for pod.
func eligible(pod *types.Pod, node types.Node) bool {
	if node.Status != types.NodeReady {
		return false
	}
	if node.Unschedulable {
		return false
	}
	if !types.TolerateAll(pod.Spec.Tolerations, node.Taints) {
		return false
	}
	if !types.LabelsSubset(pod.Spec.NodeSelector, node.Labels) {
		return false
	}
	if !node.Available().Fits(pod.Spec.Requests()) {
		return false
	}
	return true
}

// Schedule is the pure function of spec.md §4.4. It never mutates pod or
// nodes; the caller (the ReplicaSet/DaemonSet/Job controller) is responsible
// for persisting the binding.
func (s *Scheduler) Schedule(pod *types.Pod, nodes []types.Node) (string, error) {
	candidates := lo.Filter(nodes, func(n types.Node, _ int) bool { return eligible(pod, n) })
	if len(candidates) == 0 {
		metrics.SchedulingAttemptsTotal.WithLabelValues("deferred").Inc()
		return "", fmt.Errorf("%w: no node satisfies taints/selector/capacity for pod %s/%s",
			kerrors.SchedulingDeferred, pod.Namespace, pod.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		li, lj := s.lastUse[candidates[i].Name], s.lastUse[candidates[j].Name]
		if li != lj {
			return li < lj
		}
		return candidates[i].Name < candidates[j].Name
	})

	chosen := candidates[0]
	s.counter++
	s.lastUse[chosen.Name] = s.counter

	metrics.SchedulingAttemptsTotal.WithLabelValues("bound").Inc()
	if !pod.CreatedAt.IsZero() {
		metrics.SchedulingLatency.Observe(time.Since(pod.CreatedAt).Seconds())
	}
	return chosen.Name, nil
}
