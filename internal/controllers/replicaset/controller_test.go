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

package replicaset_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/k3rs/k3rs/internal/controllers/replicaset"
	"github.com/k3rs/k3rs/internal/eventlog"
	"github.com/k3rs/k3rs/internal/scheduler"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	evlog := eventlog.New(zap.NewNop().Sugar(), 1000)
	return store.New(store.NewMemoryBackend(), evlog, 3)
}

func readyNode(name string) types.Node {
	return types.Node{Name: name, Status: types.NodeReady, Capacity: types.ResourceList{CPUMillis: 10000, MemoryBytes: 1 << 30, Pods: 100}}
}

func TestReconcileScalesUpToDesiredReplicas(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := replicaset.New(s, scheduler.New())

	if err := storeutil.Put(ctx, s, types.NodeKey("n1"), readyNode("n1")); err != nil {
		t.Fatalf("put node: %v", err)
	}
	rs := types.ReplicaSet{Name: "web", Namespace: "default", Spec: types.ReplicaSetSpec{
		Replicas: 3,
		Selector: map[string]string{"app": "web"},
		Template: types.PodTemplate{Labels: map[string]string{"app": "web"}},
	}}
	if err := storeutil.Put(ctx, s, rs.Key(), rs); err != nil {
		t.Fatalf("put rs: %v", err)
	}

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	pods, err := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
	if err != nil {
		t.Fatalf("list pods: %v", err)
	}
	if len(pods) != 3 {
		t.Fatalf("expected 3 pods synthesized, got %d", len(pods))
	}
	for _, p := range pods {
		if p.OwnerRef == nil || p.OwnerRef.Name != "web" || p.OwnerRef.Kind != "ReplicaSet" {
			t.Fatalf("expected pod to be owned by the ReplicaSet, got %+v", p.OwnerRef)
		}
		if p.Status != types.PodScheduled || p.NodeName != "n1" {
			t.Fatalf("expected pod bound to the only ready node, got status=%s node=%q", p.Status, p.NodeName)
		}
	}

	updated, ok, err := storeutil.Get[types.ReplicaSet](ctx, s, rs.Key())
	if err != nil || !ok {
		t.Fatalf("get rs: ok=%v err=%v", ok, err)
	}
	if updated.Status.Replicas != 3 {
		t.Fatalf("expected status.replicas == 3, got %d", updated.Status.Replicas)
	}
}

func TestReconcileLeavesPodsPendingWhenNoNodeFits(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := replicaset.New(s, scheduler.New())

	rs := types.ReplicaSet{Name: "web", Namespace: "default", Spec: types.ReplicaSetSpec{
		Replicas: 1,
		Selector: map[string]string{"app": "web"},
		Template: types.PodTemplate{Labels: map[string]string{"app": "web"}},
	}}
	if err := storeutil.Put(ctx, s, rs.Key(), rs); err != nil {
		t.Fatalf("put rs: %v", err)
	}

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	pods, err := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
	if err != nil {
		t.Fatalf("list pods: %v", err)
	}
	if len(pods) != 1 || pods[0].Status != types.PodPending || pods[0].NodeName != "" {
		t.Fatalf("expected exactly one Pending, unscheduled pod when no node is eligible, got %+v", pods)
	}
}

func TestReconcileScalesDownPreferringPendingThenRestartsThenYoungest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := replicaset.New(s, scheduler.New())

	rs := types.ReplicaSet{Name: "web", Namespace: "default", Spec: types.ReplicaSetSpec{
		Replicas: 1,
		Selector: map[string]string{"app": "web"},
	}}
	if err := storeutil.Put(ctx, s, rs.Key(), rs); err != nil {
		t.Fatalf("put rs: %v", err)
	}

	owner := &types.OwnerRef{Kind: "ReplicaSet", Name: "web"}
	running := types.Pod{ID: "a", Name: "a", Namespace: "default", Labels: map[string]string{"app": "web"},
		OwnerRef: owner, Status: types.PodRunning, NodeName: "n1", CreatedAt: time.Now().Add(-time.Hour)}
	pending := types.Pod{ID: "b", Name: "b", Namespace: "default", Labels: map[string]string{"app": "web"},
		OwnerRef: owner, Status: types.PodPending, CreatedAt: time.Now()}
	for _, p := range []types.Pod{running, pending} {
		if err := storeutil.Put(ctx, s, p.Key(), p); err != nil {
			t.Fatalf("put pod %s: %v", p.Name, err)
		}
	}

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	pods, err := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pods) != 1 || pods[0].Name != "a" {
		t.Fatalf("expected the Pending pod to be deleted before the Running one, got %+v", pods)
	}
}
