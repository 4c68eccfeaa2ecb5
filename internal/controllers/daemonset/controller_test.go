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

package daemonset_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/k3rs/k3rs/internal/controllers/daemonset"
	"github.com/k3rs/k3rs/internal/eventlog"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	evlog := eventlog.New(zap.NewNop().Sugar(), 1000)
	return store.New(store.NewMemoryBackend(), evlog, 3)
}

func TestReconcileCreatesOnePodPerQualifyingNode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := daemonset.New(s)

	nodes := []types.Node{
		{Name: "n1", Status: types.NodeReady},
		{Name: "n2", Status: types.NodeReady},
		{Name: "n3", Status: types.NodeNotReady},
	}
	for _, n := range nodes {
		if err := storeutil.Put(ctx, s, types.NodeKey(n.Name), n); err != nil {
			t.Fatalf("put node %s: %v", n.Name, err)
		}
	}
	ds := types.DaemonSet{Name: "logger", Namespace: "default"}
	if err := storeutil.Put(ctx, s, ds.Key(), ds); err != nil {
		t.Fatalf("put ds: %v", err)
	}

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	pods, err := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
	if err != nil {
		t.Fatalf("list pods: %v", err)
	}
	if len(pods) != 2 {
		t.Fatalf("expected exactly one pod per Ready node (2), got %d", len(pods))
	}
	seen := map[string]bool{}
	for _, p := range pods {
		seen[p.NodeName] = true
	}
	if !seen["n1"] || !seen["n2"] {
		t.Fatalf("expected pods bound to n1 and n2, got %+v", pods)
	}
}

func TestReconcileRemovesPodFromNodeThatStopsQualifying(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := daemonset.New(s)

	node := types.Node{Name: "n1", Status: types.NodeReady}
	if err := storeutil.Put(ctx, s, types.NodeKey(node.Name), node); err != nil {
		t.Fatalf("put node: %v", err)
	}
	ds := types.DaemonSet{Name: "logger", Namespace: "default"}
	if err := storeutil.Put(ctx, s, ds.Key(), ds); err != nil {
		t.Fatalf("put ds: %v", err)
	}
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile 1: %v", err)
	}

	node.Status = types.NodeNotReady
	if err := storeutil.Put(ctx, s, types.NodeKey(node.Name), node); err != nil {
		t.Fatalf("update node: %v", err)
	}
	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile 2: %v", err)
	}

	pods, err := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pods) != 0 {
		t.Fatalf("expected the pod on the now-NotReady node to be removed, got %+v", pods)
	}
}

func TestReconcileRespectsNodeSelector(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := daemonset.New(s)

	plain := types.Node{Name: "plain", Status: types.NodeReady}
	gpu := types.Node{Name: "gpu", Status: types.NodeReady, Labels: map[string]string{"gpu": "true"}}
	for _, n := range []types.Node{plain, gpu} {
		if err := storeutil.Put(ctx, s, types.NodeKey(n.Name), n); err != nil {
			t.Fatalf("put node %s: %v", n.Name, err)
		}
	}
	ds := types.DaemonSet{Name: "nvidia-driver", Namespace: "default", Spec: types.DaemonSetSpec{
		NodeSelector: map[string]string{"gpu": "true"},
	}}
	if err := storeutil.Put(ctx, s, ds.Key(), ds); err != nil {
		t.Fatalf("put ds: %v", err)
	}

	if err := c.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	pods, err := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pods) != 1 || pods[0].NodeName != "gpu" {
		t.Fatalf("expected exactly one pod, on the gpu node, got %+v", pods)
	}
}
