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

package agent_test

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/k3rs/k3rs/internal/agent"
	"github.com/k3rs/k3rs/internal/eventlog"
	"github.com/k3rs/k3rs/internal/runtime"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	evlog := eventlog.New(zap.NewNop().Sugar(), 1000)
	return store.New(store.NewMemoryBackend(), evlog, 3)
}

func putPod(t *testing.T, ctx context.Context, s *store.Store, pod types.Pod) {
	t.Helper()
	if err := storeutil.Put(ctx, s, pod.Key(), pod); err != nil {
		t.Fatalf("put pod: %v", err)
	}
}

func samplePod(id, node string) types.Pod {
	return types.Pod{
		ID:        id,
		Name:      id,
		Namespace: "default",
		NodeName:  node,
		Status:    types.PodScheduled,
		Spec: types.PodSpec{
			Containers: []types.ContainerSpec{{Name: "c", Image: "busybox"}},
		},
	}
}

func TestTickCreatesContainerForDesiredPod(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rt := runtime.NewFake()
	sync := agent.NewPodSync(s, rt, "node-1")

	putPod(t, ctx, s, samplePod("p1", "node-1"))

	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	refs, err := rt.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 1 || refs[0].PodID != "p1" {
		t.Fatalf("expected exactly one container created for pod p1, got %+v", refs)
	}

	updated, ok, err := storeutil.Get[types.Pod](ctx, s, types.PodKey("default", "p1"))
	if err != nil || !ok {
		t.Fatalf("expected pod to be persisted, ok=%v err=%v", ok, err)
	}
	if updated.Status != types.PodRunning {
		t.Fatalf("expected pod status Running after a successful create+start, got %s", updated.Status)
	}

	snap := sync.Snapshot()
	if _, ok := snap["p1"]; !ok {
		t.Fatalf("expected Snapshot to contain the newly created pod")
	}
}

func TestTickRecordsFailureOnPullError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rt := runtime.NewFake()
	rt.FailPull["busybox"] = true
	sync := agent.NewPodSync(s, rt, "node-1")

	putPod(t, ctx, s, samplePod("p1", "node-1"))

	if err := sync.Tick(ctx); err == nil {
		t.Fatalf("expected Tick to surface the pull failure")
	}

	updated, ok, err := storeutil.Get[types.Pod](ctx, s, types.PodKey("default", "p1"))
	if err != nil || !ok {
		t.Fatalf("expected pod to still be persisted, ok=%v err=%v", ok, err)
	}
	if updated.Status != types.PodFailed {
		t.Fatalf("expected pod status Failed after an image pull error, got %s", updated.Status)
	}
	if _, ok := sync.Snapshot()["p1"]; ok {
		t.Fatalf("expected a failed pod to be forgotten from the in-memory map")
	}
}

func TestTickRemovesOrphanedContainer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rt := runtime.NewFake()
	sync := agent.NewPodSync(s, rt, "node-1")

	putPod(t, ctx, s, samplePod("p1", "node-1"))
	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("tick create: %v", err)
	}

	if err := s.Delete(ctx, types.PodKey("default", "p1")); err != nil {
		t.Fatalf("delete pod: %v", err)
	}
	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("tick remove: %v", err)
	}

	refs, err := rt.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected orphaned container to be stopped and cleaned up, got %+v", refs)
	}
	if _, ok := sync.Snapshot()["p1"]; ok {
		t.Fatalf("expected orphan removal to forget the pod from the in-memory map")
	}
}

func TestTickObservesContainerExitAsSucceeded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rt := runtime.NewFake()
	sync := agent.NewPodSync(s, rt, "node-1")

	putPod(t, ctx, s, samplePod("p1", "node-1"))
	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("tick create: %v", err)
	}
	refs, _ := rt.List(ctx)
	rt.SetExit(refs[0].ContainerID, 0)

	if err := sync.Tick(ctx); err != nil {
		t.Fatalf("tick observe: %v", err)
	}

	updated, ok, err := storeutil.Get[types.Pod](ctx, s, types.PodKey("default", "p1"))
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if updated.Status != types.PodSucceeded {
		t.Fatalf("expected Succeeded after a zero-exit container, got %s", updated.Status)
	}
}

// TestRecoverIsFailStaticAcrossPodSyncRestart exercises the fail-static
// invariant: the container keeps running across an agent crash/restart
// because the RuntimeBackend (here Fake) is independent of any one PodSync
// instance, and a fresh PodSync adopts it on Recover rather than creating a
// duplicate.
func TestRecoverIsFailStaticAcrossPodSyncRestart(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rt := runtime.NewFake()

	first := agent.NewPodSync(s, rt, "node-1")
	putPod(t, ctx, s, samplePod("p1", "node-1"))
	if err := first.Tick(ctx); err != nil {
		t.Fatalf("initial tick: %v", err)
	}
	before, err := rt.List(ctx)
	if err != nil || len(before) != 1 {
		t.Fatalf("expected one running container before restart, got %+v err=%v", before, err)
	}

	// Simulate an agent crash: a brand new PodSync over the same Store and
	// the same (persistent) runtime backend.
	second := agent.NewPodSync(s, rt, "node-1")
	if err := second.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	after, err := rt.List(ctx)
	if err != nil {
		t.Fatalf("list after recover: %v", err)
	}
	if len(after) != 1 || after[0].ContainerID != before[0].ContainerID {
		t.Fatalf("expected Recover to adopt the already-running container rather than replace it, before=%+v after=%+v", before, after)
	}
	if snap := second.Snapshot(); snap["p1"].ContainerID != before[0].ContainerID {
		t.Fatalf("expected the new PodSync's in-memory map to record the adopted container id")
	}
}

func TestRecoverStopsContainersWithNoDesiredPod(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	rt := runtime.NewFake()

	first := agent.NewPodSync(s, rt, "node-1")
	putPod(t, ctx, s, samplePod("p1", "node-1"))
	if err := first.Tick(ctx); err != nil {
		t.Fatalf("initial tick: %v", err)
	}

	if err := s.Delete(ctx, types.PodKey("default", "p1")); err != nil {
		t.Fatalf("delete pod: %v", err)
	}

	second := agent.NewPodSync(s, rt, "node-1")
	if err := second.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	refs, err := rt.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected Recover to stop a container with no matching desired pod, got %+v", refs)
	}
}
