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

// Package agent implements the worker-node half of k3rs: PodSync
// (spec.md §4.6) and Recovery (spec.md §4.7) on top of the RuntimeBackend
// contract (spec.md §4.8). Grounded on the teacher's node controller
// (pkg/controllers/node), which already lists Nodes, diffs desired vs
// observed, and writes back status on a fixed tick; PodSync does the same
// shape one level down, against containers instead of cloud instances.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/k3rs/k3rs/internal/kerrors"
	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/metrics"
	"github.com/k3rs/k3rs/internal/runtime"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

const SyncPeriod = 5 * time.Second

const stopGrace = 10 * time.Second

// PodSync owns the agent's in-memory view of container-to-pod bindings; per
// spec.md §5 it is the only task that writes that map, and mapMu guards it
// so that readers can run concurrently with it. An external reader (e.g. a /metrics
// snapshot handler) takes a read-only view through Snapshot rather than
// touching podMap directly.
type PodSync struct {
	store    *store.Store
	rt       runtime.Backend
	nodeName string
	now      func() time.Time

	mapMu  sync.RWMutex
	podMap map[string]types.Pod // keyed by Pod.ID
}

func NewPodSync(s *store.Store, rt runtime.Backend, nodeName string) *PodSync {
	return &PodSync{store: s, rt: rt, nodeName: nodeName, now: time.Now, podMap: map[string]types.Pod{}}
}

// Snapshot returns a read-only copy of the agent's current pod-to-container
// map, per spec.md §5 ("any external read... takes a read-only view").
func (p *PodSync) Snapshot() map[string]types.Pod {
	p.mapMu.RLock()
	defer p.mapMu.RUnlock()
	out := make(map[string]types.Pod, len(p.podMap))
	for k, v := range p.podMap {
		out[k] = v
	}
	return out
}

func (p *PodSync) record(pod types.Pod) {
	p.mapMu.Lock()
	p.podMap[pod.ID] = pod
	p.mapMu.Unlock()
}

func (p *PodSync) forget(podID string) {
	p.mapMu.Lock()
	delete(p.podMap, podID)
	p.mapMu.Unlock()
}

// desiredPods implements the field-selector query of spec.md §6
// ("spec.nodeName = <name> is mandatory for agent recovery queries").
func (p *PodSync) desiredPods(ctx context.Context) ([]types.Pod, error) {
	all, err := storeutil.List[types.Pod](ctx, p.store, types.PrefixPods)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, pod := range all {
		if pod.NodeName == p.nodeName {
			out = append(out, pod)
		}
	}
	return out, nil
}

// Tick runs one PodSync iteration per spec.md §4.6's numbered procedure.
func (p *PodSync) Tick(ctx context.Context) error {
	logger := log.FromContext(ctx).With("component", "podsync", "node", p.nodeName)

	desired, err := p.desiredPods(ctx)
	if err != nil {
		return err
	}
	actual, err := p.rt.List(ctx)
	if err != nil {
		return err
	}
	byContainerID := map[string]runtime.ContainerRef{}
	byPodID := map[string]runtime.ContainerRef{}
	for _, c := range actual {
		byContainerID[c.ContainerID] = c
		byPodID[c.PodID] = c
	}

	var errs error
	for _, pod := range desired {
		if err := p.syncOne(ctx, pod, byPodID); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	desiredPodIDs := map[string]bool{}
	for _, pod := range desired {
		desiredPodIDs[pod.ID] = true
	}
	for _, c := range actual {
		if desiredPodIDs[c.PodID] {
			continue
		}
		if err := p.rt.StopContainer(ctx, c.ContainerID, stopGrace); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := p.rt.Cleanup(ctx, c.ContainerID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		metrics.PodSyncOrphansRemovedTotal.Inc()
		p.forget(c.PodID)
		logger.Infow("removed orphaned container", "container_id", c.ContainerID, "pod_id", c.PodID)
	}
	return errs
}

func (p *PodSync) syncOne(ctx context.Context, pod types.Pod, byPodID map[string]runtime.ContainerRef) error {
	ref, exists := byPodID[pod.ID]
	if !exists {
		return p.createAndStart(ctx, pod)
	}
	return p.observe(ctx, pod, ref)
}

// createAndStart implements spec.md §4.6 step 3's "no container exists"
// branch: pull, create, start, each with its own typed failure recorded on
// the Pod so the owning controller creates a replacement next tick.
func (p *PodSync) createAndStart(ctx context.Context, pod types.Pod) error {
	for _, container := range pod.Spec.Containers {
		if err := p.rt.PullImage(ctx, container.Image); err != nil {
			return p.fail(ctx, pod, kerrors.ImagePullError, err)
		}
	}

	containerID, err := p.rt.CreateContainer(ctx, pod.ID, pod.Spec)
	if err != nil {
		return p.fail(ctx, pod, kerrors.ContainerCreateError, err)
	}
	if err := p.rt.StartContainer(ctx, containerID); err != nil {
		return p.fail(ctx, pod, kerrors.ContainerStartError, err)
	}

	pod.Status = types.PodRunning
	pod.StatusMessage = ""
	pod.ContainerID = containerID
	pod.RuntimeInfo = types.RuntimeInfo{Backend: "k3rs", Version: "1"}
	if err := storeutil.Put(ctx, p.store, pod.Key(), pod); err != nil {
		return err
	}
	p.record(pod)
	return nil
}

// observe implements spec.md §4.6 step 3's "container exists" branch,
// translating the runtime's authoritative state into Pod phase.
func (p *PodSync) observe(ctx context.Context, pod types.Pod, ref runtime.ContainerRef) error {
	status, err := p.rt.State(ctx, ref.ContainerID)
	if err != nil {
		return err
	}

	var desired types.PodPhase
	message := ""
	switch status.State {
	case runtime.StateRunning, runtime.StateCreated:
		desired = types.PodRunning
	case runtime.StateStopped:
		if status.ExitCode == 0 {
			desired = types.PodSucceeded
		} else {
			desired = types.PodFailed
			message = fmt.Sprintf("container exited with code %d", status.ExitCode)
		}
	case runtime.StateFailed:
		desired = types.PodFailed
		message = "container runtime reported Failed"
	default:
		desired = pod.Status
	}

	if desired == pod.Status && message == pod.StatusMessage && pod.ContainerID == ref.ContainerID {
		p.record(pod)
		return nil
	}
	pod.Status = desired
	pod.StatusMessage = kerrors.Truncate(message)
	pod.ContainerID = ref.ContainerID
	if err := storeutil.Put(ctx, p.store, pod.Key(), pod); err != nil {
		return err
	}
	p.record(pod)
	return nil
}

func (p *PodSync) fail(ctx context.Context, pod types.Pod, kind error, cause error) error {
	pod.Status = types.PodFailed
	pod.StatusMessage = kerrors.Truncate(fmt.Sprintf("%s: %v", kind, cause))
	if err := storeutil.Put(ctx, p.store, pod.Key(), pod); err != nil {
		return err
	}
	p.forget(pod.ID)
	return fmt.Errorf("%w: %v", kind, cause)
}

// Run drives Tick on SyncPeriod until ctx is canceled. Run itself does not
// wake on pod watch events: it ticks only on SyncPeriod, and k3rs-agent's
// watch handler does not call Tick. Tick is exported separately from Run.
func (p *PodSync) Run(ctx context.Context) {
	logger := log.FromContext(ctx).With("component", "podsync")
	ticker := time.NewTicker(SyncPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				logger.Warnw("podsync tick failed", "error", err)
			}
		}
	}
}
