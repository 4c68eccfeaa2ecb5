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

// Package replicaset implements the ReplicaSet controller of spec.md §4.5:
// maintain spec.replicas Pods matching selector, synthesizing or deleting as
// needed and invoking the Scheduler to bind new Pods. Grounded on the
// teacher's Scheduler.add loop (pkg/controllers/provisioning/scheduling/
// scheduler.go) for the "bind or leave Pending" half, and on
// pkg/controllers/machine/garbagecollect for the "excess instances, pick a
// deletion order" half.
package replicaset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"go.uber.org/multierr"

	"github.com/k3rs/k3rs/internal/kerrors"
	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/scheduler"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

type Controller struct {
	store *store.Store
	sched *scheduler.Scheduler
	now   func() time.Time
}

func New(s *store.Store, sched *scheduler.Scheduler) *Controller {
	return &Controller{store: s, sched: sched, now: time.Now}
}

func (c *Controller) Name() string           { return "replicaset" }
func (c *Controller) Period() time.Duration   { return 10 * time.Second }
func (c *Controller) WatchPrefixes() []string { return []string{types.PrefixReplicaSets, types.PrefixPods} }

func (c *Controller) Reconcile(ctx context.Context) error {
	logger := log.FromContext(ctx).With("controller", c.Name())

	replicaSets, err := storeutil.List[types.ReplicaSet](ctx, c.store, types.PrefixReplicaSets)
	if err != nil {
		return err
	}
	pods, err := storeutil.List[types.Pod](ctx, c.store, types.PrefixPods)
	if err != nil {
		return err
	}
	nodes, err := storeutil.List[types.Node](ctx, c.store, types.PrefixNodes)
	if err != nil {
		return err
	}

	var errs error
	for _, rs := range replicaSets {
		owned := ownedPods(rs, pods)
		delta := rs.Spec.Replicas - len(owned)

		switch {
		case delta > 0:
			if err := c.scaleUp(ctx, rs, delta, nodes); err != nil {
				errs = multierr.Append(errs, err)
			}
		case delta < 0:
			if err := c.scaleDown(ctx, owned, -delta); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		if delta != 0 {
			// Count the Pods as they stand after this pass's creates/deletes.
			if current, err := storeutil.List[types.Pod](ctx, c.store, types.PrefixPods); err == nil {
				owned = ownedPods(rs, current)
			}
		}

		if err := c.updateStatus(ctx, rs, owned); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	logger.Debugw("reconciled replicasets", "count", len(replicaSets))
	return errs
}

func ownedPods(rs types.ReplicaSet, pods []types.Pod) []types.Pod {
	var out []types.Pod
	for _, p := range pods {
		if p.OwnerRef == nil || p.OwnerRef.Kind != "ReplicaSet" || p.OwnerRef.Name != rs.Name || p.Namespace != rs.Namespace {
			continue
		}
		if !p.MatchesSelector(rs.Spec.Selector) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// scaleUp synthesizes `delta` fresh Pods from rs.Spec.Template and attempts
// to bind each via the Scheduler. A Pod that the Scheduler defers
// (NoEligibleNode) is still persisted as Pending; it will be reconsidered on
// the next tick per spec.md §4.4.
func (c *Controller) scaleUp(ctx context.Context, rs types.ReplicaSet, delta int, nodes []types.Node) error {
	var errs error
	for i := 0; i < delta; i++ {
		pod, err := synthesizePod(rs)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if nodeName, err := c.sched.Schedule(&pod, nodes); err != nil {
			if !errors.Is(err, kerrors.SchedulingDeferred) {
				errs = multierr.Append(errs, err)
			}
			// else: leave Pending, try again next tick.
		} else {
			pod.NodeName = nodeName
			pod.Status = types.PodScheduled
		}
		if err := storeutil.Put(ctx, c.store, pod.Key(), pod); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func synthesizePod(rs types.ReplicaSet) (types.Pod, error) {
	labels := map[string]string{}
	for k, v := range rs.Spec.Template.Labels {
		labels[k] = v
	}
	for k, v := range rs.Spec.Selector {
		labels[k] = v
	}
	spec := types.PodSpec{}
	if err := mergo.Merge(&spec, rs.Spec.Template.Spec, mergo.WithOverride); err != nil {
		return types.Pod{}, err
	}
	name := fmt.Sprintf("%s-%s", rs.Name, uuid.NewString()[:8])
	return types.Pod{
		ID:        uuid.NewString(),
		Name:      name,
		Namespace: rs.Namespace,
		Labels:    labels,
		Spec:      spec,
		Status:    types.PodPending,
		OwnerRef:  &types.OwnerRef{Kind: "ReplicaSet", Name: rs.Name, UID: rs.TemplateHash},
		CreatedAt: time.Now(),
	}, nil
}

// scaleDown deletes `count` Pods from owned, preferring Pending, then
// highest restart_count, then youngest, per spec.md §4.5.
func (c *Controller) scaleDown(ctx context.Context, owned []types.Pod, count int) error {
	sort.Slice(owned, func(i, j int) bool {
		a, b := owned[i], owned[j]
		if (a.Status == types.PodPending) != (b.Status == types.PodPending) {
			return a.Status == types.PodPending
		}
		if a.RestartCount != b.RestartCount {
			return a.RestartCount > b.RestartCount
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	if count > len(owned) {
		count = len(owned)
	}
	var errs error
	for _, p := range owned[:count] {
		if err := c.store.Delete(ctx, p.Key()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Controller) updateStatus(ctx context.Context, rs types.ReplicaSet, owned []types.Pod) error {
	ready := 0
	for _, p := range owned {
		if p.Status == types.PodRunning {
			ready++
		}
	}
	if rs.Status.Replicas == len(owned) && rs.Status.Ready == ready {
		return nil
	}
	rs.Status.Replicas = len(owned)
	rs.Status.Ready = ready
	return storeutil.Put(ctx, c.store, rs.Key(), rs)
}
