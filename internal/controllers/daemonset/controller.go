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

// Package daemonset implements the DaemonSet controller of spec.md §4.5: one
// Pod per qualifying, Ready Node. Grounded on the teacher's daemon-overhead
// computation in scheduler.go (getDaemonOverhead), which already walks Nodes
// filtering by taint-tolerance and label-compatibility for a DaemonSet-like
// pod set; here that same filter becomes the reconciliation target itself
// rather than a scheduling side constraint.
package daemonset

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"go.uber.org/multierr"

	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

type Controller struct {
	store *store.Store
	now   func() time.Time
}

func New(s *store.Store) *Controller {
	return &Controller{store: s, now: time.Now}
}

func (c *Controller) Name() string           { return "daemonset" }
func (c *Controller) Period() time.Duration   { return 15 * time.Second }
func (c *Controller) WatchPrefixes() []string { return []string{types.PrefixDaemonSets, types.PrefixNodes, types.PrefixPods} }

func qualifies(ds types.DaemonSet, n types.Node) bool {
	return n.Status == types.NodeReady && types.LabelsSubset(ds.Spec.NodeSelector, n.Labels)
}

func ownedPods(ds types.DaemonSet, pods []types.Pod) map[string]types.Pod {
	out := map[string]types.Pod{}
	for _, p := range pods {
		if p.OwnerRef == nil || p.OwnerRef.Kind != "DaemonSet" || p.OwnerRef.Name != ds.Name || p.Namespace != ds.Namespace {
			continue
		}
		out[p.NodeName] = p
	}
	return out
}

func (c *Controller) Reconcile(ctx context.Context) error {
	logger := log.FromContext(ctx).With("controller", c.Name())

	daemonSets, err := storeutil.List[types.DaemonSet](ctx, c.store, types.PrefixDaemonSets)
	if err != nil {
		return err
	}
	nodes, err := storeutil.List[types.Node](ctx, c.store, types.PrefixNodes)
	if err != nil {
		return err
	}
	pods, err := storeutil.List[types.Pod](ctx, c.store, types.PrefixPods)
	if err != nil {
		return err
	}

	var errs error
	for _, ds := range daemonSets {
		owned := ownedPods(ds, pods)
		qualifyingNodes := map[string]bool{}

		for _, n := range nodes {
			if !qualifies(ds, n) {
				continue
			}
			qualifyingNodes[n.Name] = true
			if _, exists := owned[n.Name]; exists {
				continue
			}
			pod, err := synthesizePod(ds, n.Name)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if err := storeutil.Put(ctx, c.store, pod.Key(), pod); err != nil {
				errs = multierr.Append(errs, err)
			}
		}

		for nodeName, pod := range owned {
			if qualifyingNodes[nodeName] {
				continue
			}
			if err := c.store.Delete(ctx, pod.Key()); err != nil {
				errs = multierr.Append(errs, err)
			}
		}

		if err := c.updateStatus(ctx, ds, nodes, owned); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	logger.Debugw("reconciled daemonsets", "count", len(daemonSets))
	return errs
}

func synthesizePod(ds types.DaemonSet, nodeName string) (types.Pod, error) {
	labels := map[string]string{}
	for k, v := range ds.Spec.Template.Labels {
		labels[k] = v
	}
	spec := types.PodSpec{}
	if err := mergo.Merge(&spec, ds.Spec.Template.Spec, mergo.WithOverride); err != nil {
		return types.Pod{}, err
	}
	return types.Pod{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("%s-%s", ds.Name, nodeName),
		Namespace: ds.Namespace,
		Labels:    labels,
		Spec:      spec,
		Status:    types.PodScheduled,
		NodeName:  nodeName,
		OwnerRef:  &types.OwnerRef{Kind: "DaemonSet", Name: ds.Name},
		CreatedAt: time.Now(),
	}, nil
}

func (c *Controller) updateStatus(ctx context.Context, ds types.DaemonSet, nodes []types.Node, owned map[string]types.Pod) error {
	desired := 0
	for _, n := range nodes {
		if qualifies(ds, n) {
			desired++
		}
	}
	ready := 0
	for _, p := range owned {
		if p.Status == types.PodRunning {
			ready++
		}
	}
	if ds.Status.Desired == desired && ds.Status.Current == len(owned) && ds.Status.Ready == ready {
		return nil
	}
	ds.Status.Desired = desired
	ds.Status.Current = len(owned)
	ds.Status.Ready = ready
	return storeutil.Put(ctx, c.store, ds.Key(), ds)
}
