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

// Package deployment implements the Deployment controller of spec.md §4.5:
// compute a template_hash, create a ReplicaSet for it if missing, and drive
// old/new ReplicaSet replica counts according to the rollout strategy.
// Grounded on the teacher's pkg/utils/pretty/changemonitor.go use of
// mitchellh/hashstructure for stable digests, generalized from "detect a
// settings change" to "detect a template change and key a ReplicaSet by it".
package deployment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mitchellh/hashstructure/v2"
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

func (c *Controller) Name() string           { return "deployment" }
func (c *Controller) Period() time.Duration   { return 10 * time.Second }
func (c *Controller) WatchPrefixes() []string { return []string{types.PrefixDeployments, types.PrefixReplicaSets} }

// TemplateHash computes the collision-resistant digest of spec.md §3
// invariant 5 over the canonical template form.
func TemplateHash(t types.PodTemplate) string {
	h, err := hashstructure.Hash(t, hashstructure.FormatV2, nil)
	if err != nil {
		// hashstructure only fails on unsupported types (channels, funcs),
		// none of which appear in PodTemplate; treat as unreachable.
		panic(fmt.Sprintf("hashing pod template: %v", err))
	}
	return fmt.Sprintf("%x", h)
}

func (c *Controller) Reconcile(ctx context.Context) error {
	logger := log.FromContext(ctx).With("controller", c.Name())

	deployments, err := storeutil.List[types.Deployment](ctx, c.store, types.PrefixDeployments)
	if err != nil {
		return err
	}
	replicaSets, err := storeutil.List[types.ReplicaSet](ctx, c.store, types.PrefixReplicaSets)
	if err != nil {
		return err
	}

	var errs error
	for _, d := range deployments {
		if err := c.reconcileOne(ctx, d, replicaSets); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	logger.Debugw("reconciled deployments", "count", len(deployments))
	return errs
}

func ownedReplicaSets(d types.Deployment, all []types.ReplicaSet) []types.ReplicaSet {
	var out []types.ReplicaSet
	for _, rs := range all {
		if rs.OwnerRef != nil && rs.OwnerRef.Kind == "Deployment" && rs.OwnerRef.Name == d.Name && rs.Namespace == d.Namespace {
			out = append(out, rs)
		}
	}
	return out
}

func (c *Controller) reconcileOne(ctx context.Context, d types.Deployment, allRS []types.ReplicaSet) error {
	hash := TemplateHash(d.Spec.Template)
	owned := ownedReplicaSets(d, allRS)

	var newRS *types.ReplicaSet
	var oldRS []types.ReplicaSet
	for i := range owned {
		if owned[i].TemplateHash == hash {
			newRS = &owned[i]
		} else {
			oldRS = append(oldRS, owned[i])
		}
	}

	if newRS == nil {
		initial := d.Spec.Replicas
		if d.Spec.Strategy.Kind == types.StrategyRollingUpdate {
			initial = 0
		}
		created := types.ReplicaSet{
			Name:         fmt.Sprintf("%s-%s", d.Name, hash[:8]),
			Namespace:    d.Namespace,
			TemplateHash: hash,
			OwnerRef:     &types.OwnerRef{Kind: "Deployment", Name: d.Name, UID: hash},
			Spec: types.ReplicaSetSpec{
				Replicas: initial,
				Selector: mergeSelector(d.Spec.Selector, hash),
				Template: d.Spec.Template,
			},
		}
		if err := storeutil.Put(ctx, c.store, created.Key(), created); err != nil {
			return err
		}
		newRS = &created
	}

	if err := c.applyStrategy(ctx, d, *newRS, oldRS); err != nil {
		return err
	}

	return c.updateStatus(ctx, d, *newRS, oldRS)
}

// mergeSelector stamps the template_hash onto the Deployment's selector so
// ReplicaSets for different template revisions never claim each other's
// Pods, mirroring the teacher's pod-template-hash label convention.
func mergeSelector(selector map[string]string, hash string) map[string]string {
	out := map[string]string{"k3rs.io/template-hash": hash}
	for k, v := range selector {
		out[k] = v
	}
	return out
}

func (c *Controller) applyStrategy(ctx context.Context, d types.Deployment, newRS types.ReplicaSet, oldRS []types.ReplicaSet) error {
	switch d.Spec.Strategy.Kind {
	case types.StrategyRecreate:
		return c.applyRecreate(ctx, d, newRS, oldRS)
	case types.StrategyBlueGreen:
		return c.applyBlueGreen(ctx, d, newRS, oldRS)
	case types.StrategyCanary:
		return c.applyCanary(ctx, d, newRS, oldRS)
	default: // RollingUpdate, and the zero value
		return c.applyRollingUpdate(ctx, d, newRS, oldRS)
	}
}

func (c *Controller) scaleRS(ctx context.Context, rs types.ReplicaSet, replicas int) error {
	if rs.Spec.Replicas == replicas {
		return nil
	}
	rs.Spec.Replicas = replicas
	return storeutil.Put(ctx, c.store, rs.Key(), rs)
}

// applyRecreate: scale all older RS to 0; once their pods are gone, scale new
// RS to spec.replicas. "Gone" is approximated by Status.Replicas == 0, which
// the ReplicaSet controller maintains as it deletes Pods.
func (c *Controller) applyRecreate(ctx context.Context, d types.Deployment, newRS types.ReplicaSet, oldRS []types.ReplicaSet) error {
	var errs error
	allGone := true
	for _, rs := range oldRS {
		if err := c.scaleRS(ctx, rs, 0); err != nil {
			errs = multierr.Append(errs, err)
		}
		if rs.Status.Replicas > 0 {
			allGone = false
		}
	}
	if allGone {
		if err := c.scaleRS(ctx, newRS, d.Spec.Replicas); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// applyRollingUpdate implements spec.md §4.5's surge/unavailable formula,
// clamped so total replicas never exceed spec.replicas+maxSurge and ready
// replicas never drop below spec.replicas-maxUnavailable.
func (c *Controller) applyRollingUpdate(ctx context.Context, d types.Deployment, newRS types.ReplicaSet, oldRS []types.ReplicaSet) error {
	surge := d.Spec.Strategy.MaxSurge
	unavailable := d.Spec.Strategy.MaxUnavailable

	oldTotal, oldReady := 0, 0
	for _, rs := range oldRS {
		oldTotal += rs.Spec.Replicas
		oldReady += rs.Status.Ready
	}

	targetNew := min(d.Spec.Replicas, newRS.Spec.Replicas+surge)
	if targetNew < newRS.Status.Ready {
		targetNew = newRS.Status.Ready
	}

	desiredTotal := d.Spec.Replicas - unavailable
	targetOld := max(0, desiredTotal-newRS.Status.Ready)
	if targetOld > oldTotal {
		targetOld = oldTotal
	}
	// Hold the new RS back while the old ones still use the surge budget.
	if capNew := max(newRS.Spec.Replicas, d.Spec.Replicas+surge-targetOld); targetNew > capNew {
		targetNew = capNew
	}

	var errs error
	if err := c.scaleRS(ctx, newRS, targetNew); err != nil {
		errs = multierr.Append(errs, err)
	}
	remaining := targetOld
	for _, rs := range oldRS {
		share := remaining
		if share > rs.Spec.Replicas {
			share = rs.Spec.Replicas
		}
		if err := c.scaleRS(ctx, rs, share); err != nil {
			errs = multierr.Append(errs, err)
		}
		remaining -= share
	}
	return errs
}

// applyBlueGreen: new RS scales to spec.replicas immediately; once
// new.ready == spec.replicas, old RS scales to 0.
func (c *Controller) applyBlueGreen(ctx context.Context, d types.Deployment, newRS types.ReplicaSet, oldRS []types.ReplicaSet) error {
	var errs error
	if err := c.scaleRS(ctx, newRS, d.Spec.Replicas); err != nil {
		errs = multierr.Append(errs, err)
	}
	if newRS.Status.Ready == d.Spec.Replicas {
		for _, rs := range oldRS {
			if err := c.scaleRS(ctx, rs, 0); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// applyCanary: new RS replicas = ceil(spec.replicas * weight/100); old RS
// replicas = spec.replicas - new.
func (c *Controller) applyCanary(ctx context.Context, d types.Deployment, newRS types.ReplicaSet, oldRS []types.ReplicaSet) error {
	weight := d.Spec.Strategy.CanaryWeight
	newCount := int(math.Ceil(float64(d.Spec.Replicas) * float64(weight) / 100))
	oldCount := d.Spec.Replicas - newCount

	var errs error
	if err := c.scaleRS(ctx, newRS, newCount); err != nil {
		errs = multierr.Append(errs, err)
	}
	remaining := oldCount
	for _, rs := range oldRS {
		share := remaining
		if share > rs.Spec.Replicas {
			share = rs.Spec.Replicas
		}
		if share < 0 {
			share = 0
		}
		if err := c.scaleRS(ctx, rs, share); err != nil {
			errs = multierr.Append(errs, err)
		}
		remaining -= share
	}
	return errs
}

func (c *Controller) updateStatus(ctx context.Context, d types.Deployment, newRS types.ReplicaSet, oldRS []types.ReplicaSet) error {
	total, ready := newRS.Status.Replicas, newRS.Status.Ready
	for _, rs := range oldRS {
		total += rs.Status.Replicas
		ready += rs.Status.Ready
	}
	if d.Status.Replicas == total && d.Status.Ready == ready && d.Status.Available == ready &&
		d.Status.Updated == newRS.Status.Replicas && d.ObservedGeneration == d.Generation {
		return nil
	}
	d.Status.Replicas = total
	d.Status.Ready = ready
	d.Status.Available = ready
	d.Status.Updated = newRS.Status.Replicas
	d.ObservedGeneration = d.Generation
	return storeutil.Put(ctx, c.store, d.Key(), d)
}
