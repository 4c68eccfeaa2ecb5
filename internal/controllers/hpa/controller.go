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

// Package hpa implements the HorizontalPodAutoscaler controller of
// spec.md §4.5: scale a target Deployment's replica count from observed
// CPU/memory utilization, with 10% hysteresis and a [min,max] clamp,
// touching only deployment.spec.replicas and deployment.generation. spec.md §9 leaves the metric
// source as an external collaborator; SPEC_FULL.md resolves it as a
// pluggable MetricsSource sampled through a short-TTL cache, grounded on
// the teacher's pkg/utils/pretty/changemonitor.go use of
// patrickmn/go-cache to avoid recomputing/resampling on every tick.
package hpa

import (
	"context"
	"math"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/multierr"

	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

// MetricsSource reports current utilization percentages for the Pods backing
// a Deployment. It is an external collaborator per spec.md §9: the core
// ships no metrics pipeline, only the contract a real one must satisfy.
type MetricsSource interface {
	CPUUtilizationPercent(ctx context.Context, namespace, deployment string) (int, error)
	MemoryUtilizationPercent(ctx context.Context, namespace, deployment string) (int, error)
}

const hysteresis = 0.10

type Controller struct {
	store   *store.Store
	metrics MetricsSource
	cache   *cache.Cache
	now     func() time.Time
}

func New(s *store.Store, metrics MetricsSource) *Controller {
	return &Controller{
		store:   s,
		metrics: metrics,
		cache:   cache.New(20*time.Second, time.Minute),
		now:     time.Now,
	}
}

func (c *Controller) Name() string           { return "hpa" }
func (c *Controller) Period() time.Duration   { return 30 * time.Second }
func (c *Controller) WatchPrefixes() []string { return []string{types.PrefixHPA, types.PrefixDeployments} }

func (c *Controller) Reconcile(ctx context.Context) error {
	logger := log.FromContext(ctx).With("controller", c.Name())

	autoscalers, err := storeutil.List[types.HPA](ctx, c.store, types.PrefixHPA)
	if err != nil {
		return err
	}

	var errs error
	for _, h := range autoscalers {
		if err := c.reconcileOne(ctx, h); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	logger.Debugw("reconciled hpas", "count", len(autoscalers))
	return errs
}

func (c *Controller) reconcileOne(ctx context.Context, h types.HPA) error {
	deployment, ok, err := storeutil.Get[types.Deployment](ctx, c.store, types.DeploymentKey(h.Namespace, h.Spec.TargetDeployment))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	current := deployment.Spec.Replicas
	if current == 0 {
		return nil
	}

	// desired is the max across metric dimensions of each metric's own raw
	// candidate, never seeded from current — current only re-enters once,
	// below, as the hysteresis comparison point.
	var desired int
	var measured bool
	if h.Spec.Metrics.CPUUtilizationPercent != nil {
		observed, err := c.sample(ctx, "cpu", h, c.metrics.CPUUtilizationPercent)
		if err != nil {
			return err
		}
		if d := desiredReplicas(current, observed, *h.Spec.Metrics.CPUUtilizationPercent); !measured || d > desired {
			desired = d
		}
		measured = true
	}
	if h.Spec.Metrics.MemoryUtilizationPercent != nil {
		observed, err := c.sample(ctx, "memory", h, c.metrics.MemoryUtilizationPercent)
		if err != nil {
			return err
		}
		if d := desiredReplicas(current, observed, *h.Spec.Metrics.MemoryUtilizationPercent); !measured || d > desired {
			desired = d
		}
		measured = true
	}
	if !measured || !exceedsHysteresis(current, desired) {
		return nil
	}

	if desired < h.Spec.MinReplicas {
		desired = h.Spec.MinReplicas
	}
	if desired > h.Spec.MaxReplicas {
		desired = h.Spec.MaxReplicas
	}

	if desired == current {
		return nil
	}

	deployment.Spec.Replicas = desired
	deployment.Generation++
	if err := storeutil.Put(ctx, c.store, deployment.Key(), deployment); err != nil {
		return err
	}

	h.Status.CurrentReplicas = desired
	h.Status.LastScaleTime = c.now()
	return storeutil.Put(ctx, c.store, h.Key(), h)
}

// sample reads a metric through the short-TTL cache so repeated reconciles
// within the same window don't resample the collaborator.
func (c *Controller) sample(ctx context.Context, metric string, h types.HPA, fn func(context.Context, string, string) (int, error)) (int, error) {
	key := h.Namespace + "/" + h.Name + "/" + metric
	if v, ok := c.cache.Get(key); ok {
		return v.(int), nil
	}
	observed, err := fn(ctx, h.Namespace, h.Spec.TargetDeployment)
	if err != nil {
		return 0, err
	}
	c.cache.SetDefault(key, observed)
	return observed, nil
}

// desiredReplicas computes the raw candidate replica count of spec.md
// §4.5's formula, desired = ceil(current * observed / target), with no
// hysteresis applied here: hysteresis is evaluated once against the
// combined (max-across-metrics) result by exceedsHysteresis, not per metric.
func desiredReplicas(current, observedPercent, targetPercent int) int {
	if targetPercent <= 0 {
		return current
	}
	desired := int(math.Ceil(float64(current) * float64(observedPercent) / float64(targetPercent)))
	if desired < 1 {
		desired = 1
	}
	return desired
}

// exceedsHysteresis reports whether desired differs from current by at
// least the 10% hysteresis band spec.md §4.5 requires before scaling.
func exceedsHysteresis(current, desired int) bool {
	return math.Abs(float64(desired-current))/float64(current) >= hysteresis
}
