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

// Package job implements the Job controller of spec.md §4.5: maintain
// parallelism active Pods until completions succeed or backoff_limit
// failures are exceeded, with sticky terminal transitions. Grounded on the
// teacher's pkg/controllers/machine/garbagecollect for the count-then-act
// loop shape and on replicaset's scaleUp/scaleDown split, specialized to
// run-to-completion rather than steady-state semantics.
package job

import (
	"context"
	"errors"
	"fmt"
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

func (c *Controller) Name() string           { return "job" }
func (c *Controller) Period() time.Duration   { return 10 * time.Second }
func (c *Controller) WatchPrefixes() []string { return []string{types.PrefixJobs, types.PrefixPods} }

func (c *Controller) Reconcile(ctx context.Context) error {
	logger := log.FromContext(ctx).With("controller", c.Name())

	jobs, err := storeutil.List[types.Job](ctx, c.store, types.PrefixJobs)
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
	for _, j := range jobs {
		if err := c.reconcileOne(ctx, j, ownedPods(j, pods), nodes); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	logger.Debugw("reconciled jobs", "count", len(jobs))
	return errs
}

func ownedPods(j types.Job, pods []types.Pod) []types.Pod {
	var out []types.Pod
	for _, p := range pods {
		if p.OwnerRef != nil && p.OwnerRef.Kind == "Job" && p.OwnerRef.Name == j.Name && p.Namespace == j.Namespace {
			out = append(out, p)
		}
	}
	return out
}

// reconcileOne applies spec.md §4.5's run-to-completion rules: once Phase is
// Complete or Failed it never changes again (sticky terminal transition),
// regardless of what Pods currently exist.
func (c *Controller) reconcileOne(ctx context.Context, j types.Job, owned []types.Pod, nodes []types.Node) error {
	if j.Status.Phase == types.JobComplete || j.Status.Phase == types.JobFailed {
		return nil
	}

	active, succeeded, failed := 0, 0, 0
	for _, p := range owned {
		switch p.Status {
		case types.PodSucceeded:
			succeeded++
		case types.PodFailed:
			failed++
		default:
			active++
		}
	}

	var errs error
	switch {
	case succeeded >= j.Spec.Completions:
		j.Status.Phase = types.JobComplete
	case failed > j.Spec.BackoffLimit:
		j.Status.Phase = types.JobFailed
	default:
		remainingCompletions := j.Spec.Completions - succeeded
		want := j.Spec.Parallelism
		if want > remainingCompletions {
			want = remainingCompletions
		}
		if delta := want - active; delta > 0 {
			if err := c.createPods(ctx, j, delta, nodes); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	unchanged := j.Status.Active == active && j.Status.Succeeded == succeeded && j.Status.Failed == failed
	j.Status.Active = active
	j.Status.Succeeded = succeeded
	j.Status.Failed = failed
	if !unchanged {
		if err := storeutil.Put(ctx, c.store, j.Key(), j); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Controller) createPods(ctx context.Context, j types.Job, count int, nodes []types.Node) error {
	var errs error
	for i := 0; i < count; i++ {
		pod, err := synthesizePod(j)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if nodeName, err := c.sched.Schedule(&pod, nodes); err != nil {
			if !errors.Is(err, kerrors.SchedulingDeferred) {
				errs = multierr.Append(errs, err)
			}
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

func synthesizePod(j types.Job) (types.Pod, error) {
	labels := map[string]string{}
	for k, v := range j.Spec.Template.Labels {
		labels[k] = v
	}
	spec := types.PodSpec{}
	if err := mergo.Merge(&spec, j.Spec.Template.Spec, mergo.WithOverride); err != nil {
		return types.Pod{}, err
	}
	return types.Pod{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("%s-%s", j.Name, uuid.NewString()[:8]),
		Namespace: j.Namespace,
		Labels:    labels,
		Spec:      spec,
		Status:    types.PodPending,
		OwnerRef:  &types.OwnerRef{Kind: "Job", Name: j.Name},
		CreatedAt: time.Now(),
	}, nil
}
