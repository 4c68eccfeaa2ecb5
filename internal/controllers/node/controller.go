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

// Package node implements the Node controller of spec.md §4.5: it derives
// Ready/NotReady/Unknown from heartbeat age. Grounded on the teacher's
// garbage-collect controller's "list, compare against a time threshold,
// write back" shape (pkg/controllers/garbagecollect/controller.go).
package node

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/metrics"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

const (
	notReadyThreshold = 30 * time.Second
	unknownThreshold  = 60 * time.Second
)

type Controller struct {
	store *store.Store
	now   func() time.Time
}

func New(s *store.Store) *Controller {
	return &Controller{store: s, now: time.Now}
}

func (c *Controller) Name() string           { return "node" }
func (c *Controller) Period() time.Duration   { return 15 * time.Second }
func (c *Controller) WatchPrefixes() []string { return []string{types.PrefixNodes} }

// Reconcile derives each Node's status from last_heartbeat age, per
// spec.md §4.5: Ready if Δ < 30s, NotReady if 30s <= Δ < 60s, Unknown if
// Δ >= 60s. Idempotent: writes only occur when the derived status differs
// from the stored one.
func (c *Controller) Reconcile(ctx context.Context) error {
	nodes, err := storeutil.List[types.Node](ctx, c.store, types.PrefixNodes)
	if err != nil {
		return err
	}
	now := c.now()
	logger := log.FromContext(ctx).With("controller", c.Name())

	var errs error
	counts := map[types.NodeStatus]float64{types.NodeReady: 0, types.NodeNotReady: 0, types.NodeUnknown: 0}
	for _, n := range nodes {
		desired := deriveStatus(now.Sub(n.LastHeartbeat))
		if desired != n.Status {
			n.Status = desired
			if err := storeutil.Put(ctx, c.store, types.NodeKey(n.Name), n); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			logger.Infow("node status transition", "node", n.Name, "status", desired)
		}
		counts[desired]++
	}
	for status, count := range counts {
		metrics.NodesByStatus.WithLabelValues(string(status)).Set(count)
	}
	return errs
}

func deriveStatus(age time.Duration) types.NodeStatus {
	switch {
	case age < notReadyThreshold:
		return types.NodeReady
	case age < unknownThreshold:
		return types.NodeNotReady
	default:
		return types.NodeUnknown
	}
}
