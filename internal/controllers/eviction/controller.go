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

// Package eviction implements the Eviction controller of spec.md §4.5: Nodes
// that have been Unknown for at least five minutes have their non-terminal,
// non-control-plane Pods reset to Pending with node_name cleared so the
// ReplicaSet/Job/DaemonSet controllers and Scheduler can reschedule them
// elsewhere. Grounded on the node controller's heartbeat-age derivation,
// applied here to Pods rather than to the Node's own status.
package eviction

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

// unknownEvictionThreshold is the grace period spec.md §4.5 and scenario S2
// grant a Node once it has been Unknown, not once its heartbeat has aged.
// A Node only becomes Unknown at heartbeat age >= 60s (node/controller.go's
// unknownThreshold), so the effective age-from-last-heartbeat gate below
// adds that staging delay: 60s + 5m = 6m total.
const (
	unknownStagingDelay      = 60 * time.Second
	unknownEvictionThreshold = unknownStagingDelay + 5*time.Minute
)

type Controller struct {
	store *store.Store
	now   func() time.Time
}

func New(s *store.Store) *Controller {
	return &Controller{store: s, now: time.Now}
}

func (c *Controller) Name() string           { return "eviction" }
func (c *Controller) Period() time.Duration   { return 30 * time.Second }
func (c *Controller) WatchPrefixes() []string { return []string{types.PrefixNodes, types.PrefixPods} }

func (c *Controller) Reconcile(ctx context.Context) error {
	logger := log.FromContext(ctx).With("controller", c.Name())

	nodes, err := storeutil.List[types.Node](ctx, c.store, types.PrefixNodes)
	if err != nil {
		return err
	}
	pods, err := storeutil.List[types.Pod](ctx, c.store, types.PrefixPods)
	if err != nil {
		return err
	}

	now := c.now()
	evictable := map[string]bool{}
	for _, n := range nodes {
		if n.Status == types.NodeUnknown && now.Sub(n.LastHeartbeat) >= unknownEvictionThreshold {
			evictable[n.Name] = true
		}
	}

	var errs error
	evicted := 0
	for _, p := range pods {
		if !evictable[p.NodeName] {
			continue
		}
		if p.Status.Terminal() || p.ControlPlane() {
			continue
		}
		p.Status = types.PodPending
		p.NodeName = ""
		p.StatusMessage = "evicted: node unreachable"
		if err := storeutil.Put(ctx, c.store, p.Key(), p); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		evicted++
	}
	if evicted > 0 {
		logger.Infow("evicted pods from unreachable nodes", "count", evicted)
	}
	return errs
}
