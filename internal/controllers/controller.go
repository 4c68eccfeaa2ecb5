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

// Package controllers implements the level-triggered reconciliation loops of
// spec.md §4.5: Node, Deployment, ReplicaSet, DaemonSet, Job, CronJob, HPA,
// and Eviction. Only the leader runs these (spec.md §4.3). Grounded on the
// teacher's generic Controller[T] shape (pkg/operator/controller.go),
// generalized from "one controller-runtime Reconciler per CRD type,
// triggered by the API server's informer cache" to "one goroutine per
// controller, triggered by a ticker plus this process's own EventLog watch"
// since k3rs has no controller-runtime manager or informer cache: Store and
// EventLog are the only synchronization primitives (spec.md §9, "No global
// singletons").
package controllers

import (
	"context"
	"time"
)

// Controller is the shape every reconciliation loop in this package
// implements: a name for logging/metrics, a tick period, the key prefixes
// that should wake it early on a watch event, and the reconcile function
// itself. Reconcile must be idempotent and level-triggered per spec.md §4.5:
// it reads full current state and issues the minimum Put/Delete calls to
// reduce the delta to desired state.
type Controller interface {
	Name() string
	Period() time.Duration
	WatchPrefixes() []string
	Reconcile(ctx context.Context) error
}
