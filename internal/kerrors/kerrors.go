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

// Package kerrors defines the typed error kinds of spec.md §7, surfaced as
// Go sentinel values rather than strings so callers can errors.Is/As them
// instead of matching on message text.
package kerrors

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("%w: ...", KindX) at the call site to
// add detail while keeping errors.Is(err, KindX) working.
var (
	// StoreUnavailable means the backend object storage is unreachable. Never
	// fatal except at boot; callers retry with backoff.
	StoreUnavailable = errors.New("store unavailable")
	// NotFound is returned by Store.Get on an absent key.
	NotFound = errors.New("not found")
	// Invalid covers name validation, schema mismatch, and illegal state
	// transitions (e.g. scaling a terminal Job). Never retried.
	Invalid = errors.New("invalid")
	// ImagePullError, ContainerCreateError, ContainerStartError are recorded
	// on a Pod's status_message; the Pod transitions to Failed and the
	// owning ReplicaSet creates a replacement on the next tick.
	ImagePullError       = errors.New("image pull error")
	ContainerCreateError = errors.New("container create error")
	ContainerStartError  = errors.New("container start error")
	// LeadershipLost names a Store write performed after the lease expired.
	// No code in this module returns it: Store writes do not check the
	// lease, and controllers stop when the elector cancels their context.
	LeadershipLost = errors.New("leadership lost")
	// SchedulingDeferred/NoEligibleNode is never surfaced to users; the Pod
	// simply remains Pending.
	SchedulingDeferred = errors.New("no eligible node")
	// Compacted signals a watch subscriber fell behind the ring buffer's
	// retention window and must re-list before resuming.
	Compacted = errors.New("compacted")
	// Lagged signals a slow subscriber was dropped; treated the same as
	// Compacted by callers (re-list, re-subscribe from latest observed seq).
	Lagged = errors.New("lagged")
)

// Truncate bounds a status_message to the 512 bytes spec.md §7 mandates for
// agent-recorded container-lifecycle failures.
func Truncate(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[:max]
}
