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

package types

import "time"

// Lease proves leader identity for a bounded TTL. spec.md §3, §4.3.
type Lease struct {
	HolderID  string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the lease is no longer valid as of now.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
