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

// Package pretty adapts the teacher's pkg/utils/pretty/changemonitor.go:
// ChangeMonitor reduces log noise when discovering information that may or
// may not have changed since last observed. In k3rs the TunnelClient uses it
// to suppress repeated identical dial-error log lines; the HPA controller's
// metric-sample cache is a separate go-cache instance, not a ChangeMonitor.
package pretty

import (
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"
)

// ChangeMonitor records the hash of the last value seen under a key and
// reports whether a new value differs from it. Recorded values expire after
// VisibilityTimeout to bound memory and avoid staleness surviving a long
// quiet period.
type ChangeMonitor struct {
	lastSeen *cache.Cache
}

// NewChangeMonitor constructs a ChangeMonitor with the given visibility
// timeout; zero selects the teacher's 24h default.
func NewChangeMonitor(visibilityTimeout time.Duration) *ChangeMonitor {
	if visibilityTimeout == 0 {
		visibilityTimeout = 24 * time.Hour
	}
	return &ChangeMonitor{lastSeen: cache.New(visibilityTimeout, visibilityTimeout/2)}
}

// HasChanged reports true if value's hash differs from the last one
// recorded for key (including the first time key is seen), and records the
// new hash as a side effect.
func (c *ChangeMonitor) HasChanged(key string, value any) bool {
	hv, _ := hashstructure.Hash(value, hashstructure.FormatV2, &hashstructure.HashOptions{SlicesAsSets: true})
	existing, ok := c.lastSeen.Get(key)
	var existingHash uint64
	if ok {
		existingHash = existing.(uint64)
	}
	if !ok || existingHash != hv {
		c.lastSeen.SetDefault(key, hv)
		return true
	}
	return false
}
