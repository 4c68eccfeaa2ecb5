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

// Package storeutil provides the typed JSON marshal/unmarshal helpers every
// controller and the agent use on top of the byte-oriented Store contract
// (spec.md §4.1). Kept as free functions rather than methods on Store itself
// so Store's own methods stay byte-oriented.
package storeutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/k3rs/k3rs/internal/store"
)

// List decodes every value under prefix into T, skipping entries that fail
// to unmarshal (a foreign or corrupt key should never abort an entire
// reconciliation, matching the controllers' best-effort discipline).
func List[T any](ctx context.Context, s *store.Store, prefix string) ([]T, error) {
	kvs, err := s.ListPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	out := make([]T, 0, len(kvs))
	for _, kv := range kvs {
		var v T
		if err := json.Unmarshal(kv.Value, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Put JSON-encodes v and writes it at key.
func Put[T any](ctx context.Context, s *store.Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, raw)
}

// Get reads and decodes the value at key, returning ok=false if absent.
func Get[T any](ctx context.Context, s *store.Store, key string) (T, bool, error) {
	var zero T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}
