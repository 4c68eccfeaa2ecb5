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

// Package store implements the Store contract of spec.md §4.1: ordered
// key-value persistence with prefix scan, backed by a pluggable Backend
// (object storage in production, an in-memory map in tests), emitting a
// ChangeEvent to the EventLog on every mutation. Grounded on the teacher's
// split between a narrow capability interface (cloudprovider.CloudProvider)
// and a concrete implementation wired at the operator boundary — spec.md §9
// calls this out explicitly ("the object-storage backend of the Store ...
// described as a capability set, not a class hierarchy").
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/k3rs/k3rs/internal/eventlog"
	"github.com/k3rs/k3rs/internal/kerrors"
	"github.com/k3rs/k3rs/internal/types"
)

// Backend is the narrow persistence contract an object-storage driver (local
// disk, s3://, r2://) must satisfy. It has no notion of events or sequence
// numbers; that is the Store's job.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	ListPrefix(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}

// Store is the ordered key-value persistence layer of spec.md §4.1.
type Store struct {
	backend     Backend
	log         *eventlog.Log
	retryBudget int
	mu          sync.Mutex // single-writer discipline per spec.md §4.1/§9
}

// New constructs a Store over backend, emitting ChangeEvents into evlog.
// retryBudget bounds the number of internal retries against the backend
// before StoreUnavailable surfaces, per spec.md §7's propagation policy.
func New(backend Backend, evlog *eventlog.Log, retryBudget int) *Store {
	if retryBudget <= 0 {
		retryBudget = 5
	}
	return &Store{backend: backend, log: evlog, retryBudget: retryBudget}
}

func (s *Store) withRetry(ctx context.Context, logger string, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(uint(s.retryBudget)),
		retry.Delay(50*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", kerrors.StoreUnavailable, logger, err)
	}
	return nil
}

// Put writes value at key and atomically appends a ChangeEvent with a newly
// allocated sequence number before returning, per spec.md §4.1.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.withRetry(ctx, "put", func() error {
		return s.backend.Put(ctx, key, value)
	}); err != nil {
		return err
	}
	ev := s.log.Append(eventlog.Put, key, value, time.Now().UnixNano())
	s.persistEvent(ctx, ev)
	return nil
}

// Get reads the value at key. The bool return is false, with no error, when
// the key is absent — callers that need to distinguish "absent" from
// "empty value" rely on this rather than on kerrors.NotFound, which Get
// itself never returns (spec.md §7 reserves NotFound for callers that choose
// to treat absence as an error).
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var ok bool
	err := s.withRetry(ctx, "get", func() error {
		v, found, err := s.backend.Get(ctx, key)
		value, ok = v, found
		return err
	})
	return value, ok, err
}

// Delete removes key and atomically appends a Delete ChangeEvent before
// returning, per spec.md §4.1. Deleting an absent key is not an error
// (idempotent, matching the controllers' idempotent-reconciliation
// requirement in spec.md §4.5).
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.withRetry(ctx, "delete", func() error {
		return s.backend.Delete(ctx, key)
	}); err != nil {
		return err
	}
	ev := s.log.Append(eventlog.Delete, key, nil, time.Now().UnixNano())
	s.persistEvent(ctx, ev)
	return nil
}

// persistEvent durably records ev under PrefixEvents so Compact has
// something to garbage-collect once it ages past CompactOlderThan; the
// eventlog.Log itself is only an in-memory ring buffer bounded by
// EventRetention, not durable storage. A failure here is neither retried nor
// logged, and never fails the Put/Delete it accompanies — the
// change has already landed at key by the time persistEvent runs, and a lost
// durable-event record only degrades compaction bookkeeping, not correctness
// of Watch (which replays from the in-memory ring, not from these keys).
func (s *Store) persistEvent(ctx context.Context, ev eventlog.ChangeEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%020d-%d", types.PrefixEvents, ev.Timestamp, ev.Seq)
	_ = s.backend.Put(ctx, key, raw)
}

// KV is one entry returned by ListPrefix.
type KV struct {
	Key   string
	Value []byte
}

// ListPrefix returns all (key, value) pairs under prefix in lexicographic
// key order. Safe to call concurrently with writers; spec.md §4.1 allows a
// weakly-consistent snapshot since real-time correctness comes from Watch.
func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]KV, error) {
	var raw map[string][]byte
	err := s.withRetry(ctx, "list_prefix", func() error {
		m, err := s.backend.ListPrefix(ctx, prefix)
		raw = m
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]KV, 0, len(raw))
	for k, v := range raw {
		if strings.HasPrefix(k, prefix) {
			out = append(out, KV{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close releases the backend's resources.
func (s *Store) Close() error { return s.backend.Close() }

// EventLog exposes the Store's underlying watch log to callers that need to
// Subscribe (Controllers, Agent, TunnelClient).
func (s *Store) EventLog() *eventlog.Log { return s.log }

// Compact drops persisted /events/ keys older than olderThan, implementing
// spec.md §3's "Events have TTL-based garbage collection during Store
// compaction". This is a SUPPLEMENTED feature (SPEC_FULL.md) since spec.md
// names the behavior but leaves its trigger unspecified; k3rs runs it from a
// background ticker at server boot (see cmd/k3rs-server). Compact deletes
// directly through the backend rather than through Store.Delete: these keys
// are internal audit bookkeeping persistEvent writes alongside every Put/
// Delete, not Store-visible resources, so their removal must not itself
// mint a new ChangeEvent into the watch stream or a new persisted /events/
// record (which would make compaction perpetually regenerate its own input).
func (s *Store) Compact(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := s.ListPrefix(ctx, types.PrefixEvents)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range entries {
		ts, ok := eventTimestampFromKey(kv.Key)
		if !ok || ts.After(cutoff) {
			continue
		}
		if err := s.withRetry(ctx, "compact_delete", func() error {
			return s.backend.Delete(ctx, kv.Key)
		}); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func eventTimestampFromKey(key string) (time.Time, bool) {
	// /events/<unix-nano, zero-padded>-<seq>
	rest := strings.TrimPrefix(key, "/events/")
	dash := strings.IndexByte(rest, '-')
	if dash < 0 {
		return time.Time{}, false
	}
	var nanos int64
	if _, err := fmt.Sscanf(rest[:dash], "%d", &nanos); err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
