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

// Package leaderelection implements the Follower -> Candidate -> Leader ->
// Follower state machine of spec.md §4.3 on top of a CAS-less Store. Grounded
// on the teacher's garbage-collect controller's tick-and-Reconcile shape
// (pkg/controllers/garbagecollect/controller.go), generalized from a single
// reconcile call into the read-then-write acquisition protocol spec.md §9's
// Open Question describes, since k3rs's Store offers no compare-and-swap.
package leaderelection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/metrics"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/types"
)

// State is this process's position in the Follower/Candidate/Leader cycle.
type State string

const (
	Follower  State = "Follower"
	Candidate State = "Candidate"
	Leader    State = "Leader"
)

// Config carries the tunables spec.md §4.3 names; LeaseTTL must exceed the
// worst observed Store propagation delay by a safety factor >= 3.
type Config struct {
	LeaseTTL      time.Duration
	RenewInterval time.Duration
}

func DefaultConfig() Config {
	return Config{LeaseTTL: 15 * time.Second, RenewInterval: 5 * time.Second}
}

// Elector runs the leader election loop for one server instance.
type Elector struct {
	store    *store.Store
	cfg      Config
	holderID string

	// OnAcquire/OnLoss are invoked synchronously from the Run loop's
	// goroutine on every transition; the caller is expected to start/cancel
	// Controllers from these hooks (spec.md §4.3 Transitions).
	OnAcquire func(ctx context.Context)
	OnLoss    func()

	stateMu stateBox
}

// stateBox is a tiny concurrency-safe box around the elector's State,
// read by HolderID/State from any goroutine while Run's single goroutine
// writes it.
type stateBox struct {
	mu    sync.RWMutex
	value State
}

func (b *stateBox) get() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

func (b *stateBox) set(v State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = v
}

// New constructs an Elector with a freshly generated holder identity.
func New(s *store.Store, cfg Config) *Elector {
	e := &Elector{store: s, cfg: cfg, holderID: uuid.NewString()}
	e.stateMu.set(Follower)
	return e
}

// HolderID returns this process's identity as it would appear in a Lease it
// holds.
func (e *Elector) HolderID() string { return e.holderID }

// State returns the elector's current position in the state machine.
func (e *Elector) State() State { return e.stateMu.get() }

// Run drives the election loop until ctx is canceled. It is meant to be
// started once at server boot as a long-lived task (spec.md §5).
func (e *Elector) Run(ctx context.Context) {
	logger := log.FromContext(ctx).With("holder_id", e.holderID)
	ticker := time.NewTicker(e.cfg.RenewInterval)
	defer ticker.Stop()

	var controllerCtx context.Context
	var cancelControllers context.CancelFunc

	demote := func() {
		if e.stateMu.get() == Leader {
			logger.Infow("lost leadership, demoting to follower")
			if cancelControllers != nil {
				cancelControllers()
				cancelControllers = nil
			}
			if e.OnLoss != nil {
				e.OnLoss()
			}
		}
		e.stateMu.set(Follower)
	}

	var demotedAt time.Time
	for {
		select {
		case <-ctx.Done():
			demote()
			return
		case <-ticker.C:
		}

		switch e.stateMu.get() {
		case Leader:
			if err := e.renew(ctx); err != nil {
				metrics.LeaseRenewalsTotal.WithLabelValues("error").Inc()
				if demotedAt.IsZero() {
					demotedAt = time.Now()
				}
				logger.Warnw("failed renewing lease", "error", err)
				if time.Since(demotedAt) > e.cfg.LeaseTTL/2 {
					demote()
				}
				continue
			}
			metrics.LeaseRenewalsTotal.WithLabelValues("ok").Inc()
			demotedAt = time.Time{}
		default:
			e.stateMu.set(Candidate)
			acquired, err := e.tryAcquire(ctx)
			if err != nil {
				logger.Warnw("failed acquiring lease", "error", err)
				e.stateMu.set(Follower)
				continue
			}
			if !acquired {
				e.stateMu.set(Follower)
				continue
			}
			e.stateMu.set(Leader)
			logger.Infow("acquired leadership")
			controllerCtx, cancelControllers = context.WithCancel(ctx)
			if e.OnAcquire != nil {
				e.OnAcquire(controllerCtx)
			}
		}
	}
}

// readLease returns the current lease, or the zero value if absent.
func (e *Elector) readLease(ctx context.Context) (types.Lease, bool, error) {
	raw, ok, err := e.store.Get(ctx, types.ControllerLeaseKey)
	if err != nil || !ok {
		return types.Lease{}, ok, err
	}
	var l types.Lease
	if err := json.Unmarshal(raw, &l); err != nil {
		return types.Lease{}, false, err
	}
	return l, true, nil
}

// tryAcquire implements the read-then-write acquisition protocol of
// spec.md §4.3's Acquire step: read lease; if absent/expired, Put a fresh
// one; read back; declare victory only if holder_id == self. Race losers
// simply revert to Follower at the next tick.
func (e *Elector) tryAcquire(ctx context.Context) (bool, error) {
	now := time.Now()
	existing, ok, err := e.readLease(ctx)
	if err != nil {
		return false, err
	}
	if ok && !existing.Expired(now) && existing.HolderID != e.holderID {
		return false, nil
	}

	lease := types.Lease{HolderID: e.holderID, AcquiredAt: now, ExpiresAt: now.Add(e.cfg.LeaseTTL)}
	raw, _ := json.Marshal(lease)
	if err := e.store.Put(ctx, types.ControllerLeaseKey, raw); err != nil {
		return false, err
	}

	readBack, ok, err := e.readLease(ctx)
	if err != nil || !ok {
		return false, err
	}
	return readBack.HolderID == e.holderID, nil
}

// renew refreshes expires_at on a lease this process believes it holds.
func (e *Elector) renew(ctx context.Context) error {
	now := time.Now()
	lease := types.Lease{HolderID: e.holderID, AcquiredAt: now, ExpiresAt: now.Add(e.cfg.LeaseTTL)}
	raw, _ := json.Marshal(lease)
	return e.store.Put(ctx, types.ControllerLeaseKey, raw)
}
