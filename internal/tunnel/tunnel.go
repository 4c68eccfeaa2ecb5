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

// Package tunnel implements the TunnelClient contract of spec.md §4.9: a
// persistent agent-to-server channel that reconnects with exponential
// backoff (1s, 2s, 4s, 8s, 16s, 30s, 30s, …) and resumes its watch from the
// last observed seq, re-listing on Compacted. Grounded on the teacher's
// machine/termination controller, which wraps a workqueue in a
// golang.org/x/time/rate limiter (BucketRateLimiter) to bound retry
// pressure; here the same library bounds how fast the agent re-dials so a
// flapping network can't busy-loop the reconnect attempt itself, on top of
// the explicit backoff schedule spec.md §4.9 mandates.
package tunnel

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/k3rs/k3rs/internal/eventlog"
	"github.com/k3rs/k3rs/internal/kerrors"
	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/pretty"
)

// Dialer opens one streaming watch session against the server, starting
// from sinceSeq (0 meaning "from the beginning of retained history"). The
// out-of-process transport (mTLS, framing) is an external collaborator per
// spec.md §2; Dialer is the only seam the agent depends on.
type Dialer interface {
	Dial(ctx context.Context, prefixes []string, sinceSeq uint64) (<-chan eventlog.Frame, error)
}

// backoffSchedule is spec.md §4.9's reconnection sequence, verbatim.
var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	16 * time.Second, 30 * time.Second,
}

func backoffFor(attempt int) time.Duration {
	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

// Client drives one long-lived Dialer session, invoking onFrame for every
// delivered frame and transparently reconnecting (with a re-list via
// onCompacted) across disconnects. Running containers, PodSync, and the
// service proxy are unaffected by disconnection per spec.md §4.9 — Client
// only ever delivers frames to its caller, it never itself blocks anything
// else in the agent.
type Client struct {
	dialer   Dialer
	prefixes []string
	limiter  *rate.Limiter

	onFrame     func(eventlog.Frame)
	onCompacted func(ctx context.Context) (sinceSeq uint64, err error)

	// dialErrors suppresses repeated identical "tunnel dial failed" log lines
	// during a long outage, so a flapping link doesn't flood the agent's log
	// with one line per backoff attempt.
	dialErrors *pretty.ChangeMonitor
}

// New constructs a Client. onCompacted is invoked whenever the server
// reports the client's last-known seq fell out of the retention window; it
// must re-list the watched prefixes and return the seq to resume from.
func New(d Dialer, prefixes []string, onFrame func(eventlog.Frame), onCompacted func(context.Context) (uint64, error)) *Client {
	return &Client{
		dialer:      d,
		prefixes:    prefixes,
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		onFrame:     onFrame,
		onCompacted: onCompacted,
		dialErrors:  pretty.NewChangeMonitor(time.Minute),
	}
}

// Run drives the reconnect loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context, lastSeq uint64) error {
	logger := log.FromContext(ctx)
	attempt := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		frames, err := c.dialer.Dial(ctx, c.prefixes, lastSeq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.dialErrors.HasChanged("dial", err.Error()) {
				logger.Warnw("tunnel dial failed, backing off", "attempt", attempt, "error", err)
			}
			if !sleep(ctx, backoffFor(attempt)) {
				return ctx.Err()
			}
			attempt++
			continue
		}
		attempt = 0

		lastSeq, err = c.drain(ctx, frames, lastSeq)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Channel closed by the server side (idle timeout, restart): loop to
		// redial from lastSeq.
	}
}

func (c *Client) drain(ctx context.Context, frames <-chan eventlog.Frame, lastSeq uint64) (uint64, error) {
	for {
		select {
		case <-ctx.Done():
			return lastSeq, ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return lastSeq, nil
			}
			if f.Compacted || f.Lagged {
				seq, err := c.onCompacted(ctx)
				if err != nil && !errors.Is(err, kerrors.StoreUnavailable) {
					return lastSeq, err
				}
				lastSeq = seq
				continue
			}
			c.onFrame(f)
			lastSeq = f.Event.Seq
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
