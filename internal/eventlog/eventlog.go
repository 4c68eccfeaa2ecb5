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

// Package eventlog implements the bounded ring buffer of spec.md §4.2: a
// monotonically sequenced stream of ChangeEvents fanned out to per-subscriber
// queues by key prefix. Grounded on the teacher's single-producer,
// many-consumer event Recorder (pkg/events in the teacher module), adapted
// from "broadcast to a shared audience" to "ordered replay-then-tail per
// subscriber", and on spec.md §9's instruction to replace callback/interface
// listeners with a typed channel per subscriber.
package eventlog

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/k3rs/k3rs/internal/kerrors"
)

// EventKind distinguishes a Store mutation's nature.
type EventKind string

const (
	Put    EventKind = "Put"
	Delete EventKind = "Delete"
)

// ChangeEvent is one Store mutation, sequence-numbered for watch ordering.
type ChangeEvent struct {
	Seq       uint64
	Kind      EventKind
	Key       string
	Value     []byte
	Timestamp int64 // unix nanos
}

// Frame is what Subscribe delivers: either a real ChangeEvent or a synthetic
// Compacted/Lagged marker (Event is the zero value in either case).
type Frame struct {
	Event     ChangeEvent
	Compacted bool
	Lagged    bool
}

const defaultCapacity = 10_000

// maxPendingPerSubscriber bounds the per-subscriber backlog queue. Delivery
// is best-effort (spec.md §4.2.4): a subscriber that cannot keep up is sent a
// single Lagged frame and dropped rather than letting its queue grow without
// bound.
const maxPendingPerSubscriber = 4096

// Log is a bounded ring buffer of ChangeEvents with prefix-filtered fan-out.
// The zero value is not usable; construct with New.
type Log struct {
	mu       sync.Mutex
	capacity int
	buf      []ChangeEvent // logical ring, oldest first
	nextSeq  uint64
	subs     map[int]*subscription
	nextSub  int
	logger   *zap.SugaredLogger
}

// subscription holds a strictly-ordered queue a single goroutine drains into
// the subscriber's delivery channel. Ordering is enforced by construction:
// every enqueue (the initial backlog replay and every later live push) takes
// place while Log.mu is held, so subscription registration and ChangeEvent
// appends are total-ordered the same way Store writes are.
type subscription struct {
	prefix string
	qmu    sync.Mutex
	queue  []Frame
	lagged bool
	notify chan struct{}
	cancel context.CancelFunc
}

// enqueue appends f unless the subscriber has already been marked lagged. If
// appending f would exceed maxPendingPerSubscriber, the backlog is discarded
// in favor of a single Lagged frame and further enqueues are suppressed; the
// caller (Client/agent) is expected to re-list and re-subscribe from its last
// observed seq, exactly as on Compacted.
func (s *subscription) enqueue(f Frame) {
	s.qmu.Lock()
	if s.lagged {
		s.qmu.Unlock()
		return
	}
	if len(s.queue) >= maxPendingPerSubscriber {
		s.queue = []Frame{{Lagged: true}}
		s.lagged = true
	} else {
		s.queue = append(s.queue, f)
	}
	s.qmu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (Frame, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return Frame{}, false
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	return f, true
}

// New constructs a Log with the given retention capacity (spec.md §4.2
// requires capacity >= 10,000); a non-positive capacity falls back to the
// default.
func New(logger *zap.SugaredLogger, capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Log{
		capacity: capacity,
		buf:      make([]ChangeEvent, 0, capacity),
		subs:     map[int]*subscription{},
		logger:   logger,
	}
}

func (l *Log) oldestSeq() uint64 {
	if len(l.buf) == 0 {
		return 0
	}
	return l.buf[0].Seq
}

// Append records a new event with a freshly allocated sequence number and
// fans it out to matching subscribers. Safe for concurrent use; the Store
// calls this under its own single-writer discipline but Append does not
// require it.
func (l *Log) Append(kind EventKind, key string, value []byte, unixNano int64) ChangeEvent {
	l.mu.Lock()
	l.nextSeq++
	ev := ChangeEvent{Seq: l.nextSeq, Kind: kind, Key: key, Value: value, Timestamp: unixNano}
	l.buf = append(l.buf, ev)
	if len(l.buf) > l.capacity {
		l.buf = l.buf[len(l.buf)-l.capacity:]
	}
	matching := make([]*subscription, 0, len(l.subs))
	for _, s := range l.subs {
		if strings.HasPrefix(key, s.prefix) {
			matching = append(matching, s)
		}
	}
	l.mu.Unlock()

	for _, s := range matching {
		s.enqueue(Frame{Event: ev})
	}
	return ev
}

// Subscribe implements spec.md §4.2's Subscribe(prefix, since_seq) operation.
// The returned channel is closed once ctx is canceled; callers must drain it
// until closed to release the subscriber slot promptly.
func (l *Log) Subscribe(ctx context.Context, prefix string, sinceSeq uint64) <-chan Frame {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Frame, 256)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	sub := &subscription{prefix: prefix, cancel: cancel, notify: make(chan struct{}, 1)}

	if sinceSeq != 0 && sinceSeq < l.oldestSeq() {
		sub.queue = append(sub.queue, Frame{Compacted: true})
	} else {
		for _, ev := range l.buf {
			if ev.Seq > sinceSeq && strings.HasPrefix(ev.Key, prefix) {
				sub.queue = append(sub.queue, Frame{Event: ev})
			}
		}
	}
	l.subs[id] = sub
	l.mu.Unlock()

	go l.drain(ctx, id, sub, out)

	return out
}

func (l *Log) drain(ctx context.Context, id int, sub *subscription, out chan<- Frame) {
	defer func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
		close(out)
	}()
	for {
		f, ok := sub.pop()
		if !ok {
			select {
			case <-sub.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- f:
			if f.Lagged {
				// Delivery done: a lagged subscriber is dropped, not kept
				// around to silently discard further events.
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len reports the number of events currently retained, for tests and metrics.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// LatestSeq returns the highest sequence number appended so far, or 0 if the
// log is empty. Subscribing with since_seq == LatestSeq() starts a watch
// from "now", replaying nothing.
func (l *Log) LatestSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

// CompactedErr lets callers that prefer errors.Is(err, kerrors.Compacted)
// translate a Frame into an error instead of branching on Frame.Compacted.
func CompactedErr() error { return kerrors.Compacted }
