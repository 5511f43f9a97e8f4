// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package tally

import (
	"sync"

	"github.com/danielhkuo/ballotbox/metrics"
	"github.com/danielhkuo/ballotbox/models"
)

// DefaultBuffer is the number of pushes a subscriber may lag behind.
const DefaultBuffer = 8

// Subscription receives tally pushes for one poll until it is unsubscribed.
type Subscription struct {
	PollID string
	C      <-chan models.Tally

	ch     chan models.Tally
	closed bool
}

// Broadcaster fans committed tallies out to live subscribers. Publish never
// blocks: a subscriber that falls behind loses its oldest pending push, which
// is safe because every push carries absolute counts.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	metrics *metrics.Metrics
}

func NewBroadcaster(buffer int, m *metrics.Metrics) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: m,
	}
}

// Subscribe registers interest in a poll's tally.
func (b *Broadcaster) Subscribe(pollID string) *Subscription {
	ch := make(chan models.Tally, b.buffer)
	sub := &Subscription{PollID: pollID, C: ch, ch: ch}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[pollID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[pollID] = set
	}
	set[sub] = struct{}{}
	b.metrics.SubscriberAdded()
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Calling it
// more than once is a no-op.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub)
}

func (b *Broadcaster) remove(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	b.metrics.SubscriberRemoved()

	set := b.subs[sub.PollID]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.PollID)
	}
}

// Publish delivers t to every subscriber of t.PollID.
func (b *Broadcaster) Publish(t models.Tally) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[t.PollID] {
		select {
		case sub.ch <- t:
			continue
		default:
		}

		// Full: replace the stalest push with the newest one.
		select {
		case <-sub.ch:
			b.metrics.PushDropped()
		default:
		}
		select {
		case sub.ch <- t:
		default:
			b.metrics.PushDropped()
		}
	}
}

// Subscribers reports how many subscriptions a poll has.
func (b *Broadcaster) Subscribers(pollID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[pollID])
}

// Close ends every subscription. Used on shutdown so streaming handlers return.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.subs {
		for sub := range set {
			b.remove(sub)
		}
	}
}
