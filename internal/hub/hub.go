// Package hub fans the latest measurement out to live subscribers.
//
// Each subscriber owns a small bounded queue. Broadcast never waits on a
// subscriber: when a queue is full the hub either drops that subscriber's
// oldest queued measurement or disconnects it, depending on the configured
// OverflowPolicy. The transport goroutine serving a subscriber drains C()
// and may block on its network connection without affecting anyone else.
package hub

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chrissnell/scalebridge/internal/latest"
	"github.com/chrissnell/scalebridge/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by Subscribe after the hub has been shut down.
var ErrClosed = errors.New("hub closed")

// Source supplies the snapshot handed to new subscribers.
type Source interface {
	Read() (latest.Snapshot, bool)
}

// OverflowPolicy decides what happens when a subscriber's queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued measurement to make room.
	DropOldest OverflowPolicy = iota
	// Disconnect removes the subscriber.
	Disconnect
)

// ParsePolicy maps a configuration value to an OverflowPolicy.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(s) {
	case "", "drop_oldest":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	default:
		return DropOldest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

func (p OverflowPolicy) String() string {
	if p == Disconnect {
		return "disconnect"
	}
	return "drop_oldest"
}

// Options configures a Hub.
type Options struct {
	QueueSize int
	Policy    OverflowPolicy
	Logger    *zap.SugaredLogger
}

// Hub tracks live subscribers.
type Hub struct {
	source Source
	opts   Options
	logger *zap.SugaredLogger

	// mu is held for reading while broadcasting and for writing while the
	// subscriber set changes, so a new subscriber's bootstrap can never
	// interleave with a broadcast.
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	closed bool
}

// New returns a hub that bootstraps subscribers from source.
func New(source Source, opts Options) *Hub {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Hub{
		source: source,
		opts:   opts,
		logger: opts.Logger,
		subs:   make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber. If the source already holds a
// measurement it is queued immediately, so late joiners start with the
// current reading rather than a blank display.
func (h *Hub) Subscribe(remote string) (*Subscriber, error) {
	s := &Subscriber{
		id:          uuid.NewString(),
		remote:      remote,
		connectedAt: time.Now(),
		ch:          make(chan latest.Snapshot, h.opts.QueueSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	if snap, ok := h.source.Read(); ok {
		s.offer(snap, h.opts.Policy)
	}
	h.subs[s.id] = s
	metrics.Subscribers.Set(float64(len(h.subs)))

	h.logger.Infof("subscriber %s [%s] connected (%d active)", s.id, remote, len(h.subs))
	return s, nil
}

// Broadcast queues snap for every subscriber. It never blocks on a
// subscriber and never fails; subscribers that fall behind under the
// Disconnect policy are removed.
func (h *Hub) Broadcast(snap latest.Snapshot) {
	var evicted []*Subscriber

	h.mu.RLock()
	for _, s := range h.subs {
		if !s.offer(snap, h.opts.Policy) {
			evicted = append(evicted, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range evicted {
		metrics.EvictedSubscribersTotal.Inc()
		h.logger.Warnf("subscriber %s [%s] fell behind; disconnecting", s.id, s.remote)
		h.Unsubscribe(s.id)
	}
}

// Unsubscribe removes a subscriber and closes its channel. Removing an
// unknown or already removed subscriber is a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		metrics.Subscribers.Set(float64(len(h.subs)))
	}
	remaining := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	h.logger.Infof("subscriber %s [%s] disconnected after %v (%d active)",
		s.id, s.remote, time.Since(s.connectedAt).Round(time.Second), remaining)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscriber)
	h.closed = true
	metrics.Subscribers.Set(0)
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	if len(subs) > 0 {
		h.logger.Infof("closed %d subscribers", len(subs))
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Subscriber is one live connection's delivery queue.
type Subscriber struct {
	id          string
	remote      string
	connectedAt time.Time
	ch          chan latest.Snapshot

	mu      sync.Mutex
	closed  bool
	lastSeq uint64
	dropped uint64
}

// ID identifies the subscriber for Unsubscribe.
func (s *Subscriber) ID() string { return s.id }

// Remote is the peer address given at Subscribe.
func (s *Subscriber) Remote() string { return s.remote }

// C delivers snapshots in installation order. It is closed when the
// subscriber is removed from the hub.
func (s *Subscriber) C() <-chan latest.Snapshot { return s.ch }

// Dropped returns how many snapshots were discarded from a full queue.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// offer queues snap. It returns false only when the queue is full and the
// policy is Disconnect. Snapshots not newer than the last one queued are
// skipped, which keeps delivery in order when a bootstrap and a broadcast
// carry the same measurement.
func (s *Subscriber) offer(snap latest.Snapshot, policy OverflowPolicy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || snap.Seq <= s.lastSeq {
		return true
	}

	select {
	case s.ch <- snap:
		s.lastSeq = snap.Seq
		return true
	default:
	}

	if policy == Disconnect {
		return false
	}

	// Every producer holds s.mu, so once one element is taken out the send
	// below cannot find the queue full.
	select {
	case <-s.ch:
		s.dropped++
		metrics.DroppedDeliveriesTotal.Inc()
	default:
	}
	s.ch <- snap
	s.lastSeq = snap.Seq
	return true
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
