// Package realtime fans profile row changes out to interested subscribers.
package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultBufferSize = 16

// ChangeKind names the row-level operation that produced a change.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "INSERT"
	ChangeUpdated  ChangeKind = "UPDATE"
	ChangeDeleted  ChangeKind = "DELETE"
)

// Change describes a committed mutation of a profile row.
type Change struct {
	Kind                ChangeKind
	ExternalID          string
	ProfileID           string
	XPTotal             int64
	OnboardingCompleted bool
	Timestamp           time.Time
}

// Filter selects the changes a subscriber receives. An empty filter matches every change.
type Filter struct {
	ExternalID string
}

// Matches reports whether the change passes the filter.
func (f Filter) Matches(change Change) bool {
	return f.ExternalID == "" || f.ExternalID == change.ExternalID
}

// Config describes optional notifier settings.
type Config struct {
	BufferSize int
	Logger     *zap.Logger
}

// Notifier owns the subscription registry. All registry mutations go through mu.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[int64]*Subscription
	nextID      int64
	bufferSize  int
	logger      *zap.Logger
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id       int64
	filter   Filter
	stream   chan Change
	done     chan struct{}
	once     sync.Once
	notifier *Notifier
}

// NewNotifier constructs an empty notifier.
func NewNotifier(cfg Config) *Notifier {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		subscribers: make(map[int64]*Subscription),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers onChange for changes matching filter. Delivery happens on a
// dedicated goroutine in publish order. The subscription ends when ctx is done or
// when Close/Unsubscribe is called.
func (n *Notifier) Subscribe(ctx context.Context, filter Filter, onChange func(Change)) *Subscription {
	subscription := &Subscription{
		filter:   filter,
		stream:   make(chan Change, n.bufferSize),
		done:     make(chan struct{}),
		notifier: n,
	}

	n.mu.Lock()
	n.nextID++
	subscription.id = n.nextID
	n.subscribers[subscription.id] = subscription
	n.mu.Unlock()

	go subscription.deliver(onChange)
	go func() {
		select {
		case <-ctx.Done():
			subscription.Close()
		case <-subscription.done:
		}
	}()
	return subscription
}

// Unsubscribe detaches the subscription. Safe to call repeatedly or with nil.
func (n *Notifier) Unsubscribe(subscription *Subscription) {
	if subscription == nil {
		return
	}
	subscription.Close()
}

// Publish hands the change to every matching subscriber without blocking.
// A subscriber whose buffer is full misses the change.
func (n *Notifier) Publish(change Change) {
	if change.ExternalID == "" || change.Kind == "" {
		return
	}

	n.mu.Lock()
	targets := make([]*Subscription, 0, len(n.subscribers))
	for _, subscription := range n.subscribers {
		if subscription.filter.Matches(change) {
			targets = append(targets, subscription)
		}
	}
	n.mu.Unlock()

	for _, subscription := range targets {
		select {
		case <-subscription.done:
		case subscription.stream <- change:
		default:
			n.logger.Warn("realtime subscriber buffer full, dropping change",
				zap.Int64("subscription_id", subscription.id),
				zap.String("external_id", change.ExternalID),
				zap.String("kind", string(change.Kind)))
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}

func (n *Notifier) remove(id int64) {
	n.mu.Lock()
	delete(n.subscribers, id)
	n.mu.Unlock()
}

// Close detaches the subscription from its notifier. Idempotent.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.notifier.remove(s.id)
		close(s.done)
	})
}

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) deliver(onChange func(Change)) {
	for {
		select {
		case <-s.done:
			return
		case change := <-s.stream:
			if onChange != nil {
				onChange(change)
			}
		}
	}
}
