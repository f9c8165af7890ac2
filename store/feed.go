package store

import (
	"log/slog"
	"os"
	"sync"
)

const defaultSubscriptionBuffer = 16

// Feed fans change events out to subscriptions. A single goroutine owns the
// subscriber set; subscribing, cancelling and publishing are all funnelled
// through channels so the set is never accessed concurrently.
type Feed struct {
	subscribeChan chan *Subscription
	cancelChan    chan *Subscription
	publishChan   chan ChangeEvent
	// exit signals the feed is closing. Publishing on a closed feed drops
	// the event.
	exit chan struct{}

	logger  *slog.Logger
	bufSize int

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type FeedOption func(*Feed)

func WithLogger(logger *slog.Logger) FeedOption {
	return func(f *Feed) {
		f.logger = logger
	}
}

// WithSubscriptionBuffer sets the per-subscription event buffer size. Events
// for a subscription whose buffer is full are dropped.
func WithSubscriptionBuffer(n int) FeedOption {
	return func(f *Feed) {
		f.bufSize = n
	}
}

func NewFeed(opts ...FeedOption) *Feed {
	f := &Feed{
		subscribeChan: make(chan *Subscription),
		cancelChan:    make(chan *Subscription),
		publishChan:   make(chan ChangeEvent),
		exit:          make(chan struct{}),
		logger:        slog.New(slog.NewTextHandler(os.Stderr, nil)),
		bufSize:       defaultSubscriptionBuffer,
	}

	for _, opt := range opts {
		opt(f)
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run()
	}()

	return f
}

func (f *Feed) run() {
	subs := make(map[*Subscription]struct{})
	defer func() {
		for sub := range subs {
			close(sub.events)
		}
	}()

	for {
		select {
		case sub := <-f.subscribeChan:
			subs[sub] = struct{}{}

		case sub := <-f.cancelChan:
			if _, ok := subs[sub]; !ok {
				continue
			}
			delete(subs, sub)
			close(sub.events)

		case event := <-f.publishChan:
			for sub := range subs {
				if !sub.filter.Matches(&event) {
					continue
				}
				select {
				case sub.events <- event:
				default:
					f.logger.Warn("subscription buffer full, dropping event",
						slog.String("collection", event.Collection),
						slog.String("type", event.Type))
				}
			}

		case <-f.exit:
			return
		}
	}
}

// Publish delivers the event to every matching subscription. Events
// published on a closed feed are dropped.
func (f *Feed) Publish(event ChangeEvent) {
	select {
	case f.publishChan <- event:
	case <-f.exit:
	}
}

// Subscribe registers a callback for events matching the filter. The
// callback is invoked serially, in delivery order, on a dedicated goroutine.
func (f *Feed) Subscribe(filter Filter, fn func(ChangeEvent)) *Subscription {
	sub := &Subscription{
		feed:   f,
		filter: filter,
		events: make(chan ChangeEvent, f.bufSize),
	}

	select {
	case f.subscribeChan <- sub:
	case <-f.exit:
		close(sub.events)
		return sub
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for event := range sub.events {
			fn(event)
		}
	}()

	return sub
}

// Close stops the feed and releases every subscription. It blocks until all
// pending callbacks have returned.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.exit)
	})
	f.wg.Wait()
}

// Subscription is a cancellable handle to a stream of change events.
type Subscription struct {
	feed       *Feed
	filter     Filter
	events     chan ChangeEvent
	cancelOnce sync.Once
}

// Filter returns the filter the subscription was created with.
func (s *Subscription) Filter() Filter {
	return s.filter
}

// Cancel releases the subscription. Events already buffered may still be
// delivered; no new events are. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		select {
		case s.feed.cancelChan <- s:
		case <-s.feed.exit:
		}
	})
}
