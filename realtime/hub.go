package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrClosed indicates the channel, subscription or hub was already closed.
	ErrClosed = errors.New("realtime: closed")
	// ErrInvalidName indicates an empty channel or table name.
	ErrInvalidName = errors.New("realtime: name is required")
)

// Handler receives broadcast events on a named channel.
type Handler func(event string, payload []byte)

// ChangeHandler receives row changes matching a Filter.
type ChangeHandler func(Change)

// ChangeInsert is the only change type the feed currently publishes.
const ChangeInsert = "INSERT"

// Change is one row change published on the feed. Columns carries the values that
// filters may match on; Record is the full row as published by the store.
type Change struct {
	Table   string
	Type    string
	Columns map[string]string
	Record  any
}

// Filter selects changes for one table, optionally narrowed to rows whose Column
// equals Value.
type Filter struct {
	Table  string
	Column string
	Value  string
}

func (f Filter) matches(change Change) bool {
	if f.Table != change.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	value, ok := change.Columns[f.Column]
	return ok && value == f.Value
}

// Options configures a Hub.
type Options struct {
	Logger *zerolog.Logger
}

// Hub is an in-process pub/sub service: named broadcast channels plus a row
// change feed. Every subscriber receives its deliveries in publish order.
type Hub struct {
	log zerolog.Logger

	mu       sync.Mutex
	nextID   uint64
	channels map[string]map[uint64]*Channel
	watchers map[uint64]*Subscription
	closed   bool
}

// NewHub creates an empty hub.
func NewHub(options Options) *Hub {
	log := zerolog.Nop()
	if options.Logger != nil {
		log = options.Logger.With().Str("component", "realtime").Logger()
	}
	return &Hub{
		log:      log,
		channels: make(map[string]map[uint64]*Channel),
		watchers: make(map[uint64]*Subscription),
	}
}

// Channel is one subscriber's membership of a named broadcast channel.
type Channel struct {
	hub     *Hub
	id      uint64
	name    string
	handler Handler
	box     *mailbox
}

// Join subscribes handler to the named channel.
func (h *Hub) Join(name string, handler Handler) (*Channel, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if handler == nil {
		return nil, errors.New("realtime: handler is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	h.nextID++
	channel := &Channel{hub: h, id: h.nextID, name: name, handler: handler, box: newMailbox()}
	members := h.channels[name]
	if members == nil {
		members = make(map[uint64]*Channel)
		h.channels[name] = members
	}
	members[channel.id] = channel
	return channel, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Send broadcasts an event to every other subscriber of the channel. The sender
// does not receive its own broadcast.
func (c *Channel) Send(ctx context.Context, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h := c.hub
	h.mu.Lock()
	members, ok := h.channels[c.name]
	if h.closed || !ok || members[c.id] != c {
		h.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*Channel, 0, len(members))
	for id, member := range members {
		if id != c.id {
			targets = append(targets, member)
		}
	}
	h.mu.Unlock()

	data := append([]byte(nil), payload...)
	for _, target := range targets {
		target.deliver(event, data)
	}
	return nil
}

func (c *Channel) deliver(event string, payload []byte) {
	c.box.push(func() {
		defer c.hub.recoverHandler("channel", c.name)
		c.handler(event, payload)
	})
}

// Unsubscribe leaves the channel. Pending deliveries are dropped.
func (c *Channel) Unsubscribe() {
	h := c.hub
	h.mu.Lock()
	if members, ok := h.channels[c.name]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.channels, c.name)
		}
	}
	h.mu.Unlock()
	c.box.close()
}

// Subscription is one change feed watcher.
type Subscription struct {
	hub     *Hub
	id      uint64
	filter  Filter
	handler ChangeHandler
	box     *mailbox
}

// Watch subscribes handler to changes matching filter.
func (h *Hub) Watch(filter Filter, handler ChangeHandler) (*Subscription, error) {
	if filter.Table == "" {
		return nil, ErrInvalidName
	}
	if handler == nil {
		return nil, errors.New("realtime: handler is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	h.nextID++
	sub := &Subscription{hub: h, id: h.nextID, filter: filter, handler: handler, box: newMailbox()}
	h.watchers[sub.id] = sub
	return sub, nil
}

// Unsubscribe stops the watcher. Pending deliveries are dropped.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	delete(s.hub.watchers, s.id)
	s.hub.mu.Unlock()
	s.box.close()
}

// Publish fans a change out to every matching watcher.
func (h *Hub) Publish(change Change) {
	if change.Type == "" {
		change.Type = ChangeInsert
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	targets := make([]*Subscription, 0, len(h.watchers))
	for _, sub := range h.watchers {
		if sub.filter.matches(change) {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.box.push(func() {
			defer h.recoverHandler("feed", change.Table)
			sub.handler(change)
		})
	}
	h.log.Debug().Str("table", change.Table).Str("type", change.Type).Int("watchers", len(targets)).Msg("Published change")
}

// Subscribers returns the number of live subscribers of a channel.
func (h *Hub) Subscribers(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[name])
}

// Watchers returns the number of live change feed watchers.
func (h *Hub) Watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.watchers)
}

// Close unsubscribes everything. Later joins and publishes fail or no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	channels := h.channels
	watchers := h.watchers
	h.channels = make(map[string]map[uint64]*Channel)
	h.watchers = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, members := range channels {
		for _, member := range members {
			member.box.close()
		}
	}
	for _, sub := range watchers {
		sub.box.close()
	}
}

func (h *Hub) recoverHandler(kind, name string) {
	if r := recover(); r != nil {
		h.log.Error().Str("kind", kind).Str("name", name).Interface("panic", r).Msg("Realtime handler panicked")
	}
}
