// Package bus is a small in-process pub/sub bus with hierarchical
// topics, MQTT-style wildcards and retained messages.
package bus

import (
	"strings"
	"sync"
)

// Wildcards usable in subscription topics. PlusWild matches exactly one
// level; HashWild matches zero or more trailing levels and must be last.
const (
	PlusWild = "+"
	HashWild = "#"
)

// Topic is a sequence of levels, e.g. Topic{"twi", "0", "stats"}.
type Topic []string

// T builds a topic from its levels.
func T(levels ...string) Topic { return Topic(levels) }

func (t Topic) String() string { return strings.Join(t, "/") }

// Match reports whether the concrete topic t is matched by pattern.
func Match(pattern, t Topic) bool {
	for i, p := range pattern {
		if p == HashWild {
			return true
		}
		if i >= len(t) {
			return false
		}
		if p != PlusWild && p != t[i] {
			return false
		}
	}
	return len(pattern) == len(t)
}

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// NewMessage builds a message. A retained message with a nil payload
// clears the retained value for its topic.
func (b *Bus) NewMessage(t Topic, payload any, retained bool) *Message {
	return &Message{Topic: t, Payload: payload, Retained: retained}
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// deliver never blocks: when the queue is full the oldest message is
// dropped. Caller holds the bus lock.
func (s *Subscription) deliver(m *Message) {
	select {
	case s.ch <- m:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- m:
	default:
	}
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

// node is one level of the subscription trie. Wildcard levels are stored
// under their literal "+" and "#" keys.
type node struct {
	children map[string]*node
	subs     []*Subscription
}

type Bus struct {
	mu       sync.Mutex
	root     *node
	retained map[string]*Message
	qLen     int
}

// NewBus creates a bus whose subscriptions buffer queueLen messages.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{
		root:     &node{},
		retained: make(map[string]*Message),
		qLen:     queueLen,
	}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, lvl := range sub.topic {
		if n.children == nil {
			n.children = make(map[string]*node)
		}
		child, ok := n.children[lvl]
		if !ok {
			child = &node{}
			n.children[lvl] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	for _, m := range b.retained {
		if Match(sub.topic, m.Topic) {
			sub.deliver(m)
		}
	}
}

// Publish delivers msg to every matching subscription and updates the
// retained store. Publish topics must not contain wildcards.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.Retained {
		key := msg.Topic.String()
		if msg.Payload == nil {
			delete(b.retained, key)
		} else {
			b.retained[key] = msg
		}
	}
	b.root.collect(msg.Topic, func(s *Subscription) { s.deliver(msg) })
}

// collect calls fn for each subscription whose pattern matches t.
func (n *node) collect(t Topic, fn func(*Subscription)) {
	if h := n.children[HashWild]; h != nil {
		for _, s := range h.subs {
			fn(s)
		}
	}
	if len(t) == 0 {
		for _, s := range n.subs {
			fn(s)
		}
		return
	}
	if c := n.children[t[0]]; c != nil {
		c.collect(t[1:], fn)
	}
	if c := n.children[PlusWild]; c != nil {
		c.collect(t[1:], fn)
	}
}

// Retained returns the retained message for t, or nil.
func (b *Bus) Retained(t Topic) *Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained[t.String()]
}

func (b *Bus) unsubscribe(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	stack := make([]*node, 0, len(sub.topic))
	for _, lvl := range sub.topic {
		child, ok := n.children[lvl]
		if !ok {
			return false
		}
		stack = append(stack, n)
		n = child
	}

	found := false
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			found = true
			break
		}
	}

	// Prune empty nodes.
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.topic[i]
		child := parent.children[key]
		if len(child.subs) != 0 || len(child.children) != 0 {
			break
		}
		delete(parent.children, key)
	}
	return found
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection groups the subscriptions of one client so they can be torn
// down together.
type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(t Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(t, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers topic, which may contain wildcards. Matching
// retained messages are queued immediately.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: append(Topic(nil), topic...),
		ch:    make(chan *Message, c.bus.qLen),
		conn:  c,
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Calling it twice is a
// no-op.
func (c *Connection) Unsubscribe(sub *Subscription) {
	if !c.bus.unsubscribe(sub) {
		return
	}
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect closes all subscriptions of c.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if c.bus.unsubscribe(sub) {
			close(sub.ch)
		}
	}
}
