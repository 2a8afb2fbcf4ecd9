// bus.go
package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

// Token is one element of a topic path. Any comparable value works; the
// strings "+" (one level) and "#" (this level and everything below) are
// wildcards when they appear in a subscription.
type Token = any

const (
	Single = "+"
	Multi  = "#"
)

// Topic is a sequence of tokens.
type Topic []Token

// T builds a topic and panics on a non-comparable token.
func T(tokens ...any) Topic {
	for _, t := range tokens {
		if t == nil || !reflect.TypeOf(t).Comparable() {
			panic(fmt.Sprintf("bus: token %#v is not comparable", t))
		}
	}
	return Topic(tokens)
}

// Append returns a new topic with extra tokens on the end.
func (t Topic) Append(tokens ...any) Topic {
	out := make(Topic, 0, len(t)+len(tokens))
	out = append(out, t...)
	return append(out, T(tokens...)...)
}

func (t Topic) String() string {
	s := ""
	for i, tok := range t {
		if i > 0 {
			s += "/"
		}
		s += fmt.Sprint(tok)
	}
	return s
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection
	once  sync.Once
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie
// -----------------------------------------------------------------------------

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(tok Token, create bool) *node {
	if c, ok := n.children[tok]; ok {
		return c
	}
	if !create {
		return nil
	}
	if n.children == nil {
		n.children = make(map[Token]*node)
	}
	c := &node{}
	n.children[tok] = c
	return c
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu     sync.RWMutex
	subs   *node // subscription patterns
	store  *node // retained messages by concrete topic
	qLen   int
	nextID atomic.Uint64
}

// NewBus creates a bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{subs: &node{}, store: &node{}, qLen: queueLen}
}

// NewMessage builds a message; it does not publish it.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
		return
	default:
	}
	// Queue full: drop the oldest so the newest state wins.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- msg:
	default:
	}
}

// matchSubs walks the pattern trie collecting subscriptions that match topic.
func matchSubs(n *node, topic Topic, out []*Subscription) []*Subscription {
	if h := n.children[Multi]; h != nil {
		out = append(out, h.subs...)
	}
	if len(topic) == 0 {
		return append(out, n.subs...)
	}
	if c := n.children[topic[0]]; c != nil {
		out = matchSubs(c, topic[1:], out)
	}
	if topic[0] != Single {
		if c := n.children[Single]; c != nil {
			out = matchSubs(c, topic[1:], out)
		}
	}
	return out
}

// matchRetained collects retained messages whose topic matches pattern.
func matchRetained(n *node, pattern Topic, out []*Message) []*Message {
	if len(pattern) == 0 {
		if n.retained != nil {
			out = append(out, n.retained)
		}
		return out
	}
	switch pattern[0] {
	case Multi:
		return collectAll(n, out)
	case Single:
		for _, c := range n.children {
			out = matchRetained(c, pattern[1:], out)
		}
		return out
	}
	if c := n.children[pattern[0]]; c != nil {
		out = matchRetained(c, pattern[1:], out)
	}
	return out
}

func collectAll(n *node, out []*Message) []*Message {
	if n.retained != nil {
		out = append(out, n.retained)
	}
	for _, c := range n.children {
		out = collectAll(c, out)
	}
	return out
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.subs
	for _, tok := range sub.topic {
		n = n.child(tok, true)
	}
	n.subs = append(n.subs, sub)
	for _, m := range matchRetained(b.store, sub.topic, nil) {
		deliver(sub, m)
	}
}

// Publish delivers msg to every matching subscriber and updates the
// retained store. A retained message with a nil payload clears the topic.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.Retained {
		n := b.store
		for _, tok := range msg.Topic {
			n = n.child(tok, msg.Payload != nil)
			if n == nil {
				break
			}
		}
		if n != nil {
			if msg.Payload == nil {
				n.retained = nil
			} else {
				n.retained = msg
			}
		}
	}
	for _, sub := range matchSubs(b.subs, msg.Topic, nil) {
		deliver(sub, msg)
	}
}

func (b *Bus) removeSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := make([]*node, 0, len(sub.topic)+1)
	n := b.subs
	path = append(path, n)
	for _, tok := range sub.topic {
		if n = n.child(tok, false); n == nil {
			return
		}
		path = append(path, n)
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	for i := len(sub.topic); i > 0; i-- {
		c := path[i]
		if len(c.subs) > 0 || len(c.children) > 0 {
			break
		}
		delete(path[i-1].children, sub.topic[i-1])
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	id   string
	mu   sync.Mutex
	subs []*Subscription
}

// NewConnection creates a connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return c.bus.NewMessage(topic, payload, retained)
}

func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a subscription owned by this connection. Retained
// messages matching topic are queued immediately.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{topic: topic, ch: make(chan *Message, c.bus.qLen), conn: c}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.closeSub(sub)
}

func (c *Connection) closeSub(sub *Subscription) {
	sub.once.Do(func() {
		c.bus.removeSubscription(sub)
		close(sub.ch)
	})
}

// Disconnect closes every subscription of this connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		c.closeSub(s)
	}
}

// -----------------------------------------------------------------------------
// Request / Reply
// -----------------------------------------------------------------------------

var ErrNoReplyTo = errors.New("no_reply_to")

// Request assigns msg a private reply topic, subscribes to it, publishes
// msg and returns the reply subscription. The caller unsubscribes.
func (c *Connection) Request(msg *Message) *Subscription {
	msg.ReplyTo = T("_reply", c.id, c.bus.nextID.Add(1))
	sub := c.Subscribe(msg.ReplyTo)
	c.Publish(msg)
	return sub
}

// RequestWait is Request followed by a wait for the first reply.
func (c *Connection) RequestWait(ctx context.Context, msg *Message) (*Message, error) {
	sub := c.Request(msg)
	defer c.Unsubscribe(sub)
	select {
	case m, ok := <-sub.Channel():
		if !ok {
			return nil, errors.New("reply subscription closed")
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply publishes payload to req's reply topic.
func (c *Connection) Reply(req *Message, payload any, retained bool) error {
	if len(req.ReplyTo) == 0 {
		return ErrNoReplyTo
	}
	c.Publish(c.NewMessage(req.ReplyTo, payload, retained))
	return nil
}
