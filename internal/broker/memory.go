package broker

import (
	"context"
	"strings"
	"sync"
)

// Delivery is a message as seen by a MemoryBroker binding.
type Delivery struct {
	Exchange   string
	RoutingKey string
	Message
}

// MemoryBroker is an in-process broker with topic exchanges. It backs the memory driver
// and tests. Bindings are buffered queues; when one is full the publish reports
// backpressure and the delivery is completed in the background.
type MemoryBroker struct {
	bufferSize int

	mu        sync.Mutex
	exchanges map[string]*memoryExchange
	conns     map[*memoryConnection]struct{}
	dials     int
	dialErr   error
	dialGate  chan struct{}
	blocked   bool
	done      chan struct{}
	closed    bool
}

type memoryExchange struct {
	kind     string
	bindings []*memoryBinding
}

type memoryBinding struct {
	pattern string
	queue   chan Delivery
}

// NewMemoryBroker creates a broker whose binding queues hold bufferSize messages.
func NewMemoryBroker(bufferSize int) *MemoryBroker {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &MemoryBroker{
		bufferSize: bufferSize,
		exchanges:  make(map[string]*memoryExchange),
		conns:      make(map[*memoryConnection]struct{}),
		done:       make(chan struct{}),
	}
}

// Dial opens a connection. It fails with the error set by FailDials, if any, and waits
// while dials are held.
func (b *MemoryBroker) Dial(ctx context.Context) (Connection, error) {
	b.mu.Lock()
	b.dials++
	gate := b.dialGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrConnectionClosed
	}
	if b.dialErr != nil {
		return nil, b.dialErr
	}

	conn := &memoryConnection{
		broker: b,
		closed: make(chan error, 1),
		errs:   make(chan error, 16),
	}
	b.conns[conn] = struct{}{}
	return conn, nil
}

// Dials returns how many times Dial was called.
func (b *MemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// FailDials makes every following Dial return err. nil restores normal dialing.
func (b *MemoryBroker) FailDials(err error) {
	b.mu.Lock()
	b.dialErr = err
	b.mu.Unlock()
}

// HoldDials parks every following Dial until release is called.
func (b *MemoryBroker) HoldDials() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.dialGate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.dialGate == gate {
				b.dialGate = nil
			}
			b.mu.Unlock()
			close(gate)
		})
	}
}

// SetBlocked simulates a broker resource alarm: publishes still go through but report
// backpressure.
func (b *MemoryBroker) SetBlocked(blocked bool) {
	b.mu.Lock()
	b.blocked = blocked
	b.mu.Unlock()
}

// Sever drops every open connection as if the broker went away, delivering err on Closed.
func (b *MemoryBroker) Sever(err error) {
	b.mu.Lock()
	conns := make([]*memoryConnection, 0, len(b.conns))
	for conn := range b.conns {
		conns = append(conns, conn)
	}
	b.mu.Unlock()

	for _, conn := range conns {
		conn.shutdown(err)
	}
}

// InjectError reports err on every open connection without closing it.
func (b *MemoryBroker) InjectError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.conns {
		select {
		case conn.errs <- err:
		default:
		}
	}
}

// Bind attaches a queue to exchange for routing keys matching pattern. '*' matches one
// dot-separated word and '#' matches zero or more.
func (b *MemoryBroker) Bind(exchange, pattern string) <-chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, ok := b.exchanges[exchange]
	if !ok {
		ex = &memoryExchange{kind: ExchangeTopic}
		b.exchanges[exchange] = ex
	}
	binding := &memoryBinding{
		pattern: pattern,
		queue:   make(chan Delivery, b.bufferSize),
	}
	ex.bindings = append(ex.bindings, binding)
	return binding.queue
}

// Exchanges returns the declared exchanges and their kinds.
func (b *MemoryBroker) Exchanges() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.exchanges))
	for name, ex := range b.exchanges {
		out[name] = ex.kind
	}
	return out
}

// Close shuts the broker down and stops pending background deliveries.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.Sever(nil)
	return nil
}

func (b *MemoryBroker) declare(name, kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.exchanges[name]; !ok {
		b.exchanges[name] = &memoryExchange{kind: kind}
	}
}

func (b *MemoryBroker) route(exchange, routingKey string, msg Message) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ex, ok := b.exchanges[exchange]
	if !ok {
		return false, ErrUnknownExchange
	}

	backpressure := b.blocked
	d := Delivery{Exchange: exchange, RoutingKey: routingKey, Message: msg}
	for _, binding := range ex.bindings {
		if !matchTopic(binding.pattern, routingKey) {
			continue
		}
		select {
		case binding.queue <- d:
		default:
			// queue full, finish the send in the background
			backpressure = true
			go func(q chan Delivery) {
				select {
				case q <- d:
				case <-b.done:
				}
			}(binding.queue)
		}
	}
	return backpressure, nil
}

func (b *MemoryBroker) forget(conn *memoryConnection) {
	b.mu.Lock()
	delete(b.conns, conn)
	b.mu.Unlock()
}

func matchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}

type memoryConnection struct {
	broker *MemoryBroker
	closed chan error
	errs   chan error

	mu     sync.Mutex
	isDown bool
}

func (c *memoryConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isDown {
		return nil, ErrConnectionClosed
	}
	return &memoryChannel{conn: c}, nil
}

func (c *memoryConnection) Closed() <-chan error { return c.closed }

func (c *memoryConnection) Errors() <-chan error { return c.errs }

func (c *memoryConnection) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *memoryConnection) down() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isDown
}

func (c *memoryConnection) shutdown(err error) {
	c.mu.Lock()
	if c.isDown {
		c.mu.Unlock()
		return
	}
	c.isDown = true
	c.mu.Unlock()

	c.broker.forget(c)
	if err != nil {
		c.closed <- err
	}
	close(c.closed)
}

type memoryChannel struct {
	conn *memoryConnection

	mu     sync.Mutex
	closed bool
}

func (ch *memoryChannel) DeclareExchange(name, kind string) error {
	if err := ch.check(); err != nil {
		return err
	}
	ch.conn.broker.declare(name, kind)
	return nil
}

func (ch *memoryChannel) Publish(ctx context.Context, exchange, routingKey string, msg Message) (bool, error) {
	if err := ch.check(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return ch.conn.broker.route(exchange, routingKey, msg)
}

func (ch *memoryChannel) Close() error {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
	return nil
}

func (ch *memoryChannel) check() error {
	if ch.conn.down() {
		return ErrConnectionClosed
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}
	return nil
}
