package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"storefront/pkg/log"
)

// AMQPDialer connects to an AMQP 0-9-1 broker such as RabbitMQ.
type AMQPDialer struct {
	url       string
	heartbeat time.Duration
}

// NewAMQPDialer creates a dialer for url (amqp:// or amqps://).
func NewAMQPDialer(url string, heartbeat time.Duration) *AMQPDialer {
	return &AMQPDialer{url: url, heartbeat: heartbeat}
}

// Dial connects and performs the AMQP handshake. The deadline of ctx bounds both.
func (d *AMQPDialer) Dial(ctx context.Context) (Connection, error) {
	cfg := amqp.Config{
		Heartbeat: d.heartbeat,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			var nd net.Dialer
			conn, err := nd.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// cleared by the client once the handshake completes
			if deadline, ok := ctx.Deadline(); ok {
				_ = conn.SetDeadline(deadline)
			}
			return conn, nil
		},
	}

	conn, err := amqp.DialConfig(d.url, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial amqp broker: %w", err)
	}

	c := newAMQPConnection(conn.Close)
	c.conn = conn
	go c.watch(
		conn.NotifyClose(make(chan *amqp.Error, 1)),
		conn.NotifyBlocked(make(chan amqp.Blocking, 1)),
	)
	return c, nil
}

type amqpConnection struct {
	conn      *amqp.Connection
	closeConn func() error
	closed    chan error
	errs      chan error
	blocked   atomic.Bool
}

func newAMQPConnection(closeConn func() error) *amqpConnection {
	return &amqpConnection{
		closeConn: closeConn,
		closed:    make(chan error, 1),
		errs:      make(chan error, 16),
	}
}

// watch maps connection notifications: blocking toggles the backpressure flag, close
// ends the connection.

func (c *amqpConnection) watch(closeCh <-chan *amqp.Error, blockCh <-chan amqp.Blocking) {
	for {
		select {
		case b, ok := <-blockCh:
			if !ok {
				blockCh = nil
				continue
			}
			c.blocked.Store(b.Active)
			if b.Active {
				c.report(fmt.Errorf("broker blocked publishing: %s", b.Reason))
			} else {
				log.Info("Message broker unblocked publishing")
			}
		case amqpErr, ok := <-closeCh:
			if ok && amqpErr != nil {
				c.closed <- amqpErr
			}
			close(c.closed)
			return
		}
	}
}

func (c *amqpConnection) report(err error) {
	select {
	case c.errs <- err:
	default:
		log.WithError(err).Warn("Dropped message broker error, listener is behind")
	}
}

// Channel opens a channel. When the broker closes the channel on its own, the error is
// reported and the whole connection is closed so the manager dials a fresh one.
func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	go c.watchChannel(ch.NotifyClose(make(chan *amqp.Error, 1)))

	return &amqpChannel{ch: ch, conn: c}, nil
}

// watchChannel closes the connection when the broker closes the channel with an error.
// A channel closed by us arrives without one and is ignored.
func (c *amqpConnection) watchChannel(notify <-chan *amqp.Error) {
	if amqpErr, ok := <-notify; ok && amqpErr != nil {
		c.report(amqpErr)
		_ = c.closeConn()
	}
}

func (c *amqpConnection) Closed() <-chan error { return c.closed }

func (c *amqpConnection) Errors() <-chan error { return c.errs }

func (c *amqpConnection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type amqpChannel struct {
	ch   *amqp.Channel
	conn *amqpConnection
	mu   sync.Mutex
}

func (ch *amqpChannel) DeclareExchange(name, kind string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

func (ch *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, msg Message) (bool, error) {
	mode := amqp.Transient
	if msg.Persistent {
		mode = amqp.Persistent
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	err := ch.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		Type:         msg.Type,
		Timestamp:    msg.Timestamp,
		DeliveryMode: mode,
		Body:         msg.Body,
	})
	if err != nil {
		return false, err
	}
	return ch.conn.blocked.Load(), nil
}

func (ch *amqpChannel) Close() error {
	if ch.ch.IsClosed() {
		return nil
	}
	return ch.ch.Close()
}
