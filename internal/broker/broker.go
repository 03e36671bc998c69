// Package broker owns the message broker connection used to publish domain events.
//
// Transports (AMQP, in-memory) implement Dialer/Connection/Channel; Manager keeps at most
// one live connection and channel and shares them between all publishers.
package broker

import (
	"context"
	"errors"
	"time"
)

// ExchangeTopic is the only exchange kind the service declares.
const ExchangeTopic = "topic"

var (
	ErrManagerClosed    = errors.New("broker: connection manager closed")
	ErrConnectionClosed = errors.New("broker: connection closed")
	ErrChannelClosed    = errors.New("broker: channel closed")
	ErrUnknownExchange  = errors.New("broker: exchange not declared")
)

// Message is one outgoing message.
type Message struct {
	ContentType string
	Type        string
	Timestamp   time.Time
	Persistent  bool
	Body        []byte
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
}

// Connection is a live broker connection.
type Connection interface {
	// Channel opens a new channel on the connection.
	Channel() (Channel, error)

	// Closed is closed when the connection ends. A non-nil value is sent first when the
	// closure was not requested by Close.
	Closed() <-chan error

	// Errors delivers connection-level errors that did not close the connection.
	Errors() <-chan error

	Close() error
}

// Channel publishes messages. Implementations must be safe for concurrent use.
type Channel interface {
	// DeclareExchange makes sure a durable exchange of the given kind exists.
	DeclareExchange(name, kind string) error

	// Publish emits msg. backpressure reports that the broker asked publishers to slow
	// down; the message was still handed over when err is nil.
	Publish(ctx context.Context, exchange, routingKey string, msg Message) (backpressure bool, err error)

	Close() error
}
