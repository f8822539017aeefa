// Package transport abstracts the messaging service the bot sits on. The
// engine only needs to reply to a message and to resolve its sender; real
// delivery guarantees live on the other side of this boundary.
package transport

import (
	"context"
	"time"
)

// Message is one inbound message as delivered by the transport.
type Message struct {
	// Sender is the stable member handle of the author, empty when the
	// transport could not attribute the message.
	Sender string

	// Text is the plain message body.
	Text string

	// Timestamp is the transport-reported send time.
	Timestamp time.Time
}

// Transport is the external messaging collaborator. Mock and live variants
// are interchangeable.
type Transport interface {
	// Send delivers a reply to the origin of m.
	Send(ctx context.Context, m Message, text string) error

	// ResolveSender extracts the sender identity from m, empty if none.
	ResolveSender(m Message) string
}
