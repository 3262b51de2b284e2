// Package queue abstracts the message source feeding the queue dispatcher.
// The contract is pull-based with explicit acknowledgement: a fetched message
// that is never completed must come back after a restart or rebalance.
package queue

import "context"

// Message is one fetched queue entry. The token field carries whatever the
// backing adapter needs to acknowledge it later.
type Message struct {
	Key   []byte
	Value []byte
	token any
}

type Adapter interface {
	// Fetch blocks until a message arrives or ctx is done.
	Fetch(ctx context.Context) (*Message, error)
	// Complete acknowledges the message; it will not be redelivered.
	Complete(ctx context.Context, msg *Message) error
	// Abandon gives the message up without acknowledging, leaving it for
	// redelivery.
	Abandon(ctx context.Context, msg *Message) error
	Close() error
}
