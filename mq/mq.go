package mq

import "context"

// MessageQueue carries notification records for the external push-dispatch
// pipeline. Enqueue is fire-and-forget from the sender's point of view.
type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Id   string
	Body string
}
