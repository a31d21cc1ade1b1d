package email

import "context"

type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers one message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

type NoopSender struct{}

func (NoopSender) Send(context.Context, Message) (string, error) {
	return "", nil
}
