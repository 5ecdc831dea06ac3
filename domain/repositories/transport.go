package repositories

// Sender delivers one outbound message to the server.
type Sender interface {
	Send(msg any) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg any) error

func (f SenderFunc) Send(msg any) error { return f(msg) }
