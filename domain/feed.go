package domain

import "context"

// ConnectionState is the lifecycle state of a price stream subscription
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Error        ConnectionState = "error"
)

// StreamSink receives the output of one transport session
type StreamSink interface {
	// OnMessage is called with the data payload of every message event, in arrival order
	OnMessage(data []byte)

	// OnError is called once when the session fails; it is not called after the
	// session context has been cancelled
	OnError(err error)
}

// Transport opens event stream sessions
type Transport interface {
	// Open starts a session in the background and returns immediately. The
	// session ends when ctx is cancelled or after it reports an error to sink.
	Open(ctx context.Context, sink StreamSink)
}
