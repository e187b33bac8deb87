package stt

import (
	"context"
	"errors"
)

// EventType mirrors the upstream "type" discriminator.
type EventType string

const (
	EventData   EventType = "data"
	EventError  EventType = "error"
	EventSignal EventType = "events"
)

// ErrStreamClosed is returned by Send/Recv after Close.
var ErrStreamClosed = errors.New("upstream stream closed")

// Provider opens upstream streaming sessions for any STT vendor.
type Provider interface {
	// Name returns adapter name for logging.
	Name() string
	// Connect acquires a new stream. The caller owns it and must Close it.
	Connect(ctx context.Context, opts ConnectOptions) (Stream, error)
}

// ConnectOptions describe the audio a stream will carry. Zero values leave
// the provider's configured defaults in place.
type ConnectOptions struct {
	SampleRate int
	Encoding   string
}

// Stream is one bidirectional upstream connection.
type Stream interface {
	// Send forwards one chunk of base64-encoded mono 16-bit PCM.
	Send(ctx context.Context, chunk AudioChunk) error
	// Recv blocks until the next upstream event or an error.
	Recv(ctx context.Context) (Event, error)
	// Close releases the connection. Safe to call more than once and after
	// the remote side already went away.
	Close() error
}

// AudioChunk is one upstream audio message.
type AudioChunk struct {
	Data       string
	SampleRate int
	Encoding   string
}

// Event is a vendor-agnostic upstream event.
type Event struct {
	Type         EventType
	Transcript   string
	LanguageCode string
	RequestID    string
	Signal       string
	ErrorMessage string
	ErrorCode    string
}

func (e Event) IsTranscript() bool { return e.Type == EventData }
