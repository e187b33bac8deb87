package transports

import (
	"context"
	"net/http"
)

// Transport is the caller-facing I/O boundary. Implementations own their
// network lifecycle and one bridge per accepted connection.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Handler exposes the HTTP surface so it can be mounted or tested
	// without listening.
	Handler() http.Handler
}

// ReadyReporter allows transports to expose readiness metadata (e.g., the
// public WebSocket URL to register with the voice platform).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}

// ConnCounter reports how many caller connections are live.
type ConnCounter interface {
	ActiveConnections() int
}
