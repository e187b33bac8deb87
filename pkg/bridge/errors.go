package bridge

import (
	"errors"

	"github.com/harunnryd/sarvamrelay/pkg/errorsx"
)

var (
	// ErrSessionNotStarted is returned for audio that arrives before "start".
	ErrSessionNotStarted = errors.New("session not started")
	// ErrSessionAlreadyStarted is returned for a second "start" on one connection.
	ErrSessionAlreadyStarted = errors.New("session already started")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrUpstreamUnavailable is returned when no live upstream stream is open.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Recoverable reports whether the connection can keep serving after err.
// Protocol noise and a repeated start are logged and ignored; everything
// else ends the connection.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	switch errorsx.Reason(err) {
	case errorsx.ReasonCallerProtocol, errorsx.ReasonSessionAlreadyStarted:
		return true
	}
	return false
}
