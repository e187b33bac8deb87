package bridge

import (
	"errors"
	"sync"

	"github.com/harunnryd/sarvamrelay/pkg/errorsx"
)

// Caller is the write side of the caller connection.
type Caller interface {
	WriteJSON(v any) error
}

var errNoCaller = errors.New("no caller attached")

type serialCaller struct {
	mu sync.Mutex
	c  Caller
}

// SerializeCaller guards c so the receive loop and the connection handler
// can both write to it. A nil c stays nil.
func SerializeCaller(c Caller) Caller {
	if c == nil {
		return nil
	}
	if sc, ok := c.(*serialCaller); ok {
		return sc
	}
	return &serialCaller{c: c}
}

func (s *serialCaller) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errorsx.Wrap(errNoCaller, errorsx.ReasonCallerTransport)
	}
	return errorsx.Wrap(s.c.WriteJSON(v), errorsx.ReasonCallerTransport)
}
