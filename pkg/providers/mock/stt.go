package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/sarvamrelay/pkg/adapters/stt"
)

type STTConfig struct {
	// Transcripts are replayed one per received audio chunk.
	Transcripts []string `mapstructure:"transcripts"`
	// ConnectErr makes every Connect fail.
	ConnectErr error `mapstructure:"-"`
	// SendErr makes every Send fail.
	SendErr error `mapstructure:"-"`
}

// Provider is an in-memory upstream that records every stream it opens.
type Provider struct {
	cfg     STTConfig
	mu      sync.Mutex
	streams []*Stream
}

func NewSTT(cfg STTConfig) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string { return "mock_stt" }

func (p *Provider) Connect(ctx context.Context, opts stt.ConnectOptions) (stt.Stream, error) {
	if p.cfg.ConnectErr != nil {
		return nil, p.cfg.ConnectErr
	}
	s := &Stream{
		opts:    opts,
		script:  append([]string(nil), p.cfg.Transcripts...),
		sendErr: p.cfg.SendErr,
		events:  make(chan stt.Event, 64),
		done:    make(chan struct{}),
	}
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	return s, nil
}

// Connects reports how many upstream streams were opened.
func (p *Provider) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// Streams returns the opened streams in order.
func (p *Provider) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

// Last returns the most recently opened stream, or nil.
func (p *Provider) Last() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

type Stream struct {
	opts      stt.ConnectOptions
	mu        sync.Mutex
	script    []string
	sendErr   error
	sent      []stt.AudioChunk
	events    chan stt.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Stream) Send(ctx context.Context, chunk stt.AudioChunk) error {
	select {
	case <-s.done:
		return stt.ErrStreamClosed
	default:
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	s.sent = append(s.sent, chunk)
	var next string
	hasNext := len(s.script) > 0
	if hasNext {
		next = s.script[0]
		s.script = s.script[1:]
	}
	s.mu.Unlock()
	if hasNext {
		return s.Emit(stt.Event{Type: stt.EventData, Transcript: next})
	}
	return nil
}

func (s *Stream) Recv(ctx context.Context) (stt.Event, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return stt.Event{}, stt.ErrStreamClosed
	case <-ctx.Done():
		return stt.Event{}, ctx.Err()
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

// Emit queues an upstream event as if the vendor had sent it.
func (s *Stream) Emit(ev stt.Event) error {
	select {
	case <-s.done:
		return stt.ErrStreamClosed
	case s.events <- ev:
		return nil
	default:
		return errors.New("mock event queue full")
	}
}

// Options returns the options the stream was opened with.
func (s *Stream) Options() stt.ConnectOptions { return s.opts }

// Sent returns the audio chunks received so far.
func (s *Stream) Sent() []stt.AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stt.AudioChunk(nil), s.sent...)
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

var _ stt.Provider = (*Provider)(nil)
