package metrics

import "time"

// Event names recorded by a relay session.
const (
	EventSessionStart    = "session_start"
	EventUpstreamConnect = "upstream_connect"
	EventAudioIn         = "audio_in"
	EventTranscript      = "transcript"
	EventSessionEnd      = "session_end"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// OrNoop returns obs, or a NoopObserver when obs is nil.
func OrNoop(obs Observer) Observer {
	if obs == nil {
		return NoopObserver{}
	}
	return obs
}
