package metrics

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// JSONLObserver writes one JSON object per event.
type JSONLObserver struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	closer io.Closer
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	return &JSONLObserver{buf: buf, logger: slog.New(slog.NewJSONHandler(buf, nil))}
}

// OpenJSONL appends events to the file at path.
func OpenJSONL(path string) (*JSONLObserver, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	o := NewJSONLObserver(f)
	o.closer = f
	return o, nil
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	attrs := []slog.Attr{
		slog.String("name", ev.Name),
		slog.Time("event_time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logger.LogAttrs(context.Background(), slog.LevelInfo, "metrics", attrs...)
}

func (o *JSONLObserver) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Flush()
}

// Close flushes and closes the file opened by OpenJSONL.
func (o *JSONLObserver) Close() error {
	err := o.Flush()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closer != nil {
		if cerr := o.closer.Close(); err == nil {
			err = cerr
		}
		o.closer = nil
	}
	return err
}
