// Package events defines the structured events a build pass emits.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Type represents the kind of event.
type Type string

const (
	PassStarted   Type = "pass.started"
	PageWritten   Type = "page.written"
	PageSkipped   Type = "page.skipped"
	GroupDropped  Type = "group.dropped"
	PageDropped   Type = "page.dropped"
	FeedWritten   Type = "feed.written"
	PagePublished Type = "page.published"
	OrphanRemoved Type = "orphan.removed"
	OrphanMissing Type = "orphan.missing"
	PassCompleted Type = "pass.completed"
	PassFailed    Type = "pass.failed"
)

// Event is a structured event emitted during a pass.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	PassID    string         `json:"pass_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates a new event with the given type and pass ID.
func New(eventType Type, passID string) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		PassID:    passID,
	}
}

// WithData adds data fields to the event and returns it for chaining.
func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// JSON returns the event serialized as JSON.
func (e *Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is the interface for event consumers.
type Emitter interface {
	Emit(event *Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

// Emit implements Emitter by discarding the event.
func (NoopEmitter) Emit(*Event) {}

// CollectorEmitter collects events in memory.
type CollectorEmitter struct {
	Events []*Event
}

// Emit appends the event to the collector.
func (c *CollectorEmitter) Emit(event *Event) {
	c.Events = append(c.Events, event)
}

// Types returns the collected event types in order.
func (c *CollectorEmitter) Types() []Type {
	out := make([]Type, len(c.Events))
	for i, e := range c.Events {
		out[i] = e.Type
	}
	return out
}

// Multi fans each event out to every emitter.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event *Event) {
	for _, e := range m {
		e.Emit(event)
	}
}

// LogEmitter narrates events through a logger. Skipped pages are logged at
// debug level, orphans that were already gone at warn level.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements Emitter.
func (l LogEmitter) Emit(event *Event) {
	level := slog.LevelInfo
	switch event.Type {
	case PageSkipped, PagePublished:
		level = slog.LevelDebug
	case OrphanMissing, GroupDropped, PageDropped:
		level = slog.LevelWarn
	case PassFailed:
		level = slog.LevelError
	}

	attrs := make([]slog.Attr, 0, len(event.Data)+1)
	attrs = append(attrs, slog.String("pass_id", event.PassID))
	for _, k := range sortedKeys(event.Data) {
		attrs = append(attrs, slog.Any(k, event.Data[k]))
	}
	l.Logger.LogAttrs(context.Background(), level, string(event.Type), attrs...)
}
