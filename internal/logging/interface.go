package logging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// Event is a single log record. Immutable once appended.
type Event struct {
	Timestamp time.Time
	Message   string
	// Origin names the producing context; events without one never reach
	// the wire.
	Origin string
	Labels map[string]string
	// Skipped is non-zero only on synthetic drop markers.
	Skipped int
}

// SkippedEvent builds the marker that stands in for count dropped events.
func SkippedEvent(count int, origin string, now time.Time) Event {
	return Event{
		Timestamp: now,
		Message:   fmt.Sprintf("skipped %d log events (queue full)", count),
		Origin:    origin,
		Skipped:   count,
	}
}

// RenderFunc turns one event into the wire message string.
type RenderFunc func(Event) string

func RenderText(e Event) string { return e.Message }

func RenderJSON(e Event) string {
	out := struct {
		Timestamp int64             `json:"ts"`
		Origin    string            `json:"origin"`
		Message   string            `json:"message"`
		Labels    map[string]string `json:"labels,omitempty"`
	}{e.Timestamp.UnixMilli(), e.Origin, e.Message, e.Labels}
	b, err := json.Marshal(out)
	if err != nil {
		return e.Message
	}
	return string(b)
}

// ErrorSink receives operator-facing notices; implementations must not panic.
type ErrorSink interface {
	Info(msg string)
	Error(msg string, err error)
}

type LogSink struct{}

func (LogSink) Info(msg string) { log.Printf("cwlogs: %s", msg) }

func (LogSink) Error(msg string, err error) {
	if err != nil {
		log.Printf("cwlogs: %s: %v", msg, err)
		return
	}
	log.Printf("cwlogs: %s", msg)
}

// EventAppender is the producer-facing surface; Append never blocks.
type EventAppender interface {
	Append(event Event)
	Start()
	Stop()
}

// LogChannel is the remote end of the pipeline, called from the shipper
// goroutine only. An Open error is unrecoverable for the calling loop; a
// batch Append rejects is not retried.
type LogChannel interface {
	Ready() bool
	Open(ctx context.Context, streamName string) error
	Append(ctx context.Context, events []Event) error
}

// BatchArchive receives batches the shipper could not deliver.
type BatchArchive interface {
	Store(ctx context.Context, events []Event) error
	Close() error
}

type Config struct {
	QueueCapacity int // drop-newest on overflow
	GroupName     string
	StreamName    string
	// With a layout set, the active stream is StreamName + "-" +
	// now.Format(layout), reopened whenever the formatted value changes.
	StreamTimeLayout string
	CreateLogGroup   bool
	// Skip sequence-token propagation, for API versions that reject
	// resubmitted tokens.
	DisableSequenceToken bool
}

func (c Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.GroupName == "" {
		return errors.New("log group name is required")
	}
	if c.StreamName == "" {
		return errors.New("log stream name is required")
	}
	return nil
}
