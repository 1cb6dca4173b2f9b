package logging

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testutils mocks would import this package back, so the bridge tests carry
// their own recorder.
type recordingAppender struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingAppender) Append(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAppender) Start() {}
func (r *recordingAppender) Stop()  {}

func (r *recordingAppender) getEvents() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestSlogHandler_HandleBuildsEvent(t *testing.T) {
	rec := &recordingAppender{}
	logger := slog.New(NewSlogHandler(rec, "svc", slog.LevelInfo))

	logger.Info("hello", "user", "bob")

	events := rec.getEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Message)
	assert.Equal(t, "svc", events[0].Origin)
	assert.Equal(t, "INFO", events[0].Labels["level"])
	assert.Equal(t, "bob", events[0].Labels["user"])
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestSlogHandler_LevelGate(t *testing.T) {
	rec := &recordingAppender{}
	logger := slog.New(NewSlogHandler(rec, "svc", slog.LevelWarn))

	logger.Debug("too quiet")
	logger.Info("still too quiet")
	logger.Error("loud")

	events := rec.getEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, "loud", events[0].Message)
	assert.Equal(t, "ERROR", events[0].Labels["level"])
}

func TestSlogHandler_WithAttrsDoesNotLeakIntoParent(t *testing.T) {
	rec := &recordingAppender{}
	base := slog.New(NewSlogHandler(rec, "svc", slog.LevelInfo))

	child := base.With("region", "eu-west-1")
	child.Info("from child")
	base.Info("from base")

	events := rec.getEvents()
	assert.Len(t, events, 2)
	assert.Equal(t, "eu-west-1", events[0].Labels["region"])
	_, ok := events[1].Labels["region"]
	assert.False(t, ok, "parent logger must not inherit child attrs")
}

func TestSlogHandler_WithGroupPrefixesKeys(t *testing.T) {
	rec := &recordingAppender{}
	logger := slog.New(NewSlogHandler(rec, "svc", slog.LevelInfo)).WithGroup("req")

	logger.Info("handled", "id", "42")

	events := rec.getEvents()
	assert.Len(t, events, 1)
	assert.Equal(t, "42", events[0].Labels["req.id"])
}
