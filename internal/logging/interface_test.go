package logging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSkippedEvent(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := SkippedEvent(5, "svc", at)

	assert.Equal(t, "skipped 5 log events (queue full)", event.Message)
	assert.Equal(t, 5, event.Skipped)
	assert.Equal(t, "svc", event.Origin)
	assert.Equal(t, at, event.Timestamp)
}

func TestRenderText(t *testing.T) {
	event := Event{Message: "plain line", Origin: "svc", Labels: map[string]string{"pod": "api-1"}}
	assert.Equal(t, "plain line", RenderText(event))
}

func TestRenderJSON(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := Event{
		Timestamp: at,
		Message:   "structured line",
		Origin:    "svc",
		Labels:    map[string]string{"pod": "api-1"},
	}

	var decoded map[string]any
	assert.NoError(t, json.Unmarshal([]byte(RenderJSON(event)), &decoded))
	assert.Equal(t, float64(at.UnixMilli()), decoded["ts"])
	assert.Equal(t, "structured line", decoded["message"])
	assert.Equal(t, "svc", decoded["origin"])
	assert.Equal(t, map[string]any{"pod": "api-1"}, decoded["labels"])

	bare := RenderJSON(Event{Timestamp: at, Message: "no labels", Origin: "svc"})
	assert.NotContains(t, bare, "labels")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{QueueCapacity: 10, GroupName: "group", StreamName: "stream"}
	assert.NoError(t, valid.Validate())

	noCapacity := valid
	noCapacity.QueueCapacity = 0
	assert.ErrorContains(t, noCapacity.Validate(), "queue capacity")

	noGroup := valid
	noGroup.GroupName = ""
	assert.ErrorContains(t, noGroup.Validate(), "group name")

	noStream := valid
	noStream.StreamName = ""
	assert.ErrorContains(t, noStream.Validate(), "stream name")
}
