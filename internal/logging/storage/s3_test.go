package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Chichichkin/CWLoggingAgent/internal/logging"
	"github.com/Chichichkin/CWLoggingAgent/internal/testutils"
)

func TestParseS3URL(t *testing.T) {
	cases := []struct {
		rawURL string
		bucket string
		prefix string
		fails  bool
	}{
		{rawURL: "s3://failed-batches/cwlogs", bucket: "failed-batches", prefix: "cwlogs"},
		{rawURL: "s3://failed-batches", bucket: "failed-batches", prefix: ""},
		{rawURL: "https://failed-batches.s3.eu-west-1.amazonaws.com/cwlogs/prod", bucket: "failed-batches", prefix: "cwlogs/prod"},
		{rawURL: "https://failed-batches.s3-us-west-2.amazonaws.com", bucket: "failed-batches", prefix: ""},
		{rawURL: "https://s3.eu-west-1.amazonaws.com/failed-batches/cwlogs", bucket: "failed-batches", prefix: "cwlogs"},
		{rawURL: "https://s3.eu-west-1.amazonaws.com/", fails: true},
		{rawURL: "s3://", fails: true},
	}

	for _, tc := range cases {
		bucket, prefix, err := parseS3URL(tc.rawURL)
		if tc.fails {
			assert.Error(t, err, tc.rawURL)
			continue
		}
		assert.NoError(t, err, tc.rawURL)
		assert.Equal(t, tc.bucket, bucket, tc.rawURL)
		assert.Equal(t, tc.prefix, prefix, tc.rawURL)
	}
}

func TestS3Archive_StoreUploadsGzippedJSONLines(t *testing.T) {
	api := &testutils.MockS3API{}
	sink := &testutils.MockErrorSink{}
	archive, err := NewS3Archive("s3://failed-batches/cwlogs", api, sink)
	assert.NoError(t, err)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []logging.Event{
		{Timestamp: at, Message: "first", Origin: "svc", Labels: map[string]string{"pod": "api-1"}},
		{Timestamp: at, Message: "second", Origin: "svc"},
		logging.SkippedEvent(7, "svc", at),
	}

	assert.NoError(t, archive.Store(context.Background(), events))
	assert.Len(t, api.Objects, 1)
	assert.Equal(t, []string{"failed-batches"}, api.Buckets)
	assert.NotEmpty(t, sink.GetInfos())

	for key, body := range api.Objects {
		assert.True(t, strings.HasPrefix(key, "cwlogs/"), key)
		assert.True(t, strings.HasSuffix(key, ".json.gz"), key)

		gz, err := gzip.NewReader(bytes.NewReader(body))
		assert.NoError(t, err)
		raw, err := io.ReadAll(gz)
		assert.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		assert.Len(t, lines, 3)

		var first map[string]any
		assert.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, "first", first["message"])
		assert.Equal(t, "svc", first["origin"])
		assert.Equal(t, float64(at.UnixMilli()), first["ts"])

		var marker map[string]any
		assert.NoError(t, json.Unmarshal([]byte(lines[2]), &marker))
		assert.Equal(t, float64(7), marker["skipped"])
	}
}

func TestS3Archive_StoreEmptyBatchIsNoop(t *testing.T) {
	api := &testutils.MockS3API{}
	archive, err := NewS3Archive("s3://failed-batches", api, &testutils.MockErrorSink{})
	assert.NoError(t, err)

	assert.NoError(t, archive.Store(context.Background(), nil))
	assert.Empty(t, api.Objects)
}

func TestS3Archive_StoreReportsUploadFailure(t *testing.T) {
	api := &testutils.MockS3API{PutErr: errors.New("access denied")}
	archive, err := NewS3Archive("s3://failed-batches", api, &testutils.MockErrorSink{})
	assert.NoError(t, err)

	events := []logging.Event{{Timestamp: time.Now(), Message: "x", Origin: "svc"}}
	err = archive.Store(context.Background(), events)

	assert.ErrorContains(t, err, "uploading batch")
}
