package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/Chichichkin/CWLoggingAgent/internal/logging"
)

type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Archive parks undeliverable batches in an S3 bucket as gzipped JSON
// lines, one object per batch.
type S3Archive struct {
	api    S3API
	sink   logging.ErrorSink
	bucket string
	prefix string
}

var _ logging.BatchArchive = (*S3Archive)(nil)

// NewS3Archive parses rawURL into a bucket and key prefix. Accepted forms:
// s3://bucket/prefix, bucket.s3.region.amazonaws.com/prefix and
// s3.region.amazonaws.com/bucket/prefix.
func NewS3Archive(rawURL string, api S3API, sink logging.ErrorSink) (*S3Archive, error) {
	bucket, prefix, err := parseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	return &S3Archive{
		api:    api,
		sink:   sink,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func parseS3URL(rawURL string) (bucket, prefix string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL %q: %w", rawURL, err)
	}

	switch {
	case u.Scheme == "s3":
		bucket = u.Host
		prefix = strings.Trim(u.Path, "/")
	case strings.Contains(u.Host, ".s3.") || strings.Contains(u.Host, ".s3-"):
		// virtual-hosted style, the bucket is the first host label
		bucket = strings.SplitN(u.Host, ".", 2)[0]
		prefix = strings.Trim(u.Path, "/")
	default:
		// path style, the bucket is the first path segment
		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		bucket = parts[0]
		if len(parts) > 1 {
			prefix = parts[1]
		}
	}

	if bucket == "" {
		return "", "", fmt.Errorf("no bucket name in S3 URL %q", rawURL)
	}
	return bucket, prefix, nil
}

type archiveLine struct {
	Timestamp int64             `json:"ts"`
	Origin    string            `json:"origin,omitempty"`
	Message   string            `json:"message"`
	Labels    map[string]string `json:"labels,omitempty"`
	Skipped   int               `json:"skipped,omitempty"`
}

func (a *S3Archive) Store(ctx context.Context, events []logging.Event) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz, _ := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	enc := json.NewEncoder(gz)
	for _, e := range events {
		line := archiveLine{
			Timestamp: e.Timestamp.UnixMilli(),
			Origin:    e.Origin,
			Message:   e.Message,
			Labels:    e.Labels,
			Skipped:   e.Skipped,
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encoding batch for archive: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing batch for archive: %w", err)
	}

	key := a.objectKey(time.Now())
	_, err := a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("uploading batch to s3://%s/%s: %w", a.bucket, key, err)
	}

	a.sink.Info(fmt.Sprintf("archived %d events to s3://%s/%s", len(events), a.bucket, key))
	return nil
}

// key layout is prefix/year/month/day/hour/timestamp-uuid.json.gz
func (a *S3Archive) objectKey(now time.Time) string {
	name := fmt.Sprintf("%s-%s.json.gz", now.UTC().Format("2006-01-02T15-04-05"), uuid.New().String())
	dir := now.UTC().Format("2006/01/02/15")
	if a.prefix != "" {
		return a.prefix + "/" + dir + "/" + name
	}
	return dir + "/" + name
}

func (a *S3Archive) Close() error {
	return nil
}
