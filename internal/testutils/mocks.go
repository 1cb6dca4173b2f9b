package testutils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Chichichkin/CWLoggingAgent/internal/logging"
)

type MockAppender struct {
	mu         sync.Mutex
	Events     []logging.Event
	StartCalls int
	StopCalls  int
}

func (m *MockAppender) Append(event logging.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
}

func (m *MockAppender) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartCalls++
}

func (m *MockAppender) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StopCalls++
}

func (m *MockAppender) GetEvents() []logging.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logging.Event, len(m.Events))
	copy(out, m.Events)
	return out
}

type MockErrorSink struct {
	mu     sync.Mutex
	Infos  []string
	Errors []string
}

func (m *MockErrorSink) Info(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Infos = append(m.Infos, msg)
}

func (m *MockErrorSink) Error(msg string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	m.Errors = append(m.Errors, msg)
}

func (m *MockErrorSink) GetInfos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Infos))
	copy(out, m.Infos)
	return out
}

func (m *MockErrorSink) GetErrors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Errors))
	copy(out, m.Errors)
	return out
}

type MockLogChannel struct {
	mu          sync.Mutex
	OpenErr     error
	AppendErr   error
	FailAppends int

	OpenedStreams []string
	SentBatches   [][]logging.Event
	opened        bool
}

func (m *MockLogChannel) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *MockLogChannel) Open(ctx context.Context, streamName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.OpenedStreams = append(m.OpenedStreams, streamName)
	m.opened = true
	return nil
}

func (m *MockLogChannel) Append(ctx context.Context, events []logging.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppends > 0 {
		m.FailAppends--
		return fmt.Errorf("mock append failed")
	}
	if m.AppendErr != nil {
		return m.AppendErr
	}
	batch := make([]logging.Event, len(events))
	copy(batch, events)
	m.SentBatches = append(m.SentBatches, batch)
	return nil
}

func (m *MockLogChannel) GetOpenedStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.OpenedStreams))
	copy(out, m.OpenedStreams)
	return out
}

func (m *MockLogChannel) GetSentBatches() [][]logging.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]logging.Event, len(m.SentBatches))
	copy(out, m.SentBatches)
	return out
}

type MockArchive struct {
	mu         sync.Mutex
	StoreErr   error
	Stored     [][]logging.Event
	CloseCalls int
}

func (m *MockArchive) Store(ctx context.Context, events []logging.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreErr != nil {
		return m.StoreErr
	}
	batch := make([]logging.Event, len(events))
	copy(batch, events)
	m.Stored = append(m.Stored, batch)
	return nil
}

func (m *MockArchive) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}

func (m *MockArchive) GetStored() [][]logging.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]logging.Event, len(m.Stored))
	copy(out, m.Stored)
	return out
}

// FakeLogsAPI is an in-memory CloudWatch Logs control plane; Describe calls
// filter by prefix the way the real API does.
type FakeLogsAPI struct {
	mu sync.Mutex

	Groups  []string
	Streams map[string][]string
	Tokens  map[string]string // "group/stream" -> upload sequence token

	DescribeGroupsErr  error
	CreateGroupErr     error
	DescribeStreamsErr error
	CreateStreamErr    error
	PutErr             error
	NextSequenceToken  string

	CreateGroupCalls  int
	CreateStreamCalls int
	PutInputs         []*cloudwatchlogs.PutLogEventsInput
}

func (f *FakeLogsAPI) DescribeLogGroups(ctx context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DescribeGroupsErr != nil {
		return nil, f.DescribeGroupsErr
	}
	out := &cloudwatchlogs.DescribeLogGroupsOutput{}
	for _, g := range f.Groups {
		if strings.HasPrefix(g, aws.ToString(in.LogGroupNamePrefix)) {
			out.LogGroups = append(out.LogGroups, types.LogGroup{LogGroupName: aws.String(g)})
		}
	}
	return out, nil
}

func (f *FakeLogsAPI) CreateLogGroup(ctx context.Context, in *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateGroupCalls++
	if f.CreateGroupErr != nil {
		return nil, f.CreateGroupErr
	}
	f.Groups = append(f.Groups, aws.ToString(in.LogGroupName))
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (f *FakeLogsAPI) DescribeLogStreams(ctx context.Context, in *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DescribeStreamsErr != nil {
		return nil, f.DescribeStreamsErr
	}
	group := aws.ToString(in.LogGroupName)
	out := &cloudwatchlogs.DescribeLogStreamsOutput{}
	for _, name := range f.Streams[group] {
		if strings.HasPrefix(name, aws.ToString(in.LogStreamNamePrefix)) {
			stream := types.LogStream{LogStreamName: aws.String(name)}
			if tok, ok := f.Tokens[group+"/"+name]; ok {
				stream.UploadSequenceToken = aws.String(tok)
			}
			out.LogStreams = append(out.LogStreams, stream)
		}
	}
	return out, nil
}

func (f *FakeLogsAPI) CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateStreamCalls++
	if f.CreateStreamErr != nil {
		return nil, f.CreateStreamErr
	}
	if f.Streams == nil {
		f.Streams = make(map[string][]string)
	}
	group := aws.ToString(in.LogGroupName)
	f.Streams[group] = append(f.Streams[group], aws.ToString(in.LogStreamName))
	return &cloudwatchlogs.CreateLogStreamOutput{}, nil
}

func (f *FakeLogsAPI) PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PutErr != nil {
		return nil, f.PutErr
	}
	f.PutInputs = append(f.PutInputs, in)
	out := &cloudwatchlogs.PutLogEventsOutput{}
	if f.NextSequenceToken != "" {
		out.NextSequenceToken = aws.String(f.NextSequenceToken)
	}
	return out, nil
}

func (f *FakeLogsAPI) GetPutInputs() []*cloudwatchlogs.PutLogEventsInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*cloudwatchlogs.PutLogEventsInput, len(f.PutInputs))
	copy(out, f.PutInputs)
	return out
}

type MockS3API struct {
	mu      sync.Mutex
	PutErr  error
	Objects map[string][]byte // key -> uploaded body
	Buckets []string
}

func (m *MockS3API) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return nil, m.PutErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if m.Objects == nil {
		m.Objects = make(map[string][]byte)
	}
	m.Objects[aws.ToString(in.Key)] = body
	m.Buckets = append(m.Buckets, aws.ToString(in.Bucket))
	return &s3.PutObjectOutput{}, nil
}

// CreateTempLogStructure builds a kubelet-style pod log tree for daemon tests.
func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_api-7f6d_uid001/api/api.log":            "listening on :8080\nGET /healthz 200\n",
		"default_api-7f6d_uid001/envoy/envoy.log":        "ingress ready\n",
		"payments_worker-0_uid002/worker/worker.log":     "job 17 done\njob 18 done\n",
		"kube-system_dns-55c_uid003/coredns/coredns.log": "plugin/reload: running\n",
		"payments_worker-1_uid004/worker/worker.log":     "job 19 done\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
