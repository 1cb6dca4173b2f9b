package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Chichichkin/CWLoggingAgent/internal/testutils"
)

const (
	defaultScanInterval       = 10 * time.Millisecond
	defaultScaleCheckInterval = 10 * time.Millisecond
)

func makeTestConfig(root string) Config {
	return Config{
		LogRootPath:        root,
		ScanInterval:       defaultScanInterval,
		MinWorkers:         1,
		MaxWorkers:         3,
		FileQueueSize:      10,
		NodeName:           "node-1",
		ScaleUpThreshold:   0.5,
		ScaleDownThreshold: 0.25,
		ScaleCheckInterval: defaultScaleCheckInterval,
	}
}

func TestTailerService_ContextCancellation(t *testing.T) {
	appender := &testutils.MockAppender{}
	config := makeTestConfig(t.TempDir())
	config.MaxWorkers = 2

	ctx, cancel := context.WithCancel(context.Background())
	s := NewTailerService(ctx, config, appender)
	s.Start()

	cancel()
	time.Sleep(20 * time.Millisecond)

	select {
	case <-s.ctx.Done():
	default:
		t.Fatalf("service context not cancelled")
	}

	s.Stop()
}

func TestAdjustWorkers_ScaleUpAndDown(t *testing.T) {
	appender := &testutils.MockAppender{}
	config := makeTestConfig(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewTailerService(ctx, config, appender)

	// queue 6/10 and the single worker busy, both above the 0.5 threshold
	for i := 0; i < 6; i++ {
		s.metrics.IncQueuedFiles()
	}
	s.metrics.IncWorkersBusy()

	s.adjustWorkers()
	assert.Equal(t, 2, s.currentWorkers)

	// queue drained and nobody busy, both below the 0.25 threshold
	for i := 0; i < 6; i++ {
		s.metrics.DecQueuedFiles()
	}
	s.metrics.DecWorkersBusy()

	s.adjustWorkers()
	assert.Equal(t, 1, s.currentWorkers)

	s.Stop()
}

func TestExtractLabels(t *testing.T) {
	appender := &testutils.MockAppender{}
	config := makeTestConfig("/var/log/pods")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewTailerService(ctx, config, appender)

	path := "/var/log/pods/default_api-1_uid123/api/app.log"
	labels := s.extractLabels(path)
	assert.Equal(t, "node-1", labels["node"])
	assert.Equal(t, "app.log", labels["file"])
	assert.Equal(t, "default", labels["namespace"])
	assert.Equal(t, "api-1", labels["pod"])
	assert.Equal(t, "uid123", labels["pod_uid"])
	assert.Equal(t, "api", labels["container"])

	shortPath := "/var/log/pods/a.log"
	labels = s.extractLabels(shortPath)
	assert.Equal(t, "node-1", labels["node"])
	assert.Equal(t, "a.log", labels["file"])
	_, hasNs := labels["namespace"]
	_, hasPod := labels["pod"]
	_, hasUID := labels["pod_uid"]
	_, hasContainer := labels["container"]
	assert.False(t, hasNs || hasPod || hasUID || hasContainer)
}

func TestDiscoverLogFiles_UsesTempStructure(t *testing.T) {
	root := testutils.CreateTempLogStructure(t)
	appender := &testutils.MockAppender{}
	config := makeTestConfig(root)

	s := NewTailerService(context.TODO(), config, appender)
	files, err := s.discoverLogFiles()
	assert.NoError(t, err)
	assert.Len(t, files, 5)
}

func TestScanFiles_EnqueuesEachFileOnce(t *testing.T) {
	appender := &testutils.MockAppender{}
	tempDir := t.TempDir()

	log1 := filepath.Join(tempDir, "a.log")
	log2 := filepath.Join(tempDir, "b.log")
	nonLog := filepath.Join(tempDir, "c.txt")

	_ = os.WriteFile(log1, []byte("one\n"), 0644)
	_ = os.WriteFile(log2, []byte("two\n"), 0644)
	_ = os.WriteFile(nonLog, []byte("ignore\n"), 0644)

	config := makeTestConfig(tempDir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewTailerService(ctx, config, appender)

	s.scanFiles()

	metrics := s.metrics.GetMetricsStamp()
	assert.Equal(t, 2, metrics.QueuedFiles, "only .log files are enqueued")
	assert.Equal(t, 2, metrics.FilesDiscovered)

	// a rescan must not enqueue files that are still claimed
	s.scanFiles()

	metrics = s.metrics.GetMetricsStamp()
	assert.Equal(t, 2, metrics.QueuedFiles)
	assert.Equal(t, 2, metrics.FilesDiscovered)
}

func TestProcessFile_TailsAppendedLines(t *testing.T) {
	appender := &testutils.MockAppender{}
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "tailme.log")
	if err := os.WriteFile(file, []byte("start\n"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	config := makeTestConfig(tempDir)
	config.ScanInterval = 100 * time.Millisecond
	config.MinWorkers = 1
	config.MaxWorkers = 1
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := NewTailerService(ctx, config, appender)

	s.Start()

	time.Sleep(200 * time.Millisecond)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	_, _ = f.WriteString("l1\n")
	_, _ = f.WriteString("l2\n")
	_ = f.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(appender.GetEvents()) >= 2 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	events := appender.GetEvents()
	assert.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "l1", events[0].Message)
	assert.Equal(t, file, events[0].Origin)
	assert.Equal(t, "tailme.log", events[0].Labels["file"])
	assert.Equal(t, "node-1", events[0].Labels["node"])

	s.Stop()
}
