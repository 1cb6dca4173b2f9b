package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Chichichkin/CWLoggingAgent/internal/logging"
	"github.com/hpcloud/tail"
)

// TailerService discovers pod log files under a root directory and tails
// each one from a worker pool, handing every line to the appender.
type TailerService struct {
	config    Config
	appender  logging.EventAppender
	fileQueue chan string
	workers   []*worker
	workersWg sync.WaitGroup
	helpersWg sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	metrics   *TailerMetrics

	scaleMutex     sync.RWMutex
	currentWorkers int
	maxWorkers     int
	minWorkers     int

	filesMutex  sync.Mutex
	seenFiles   map[string]struct{}
	activeFiles map[string]struct{}
}

type worker struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
}

type Config struct {
	LogRootPath        string
	ScanInterval       time.Duration
	MinWorkers         int
	MaxWorkers         int
	FileQueueSize      int
	NodeName           string
	ScaleUpThreshold   float64 // default: 0.9
	ScaleDownThreshold float64 // default: 0.3
	ScaleCheckInterval time.Duration
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
}

func NewTailerService(ctx context.Context, config Config, appender logging.EventAppender) *TailerService {
	nCtx, cancel := context.WithCancel(ctx)

	service := &TailerService{
		config:    config,
		appender:  appender,
		fileQueue: make(chan string, config.FileQueueSize),
		ctx:       nCtx,
		cancel:    cancel,
		metrics: &TailerMetrics{
			FilesQueueCapacity: config.FileQueueSize,
		},
		minWorkers:     config.MinWorkers,
		maxWorkers:     config.MaxWorkers,
		currentWorkers: config.MinWorkers,
		seenFiles:      make(map[string]struct{}),
		activeFiles:    make(map[string]struct{}),
	}

	service.workers = make([]*worker, config.MaxWorkers+1)

	return service
}

func (s *TailerService) Start() {
	log.Printf("Starting log tailer: workers=%d..%d, file queue size=%d",
		s.minWorkers, s.maxWorkers, s.config.FileQueueSize)

	for i := 0; i < s.minWorkers; i++ {
		s.startWorker(i)
	}

	s.helpersWg.Add(3)
	go s.scanner()
	go s.monitorAndScale()
	go s.metricsReporter()

	log.Println("Log tailer started")
}

func (s *TailerService) Stop() {
	log.Println("Stopping log tailer...")
	s.cancel()

	s.helpersWg.Wait()

	close(s.fileQueue)
	s.workersWg.Wait()

	log.Println("Log tailer stopped")
}

func (s *TailerService) startWorker(id int) {
	if id >= len(s.workers) || s.workers[id] != nil {
		return
	}

	workerCtx, cancel := context.WithCancel(s.ctx)
	worker := &worker{
		id:     id,
		ctx:    workerCtx,
		cancel: cancel,
	}
	s.workers[id] = worker

	s.workersWg.Add(1)
	go s.worker(worker)

	s.metrics.IncWorkersActive()
	log.Printf("Worker %d started", id)
}

func (s *TailerService) stopWorker(id int) {
	if id >= len(s.workers) || s.workers[id] == nil {
		return
	}

	s.workers[id].cancel()
	s.workers[id] = nil

	s.metrics.DecWorkersActive()
	log.Printf("Worker %d stopped", id)
}

func (s *TailerService) worker(worker *worker) {
	defer s.workersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Worker %d panicked: %v", worker.id, r)
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.DecQueuedFiles()
			s.metrics.IncWorkersBusy()
			s.processFile(worker.ctx, filePath)
			s.metrics.DecWorkersBusy()
			s.releaseFile(filePath)

		case <-worker.ctx.Done():
			return
		}
	}
}

func (s *TailerService) processFile(ctx context.Context, filePath string) {
	defer s.metrics.IncFilesProcessed()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("File processing panicked for %s: %v", filePath, r)
			s.metrics.IncFilesFailed()
		}
	}()

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		log.Printf("Failed to tail file %s: %v", filePath, err)
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()

	labels := s.extractLabels(filePath)

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case line := <-t.Lines:
			if line == nil {
				continue
			}
			if line.Err != nil {
				log.Printf("Error reading from %s: %v", filePath, line.Err)
				continue
			}

			s.appender.Append(logging.Event{
				Timestamp: time.Now(),
				Message:   line.Text,
				Origin:    filePath,
				Labels:    labels,
			})
			s.metrics.IncLinesRead()
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from the blocking read to check context status and idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *TailerService) scanner() {
	defer s.helpersWg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	s.scanFiles()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailerService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		log.Printf("Error discovering log files: %v", err)
		return
	}

	for _, file := range files {
		if !s.claimFile(file) {
			continue
		}
		select {
		case s.fileQueue <- file:
			s.metrics.IncQueuedFiles()
		case <-s.ctx.Done():
			s.releaseFile(file)
			return

		default:
			log.Printf("File queue full (%d/%d), skipping %s",
				len(s.fileQueue), cap(s.fileQueue), file)
			s.releaseFile(file)
		}
	}
}

// claimFile reserves a file for a single tailer; files already queued or
// being tailed are skipped on rescans until their tail exits
func (s *TailerService) claimFile(file string) bool {
	s.filesMutex.Lock()
	defer s.filesMutex.Unlock()

	if _, active := s.activeFiles[file]; active {
		return false
	}
	if _, seen := s.seenFiles[file]; !seen {
		s.metrics.IncFilesDiscovered()
		s.seenFiles[file] = struct{}{}
	}
	s.activeFiles[file] = struct{}{}
	return true
}

func (s *TailerService) releaseFile(file string) {
	s.filesMutex.Lock()
	defer s.filesMutex.Unlock()
	delete(s.activeFiles, file)
}

func (s *TailerService) monitorAndScale() {
	defer s.helpersWg.Done()

	ticker := time.NewTicker(s.config.ScaleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.adjustWorkers()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailerService) adjustWorkers() {
	if s.minWorkers == s.maxWorkers {
		return
	}

	s.scaleMutex.RLock()
	current := s.currentWorkers
	s.scaleMutex.RUnlock()

	metrics := s.metrics.GetMetricsStamp()
	queueUsage := metrics.GetQueueUsage()
	workerUtilization := 0.0
	if current > 0 {
		workerUtilization = float64(metrics.WorkersBusy) / float64(current)
	}

	if queueUsage > s.config.ScaleUpThreshold &&
		workerUtilization > s.config.ScaleUpThreshold &&
		current < s.maxWorkers {
		s.scaleUp()
	} else if queueUsage < s.config.ScaleDownThreshold &&
		workerUtilization < s.config.ScaleDownThreshold &&
		current > s.minWorkers {
		s.scaleDown()
	}
}

func (s *TailerService) scaleUp() {
	s.scaleMutex.Lock()
	defer s.scaleMutex.Unlock()

	if s.currentWorkers >= s.maxWorkers {
		return
	}

	newWorkerID := s.currentWorkers
	s.currentWorkers++

	s.startWorker(newWorkerID)
	s.metrics.IncScaleUpOperations()

	log.Printf("Scaled up to %d workers (queue usage: %d%%)",
		s.currentWorkers, int(s.metrics.GetQueueUsage()*100))
}

func (s *TailerService) scaleDown() {
	s.scaleMutex.Lock()
	defer s.scaleMutex.Unlock()

	if s.currentWorkers <= s.minWorkers {
		return
	}

	workerToStop := s.currentWorkers - 1
	s.currentWorkers--

	s.stopWorker(workerToStop)
	s.metrics.IncScaleDownOperations()

	log.Printf("Scaled down to %d workers (queue usage: %d%%)",
		s.currentWorkers, int(s.metrics.GetQueueUsage()*100))
}

func (s *TailerService) metricsReporter() {
	defer s.helpersWg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics := s.metrics.GetMetricsStamp()
			queueUsage := s.metrics.GetQueueUsage()

			log.Printf(
				"Tailer metrics: workers=%d/%d, busy=%d, file queue=%d/%d (%d%%), files tailed/discovered=%d/%d, lines=%d, scale up/down=%d/%d",
				metrics.WorkersActive, s.maxWorkers,
				metrics.WorkersBusy,
				metrics.QueuedFiles, s.config.FileQueueSize, int(queueUsage*100),
				metrics.FilesProcessed, metrics.FilesDiscovered,
				metrics.LinesRead,
				metrics.ScaleUpOperations,
				metrics.ScaleDownOperations,
			)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *TailerService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.Walk(s.config.LogRootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Printf("Error accessing path %s: %v", path, err)
			return nil
		}

		if !info.IsDir() && strings.HasSuffix(info.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}

// extractLabels derives pod metadata from the kubelet directory layout,
// <root>/<namespace>_<pod>_<uid>/<container>/<file>.log
func (s *TailerService) extractLabels(filePath string) map[string]string {
	labels := map[string]string{
		"node": s.config.NodeName,
		"file": filepath.Base(filePath),
	}

	rel, err := filepath.Rel(s.config.LogRootPath, filePath)
	if err != nil {
		return labels
	}

	parts := strings.Split(rel, string(filepath.Separator))
	podParts := strings.Split(parts[0], "_")
	if len(podParts) >= 3 {
		labels["namespace"] = podParts[0]
		labels["pod"] = podParts[1]
		labels["pod_uid"] = podParts[2]
	}
	if len(parts) >= 3 {
		labels["container"] = parts[1]
	}

	return labels
}
