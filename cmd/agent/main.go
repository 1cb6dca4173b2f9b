package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Chichichkin/CWLoggingAgent/internal/daemon"
	"github.com/Chichichkin/CWLoggingAgent/internal/logging"
	"github.com/Chichichkin/CWLoggingAgent/internal/logging/cloudwatch"
	"github.com/Chichichkin/CWLoggingAgent/internal/logging/shipper"
	"github.com/Chichichkin/CWLoggingAgent/internal/logging/storage"
)

var args struct {
	Region          string `arg:"env:AWS_REGION"`
	AccessKeyID     string `arg:"env:AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `arg:"env:AWS_SECRET_ACCESS_KEY"`

	LogGroup             string `arg:"--log-group,env:CW_LOG_GROUP,required" help:"CloudWatch Logs group name"`
	LogStream            string `arg:"--log-stream,env:CW_LOG_STREAM,required" help:"log stream base name"`
	StreamTimeLayout     string `arg:"--stream-time-layout,env:CW_STREAM_TIME_LAYOUT" help:"Go time layout appended to the stream name, e.g. 2006-01-02"`
	CreateLogGroup       bool   `arg:"--create-log-group,env:CW_CREATE_LOG_GROUP" help:"create the log group when missing"`
	DisableSequenceToken bool   `arg:"--disable-sequence-token,env:CW_DISABLE_SEQUENCE_TOKEN"`
	QueueSize            int    `arg:"--queue-size,env:CW_QUEUE_SIZE" default:"8192"`
	Format               string `arg:"env:CW_FORMAT" default:"text" help:"wire format, text or json"`
	FailedBatchURL       string `arg:"--failed-batch-url,env:CW_FAILED_BATCH_URL" help:"optional S3 URL for undeliverable batches"`

	LogRootPath        string        `arg:"--log-path,env:LOG_PATH" default:"/var/log/pods"`
	NodeName           string        `arg:"env:NODE_NAME" default:"unknown"`
	ScanInterval       time.Duration `arg:"env:SCAN_INTERVAL" default:"30s"`
	MinWorkers         int           `arg:"env:MIN_WORKERS" default:"2"`
	MaxWorkers         int           `arg:"env:MAX_WORKERS" default:"10"`
	FileQueueSize      int           `arg:"env:FILE_QUEUE_SIZE" default:"50"`
	ScaleUpThreshold   float64       `arg:"env:SCALE_UP_THRESHOLD" default:"0.9"`
	ScaleDownThreshold float64       `arg:"env:SCALE_DOWN_THRESHOLD" default:"0.3"`
	ScaleCheckInterval time.Duration `arg:"env:SCALE_CHECK_INTERVAL" default:"15s"`
	FileIdleTimeout    time.Duration `arg:"env:FILE_IDLE_TIMEOUT" default:"5m"`
}

func main() {
	arg.MustParse(&args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop, err := startAgent(ctx)
	if err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	stop()
}

func startAgent(ctx context.Context) (func(), error) {
	cfg := logging.Config{
		QueueCapacity:        args.QueueSize,
		GroupName:            args.LogGroup,
		StreamName:           args.LogStream,
		StreamTimeLayout:     args.StreamTimeLayout,
		CreateLogGroup:       args.CreateLogGroup,
		DisableSequenceToken: args.DisableSequenceToken,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	render, err := renderFunc(args.Format)
	if err != nil {
		return nil, err
	}

	sink := logging.LogSink{}
	clientConfig := cloudwatch.ClientConfig{
		Region:          args.Region,
		AccessKeyID:     args.AccessKeyID,
		SecretAccessKey: args.SecretAccessKey,
	}
	channel := cloudwatch.NewChannel(cfg, render, sink, cloudwatch.DefaultClientFactory(clientConfig))

	var archive logging.BatchArchive
	if args.FailedBatchURL != "" {
		awsCfg, err := clientConfig.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for the batch archive: %w", err)
		}
		archive, err = storage.NewS3Archive(args.FailedBatchURL, s3.NewFromConfig(awsCfg), sink)
		if err != nil {
			return nil, err
		}
	}

	logShipper := shipper.NewShipper(ctx, cfg, channel, sink, archive)
	logShipper.Start()

	tailer := daemon.NewTailerService(ctx, daemon.Config{
		LogRootPath:        args.LogRootPath,
		ScanInterval:       args.ScanInterval,
		MinWorkers:         args.MinWorkers,
		MaxWorkers:         args.MaxWorkers,
		FileQueueSize:      args.FileQueueSize,
		NodeName:           args.NodeName,
		ScaleUpThreshold:   args.ScaleUpThreshold,
		ScaleDownThreshold: args.ScaleDownThreshold,
		ScaleCheckInterval: args.ScaleCheckInterval,
		FileIdleTimeout:    args.FileIdleTimeout,
	}, logShipper)
	tailer.Start()

	return func() {
		tailer.Stop()
		logShipper.Stop()
		if archive != nil {
			if err := archive.Close(); err != nil {
				log.Printf("Failed to close batch archive: %v", err)
			}
		}
	}, nil
}

func renderFunc(format string) (logging.RenderFunc, error) {
	switch format {
	case "text":
		return logging.RenderText, nil
	case "json":
		return logging.RenderJSON, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q, want text or json", format)
	}
}
