package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/esobolev/ddshipper/internal/handler"
	"github.com/esobolev/ddshipper/internal/logging"
	"github.com/esobolev/ddshipper/internal/logging/datadog"
	"github.com/esobolev/ddshipper/internal/logging/filesink"
	"github.com/esobolev/ddshipper/internal/logging/natspub"
	"github.com/esobolev/ddshipper/internal/tailer"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := getConfig()

	h, closeSink, err := buildPipeline(config)
	if err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	tailerService := tailer.NewService(ctx, tailer.Config{
		LogRootPath:     config.LogRootPath,
		ScanInterval:    config.ScanInterval,
		Workers:         config.TailWorkers,
		FileQueueSize:   config.FileQueueSize,
		FileIdleTimeout: config.FileIdleTimeout,
	}, h)
	tailerService.Start()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	tailerService.Stop()
	if err := h.Close(); err != nil {
		log.Printf("Handler close failed: %v", err)
	}
	closeSink()
}

func buildPipeline(config AppConfig) (*handler.Handler, func(), error) {
	loggingConfig := logging.Config{
		Service:         config.Service,
		Source:          config.Source,
		Version:         config.Version,
		Environment:     config.Environment,
		Tags:            config.Tags,
		BatchSize:       config.BatchSize,
		FlushInterval:   config.FlushInterval,
		MaxRetries:      config.MaxRetries,
		QueueSize:       config.QueueSize,
		ShutdownTimeout: config.ShutdownTimeout,
	}

	var (
		sender    logging.Sender
		closeSink = func() {}
	)

	switch config.Sink {
	case "datadog":
		ddSender, err := datadog.NewSender(datadog.Config{
			APIKey:  config.APIKey,
			Site:    config.Site,
			Source:  config.Source,
			Service: config.Service,
			Tags:    config.Tags,
		})
		if err != nil {
			return nil, nil, err
		}
		sender = ddSender

	case "nats":
		natsSender, err := natspub.NewSender(config.NatsURL, config.NatsSubject)
		if err != nil {
			return nil, nil, err
		}
		sender = natsSender
		closeSink = natsSender.Close

	case "file":
		fileSender, err := filesink.NewSender(config.SinkFilePath)
		if err != nil {
			return nil, nil, err
		}
		sender = fileSender
		closeSink = func() {
			if err := fileSender.Close(); err != nil {
				log.Printf("File sink close failed: %v", err)
			}
		}

	default:
		return nil, nil, fmt.Errorf("unknown sink %q (want datadog, nats or file)", config.Sink)
	}

	h, err := handler.New(loggingConfig, sender)
	if err != nil {
		closeSink()
		return nil, nil, err
	}
	return h, closeSink, nil
}

// ------------------------------------  code for reading config -----------------------------------------------------

type AppConfig struct {
	Sink string

	APIKey      string
	Site        string
	Service     string
	Source      string
	Version     string
	Environment string
	Tags        string

	NatsURL      string
	NatsSubject  string
	SinkFilePath string

	BatchSize       int
	FlushInterval   time.Duration
	MaxRetries      int
	QueueSize       int
	ShutdownTimeout time.Duration

	LogRootPath     string
	ScanInterval    time.Duration
	TailWorkers     int
	FileQueueSize   int
	FileIdleTimeout time.Duration
}

func getConfig() AppConfig {
	return AppConfig{
		Sink:            getEnv("SINK", "datadog"),
		APIKey:          getEnv("DD_API_KEY", ""),
		Site:            getEnv("DD_SITE", datadog.DefaultSite),
		Service:         getEnv("DD_SERVICE", "ddshipper"),
		Source:          getEnv("DD_SOURCE", "go"),
		Version:         getEnv("DD_VERSION", ""),
		Environment:     getEnv("DD_ENV", ""),
		Tags:            getEnv("DD_TAGS", ""),
		NatsURL:         getEnv("NATS_URL", "nats://127.0.0.1:4222"),
		NatsSubject:     getEnv("NATS_SUBJECT", "logs.batches"),
		SinkFilePath:    getEnv("SINK_FILE_PATH", "/var/log/ddshipper/out.ndjson"),
		BatchSize:       getEnvAsInt("BATCH_SIZE", logging.DefaultBatchSize),
		FlushInterval:   getEnvAsDuration("FLUSH_INTERVAL", logging.DefaultFlushInterval),
		MaxRetries:      getEnvAsInt("MAX_RETRIES", logging.DefaultMaxRetries),
		QueueSize:       getEnvAsInt("QUEUE_SIZE", logging.DefaultQueueSize),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", logging.DefaultShutdownTimeout),
		LogRootPath:     getEnv("LOG_PATH", "/var/log/apps"),
		ScanInterval:    getEnvAsDuration("SCAN_INTERVAL", 30*time.Second),
		TailWorkers:     getEnvAsInt("TAIL_WORKERS", 2),
		FileQueueSize:   getEnvAsInt("FILE_QUEUE_SIZE", 50),
		FileIdleTimeout: getEnvAsDuration("FILE_IDLE_TIMEOUT", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
