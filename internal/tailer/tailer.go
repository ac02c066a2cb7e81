// Package tailer feeds the shipping pipeline from log files on disk: it
// scans a directory tree for *.log files and tails each one, turning
// lines into events.
package tailer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"

	"github.com/esobolev/ddshipper/internal/logging"
)

// Emitter is the pipeline entry point the tailer feeds. Satisfied by
// *handler.Handler.
type Emitter interface {
	Emit(ev logging.LogEvent)
}

type Config struct {
	LogRootPath   string
	ScanInterval  time.Duration
	Workers       int
	FileQueueSize int
	// If > 0, stop tailing a file after this period without new lines.
	FileIdleTimeout time.Duration
}

// Service discovers and tails log files with a fixed worker pool.
type Service struct {
	config  Config
	emitter Emitter

	fileQueue chan string
	seenFiles map[string]struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	workersWg sync.WaitGroup
	scannerWg sync.WaitGroup
}

func NewService(ctx context.Context, config Config, emitter Emitter) *Service {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.FileQueueSize <= 0 {
		config.FileQueueSize = 50
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = 30 * time.Second
	}

	nCtx, cancel := context.WithCancel(ctx)
	return &Service{
		config:    config,
		emitter:   emitter,
		fileQueue: make(chan string, config.FileQueueSize),
		seenFiles: make(map[string]struct{}),
		ctx:       nCtx,
		cancel:    cancel,
	}
}

func (s *Service) Start() {
	log.Printf("Starting tailer: root=%s workers=%d scan_interval=%s",
		s.config.LogRootPath, s.config.Workers, s.config.ScanInterval)

	for i := 0; i < s.config.Workers; i++ {
		s.workersWg.Add(1)
		go s.worker(i)
	}

	s.scannerWg.Add(1)
	go s.scanner()
}

func (s *Service) Stop() {
	log.Println("Stopping tailer...")
	s.cancel()

	s.scannerWg.Wait()
	close(s.fileQueue)
	s.workersWg.Wait()

	log.Println("Tailer stopped")
}

func (s *Service) scanner() {
	defer s.scannerWg.Done()

	// One pass up front so a short-lived process still picks up files.
	s.scanFiles()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		log.Printf("Error discovering log files: %v", err)
		return
	}

	for _, file := range files {
		if _, ok := s.seenFiles[file]; ok {
			continue
		}
		select {
		case s.fileQueue <- file:
			s.seenFiles[file] = struct{}{}
		case <-s.ctx.Done():
			return
		default:
			log.Printf("File queue full (%d/%d), skipping %s",
				len(s.fileQueue), cap(s.fileQueue), file)
		}
	}
}

func (s *Service) worker(id int) {
	defer s.workersWg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Tail worker %d panicked: %v", id, r)
		}
	}()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.tailFile(filePath)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) tailFile(filePath string) {
	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		log.Printf("Failed to tail file %s: %v", filePath, err)
		return
	}
	defer t.Cleanup()

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
			s.emitter.Emit(s.eventFromLine(filePath, line.Text))
			lastActivity = time.Now()

		case <-checkTicker.C:
			// Waking up from blocking line reads to check the context
			// and the idle timeout.
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// eventFromLine parses one tailed line. JSON lines contribute their level,
// message and remaining fields; anything else ships verbatim at INFO.
func (s *Service) eventFromLine(filePath, text string) logging.LogEvent {
	ev := logging.LogEvent{
		Time:    time.Now(),
		Level:   logging.LevelInfo,
		Logger:  loggerName(filePath),
		Message: text,
		PID:     os.Getpid(),
		Extra: map[string]any{
			"file": filePath,
		},
	}

	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return ev
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return ev
	}

	if level, ok := fields["level"].(string); ok {
		ev.Level = logging.ParseLevel(level)
		delete(fields, "level")
	}
	for _, key := range []string{"message", "msg"} {
		if message, ok := fields[key].(string); ok {
			ev.Message = message
			delete(fields, key)
			break
		}
	}
	for key, value := range fields {
		ev.Extra[key] = value
	}
	return ev
}

// loggerName derives a stable logger identifier from a file path:
// "/var/log/app/api.log" -> "app.api".
func loggerName(filePath string) string {
	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	parent := filepath.Base(filepath.Dir(filePath))
	if parent == "." || parent == string(filepath.Separator) || parent == "" {
		return base
	}
	return parent + "." + base
}

func (s *Service) discoverLogFiles() ([]string, error) {
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
