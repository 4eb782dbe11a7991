package llmcall

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/jackzampolin/auditparse/internal/providers"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Path      string // JSONL file, appended to
	QueueSize int    // Buffer size (default: 256)
	Logger    *slog.Logger
}

// Recorder handles fire-and-forget call recording to a JSON Lines file.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	logger *slog.Logger
	file   *os.File
	w      *bufio.Writer

	queue    chan *Call
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	writeErr error
}

// NewRecorder opens (or creates) the trace file and starts the writer.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("recorder path is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open call trace %s: %w", cfg.Path, err)
	}

	r := &Recorder{
		logger: cfg.Logger,
		file:   f,
		w:      bufio.NewWriter(f),
		queue:  make(chan *Call, cfg.QueueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r, nil
}

// Record captures a call asynchronously. This is non-blocking unless the
// queue is full.
func (r *Recorder) Record(result *providers.ChatResult, opts RecordOptions) {
	if r == nil {
		return
	}
	r.RecordCall(FromChatResult(result, opts))
}

// RecordCall captures an already-constructed Call asynchronously.
func (r *Recorder) RecordCall(call *Call) {
	if r == nil || call == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("recorder closed, dropping call record", "batch", call.Batch)
		return
	}
	r.queue <- call
}

// Close flushes queued records and closes the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()

		r.wg.Wait()

		if ferr := r.w.Flush(); ferr != nil && r.writeErr == nil {
			r.writeErr = ferr
		}
		if cerr := r.file.Close(); cerr != nil && r.writeErr == nil {
			r.writeErr = cerr
		}
		err = r.writeErr
	})
	return err
}

func (r *Recorder) run() {
	defer r.wg.Done()

	enc := json.NewEncoder(r.w)
	for call := range r.queue {
		if err := enc.Encode(call); err != nil {
			r.logger.Warn("failed to write call record", "error", err, "batch", call.Batch)
			if r.writeErr == nil {
				r.writeErr = err
			}
			continue
		}
		// Keep the file readable while a long run is in progress.
		if len(r.queue) == 0 {
			if err := r.w.Flush(); err != nil && r.writeErr == nil {
				r.writeErr = err
			}
		}
	}
}
