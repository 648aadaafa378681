package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrWriterClosed = errors.New("jsonl writer closed")
	ErrBufferFull   = errors.New("jsonl buffer full")
)

// JSONLWriter appends JSON lines asynchronously to
// <baseDir>/<YYYY-MM-DD>/<name>.jsonl, rotating by size through lumberjack
// and by UTC date.
type JSONLWriter struct {
	baseDir   string
	name      string
	maxSizeMB int

	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu          sync.Mutex
	currentDate string
	file        *lumberjack.Logger
	now         func() time.Time
}

// NewJSONLWriter starts a writer. bufferSize bounds how many records may be
// queued before Write starts dropping.
func NewJSONLWriter(baseDir, name string, bufferSize, maxSizeMB int) *JSONLWriter {
	if bufferSize < 1 {
		bufferSize = 1
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record. It never blocks: a full buffer drops the record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrWriterClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	default:
		slog.Warn("jsonl write buffer full, dropping record", "name", w.name)
		return ErrBufferFull
	}
}

// Close stops the writer after flushing everything already queued.
func (w *JSONLWriter) Close() error {
	w.once.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *JSONLWriter) drain() {
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		default:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("jsonl marshal failed", "name", w.name, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.now().UTC().Format("2006-01-02")
	if w.file == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("jsonl rotate failed", "name", w.name, "error", err)
			return
		}
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		slog.Error("jsonl write failed", "name", w.name, "error", err)
	}
}

func (w *JSONLWriter) rotateForDate(date string) error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			slog.Debug("jsonl close on rotate failed", "name", w.name, "error", err)
		}
		w.file = nil
	}

	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	w.file = &lumberjack.Logger{
		Filename:   filepath.Join(dir, w.name+".jsonl"),
		MaxSize:    w.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     30,
	}
	w.currentDate = date
	slog.Debug("jsonl file opened", "file", w.file.Filename)
	return nil
}
