// Package proclog implements the append-only processing log that remembers
// every URL's terminal outcome across process restarts.
package proclog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/archivelab/linkmeta/internal/linkmeta"
)

var header = []string{"url", "timestamp", "status", "error"}

// Log appends terminal outcomes to a CSV file, one record per line. Appends
// from concurrent workers are serialized by a mutex; a log that cannot be
// opened degrades to a no-op so the pipeline keeps running.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	path   string
	logger *zap.Logger
}

// Open creates or appends to the log file at path, writing the header for a
// fresh file.
func Open(path string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	info, statErr := os.Stat(path)
	fresh := errors.Is(statErr, os.ErrNotExist) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open processing log: %w", err)
	}

	l := &Log{file: file, writer: csv.NewWriter(file), path: path, logger: logger}
	if fresh {
		if err := l.writer.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("write log header: %w", err)
		}
		l.writer.Flush()
	}
	return l, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	return l.file.Close()
}

// Append writes one record and flushes it to disk.
func (l *Log) Append(record linkmeta.LogRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := []string{
		record.URL,
		record.Timestamp.UTC().Format(time.RFC3339),
		string(record.Status),
		record.Error,
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("flush log record: %w", err)
	}
	return nil
}

// Replay reads the whole log and returns the most recent record per URL.
// Rows that cannot be parsed are skipped with a warning rather than failing
// the startup reconciliation.
func (l *Log) Replay() (map[string]linkmeta.LogRecord, error) {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]linkmeta.LogRecord{}, nil
		}
		return nil, fmt.Errorf("open log for replay: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	records := make(map[string]linkmeta.LogRecord)
	for line := 0; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.logger.Warn("skipping unreadable log row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if line == 0 && len(row) > 0 && row[0] == "url" {
			continue
		}
		if len(row) < 3 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[1])
		if err != nil {
			l.logger.Warn("skipping log row with bad timestamp", zap.Int("line", line), zap.Error(err))
			continue
		}
		record := linkmeta.LogRecord{
			URL:       row[0],
			Timestamp: ts,
			Status:    linkmeta.Status(row[2]),
		}
		if len(row) > 3 {
			record.Error = row[3]
		}
		records[record.URL] = record
	}
	return records, nil
}

// Nop is a ProcessingLog that records nothing, used when the log file is
// unavailable.
type Nop struct{}

// Append discards the record.
func (Nop) Append(linkmeta.LogRecord) error { return nil }

// Replay reports an empty history.
func (Nop) Replay() (map[string]linkmeta.LogRecord, error) {
	return map[string]linkmeta.LogRecord{}, nil
}
