package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Outcomes recorded on audit entries.
const (
	OutcomeOK             = "ok"
	OutcomeDeliveryFailed = "delivery failed"
)

// FileName is the audit trail file inside the configured directory.
const FileName = "audit.jsonl"

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("audit log closed")

// Record is a single audit log entry.
type Record struct {
	Timestamp     time.Time              `json:"ts"`
	User          string                 `json:"user"`
	RobotID       string                 `json:"robotId"`
	Action        string                 `json:"action"`
	Description   string                 `json:"description"`
	Params        map[string]interface{} `json:"params,omitempty"`
	Outcome       string                 `json:"outcome"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

// Options controls file rotation.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger appends records as JSON lines.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	rotator  *lumberjack.Logger
	now      func() time.Time
}

// NewLogger creates an audit logger writing to logDir/audit.jsonl.
func NewLogger(logDir string, opts Options) (*Logger, error) {
	if logDir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}

	filePath := filepath.Join(logDir, FileName)
	rotator := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	logger := newWriterLogger(rotator)
	logger.filePath = filePath
	logger.rotator = rotator
	return logger, nil
}

func newWriterLogger(w io.WriteCloser) *Logger {
	return &Logger{out: w, now: time.Now}
}

// Append writes one record. The record is on the sink when Append returns nil.
func (l *Logger) Append(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	if rec.CorrelationID == "" {
		rec.CorrelationID = CorrelationID(ctx)
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeOK
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return ErrClosed
	}
	if _, err := l.out.Write(line); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Rotate starts a new file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotator == nil {
		return nil
	}
	return l.rotator.Rotate()
}

// Close closes the underlying sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

type correlationKey struct{}

// WithCorrelationID tags ctx so records appended under it carry id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
