package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line %q is not JSON: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}
	return records
}

func TestAppendWritesJSONLine(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, Options{MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	if logger.GetFilePath() != filepath.Join(dir, FileName) {
		t.Errorf("GetFilePath() = %s", logger.GetFilePath())
	}

	ctx := WithCorrelationID(context.Background(), "corr-1")
	err = logger.Append(ctx, Record{
		User:        "alice",
		RobotID:     "1",
		Action:      "manual_target",
		Description: "user alice sent target to robot 1",
		Params:      map[string]interface{}{"values": []int{10, 10, 10, 10}},
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	records := readRecords(t, logger.GetFilePath())
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.User != "alice" || rec.RobotID != "1" || rec.Action != "manual_target" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Outcome != OutcomeOK {
		t.Errorf("Outcome = %q, want %q", rec.Outcome, OutcomeOK)
	}
	if rec.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want corr-1", rec.CorrelationID)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestAppendKeepsOrder(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), Options{MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = logger.Close() }()

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := logger.Append(ctx, Record{User: "u", RobotID: "1", Action: fmt.Sprintf("a%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	records := readRecords(t, logger.GetFilePath())
	for i, rec := range records {
		if rec.Action != fmt.Sprintf("a%d", i) {
			t.Fatalf("record %d action = %s", i, rec.Action)
		}
	}
}

func TestConcurrentAppend(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), Options{MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = logger.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = logger.Append(context.Background(), Record{User: fmt.Sprintf("u%d", i), RobotID: "1", Action: "joint_move"})
			}
		}(i)
	}
	wg.Wait()

	if got := len(readRecords(t, logger.GetFilePath())); got != 100 {
		t.Errorf("expected 100 records, got %d", got)
	}
}

func TestAppendAfterClose(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), Options{MaxSizeMB: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Append(context.Background(), Record{Action: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after Close error = %v, want ErrClosed", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
}

func TestRotateKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, Options{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = logger.Close() }()

	ctx := context.Background()
	if err := logger.Append(ctx, Record{Action: "before"}); err != nil {
		t.Fatal(err)
	}
	if err := logger.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	if err := logger.Append(ctx, Record{Action: "after"}); err != nil {
		t.Fatal(err)
	}

	records := readRecords(t, logger.GetFilePath())
	if len(records) != 1 || records[0].Action != "after" {
		t.Errorf("current file records = %+v", records)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Errorf("expected a rotated backup, found %d files", len(entries))
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }
func (failingWriter) Close() error                { return nil }

func TestAppendSurfacesWriteError(t *testing.T) {
	logger := newWriterLogger(failingWriter{})
	err := logger.Append(context.Background(), Record{Action: "x", Timestamp: time.Now()})
	if err == nil {
		t.Fatal("expected write error")
	}
}

func TestCorrelationIDEmpty(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID() = %q, want empty", got)
	}
}
