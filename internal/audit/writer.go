package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	segjson "github.com/segmentio/encoding/json"

	"github.com/robfig/cron"
)

const defaultMaxBytesPerFile = 64 * 1024 * 1024

// Writer appends Events as JSONL, one fsync-suitable line per event,
// rotating the backing file daily (by file name) or when the per-file
// size cap is exceeded.
//
// Maps to: spec.md §4.6
type Writer struct {
	dir             string
	maxBytesPerFile int64
	redactEnabled   bool

	mu            sync.Mutex
	file          *os.File
	currentDate   string
	currentSize   int64
	rolloverIndex int

	cron *cron.Cron
}

// NewWriter creates a Writer appending to dir. redact enables the
// details-key/query-string redaction pass before each line is written.
// A daily cron job (in addition to the per-write date check) forces
// rotation even across idle periods with no writes.
func NewWriter(dir string, maxBytesPerFile int64, redact bool) (*Writer, error) {
	if maxBytesPerFile <= 0 {
		maxBytesPerFile = defaultMaxBytesPerFile
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	w := &Writer{
		dir:             dir,
		maxBytesPerFile: maxBytesPerFile,
		redactEnabled:   redact,
	}

	c := cron.New()
	if err := c.AddFunc("@daily", w.forceRotate); err != nil {
		return nil, fmt.Errorf("schedule audit rotation: %w", err)
	}
	c.Start()
	w.cron = c

	return w, nil
}

// Log appends event as a single JSON line, redacting sensitive details
// first if enabled, rotating the file first if the date has rolled over
// or the size cap would be exceeded.
func (w *Writer) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	encoded, err := segjson.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if w.redactEnabled {
		encoded, err = redact(encoded)
		if err != nil {
			return fmt.Errorf("redact audit event: %w", err)
		}
	}
	line := append(encoded, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeededLocked(event.Timestamp, int64(len(line))); err != nil {
		return err
	}
	n, err := w.file.Write(line)
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	w.currentSize += int64(n)
	return w.file.Sync()
}

// forceRotate is invoked by the daily cron schedule; it closes the
// current file handle so the next Log call opens a fresh day-stamped file.
func (w *Writer) forceRotate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
		w.currentDate = ""
	}
}

func (w *Writer) rotateIfNeededLocked(now time.Time, nextLineSize int64) error {
	date := now.Format("2006-01-02")

	if w.file == nil || date != w.currentDate {
		if w.file != nil {
			w.file.Close()
		}
		w.currentDate = date
		w.rolloverIndex = 0
		return w.openLocked()
	}

	if w.currentSize+nextLineSize > w.maxBytesPerFile {
		w.file.Close()
		w.rolloverIndex++
		return w.openLocked()
	}

	return nil
}

func (w *Writer) openLocked() error {
	path := w.currentPathLocked()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log file %s: %w", path, err)
	}
	w.file = f
	w.currentSize = info.Size()
	return nil
}

func (w *Writer) currentPathLocked() string {
	if w.rolloverIndex == 0 {
		return filepath.Join(w.dir, fmt.Sprintf("audit-%s.jsonl", w.currentDate))
	}
	return filepath.Join(w.dir, fmt.Sprintf("audit-%s.%d.jsonl", w.currentDate, w.rolloverIndex))
}

// Close stops the rotation schedule and closes the current file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		w.cron.Stop()
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
