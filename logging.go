package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fkreview/config"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFileDateLayout  = "2006-01-02"
	maxPendingLogBytes = 16 * 1024
)

// lineWriter receives complete log lines from the fanout.
type lineWriter interface {
	WriteLine(line string, now time.Time)
	Close() error
}

type consoleWriter struct {
	w          io.Writer
	timestamps bool
}

func (c *consoleWriter) WriteLine(line string, now time.Time) {
	if c == nil || c.w == nil {
		return
	}
	if c.timestamps {
		line = now.UTC().Format(logTimestampLayout) + " " + line
	}
	_, _ = io.WriteString(c.w, line+"\n")
}

func (c *consoleWriter) Close() error { return nil }

// consoleTimestamps reports whether console lines should carry their own
// timestamp. Under a supervisor (journald, docker) stderr is not a terminal
// and the supervisor stamps lines already.
func consoleTimestamps(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// rotateFunc runs after the file sink switches to a new day, outside the
// sink lock so it may log.
type rotateFunc func(prevPath, newPath string)

// dayFileWriter appends to <dir>/<YYYY-MM-DD>.log and prunes files older
// than the retention window.
type dayFileWriter struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	day           string
	path          string
	file          *os.File
	lastErrAt     time.Time
	onRotate      rotateFunc
}

// Purpose: Create the daily log file writer.
// Key aspects: Creates the directory and prunes expired files up front.
// Upstream: setupLogging.
// Downstream: pruneLogs.
func newDayFileWriter(dir string, retentionDays int) (*dayFileWriter, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("logging: log directory is empty")
	}
	if retentionDays <= 0 {
		retentionDays = 7
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create %q: %w", dir, err)
	}
	if err := pruneLogs(dir, time.Now().UTC(), retentionDays); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: prune failed for %s: %v\n", dir, err)
	}
	return &dayFileWriter{dir: dir, retentionDays: retentionDays}, nil
}

func (d *dayFileWriter) WriteLine(line string, now time.Time) {
	if d == nil {
		return
	}
	now = now.UTC()
	day := now.Format(logFileDateLayout)

	var hook rotateFunc
	var prevPath, newPath string

	d.mu.Lock()
	if d.file == nil || d.day != day {
		prevPath = d.path
		if d.openLocked(day, now) && prevPath != "" && prevPath != d.path {
			hook, newPath = d.onRotate, d.path
		}
	}
	if d.file == nil {
		d.mu.Unlock()
		return
	}
	if _, err := d.file.WriteString(now.Format(logTimestampLayout) + " " + line + "\n"); err != nil {
		d.reportLocked(now, fmt.Errorf("write failed: %w", err))
	}
	d.mu.Unlock()

	if hook != nil {
		hook(prevPath, newPath)
	}
}

func (d *dayFileWriter) openLocked(day string, now time.Time) bool {
	if d.file != nil {
		_ = d.file.Close()
		d.file = nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.reportLocked(now, fmt.Errorf("create %q: %w", d.dir, err))
		return false
	}
	path := filepath.Join(d.dir, day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		d.reportLocked(now, fmt.Errorf("open %s: %w", path, err))
		return false
	}
	d.file, d.day, d.path = f, day, path
	if err := pruneLogs(d.dir, now, d.retentionDays); err != nil {
		d.reportLocked(now, fmt.Errorf("prune failed: %w", err))
	}
	return true
}

// reportLocked writes sink failures to stderr at most once a minute.
func (d *dayFileWriter) reportLocked(now time.Time, err error) {
	if !d.lastErrAt.IsZero() && now.Sub(d.lastErrAt) < time.Minute {
		return
	}
	d.lastErrAt = now
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

func (d *dayFileWriter) SetOnRotate(fn rotateFunc) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.onRotate = fn
	d.mu.Unlock()
}

func (d *dayFileWriter) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file, d.day, d.path = nil, "", ""
	return err
}

// logFanout splits log.Logger output into lines and hands each line to the
// console and the file writer.
type logFanout struct {
	mu      sync.Mutex
	pending []byte
	console lineWriter
	file    lineWriter
}

// Purpose: Wire logging from config.
// Key aspects: Always returns a usable fanout; a file sink failure is
// returned alongside it so startup can continue on the console.
// Upstream: main startup.
// Downstream: newDayFileWriter.
func setupLogging(cfg config.LoggingConfig, console io.Writer, timestamps bool) (*logFanout, error) {
	fanout := &logFanout{console: &consoleWriter{w: console, timestamps: timestamps}}
	if !cfg.Enabled {
		return fanout, nil
	}
	fw, err := newDayFileWriter(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return fanout, err
	}
	fw.SetOnRotate(logRotatedFile)
	fanout.mu.Lock()
	fanout.file = fw
	fanout.mu.Unlock()
	return fanout, nil
}

// logRotatedFile reports the size of the finished day's log.
func logRotatedFile(prevPath, newPath string) {
	info, err := os.Stat(prevPath)
	if err != nil {
		log.Printf("Logging: rotated to %s", filepath.Base(newPath))
		return
	}
	log.Printf("Logging: rotated to %s (%s closed at %s)", filepath.Base(newPath), filepath.Base(prevPath), humanize.Bytes(uint64(info.Size())))
}

func (f *logFanout) Write(p []byte) (int, error) {
	if f == nil {
		return len(p), nil
	}
	f.mu.Lock()
	f.pending = append(f.pending, p...)
	data := f.pending
	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
	}
	// A runaway line without a newline is flushed as is.
	if len(data) > maxPendingLogBytes {
		lines = append(lines, string(bytes.TrimRight(data, "\r")))
		data = data[:0]
	}
	f.pending = append(f.pending[:0], data...)
	console, file := f.console, f.file
	f.mu.Unlock()

	now := time.Now().UTC()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

func (f *logFanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}

func parseLogFileDay(name string) (time.Time, bool) {
	if filepath.Ext(name) != ".log" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(logFileDateLayout, strings.TrimSuffix(name, ".log"), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// pruneLogs removes dated log files older than retentionDays, counting
// today as day one. Other files are left alone.
func pruneLogs(dir string, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retentionDays - 1))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		day, ok := parseLogFileDay(e.Name())
		if ok && day.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
