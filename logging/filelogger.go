package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-isorun/types"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	FailedDirName      = "failed"
	SummaryFilename    = "summary.log"
	ResultsFilename    = "results.json"
	FileLogSuffix      = ".log"
)

// FileLogger writes the output of every file of a run into its own log file
//
//	<baseDir>/testrun-<runID>/<file>.log
//	<baseDir>/testrun-<runID>/failed/<file>.log
//	<baseDir>/testrun-<runID>/summary.log
//	<baseDir>/testrun-<runID>/results.json
type FileLogger struct {
	baseDir   string
	logDir    string
	failedDir string
	runID     string

	mu    sync.Mutex
	paths map[types.TestFile]string
	names map[string]types.TestFile // Log file names already handed out
}

// NewFileLogger creates the run directory for runID under baseDir.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("log directory cannot be empty")
	}
	if runID == "" {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, FailedDirName)
	if err := os.MkdirAll(failedDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", failedDir, err)
	}

	return &FileLogger{
		baseDir:   baseDir,
		logDir:    logDir,
		failedDir: failedDir,
		runID:     runID,
		paths:     make(map[types.TestFile]string),
		names:     map[string]types.TestFile{SummaryFilename: ""},
	}, nil
}

// GetRunID returns the run ID the directory layout is keyed on.
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetDirectory returns the run directory.
func (l *FileLogger) GetDirectory() string {
	return l.logDir
}

// FileOutput opens the log file for file. ANSI escape sequences are stripped
// from everything written to it.
func (l *FileLogger) FileOutput(file types.TestFile) (io.WriteCloser, error) {
	l.mu.Lock()
	path, ok := l.paths[file]
	if !ok {
		path = filepath.Join(l.logDir, l.claimName(file))
		l.paths[file] = path
	}
	l.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", path, err)
	}
	return &ansiStripWriter{dst: f}, nil
}

// claimName returns a log file name no other file of the run uses. Paths
// that flatten to the same name get a numeric suffix in launch order.
// l.mu must be held.
func (l *FileLogger) claimName(file types.TestFile) string {
	name := logFileName(file)
	base := strings.TrimSuffix(name, FileLogSuffix)
	for n := 2; ; n++ {
		if _, taken := l.names[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s-%d%s", base, n, FileLogSuffix)
	}
	l.names[name] = file
	return name
}

// MarkFailed copies the log of a failing file into the failed directory.
func (l *FileLogger) MarkFailed(file types.TestFile) error {
	l.mu.Lock()
	src, ok := l.paths[file]
	l.mu.Unlock()
	if !ok {
		return nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read log file %s: %w", src, err)
	}
	dst := filepath.Join(l.failedDir, filepath.Base(src))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write failed log %s: %w", dst, err)
	}
	return nil
}

// fileRecord is one entry of results.json
type fileRecord struct {
	File       string `json:"file"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	LogFile    string `json:"log_file,omitempty"`
}

type runRecord struct {
	RunID    string       `json:"run_id"`
	Time     time.Time    `json:"time"`
	Total    int          `json:"total"`
	Failed   int          `json:"failed"`
	ExitCode int          `json:"exit_code"`
	Files    []fileRecord `json:"files"`
}

// WriteResults writes summary.log and results.json for the run.
func (l *FileLogger) WriteResults(outcomes []types.RunOutcome, exitCode int) error {
	record := runRecord{
		RunID:    l.runID,
		Time:     time.Now().UTC(),
		Total:    len(outcomes),
		ExitCode: exitCode,
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "Run ID: %s\n", l.runID)
	for _, o := range outcomes {
		rec := fileRecord{
			File:       o.File.String(),
			Status:     string(o.Status()),
			ExitCode:   o.ExitCode,
			DurationMS: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		l.mu.Lock()
		if path, ok := l.paths[o.File]; ok {
			rec.LogFile = filepath.Base(path)
		}
		l.mu.Unlock()
		if !o.Succeeded {
			record.Failed++
		}
		record.Files = append(record.Files, rec)
		fmt.Fprintf(&summary, "%-4s %8.1fs  %s\n", rec.Status, o.Duration.Seconds(), o.File)
	}
	fmt.Fprintf(&summary, "Total: %d, Failed: %d, Exit code: %d\n", record.Total, record.Failed, exitCode)

	if err := os.WriteFile(filepath.Join(l.logDir, SummaryFilename), []byte(summary.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.logDir, ResultsFilename), data, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// logFileName flattens a test file path into a single file name. Distinct
// paths may flatten to the same name; claimName resolves that.
func logFileName(file types.TestFile) string {
	name := filepath.ToSlash(filepath.Clean(file.String()))
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, "/", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name + FileLogSuffix
}

// ansiStripWriter buffers partial lines so escape sequences split across
// writes are still removed.
type ansiStripWriter struct {
	dst io.WriteCloser
	buf []byte
}

func (w *ansiStripWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	idx := bytes.LastIndexByte(w.buf, '\n')
	if idx < 0 {
		return len(p), nil
	}
	complete := w.buf[:idx+1]
	if _, err := io.WriteString(w.dst, stripansi.Strip(string(complete))); err != nil {
		return 0, err
	}
	w.buf = append(w.buf[:0], w.buf[idx+1:]...)
	return len(p), nil
}

func (w *ansiStripWriter) Close() error {
	if len(w.buf) > 0 {
		if _, err := io.WriteString(w.dst, stripansi.Strip(string(w.buf))); err != nil {
			_ = w.dst.Close()
			return err
		}
		w.buf = nil
	}
	return w.dst.Close()
}
