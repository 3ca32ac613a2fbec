package capture

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/banshee-data/slip.capture/internal/fsutil"
)

// CurrentLogName is the rolling log file rewritten by every run.
const CurrentLogName = "log.txt"

// LogSink appends raw packet bytes to a timestamped log file and to the
// rolling log.txt in the same directory. Both are truncated when opened.
type LogSink struct {
	dir     string
	name    string
	files   []io.WriteCloser
	written int64
}

// NewLogSink creates dir if needed and opens log_<start>.txt and log.txt.
func NewLogSink(fsys fsutil.FileSystem, dir string, start time.Time) (*LogSink, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	s := &LogSink{dir: dir, name: "log_" + stamp(start) + ".txt"}
	for _, name := range []string{s.name, CurrentLogName} {
		f, err := fsys.Create(filepath.Join(dir, name))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		s.files = append(s.files, f)
	}
	return s, nil
}

// Name implements Named.
func (s *LogSink) Name() string { return "log" }

// Path returns the timestamped log file's path.
func (s *LogSink) Path() string { return filepath.Join(s.dir, s.name) }

// Written returns the number of packet bytes logged so far.
func (s *LogSink) Written() int64 { return s.written }

// WritePacket appends the packet bytes to both log files.
func (s *LogSink) WritePacket(r Record) error {
	var errs []error
	for _, f := range s.files {
		if _, err := f.Write(r.Data); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		s.written += int64(len(r.Data))
	}
	return errors.Join(errs...)
}

// Close closes both log files.
func (s *LogSink) Close() error {
	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files = nil
	return errors.Join(errs...)
}
