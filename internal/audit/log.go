package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/hostpanel/internal/logger"
)

// FileLog appends records to a rotated JSON-lines file.
type FileLog struct {
	path string
	mu   sync.Mutex
	w    io.WriteCloser
}

// OpenFileLog prepares the log at path. The parent directory is created.
func OpenFileLog(path string, rot logger.Rotation) (*FileLog, error) {
	if path == "" {
		return nil, errors.New("empty audit log path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return nil, fmt.Errorf("audit log dir: %w", err)
	}
	return &FileLog{path: path, w: rot.Writer(path)}, nil
}

// Path returns the active log file.
func (l *FileLog) Path() string { return l.path }

// Send appends r as a single line.
func (l *FileLog) Send(_ context.Context, r Record) error {
	if r.Context == nil {
		r.Context = map[string]any{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(b)
	return err
}

// Tail returns up to n of the most recent records of the active file,
// oldest first. Unparseable lines are skipped.
func (l *FileLog) Tail(n int) ([]Record, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var ring []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		ring = append(ring, r)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring, sc.Err()
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
