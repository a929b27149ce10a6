package job

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idAttempts = 5

// Paths are the artifact locations of one job.
type Paths struct {
	Script   string
	Log      string
	Exit     string
	Meta     string
	Sentinel string
}

// Store manages job artifacts under a single directory.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore returns a Store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the jobs directory.
func (s *Store) Dir() string { return s.dir }

// Paths returns the artifact paths for id.
func (s *Store) Paths(id string) Paths {
	base := filepath.Join(s.dir, id)
	return Paths{
		Script:   base + ".sh",
		Log:      base + ".log",
		Exit:     base + ".exit",
		Meta:     base + ".json",
		Sentinel: base + ".logged",
	}
}

// NewID returns create_<YYYYMMDD_HHMMSS>_<8 hex> for t in UTC.
func NewID(t time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("create_%s_%s", t.UTC().Format("20060102_150405"), hex.EncodeToString(u[:4]))
}

// Create allocates a fresh id and writes the initial descriptor. The
// returned descriptor carries the id, running status and creation time.
func (s *Store) Create(d Descriptor) (Descriptor, error) {
	if err := os.MkdirAll(s.dir, 0o775); err != nil {
		return Descriptor{}, fmt.Errorf("create jobs dir: %w", err)
	}
	now := s.now().UTC().Truncate(time.Second)
	if d.Action == "" {
		d.Action = ActionCreate
	}
	d.CreatedAt = now
	d.Status = StatusRunning
	d.ResultLogged = false
	d.ExitCode = nil
	d.FinishedAt = nil
	for i := 0; i < idAttempts; i++ {
		d.JobID = NewID(now)
		f, err := os.OpenFile(s.Paths(d.JobID).Meta, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o664)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return Descriptor{}, fmt.Errorf("create descriptor: %w", err)
		}
		_ = f.Close()
		if err := s.Save(d); err != nil {
			_ = os.Remove(s.Paths(d.JobID).Meta)
			return Descriptor{}, err
		}
		return d, nil
	}
	return Descriptor{}, errors.New("could not allocate a unique job id")
}

// WriteScript writes the wrapper script for id with owner-only permissions.
func (s *Store) WriteScript(id string, body []byte) error {
	p := s.Paths(id).Script
	if err := os.WriteFile(p, body, 0o700); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(p, 0o700)
}

// Discard removes every artifact of a job that never started.
func (s *Store) Discard(id string) {
	p := s.Paths(id)
	for _, f := range []string{p.Script, p.Log, p.Exit, p.Exit + ".tmp", p.Meta, p.Sentinel} {
		_ = os.Remove(f)
	}
}

// Load reads the descriptor of id.
func (s *Store) Load(id string) (Descriptor, error) {
	if !ValidID(id) {
		return Descriptor{}, ErrInvalidID
	}
	b, err := os.ReadFile(s.Paths(id).Meta)
	if errors.Is(err, fs.ErrNotExist) {
		return Descriptor{}, ErrNotFound
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("read descriptor: %w", err)
	}
	var d Descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor %s: %w", id, err)
	}
	if d.JobID == "" {
		d.JobID = id
	}
	return d, nil
}

// Save atomically replaces the descriptor of d.JobID.
func (s *Store) Save(d Descriptor) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	target := s.Paths(d.JobID).Meta
	tmp, err := os.CreateTemp(s.dir, "."+d.JobID+".*.tmp")
	if err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write descriptor: %w", err)
	}
	_ = os.Chmod(tmp.Name(), 0o664)
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write descriptor: %w", err)
	}
	return nil
}

// IsTerminal reports whether the exit marker of id exists.
func (s *Store) IsTerminal(id string) bool {
	_, err := os.Stat(s.Paths(id).Exit)
	return err == nil
}

// ReadExitCode returns the recorded exit code. An unreadable or
// non-numeric marker reads as 1.
func (s *Store) ReadExitCode(id string) int {
	b, err := os.ReadFile(s.Paths(id).Exit)
	if err != nil {
		return 1
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 1
	}
	return code
}

// ReadTail returns the log bytes from offset to the current end along with
// the new offset. Offsets are clamped to [0, size].
func (s *Store) ReadTail(id string, offset int64) ([]byte, int64, error) {
	if offset < 0 {
		offset = 0
	}
	f, err := os.Open(s.Paths(id).Log)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, offset, fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log: %w", err)
	}
	size := fi.Size()
	if offset > size {
		offset = size
	}
	if offset == size {
		return nil, offset, nil
	}
	buf := make([]byte, size-offset)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, offset, fmt.Errorf("read log: %w", err)
	}
	return buf[:n], offset + int64(n), nil
}

// ReadLog returns the full log of id, empty when absent.
func (s *Store) ReadLog(id string) string {
	b, err := os.ReadFile(s.Paths(id).Log)
	if err != nil {
		return ""
	}
	return string(b)
}

// ClaimResult atomically claims the right to record the outcome of id.
// Exactly one caller observes true.
func (s *Store) ClaimResult(id string) (bool, error) {
	f, err := os.OpenFile(s.Paths(id).Sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o664)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim result: %w", err)
	}
	_, _ = f.WriteString(s.now().UTC().Format(time.RFC3339) + "\n")
	return true, f.Close()
}

// MarkResultLogged records the final state of id in its descriptor.
func (s *Store) MarkResultLogged(id string, exitCode int, finishedAt time.Time) (Descriptor, error) {
	d, err := s.Load(id)
	if err != nil {
		return Descriptor{}, err
	}
	fin := finishedAt.UTC().Truncate(time.Second)
	d.ResultLogged = true
	d.ExitCode = &exitCode
	d.FinishedAt = &fin
	d.Status = StatusSuccess
	if exitCode != 0 {
		d.Status = StatusError
	}
	return d, s.Save(d)
}

// List returns every readable descriptor, newest first.
func (s *Store) List() ([]Descriptor, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var out []Descriptor
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		d, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID > out[j].JobID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
