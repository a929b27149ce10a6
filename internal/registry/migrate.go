package registry

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Names of the non-registry state artifacts that also moved into the state
// directory.
const (
	ActionsLogFile = "devpanel-actions.log"
	JobsDir        = "devpanel-jobs"
)

// rename is swapped in tests to force the cross-device copy path.
var rename = os.Rename

// MigrationResult reports what happened to one legacy artifact.
type MigrationResult struct {
	Legacy string `json:"legacy"`
	Target string `json:"target"`
	// Action is one of moved, copied, skipped, failed.
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// Migrate moves legacy dot-prefixed artifacts from the projects directory
// into the state directory. An existing target is never overwritten and a
// failed move leaves the legacy file in place as a read fallback.
func (s *Store) Migrate() []MigrationResult {
	if s.stateDir == "" || s.projectsDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.stateDir, 0o775); err != nil {
		s.logger.Warn("state dir unavailable, skipping migration", "dir", s.stateDir, "error", err)
		return nil
	}
	var out []MigrationResult
	for _, name := range []string{HostsFile, CoresFile, BindingsFile, ActionsLogFile, JobsDir} {
		res := migrateOne(filepath.Join(s.projectsDir, "."+name), filepath.Join(s.stateDir, name))
		switch res.Action {
		case "failed":
			s.logger.Warn("legacy state migration failed", "legacy", res.Legacy, "target", res.Target, "error", res.Error)
		case "moved", "copied":
			s.logger.Info("migrated legacy state", "legacy", res.Legacy, "target", res.Target, "action", res.Action)
		}
		out = append(out, res)
	}
	return out
}

func migrateOne(legacy, target string) MigrationResult {
	res := MigrationResult{Legacy: legacy, Target: target, Action: "skipped"}
	fi, err := os.Stat(legacy)
	if err != nil {
		return res
	}
	if _, err := os.Lstat(target); err == nil {
		return res
	}
	if err := rename(legacy, target); err == nil {
		res.Action = "moved"
		return res
	}
	// cross-device: copy then remove the source
	if fi.IsDir() {
		err = copyDir(legacy, target)
	} else {
		err = copyFile(legacy, target, fi.Mode().Perm())
	}
	if err != nil {
		// a partial target would shadow the intact legacy copy
		if rmErr := os.RemoveAll(target); rmErr != nil {
			err = fmt.Errorf("%w (partial target not removed: %v)", err, rmErr)
		}
		res.Action = "failed"
		res.Error = err.Error()
		return res
	}
	res.Action = "copied"
	if rmErr := os.RemoveAll(legacy); rmErr != nil {
		res.Error = fmt.Sprintf("copied but legacy not removed: %v", rmErr)
	}
	return res
}

func copyFile(src, dst string, perm fs.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o775)
		}
		if !d.Type().IsRegular() {
			return errors.New("unsupported file type: " + p)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, info.Mode().Perm())
	})
}
