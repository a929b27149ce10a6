package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/hostpanel/internal/logger"
)

type failingSink struct{ calls int }

func (f *failingSink) Send(context.Context, Record) error {
	f.calls++
	return errors.New("down")
}

func TestFileLogLineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "devpanel-actions.log")
	fl, err := OpenFileLog(path, logger.Rotation{})
	require.NoError(t, err)
	defer func() { _ = fl.Close() }()

	rec := NewRecorder(fl)
	rec.now = func() time.Time { return time.Date(2026, 5, 6, 7, 8, 9, 500, time.FixedZone("x", 7200)) }
	rec.Record(context.Background(), "create", "pending", map[string]any{"project": "demo.loc", "pid": 42})
	rec.Record(context.Background(), "delete", "warning", nil)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.Regexp(t, regexp.MustCompile(`^\{"ts":"2026-05-06T05:08:09Z","action":"create","status":"pending","context":\{`), lines[0])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &decoded))
	assert.Equal(t, map[string]any{}, decoded["context"])
}

func TestFileLogTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	fl, err := OpenFileLog(path, logger.Rotation{})
	require.NoError(t, err)
	defer func() { _ = fl.Close() }()

	empty, err := fl.Tail(10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	ctx := context.Background()
	for _, s := range []string{"one", "two", "three"} {
		require.NoError(t, fl.Send(ctx, Record{Action: s, Status: "success"}))
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, _ = f.WriteString("not json\n")
	_ = f.Close()

	recs, err := fl.Tail(2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "two", recs[0].Action)
	assert.Equal(t, "three", recs[1].Action)

	all, err := fl.Tail(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	bad := &failingSink{}
	mem := NewMemory()
	rec := NewRecorder(bad, mem)
	rec.Record(context.Background(), "start", "error", map[string]any{"reason": "hostctl_not_found"})

	assert.Equal(t, 1, bad.calls)
	got := mem.Filter("start", "error")
	require.Len(t, got, 1)
	assert.Equal(t, "hostctl_not_found", got[0].Context["reason"])
	assert.Empty(t, mem.Filter("start", "success"))
}

func TestRecordContextJSON(t *testing.T) {
	assert.Equal(t, "{}", Record{}.ContextJSON())
	assert.JSONEq(t, `{"a":1}`, Record{Context: map[string]any{"a": 1}}.ContextJSON())
}
