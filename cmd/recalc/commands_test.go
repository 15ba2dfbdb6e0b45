package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/go-spreadsheet/packages/codec"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func sheetDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "Data.sheet", "A1\tn:4\nA2\t=A1*2\n")
	writeFile(t, dir, "Report.sheet", "A1\t=Data!A2+1\n")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestEval(t *testing.T) {
	dir := sheetDir(t)

	out, err := run(t, "eval", "--dir", dir, "Report!A1")
	require.NoError(t, err)
	assert.Equal(t, "Report!A1\t9\n", out)

	out, err = run(t, "eval", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "Data!A1\t4\nData!A2\t8\nReport!A1\t9\n", out)

	out, err = run(t, "eval", "--dir", dir, "A2")
	require.NoError(t, err)
	assert.Equal(t, "A2\t8\n", out, "plain addresses fall back to the first sheet")

	out, err = run(t, "eval", "--dir", dir, "--sheet", "Report", "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1\t9\n", out)
}

func TestEvalSet(t *testing.T) {
	dir := sheetDir(t)

	out, err := run(t, "eval", "--dir", dir, "--set", "Data!A1=10", "--set", "Data!B1==A2>15", "--save",
		"Report!A1", "Data!B1")
	require.NoError(t, err)
	assert.Equal(t, "Report!A1\t21\nData!B1\tTRUE\n", out)

	data, err := os.ReadFile(filepath.Join(dir, "Data.sheet"))
	require.NoError(t, err)
	assert.Equal(t, "#sheet\tData\n#kind\tordinary\nA1\tn:10\nB1\t=A2>15\nA2\t=A1*2\n", string(data))

	_, err = run(t, "eval", "--dir", dir, "--set", "novalue")
	assert.ErrorContains(t, err, "ADDRESS=VALUE")

	_, err = run(t, "eval", "--dir", dir, "Nowhere!A1")
	assert.Error(t, err)

	_, err = run(t, "eval", "--dir", filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEvalErrorValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Sheet1.sheet", "A1\t=A2\nA2\t=A1\nB1\t=Gone!A1\nC1\t=1/0\n")

	out, err := run(t, "eval", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "Sheet1!A1\t#CIRCULAR!\nSheet1!B1\t#REF!\nSheet1!C1\t#DIV/0!\nSheet1!A2\t#CIRCULAR!\n", out)
}

func TestShift(t *testing.T) {
	out, err := run(t, "shift", "=SUM(A1:B2)+$C$1", "--rows", "2", "--cols", "1")
	require.NoError(t, err)
	assert.Equal(t, "=SUM(B3:C4)+$C$1\n", out)

	out, err = run(t, "shift", "=A2", "--rows=-2")
	require.NoError(t, err)
	assert.Equal(t, "=#REF!\n", out)

	_, err = run(t, "shift")
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	dir := sheetDir(t)
	path := filepath.Join(t.TempDir(), "recalc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workbook:\n  dir: "+dir+"\n  default_sheet: Report\n"), 0o644))

	out, err := run(t, "eval", "--config", path, "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1\t9\n", out)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644))
	_, err = run(t, "eval", "--config", path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestSnapshotRestore(t *testing.T) {
	dir := sheetDir(t)
	db := filepath.Join(t.TempDir(), "db")

	out, err := run(t, "snapshot", "--dir", dir, "--store", db)
	require.NoError(t, err)
	assert.Equal(t, "saved Data\nsaved Report\n", out)

	restored := t.TempDir()
	out, err = run(t, "restore", "--dir", restored, "--store", db, "Report")
	require.NoError(t, err)
	assert.Equal(t, "restored Report\n", out)
	assert.NoFileExists(t, filepath.Join(restored, "Data.sheet"))

	out, err = run(t, "restore", "--dir", restored, "--store", db)
	require.NoError(t, err)
	assert.Equal(t, "restored Data\nrestored Report\n", out)

	out, err = run(t, "eval", "--dir", restored, "Report!A1")
	require.NoError(t, err)
	assert.Equal(t, "Report!A1\t9\n", out)

	_, err = run(t, "restore", "--dir", restored, "--store", db, "Nowhere")
	assert.Error(t, err)
}

func TestMetricsHandler(t *testing.T) {
	srv := httptest.NewServer(metricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "spreadsheet_sheets_registered")
}

func newTestWatcher(t *testing.T, dir string, out io.Writer) *sheetWatcher {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	loader := codec.NewDirLoader(dir, "", logger)
	registry := spreadsheet.NewRegistry(spreadsheet.WithLoader(loader), spreadsheet.WithLogger(logger))
	_, err := loader.LoadAll(context.Background(), registry)
	require.NoError(t, err)
	return &sheetWatcher{
		workbook:  spreadsheet.NewWorkbookWithRegistry(registry),
		loader:    loader,
		addresses: []string{"Report!A1"},
		out:       out,
		logger:    logger,
	}
}

func TestWatcherHandle(t *testing.T) {
	ctx := context.Background()
	dir := sheetDir(t)
	var out bytes.Buffer
	w := newTestWatcher(t, dir, &out)
	dataPath := filepath.Join(dir, "Data.sheet")
	value := func() spreadsheet.Primitive {
		v, err := w.workbook.Get("Report!A1")
		require.NoError(t, err)
		return v
	}

	writeFile(t, dir, "Data.sheet", "A1\tn:50\nA2\t=A1*2\n")
	changed, err := w.handle(ctx, fsnotify.Event{Name: dataPath, Op: fsnotify.Write})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 101.0, value())

	changed, err = w.handle(ctx, fsnotify.Event{Name: filepath.Join(dir, "notes.txt"), Op: fsnotify.Write})
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.Remove(dataPath))
	changed, err = w.handle(ctx, fsnotify.Event{Name: dataPath, Op: fsnotify.Remove})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, spreadsheet.IsReferenceError(value()))

	changed, err = w.handle(ctx, fsnotify.Event{Name: dataPath, Op: fsnotify.Remove})
	require.NoError(t, err)
	assert.False(t, changed, "already unregistered")

	writeFile(t, dir, "Data.sheet", "A2\tn:1\n")
	changed, err = w.handle(ctx, fsnotify.Event{Name: dataPath, Op: fsnotify.Create})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2.0, value())

	writeFile(t, dir, "Data.sheet", "A2\tbroken\n")
	_, err = w.handle(ctx, fsnotify.Event{Name: dataPath, Op: fsnotify.Write})
	assert.ErrorIs(t, err, codec.ErrSyntax)
	assert.Equal(t, 2.0, value(), "a broken file leaves the sheet as it was")

	require.NoError(t, w.print())
	assert.Equal(t, "Report!A1\t2\n\n", out.String())
}

// syncBuffer is written by the watch loop and read by the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatcherRun(t *testing.T) {
	dir := sheetDir(t)
	out := &syncBuffer{}
	w := newTestWatcher(t, dir, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.run(ctx, dir) }()

	// the watch is added asynchronously, so keep rewriting until it is seen
	assert.Eventually(t, func() bool {
		writeFile(t, dir, "Data.sheet", "A1\tn:7\nA2\t=A1*2\n")
		return strings.Contains(out.String(), "Report!A1\t15\n")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestStdoutTracing(t *testing.T) {
	dir := sheetDir(t)
	path := filepath.Join(t.TempDir(), "recalc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracing:\n  exporter: stdout\n"), 0o644))

	out, err := run(t, "eval", "--config", path, "--dir", dir, "--set", "Data!A1=1", "Report!A1")
	require.NoError(t, err)
	assert.Equal(t, "Report!A1\t3\n", out)
}
