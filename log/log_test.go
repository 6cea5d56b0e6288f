package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Property 14: a record below MinLevel never reaches a sink.
func TestLevelFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l := NewLogger(Config{
		FilePath:     path,
		MinLevel:     LevelWarn,
		Rotation:     RotateNone,
		MaxQueueSize: 64,
		Async:        true,
	})
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	l.Write(LevelDebug, "should be filtered", "f.go", 1, "fn")
	l.Write(LevelError, "should appear", "f.go", 2, "fn")
	l.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "should be filtered") {
		t.Fatalf("sub-threshold record leaked into file: %s", data)
	}
	if !strings.Contains(string(data), "should appear") {
		t.Fatalf("expected record missing from file: %s", data)
	}
}

// Property 13 / scenario S6: by-size rotation produces path, path.1, path.2
// and no path.3 once the count cap is reached.
func TestScenarioS6RotationBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l := NewLogger(Config{
		FilePath:     path,
		MinLevel:     LevelTrace,
		Rotation:     RotateBySize,
		MaxFileSize:  64,
		MaxFileCount: 2,
		MaxQueueSize: 256,
		Async:        true,
	})
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for i := 0; i < 200; i++ {
		l.Writef(LevelInfo, "f.go", i, "fn", "line number %04d of filler text", i)
	}
	l.Stop()

	for _, suffix := range []string{"", ".1", ".2"} {
		if _, err := os.Stat(path + suffix); err != nil {
			t.Fatalf("expected %s%s to exist: %v", path, suffix, err)
		}
	}
	if _, err := os.Stat(path + ".3"); err == nil {
		t.Fatalf("expected %s.3 to be absent once MaxFileCount=2 is exceeded", path)
	}
}

// Regression: Stop must not discard lines that were enqueued but not yet
// drained by the worker when Stop was called. A large MaxQueueSize keeps
// every write off the drop path, so a survivor count under N means Stop
// lost lines rather than the ring having rejected them.
func TestStopDrainsAllBufferedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l := NewLogger(Config{
		FilePath:     path,
		MinLevel:     LevelTrace,
		Rotation:     RotateNone,
		MaxQueueSize: 4096,
		Async:        true,
	})
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	const n = 2000
	for i := 0; i < n; i++ {
		l.Writef(LevelInfo, "f.go", i, "fn", "line %d", i)
	}
	if dropped := l.DroppedCount(); dropped != 0 {
		t.Fatalf("expected no drops with a 4096-capacity ring for %d writes, got %d", n, dropped)
	}
	l.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := strings.Count(string(data), "\n")
	if got != n {
		t.Fatalf("expected all %d lines to survive shutdown, found %d", n, got)
	}
}

func TestDropCounterOnFullRing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l := NewLogger(Config{
		FilePath:     path,
		MinLevel:     LevelTrace,
		MaxQueueSize: 1,
		Async:        true,
	})
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	const n = 5000
	for i := 0; i < n; i++ {
		l.Write(LevelInfo, "flood", "f.go", i, "fn")
	}
	l.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Every write is either enqueued (and drained to the file by Stop) or
	// counted as dropped.
	written := uint64(strings.Count(string(data), "\n"))
	if written+l.DroppedCount() != n {
		t.Fatalf("written %d + dropped %d != %d writes", written, l.DroppedCount(), n)
	}
}

func TestSyncLoggerWritesImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l := NewLogger(Config{
		FilePath: path,
		MinLevel: LevelTrace,
		Console:  false,
		Async:    false,
	})
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	l.Write(LevelInfo, "synchronous line", "f.go", 1, "fn")
	l.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "synchronous line") {
		t.Fatalf("expected line written synchronously, got %q", data)
	}
}

func TestWriterAdapter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l := NewLogger(Config{
		FilePath:     path,
		MinLevel:     LevelTrace,
		MaxQueueSize: 64,
		Async:        true,
	})
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	w := l.Writer()
	if _, err := w.Write([]byte(`{"level":"info","message":"from zerolog"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	l.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "from zerolog") {
		t.Fatalf("expected adapted line in file: %s", data)
	}
}

func TestPackageLevelSingleton(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	if err := Init(Config{
		FilePath:     path,
		MinLevel:     LevelTrace,
		MaxQueueSize: 64,
		Async:        true,
	}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Info("hello from the singleton")
	Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello from the singleton") {
		t.Fatalf("expected line in file: %s", data)
	}
}
