// Package log provides an async, bounded logging pipeline: callers render
// and enqueue lines onto a lock-free ring, a single worker goroutine drains
// the ring and fans out to the console and/or a rotating file sink. Lines
// enqueued once the ring is full are counted and dropped rather than
// blocking the caller.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aradilov/gocq/ring"
)

// drainBatch bounds how many lines the worker pulls off the ring per wakeup
// before yielding, so a sustained burst cannot monopolize the goroutine.
const drainBatch = 256

// Logger owns one async pipeline: a bounded ring, a worker goroutine, and
// zero or more sinks (console, rotating file).
type Logger struct {
	cfg Config

	queue *ring.Ring[string]
	wg    sync.WaitGroup

	ioMu sync.Mutex
	file *fileSink

	running  atomic.Bool
	dropped  atomic.Uint64
	minLevel atomic.Int64
}

// NewLogger builds a Logger from cfg. Call Init to start the pipeline.
func NewLogger(cfg Config) *Logger {
	l := &Logger{cfg: cfg}
	l.minLevel.Store(int64(cfg.MinLevel))
	return l
}

// Init opens the configured sinks and, when Async is set, starts the worker
// goroutine. Init is not safe to call concurrently with Write or Stop.
func (l *Logger) Init() error {
	if l.running.Load() {
		return nil
	}
	if l.cfg.FilePath != "" {
		f, err := newFileSink(l.cfg)
		if err != nil {
			return err
		}
		l.file = f
	}
	if l.cfg.Async {
		capacity := l.cfg.MaxQueueSize
		if capacity == 0 {
			capacity = 4096
		}
		q, err := ring.New[string](capacity)
		if err != nil {
			return err
		}
		l.queue = q
		l.running.Store(true)
		l.wg.Add(1)
		go l.run()
	} else {
		l.running.Store(true)
	}
	return nil
}

// Stop drains and shuts down the pipeline. Safe to call more than once.
func (l *Logger) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	if l.queue != nil {
		l.queue.Stop()
		l.wg.Wait()
	}
	l.ioMu.Lock()
	l.file.close()
	l.ioMu.Unlock()
}

// SetMinLevel adjusts the level filter without stopping the pipeline.
func (l *Logger) SetMinLevel(lv Level) { l.minLevel.Store(int64(lv)) }

// DroppedCount reports how many lines were discarded because the ring was
// full when Write was called.
func (l *Logger) DroppedCount() uint64 { return l.dropped.Load() }

// Write renders and emits one log line. file/line/fn identify the call
// site; pass runtime.Caller results, or Writef-derived ones, for accurate
// attribution.
func (l *Logger) Write(level Level, msg, file string, line int, fn string) {
	if level < Level(l.minLevel.Load()) {
		return
	}
	rendered := render(level, msg, file, line, fn)
	if !l.running.Load() || l.queue == nil {
		l.emit(rendered)
		return
	}
	if !l.queue.TryEnqueue(rendered) {
		l.dropped.Add(1)
	}
}

// Writef formats msg with args before rendering, avoiding the allocation
// when the level filter would have discarded the line anyway.
func (l *Logger) Writef(level Level, file string, line int, fn string, format string, args ...any) {
	if level < Level(l.minLevel.Load()) {
		return
	}
	l.Write(level, fmt.Sprintf(format, args...), file, line, fn)
}

func render(level Level, msg, file string, line int, fn string) string {
	var b strings.Builder
	b.Grow(len(msg) + 64)
	b.WriteByte('[')
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString("] [")
	b.WriteString(level.String())
	b.WriteString("] [")
	b.WriteString(filepath.Base(file))
	b.WriteByte(':')
	fmt.Fprintf(&b, "%d", line)
	b.WriteByte(' ')
	b.WriteString(fn)
	b.WriteString("] ")
	b.WriteString(msg)
	b.WriteByte('\n')
	return b.String()
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		line, err := l.queue.DequeueBlocking()
		if err != nil {
			l.drainRemaining()
			return
		}
		l.emit(line)
		for n := 0; n < drainBatch; n++ {
			next, ok := l.queue.TryDequeue()
			if !ok {
				break
			}
			l.emit(next)
		}
	}
}

// drainRemaining flushes whatever is left in the ring after Stop, so a
// burst of log calls immediately preceding shutdown is not silently lost.
// It uses DrainAfterStop rather than TryDequeue: the ring is already
// stopped at this point, and TryDequeue reports empty unconditionally once
// stopped.
func (l *Logger) drainRemaining() {
	for {
		line, ok := l.queue.DrainAfterStop()
		if !ok {
			return
		}
		l.emit(line)
	}
}

func (l *Logger) emit(line string) {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()
	if l.cfg.Console {
		io.WriteString(os.Stdout, line)
	}
	if l.file != nil {
		l.file.write([]byte(line))
	}
}

// Writer returns an io.Writer adapter that renders incoming bytes as
// pre-formatted Info-level lines, suitable as a zerolog.ConsoleWriter or
// zerolog.New output target so third-party structured logging can flow
// through the same bounded pipeline.
func (l *Logger) Writer() io.Writer {
	return &writerAdapter{l: l}
}

type writerAdapter struct{ l *Logger }

func (w *writerAdapter) Write(p []byte) (int, error) {
	w.l.Write(LevelInfo, strings.TrimRight(string(p), "\n"), "zerolog", 0, "")
	return len(p), nil
}

// def is the process-wide singleton used by the package-level helpers.
var def atomic.Pointer[Logger]

// Init starts the process-wide default logger.
func Init(cfg Config) error {
	l := NewLogger(cfg)
	if err := l.Init(); err != nil {
		return err
	}
	if prev := def.Swap(l); prev != nil {
		prev.Stop()
	}
	return nil
}

// Stop shuts down the process-wide default logger, if one is running.
func Stop() {
	if l := def.Load(); l != nil {
		l.Stop()
	}
}

// Default returns the process-wide default logger, or nil if Init has not
// been called.
func Default() *Logger { return def.Load() }

func callSite(skip int) (file string, line int, fn string) {
	pc, f, ln, ok := runtime.Caller(skip)
	if !ok {
		return "unknown", 0, "unknown"
	}
	fn = "unknown"
	if rf := runtime.FuncForPC(pc); rf != nil {
		name := rf.Name()
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		fn = name
	}
	return f, ln, fn
}

func write(level Level, msg string) {
	l := def.Load()
	if l == nil {
		return
	}
	file, line, fn := callSite(3)
	l.Write(level, msg, file, line, fn)
}

func writef(level Level, format string, args ...any) {
	l := def.Load()
	if l == nil {
		return
	}
	file, line, fn := callSite(3)
	l.Writef(level, file, line, fn, format, args...)
}

func Trace(msg string) { write(LevelTrace, msg) }
func Debug(msg string) { write(LevelDebug, msg) }
func Info(msg string)  { write(LevelInfo, msg) }
func Warn(msg string)  { write(LevelWarn, msg) }
func Error(msg string) { write(LevelError, msg) }
func Fatal(msg string) { write(LevelFatal, msg) }

func Tracef(format string, args ...any) { writef(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { writef(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { writef(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { writef(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { writef(LevelError, format, args...) }
func Fatalf(format string, args ...any) { writef(LevelFatal, format, args...) }

// DroppedCount reports the process-wide default logger's drop count, or 0
// if Init has not been called.
func DroppedCount() uint64 {
	if l := def.Load(); l != nil {
		return l.DroppedCount()
	}
	return 0
}
