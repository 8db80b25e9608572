// Package log writes append-only JSONL records, zstd-compressed and
// rotated hourly. The surface logger is the world loop's per-tick
// stats sink.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/noahsabaj/earth-engine-sub003/internal/surface/dual"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickEntry is one line of the surface log.
type TickEntry struct {
	TS              string `json:"ts"`
	Tick            uint64 `json:"tick"`
	Sessions        int    `json:"sessions"`
	DirtyChunks     int    `json:"dirty_chunks"`
	MeshedChunks    int    `json:"meshed_chunks"`
	Generations     uint64 `json:"generations"`
	Failures        uint64 `json:"failures"`
	MalformedFields uint64 `json:"malformed_fields"`
}

// SurfaceLogger records one compressed JSONL entry per tick. Plug it
// into the world loop as its surface observer.
type SurfaceLogger struct{ w *JSONLZstdWriter }

func NewSurfaceLogger(worldDir string) *SurfaceLogger {
	return &SurfaceLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "surface"), "surface")}
}

func (l *SurfaceLogger) ObserveTick(tick uint64, stats dual.Stats, sessions int) {
	_ = l.w.Write(TickEntry{
		TS:              time.Now().UTC().Format(time.RFC3339Nano),
		Tick:            tick,
		Sessions:        sessions,
		DirtyChunks:     stats.DirtyChunks,
		MeshedChunks:    stats.MeshedChunks,
		Generations:     stats.Generations,
		Failures:        stats.Failures,
		MalformedFields: stats.MalformedFields,
	})
}

func (l *SurfaceLogger) Close() error { return l.w.Close() }

// GenerationEntry is one line of the generation log.
type GenerationEntry struct {
	TS         string  `json:"ts"`
	CX         int     `json:"cx"`
	CY         int     `json:"cy"`
	CZ         int     `json:"cz"`
	Level      string  `json:"level"`
	DurationMS float64 `json:"duration_ms"`
	Vertices   int     `json:"vertices,omitempty"`
	Triangles  int     `json:"triangles,omitempty"`
	Malformed  bool    `json:"malformed,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// GenerationLogger records every chunk-level rebuild the coordinator
// performs, success or not.
type GenerationLogger struct{ w *JSONLZstdWriter }

func NewGenerationLogger(worldDir string) *GenerationLogger {
	return &GenerationLogger{w: NewJSONLZstdWriter(filepath.Join(worldDir, "generations"), "generations")}
}

func (l *GenerationLogger) Observe(ev dual.GenerationEvent) {
	e := GenerationEntry{
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
		CX:         ev.Key.CX,
		CY:         ev.Key.CY,
		CZ:         ev.Key.CZ,
		Level:      ev.Level.String(),
		DurationMS: float64(ev.Duration.Microseconds()) / 1000,
		Vertices:   ev.Vertices,
		Triangles:  ev.Triangles,
		Malformed:  ev.Malformed,
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	_ = l.w.Write(e)
}

func (l *GenerationLogger) Close() error { return l.w.Close() }
