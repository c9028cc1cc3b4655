package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/chronograph/pkg/types"
)

// DefaultBatchSize is the number of records buffered before a flush.
const DefaultBatchSize = 100

// LogRecord represents a single log entry for Parquet storage
type LogRecord struct {
	ID            string    `parquet:"id"`
	Timestamp     time.Time `parquet:"timestamp"`
	Level         string    `parquet:"level"`
	Message       string    `parquet:"message"`
	RequestID     string    `parquet:"request_id"`
	RequestSource string    `parquet:"request_source"`
	GroupID       string    `parquet:"group_id"`
	EpisodeID     string    `parquet:"episode_id"`
	SourceFile    string    `parquet:"source_file"`
	LineNumber    int       `parquet:"line_number"`
	Attributes    string    `parquet:"attributes"` // JSON string
}

// parquetSink is the buffer shared by a handler and its clones.
type parquetSink struct {
	mu        sync.Mutex
	outputDir string
	batchSize int
	buffer    []LogRecord
	files     int
}

// ParquetHandler is a slog.Handler that archives error records to Parquet
// files after passing every record on to the next handler.
type ParquetHandler struct {
	next   slog.Handler
	sink   *parquetSink
	attrs  []slog.Attr
	prefix string
}

// NewParquetHandler creates a new ParquetHandler. A non-positive batch size
// uses DefaultBatchSize.
func NewParquetHandler(next slog.Handler, outputDir string, batchSize int) (*ParquetHandler, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ParquetHandler{
		next: next,
		sink: &parquetSink{
			outputDir: outputDir,
			batchSize: batchSize,
			buffer:    make([]LogRecord, 0, batchSize),
		},
	}, nil
}

// Enabled implements slog.Handler
func (h *ParquetHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *ParquetHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < slog.LevelError {
		return nil
	}

	record := newLogRecord(ctx, r, h.attrs, h.prefix)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.buffer = append(h.sink.buffer, record)
	if len(h.sink.buffer) >= h.sink.batchSize {
		return h.sink.flush()
	}
	return nil
}

// Flush writes buffered records to a new file.
func (h *ParquetHandler) Flush() error {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return h.sink.flush()
}

// Close flushes buffered records. The handler keeps passing records on to
// the next handler afterwards.
func (h *ParquetHandler) Close() error {
	return h.Flush()
}

// flush writes the current buffer to a new Parquet file.
// Caller must hold the lock.
func (s *parquetSink) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}

	s.files++
	name := fmt.Sprintf("execution_errors_%s_%04d.parquet", time.Now().UTC().Format("20060102_150405"), s.files)
	if err := parquet.WriteFile(filepath.Join(s.outputDir, name), s.buffer); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write telemetry parquet file: %v\n", err)
		return err
	}
	s.buffer = s.buffer[:0]
	return nil
}

// WithAttrs implements slog.Handler
func (h *ParquetHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ParquetHandler{
		next:   h.next.WithAttrs(attrs),
		sink:   h.sink,
		attrs:  appendAttrs(h.attrs, attrs, h.prefix),
		prefix: h.prefix,
	}
}

// WithGroup implements slog.Handler
func (h *ParquetHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ParquetHandler{
		next:   h.next.WithGroup(name),
		sink:   h.sink,
		attrs:  h.attrs,
		prefix: h.prefix + name + ".",
	}
}

func appendAttrs(base, attrs []slog.Attr, prefix string) []slog.Attr {
	out := make([]slog.Attr, 0, len(base)+len(attrs))
	out = append(out, base...)
	for _, a := range attrs {
		out = append(out, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return out
}

// newLogRecord flattens a slog record together with the handler's
// attributes and the request info carried by ctx.
func newLogRecord(ctx context.Context, r slog.Record, handlerAttrs []slog.Attr, prefix string) LogRecord {
	attrs := make(map[string]interface{}, r.NumAttrs()+len(handlerAttrs))
	for _, a := range handlerAttrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			attrs[k] = err.Error()
		}
	}
	attrsJSON, _ := json.Marshal(attrs)

	fs := runtime.CallersFrames([]uintptr{r.PC})
	f, _ := fs.Next()

	record := LogRecord{
		ID:         uuid.New().String(),
		Timestamp:  r.Time.UTC(),
		Level:      r.Level.String(),
		Message:    r.Message,
		SourceFile: f.File,
		LineNumber: f.Line,
		Attributes: string(attrsJSON),
	}
	if v, ok := ctx.Value(types.ContextKeyRequestID).(string); ok {
		record.RequestID = v
	}
	if v, ok := ctx.Value(types.ContextKeyRequestSource).(string); ok {
		record.RequestSource = v
	}
	if v, ok := attrs["group_id"].(string); ok {
		record.GroupID = v
	}
	if v, ok := attrs["episode_id"].(string); ok {
		record.EpisodeID = v
	}
	return record
}

// ReadLogFile reads the records of one archived file.
func ReadLogFile(path string) ([]LogRecord, error) {
	return parquet.ReadFile[LogRecord](path)
}
