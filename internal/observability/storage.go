package observability

import (
	"context"
	"errors"
	"time"

	"martmusic/internal/models"
	"martmusic/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("martmusic/storage")
	meter := otel.Meter("martmusic/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	// A missing record is an answer, not a failure
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) SaveDownload(ctx context.Context, record *models.DownloadRecord) error {
	ctx, span := s.startSpan(ctx, "SaveDownload",
		attribute.String("download.id", record.ID),
		attribute.String("song.key", record.SongKey),
	)
	start := time.Now()
	err := s.inner.SaveDownload(ctx, record)
	s.record(ctx, span, "SaveDownload", start, err)
	return err
}

func (s *InstrumentedStorage) GetDownload(ctx context.Context, id string) (*models.DownloadRecord, error) {
	ctx, span := s.startSpan(ctx, "GetDownload", attribute.String("download.id", id))
	start := time.Now()
	result, err := s.inner.GetDownload(ctx, id)
	s.record(ctx, span, "GetDownload", start, err)
	return result, err
}

func (s *InstrumentedStorage) FindBySongKey(ctx context.Context, songKey string) (*models.DownloadRecord, error) {
	ctx, span := s.startSpan(ctx, "FindBySongKey", attribute.String("song.key", songKey))
	start := time.Now()
	result, err := s.inner.FindBySongKey(ctx, songKey)
	s.record(ctx, span, "FindBySongKey", start, err)
	return result, err
}

func (s *InstrumentedStorage) Downloads(ctx context.Context) ([]*models.DownloadRecord, error) {
	ctx, span := s.startSpan(ctx, "Downloads")
	start := time.Now()
	result, err := s.inner.Downloads(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("download.count", len(result)))
	}
	s.record(ctx, span, "Downloads", start, err)
	return result, err
}

func (s *InstrumentedStorage) DeleteDownload(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteDownload", attribute.String("download.id", id))
	start := time.Now()
	err := s.inner.DeleteDownload(ctx, id)
	s.record(ctx, span, "DeleteDownload", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}

var _ storage.Storage = (*InstrumentedStorage)(nil)
