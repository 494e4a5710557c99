package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
)

// BusinessTracer provides utilities for tracing business logic operations using Sentry.
// It allows detailed tracking of domain-specific activities like bar fetching and provider fallback.
type BusinessTracer struct{}

// NewBusinessTracer creates a new instance of BusinessTracer.
//
// Returns:
//   - A pointer to an initialized BusinessTracer.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{}
}

// TraceBarFetch starts a span for tracing a bar series fetch through the
// fallback chain.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - symbol: The trading symbol being fetched.
//   - timeframe: The bar timeframe.
//   - candidates: The venue candidates in fallback order.
//
// Returns:
//   - A context containing the new span.
//   - The created Sentry span.
func (bt *BusinessTracer) TraceBarFetch(ctx context.Context, symbol string, timeframe string, candidates []string) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(ctx, "bar_fetch")
	span.SetTag("symbol", symbol)
	span.SetTag("timeframe", timeframe)
	span.SetData("candidates", candidates)
	return ctx, span
}

// RecordFetchMetrics records the outcome of a fetch onto an existing span.
//
// Parameters:
//   - span: The Sentry span to update.
//   - metrics: The fetch outcome to record.
func (bt *BusinessTracer) RecordFetchMetrics(span *sentry.Span, metrics FetchMetrics) {
	span.SetTag("provider", metrics.Provider)
	span.SetData("bars", metrics.Bars)
	span.SetData("attempts", metrics.Attempts)
	span.SetData("cache_hit", metrics.CacheHit)
	span.SetData("fetch_time_ms", metrics.FetchTime.Milliseconds())
	if metrics.Exhausted {
		span.Status = sentry.SpanStatusUnavailable
	} else {
		span.Status = sentry.SpanStatusOK
	}
}

// TraceProviderAttempt starts a span for a single venue attempt inside a
// fetch.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - provider: The venue being tried.
//   - symbol: The symbol requested from the venue.
//
// Returns:
//   - A context containing the new span.
//   - The created Sentry span.
func (bt *BusinessTracer) TraceProviderAttempt(ctx context.Context, provider string, symbol string) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(ctx, "provider_attempt")
	span.SetTag("provider", provider)
	span.SetTag("symbol", symbol)
	return ctx, span
}

// RecordProviderResult records the outcome of a venue attempt onto a span.
//
// Parameters:
//   - span: The Sentry span to update.
//   - bars: The number of bars returned, zero on failure.
//   - err: Any error returned by the venue.
func (bt *BusinessTracer) RecordProviderResult(span *sentry.Span, bars int, err error) {
	span.SetData("bars", bars)
	if err != nil {
		span.SetTag("error", err.Error())
		span.Status = sentry.SpanStatusInternalError
	} else {
		span.Status = sentry.SpanStatusOK
	}
}

// TraceRegistryInit starts a span for tracing registry initialization.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - candidates: The configured venue candidates.
//
// Returns:
//   - A context containing the new span.
//   - The created Sentry span.
func (bt *BusinessTracer) TraceRegistryInit(ctx context.Context, candidates []string) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(ctx, "registry_init")
	span.SetData("candidates", candidates)
	return ctx, span
}

// RecordRegistryMetrics records registry initialization results onto a span.
//
// Parameters:
//   - span: The Sentry span to update.
//   - metrics: The initialization metrics to record.
func (bt *BusinessTracer) RecordRegistryMetrics(span *sentry.Span, metrics RegistryMetrics) {
	span.SetData("ready_count", metrics.ReadyCount)
	span.SetData("failed_count", metrics.FailedCount)
	span.SetData("init_time_ms", metrics.InitTime.Milliseconds())
	if metrics.ReadyCount == 0 {
		span.Status = sentry.SpanStatusUnavailable
	} else {
		span.Status = sentry.SpanStatusOK
	}
}

// TraceArchiveFlush starts a span for tracing an archive batch write.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - batchSize: The number of rows in the batch.
//
// Returns:
//   - A context containing the new span.
//   - The created Sentry span.
func (bt *BusinessTracer) TraceArchiveFlush(ctx context.Context, batchSize int) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(ctx, "archive_flush")
	span.SetData("batch_size", batchSize)
	return ctx, span
}

// RecordArchiveResult records the outcome of an archive batch write onto a span.
//
// Parameters:
//   - span: The Sentry span to update.
//   - rowsWritten: The number of rows persisted.
//   - err: Any error that occurred during the write.
func (bt *BusinessTracer) RecordArchiveResult(span *sentry.Span, rowsWritten int64, err error) {
	span.SetData("rows_written", rowsWritten)
	if err != nil {
		span.SetTag("error", err.Error())
		span.Status = sentry.SpanStatusInternalError
	} else {
		span.Status = sentry.SpanStatusOK
	}
}

// TraceNotification starts a span for tracing notification delivery.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - notificationType: The type of notification being sent.
//   - channel: The delivery channel (e.g., "telegram").
//
// Returns:
//   - A context containing the new span.
//   - The created Sentry span.
func (bt *BusinessTracer) TraceNotification(ctx context.Context, notificationType string, channel string) (context.Context, *sentry.Span) {
	span := sentry.StartSpan(ctx, "notification")
	span.SetTag("notification_type", notificationType)
	span.SetTag("channel", channel)
	return ctx, span
}

// RecordNotificationResult records the outcome of a notification attempt onto a span.
//
// Parameters:
//   - span: The Sentry span to update.
//   - success: Whether the notification was sent successfully.
//   - err: Any error that occurred during sending.
func (bt *BusinessTracer) RecordNotificationResult(span *sentry.Span, success bool, err error) {
	span.SetData("success", success)
	if err != nil {
		span.SetTag("error", err.Error())
		span.Status = sentry.SpanStatusInternalError
	} else {
		span.Status = sentry.SpanStatusOK
	}
}

// FetchMetrics defines the structure for tracking bar fetch outcomes in telemetry.
type FetchMetrics struct {
	Provider  string
	Bars      int
	Attempts  int
	CacheHit  bool
	Exhausted bool
	FetchTime time.Duration
}

// RegistryMetrics defines the structure for tracking registry initialization in telemetry.
type RegistryMetrics struct {
	ReadyCount  int
	FailedCount int
	InitTime    time.Duration
}
