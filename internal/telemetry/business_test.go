package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBusinessTracer(t *testing.T) {
	bt := NewBusinessTracer()
	require.NotNil(t, bt)
}

func TestBusinessTracer_TraceBarFetch(t *testing.T) {
	bt := NewBusinessTracer()

	ctx := context.Background()
	_, span := bt.TraceBarFetch(ctx, "BTC/USDT", "1h", []string{"binance", "kraken", "coinbase"})
	require.NotNil(t, span)

	// End the span to avoid resource leaks
	span.Finish()
}

func TestBusinessTracer_RecordFetchMetrics(t *testing.T) {
	bt := NewBusinessTracer()

	_, span := bt.TraceBarFetch(context.Background(), "BTC/USDT", "1h", []string{"binance"})
	require.NotNil(t, span)

	bt.RecordFetchMetrics(span, FetchMetrics{
		Provider:  "binance",
		Bars:      500,
		Attempts:  1,
		CacheHit:  false,
		FetchTime: 120 * time.Millisecond,
	})
	assert.Equal(t, sentry.SpanStatusOK, span.Status)
	span.Finish()
}

func TestBusinessTracer_RecordFetchMetrics_Exhausted(t *testing.T) {
	bt := NewBusinessTracer()

	_, span := bt.TraceBarFetch(context.Background(), "BTC/USDT", "1h", []string{"binance", "kraken"})
	require.NotNil(t, span)

	bt.RecordFetchMetrics(span, FetchMetrics{
		Attempts:  2,
		Exhausted: true,
		FetchTime: 300 * time.Millisecond,
	})
	assert.Equal(t, sentry.SpanStatusUnavailable, span.Status)
	span.Finish()
}

func TestBusinessTracer_TraceProviderAttempt(t *testing.T) {
	bt := NewBusinessTracer()

	_, span := bt.TraceProviderAttempt(context.Background(), "kraken", "BTC/USDT")
	require.NotNil(t, span)

	bt.RecordProviderResult(span, 720, nil)
	assert.Equal(t, sentry.SpanStatusOK, span.Status)
	span.Finish()
}

func TestBusinessTracer_RecordProviderResult_Error(t *testing.T) {
	bt := NewBusinessTracer()

	_, span := bt.TraceProviderAttempt(context.Background(), "coinbase", "BTC/USDT")
	require.NotNil(t, span)

	bt.RecordProviderResult(span, 0, errors.New("venue timeout"))
	assert.Equal(t, sentry.SpanStatusInternalError, span.Status)
	span.Finish()
}

func TestBusinessTracer_TraceRegistryInit(t *testing.T) {
	bt := NewBusinessTracer()

	_, span := bt.TraceRegistryInit(context.Background(), []string{"binance", "kraken", "coinbase"})
	require.NotNil(t, span)

	bt.RecordRegistryMetrics(span, RegistryMetrics{
		ReadyCount:  2,
		FailedCount: 1,
		InitTime:    time.Second,
	})
	assert.Equal(t, sentry.SpanStatusOK, span.Status)
	span.Finish()
}

func TestBusinessTracer_RecordRegistryMetrics_NoneReady(t *testing.T) {
	bt := NewBusinessTracer()

	_, span := bt.TraceRegistryInit(context.Background(), []string{"binance"})
	require.NotNil(t, span)

	bt.RecordRegistryMetrics(span, RegistryMetrics{FailedCount: 1})
	assert.Equal(t, sentry.SpanStatusUnavailable, span.Status)
	span.Finish()
}

func TestBusinessTracer_TraceArchiveFlush(t *testing.T) {
	bt := NewBusinessTracer()

	_, span := bt.TraceArchiveFlush(context.Background(), 256)
	require.NotNil(t, span)

	bt.RecordArchiveResult(span, 256, nil)
	assert.Equal(t, sentry.SpanStatusOK, span.Status)
	span.Finish()
}

func TestBusinessTracer_TraceNotification(t *testing.T) {
	bt := NewBusinessTracer()

	_, span := bt.TraceNotification(context.Background(), "provider_degraded", "telegram")
	require.NotNil(t, span)

	bt.RecordNotificationResult(span, false, errors.New("chat not found"))
	assert.Equal(t, sentry.SpanStatusInternalError, span.Status)
	span.Finish()
}
