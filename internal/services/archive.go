package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/models"
	"github.com/quantfall/barfeed-go/internal/telemetry"
)

// ArchiveDB is the slice of the pgx pool the archive writes through.
// *pgxpool.Pool satisfies it; tests substitute a pgxmock pool.
type ArchiveDB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertBarSQL = `INSERT INTO bars (symbol, timeframe, provider, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timeframe, provider, ts) DO NOTHING`

// ArchiveStats reports queue throughput counters for health and cache
// endpoints.
type ArchiveStats struct {
	Enqueued int64 `json:"enqueued"`
	Flushed  int64 `json:"flushed"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
}

// Archive persists fetched bar series to Postgres off the request path. The
// collector hands every successful fetch to Enqueue; worker goroutines drain
// the queue and batch-insert one series per transaction round trip. A full
// queue drops the series rather than stalling a fetch.
type Archive struct {
	db     ArchiveDB
	logger *slog.Logger
	tracer *telemetry.BusinessTracer

	queue   chan *models.MarketData
	workers int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	enqueued int64
	flushed  int64
	dropped  int64
	failed   int64
}

// NewArchive creates an archive writer over the given pool. Call Start to
// launch the workers.
func NewArchive(db ArchiveDB, cfg config.ArchiveConfig, logger *slog.Logger) *Archive {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Archive{
		db:      db,
		logger:  logger,
		tracer:  telemetry.NewBusinessTracer(),
		queue:   make(chan *models.MarketData, queueSize),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (a *Archive) Start() {
	a.logger.Info("Starting bar archive", "workers", a.workers, "queue_size", cap(a.queue))
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go a.run()
	}
}

// Stop closes the queue, drains outstanding series, and waits for the workers
// to exit. Safe to call more than once.
func (a *Archive) Stop() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	a.cancel()
	a.logger.Info("Bar archive stopped", "flushed", a.flushed, "dropped", a.dropped)
}

// Enqueue hands a series to the archive without blocking. Series offered
// after Stop or while the queue is full are counted as dropped.
func (a *Archive) Enqueue(data *models.MarketData) {
	if data == nil || len(data.Timestamps) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		a.dropped++
		return
	}
	select {
	case a.queue <- data:
		a.enqueued++
	default:
		a.dropped++
		a.logger.Warn("Archive queue full, dropping series",
			"symbol", data.Symbol,
			"timeframe", data.Timeframe,
			"provider", data.Provider,
			"bars", len(data.Timestamps))
	}
}

// Stats returns a snapshot of the queue counters.
func (a *Archive) Stats() ArchiveStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ArchiveStats{
		Enqueued: a.enqueued,
		Flushed:  a.flushed,
		Dropped:  a.dropped,
		Failed:   a.failed,
	}
}

func (a *Archive) run() {
	defer a.wg.Done()
	for data := range a.queue {
		if err := a.flush(data); err != nil {
			a.mu.Lock()
			a.failed++
			a.mu.Unlock()
			a.logger.Error("Archive flush failed",
				"symbol", data.Symbol,
				"timeframe", data.Timeframe,
				"provider", data.Provider,
				"error", err)
			continue
		}
		a.mu.Lock()
		a.flushed++
		a.mu.Unlock()
	}
}

// flush batch-inserts one series. Duplicate bars hit the conflict clause and
// count as zero rows written.
func (a *Archive) flush(data *models.MarketData) error {
	_, span := a.tracer.TraceArchiveFlush(a.ctx, len(data.Timestamps))
	defer span.Finish()

	batch := &pgx.Batch{}
	for i, ts := range data.Timestamps {
		batch.Queue(insertBarSQL,
			data.Symbol,
			data.Timeframe,
			data.Provider,
			ts,
			decimal.NewFromFloat(data.Opens[i]),
			decimal.NewFromFloat(data.Highs[i]),
			decimal.NewFromFloat(data.Lows[i]),
			decimal.NewFromFloat(data.Closes[i]),
			decimal.NewFromFloat(data.Volumes[i]))
	}

	results := a.db.SendBatch(a.ctx, batch)
	var written int64
	var firstErr error
	for range data.Timestamps {
		tag, err := results.Exec()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written += tag.RowsAffected()
	}
	if err := results.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	a.tracer.RecordArchiveResult(span, written, firstErr)
	if firstErr == nil {
		a.logger.Debug("Archived bar series",
			"symbol", data.Symbol,
			"timeframe", data.Timeframe,
			"provider", data.Provider,
			"rows_written", written)
	}
	return firstErr
}
