package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantfall/barfeed-go/internal/config"
)

// CleanupDB is the slice of the pgx pool the cleanup service needs.
// *pgxpool.Pool satisfies it.
type CleanupDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CleanupService prunes archived bars past the retention window. The in-memory
// bar cache is not touched; staleness there is handled per request by the
// collector's max-age check.
type CleanupService struct {
	db     CleanupDB
	ctx    context.Context
	cancel context.CancelFunc
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(db CleanupDB) *CleanupService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CleanupService{
		db:     db,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins periodic cleanup. An initial pass runs immediately so a long
// downtime does not leave stale rows until the first tick.
func (c *CleanupService) Start(cfg config.CleanupConfig) {
	log.Printf("Starting cleanup service with %dh retention for archived bars", cfg.RetentionHours)

	go func() {
		if err := c.runCleanup(cfg); err != nil {
			log.Printf("Initial cleanup failed: %v", err)
		}
	}()

	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if err := c.runCleanup(cfg); err != nil {
					log.Printf("Cleanup failed: %v", err)
				}
			}
		}
	}()
}

// Stop stops the cleanup service.
func (c *CleanupService) Stop() {
	log.Println("Stopping cleanup service")
	c.cancel()
}

// RunCleanup performs a manual cleanup operation.
func (c *CleanupService) RunCleanup(cfg config.CleanupConfig) error {
	return c.runCleanup(cfg)
}

func (c *CleanupService) runCleanup(cfg config.CleanupConfig) error {
	if c.db == nil {
		return fmt.Errorf("database pool is not available")
	}
	if err := c.cleanupBars(cfg.RetentionHours); err != nil {
		return fmt.Errorf("failed to cleanup archived bars: %w", err)
	}
	return nil
}

// cleanupBars removes archived bars older than the retention window.
func (c *CleanupService) cleanupBars(retentionHours int) error {
	cutoff := time.Now().Add(-time.Duration(retentionHours) * time.Hour)

	result, err := c.db.Exec(c.ctx,
		"DELETE FROM bars WHERE ts < $1",
		cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old bars: %w", err)
	}

	rowsAffected := result.RowsAffected()
	if rowsAffected > 0 {
		log.Printf("Cleaned up %d archived bars (older than %dh)", rowsAffected, retentionHours)
	}

	return nil
}

// GetDataStats returns row counts for the archive tables.
func (c *CleanupService) GetDataStats(ctx context.Context) (map[string]int64, error) {
	if c.db == nil {
		return nil, fmt.Errorf("database pool is not available")
	}

	stats := make(map[string]int64)

	var barCount int64
	if err := c.db.QueryRow(ctx, "SELECT COUNT(*) FROM bars").Scan(&barCount); err != nil {
		return nil, fmt.Errorf("failed to count archived bars: %w", err)
	}
	stats["bars_count"] = barCount

	var oldestAge int64
	err := c.db.QueryRow(ctx,
		"SELECT COALESCE(EXTRACT(EPOCH FROM (NOW() - MIN(ts)))::bigint, 0) FROM bars").Scan(&oldestAge)
	if err != nil {
		return nil, fmt.Errorf("failed to measure oldest bar age: %w", err)
	}
	stats["oldest_bar_age_seconds"] = oldestAge

	return stats, nil
}
