package transferlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gluk-w/claworc/sftpsync/internal/database"
	"github.com/gluk-w/claworc/sftpsync/internal/logutil"
)

// Operation names.
const (
	OpUpload   = "upload"
	OpDownload = "download"
	OpDelete   = "delete"
	OpList     = "list"
)

// DefaultRetentionDays is used when no retention is configured.
const DefaultRetentionDays = 30

// Entry is what callers report about one finished operation.
type Entry struct {
	ServerKey  string
	Operation  string
	LocalPath  string
	RemotePath string
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// Auditor writes and queries transfer records.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	log           *zap.Logger
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor on db. retentionDays <= 0 means
// DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int, logger *zap.Logger) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{
		db:            db,
		log:           logger.With(zap.String("component", "transferlog")),
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Log stores entry and returns the created record.
func (a *Auditor) Log(entry Entry) (*database.TransferRecord, error) {
	record := database.TransferRecord{
		ID:         uuid.NewString(),
		ServerKey:  entry.ServerKey,
		Operation:  entry.Operation,
		LocalPath:  entry.LocalPath,
		RemotePath: entry.RemotePath,
		Bytes:      entry.Bytes,
		Size:       units.HumanSize(float64(entry.Bytes)),
		DurationMs: entry.Duration.Milliseconds(),
		CreatedAt:  a.now(),
	}
	if entry.Err != nil {
		record.Error = entry.Err.Error()
	}

	if err := a.db.Create(&record).Error; err != nil {
		a.log.Error("failed to write transfer record", zap.Error(err))
		return nil, fmt.Errorf("write transfer record: %w", err)
	}

	a.log.Info("transfer recorded",
		zap.String("operation", record.Operation),
		zap.String("server", logutil.SanitizeForLog(record.ServerKey)),
		logutil.Path("remote", record.RemotePath),
		zap.String("size", record.Size),
		zap.Int64("duration_ms", record.DurationMs),
		zap.Bool("failed", record.Error != ""))
	return &record, nil
}

// QueryOptions filters Query. Zero values are ignored.
type QueryOptions struct {
	ServerKey string
	Operation string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult is one page of records, newest first.
type QueryResult struct {
	Entries []database.TransferRecord `json:"entries"`
	Total   int64                     `json:"total"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}

// Query returns records matching opts.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.TransferRecord{})
	if opts.ServerKey != "" {
		tx = tx.Where("server_key = ?", opts.ServerKey)
	}
	if opts.Operation != "" {
		tx = tx.Where("operation = ?", opts.Operation)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	var entries []database.TransferRecord
	if err := tx.Order("created_at DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

// PurgeOlderThan deletes records older than days (the retention period when
// days <= 0) and returns how many were removed.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.now().AddDate(0, 0, -days)

	a.mu.Lock()
	defer a.mu.Unlock()
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.TransferRecord{})
	if result.Error != nil {
		a.log.Error("purge failed", zap.Error(result.Error))
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		a.log.Info("purged transfer records", zap.Int64("count", result.RowsAffected), zap.Int("older_than_days", days))
	}
	return result.RowsAffected, nil
}

// StartPurgeSchedule purges expired records daily until ctx is done.
func (a *Auditor) StartPurgeSchedule(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc("@daily", func() {
		if _, err := a.PurgeOlderThan(0); err != nil {
			a.log.Warn("scheduled purge failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule purge: %w", err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock used for record timestamps and purge cutoffs.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nowFn = fn
}

func (a *Auditor) now() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nowFn()
}
