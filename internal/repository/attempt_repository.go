package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facegate/internal/logging"
)

// VerificationAttempt is one audit record: exactly one row is appended per
// verification attempt, matched or not. MatchedWith and Distance are set iff
// Verified is true.
type VerificationAttempt struct {
	ID          uint      `gorm:"primaryKey"`
	AttemptID   string    `gorm:"column:attempt_id;uniqueIndex;size:64"`
	MatchedWith *string   `gorm:"column:matched_with;size:255"`
	Verified    bool      `gorm:"column:verified"`
	Distance    *float64  `gorm:"column:distance"`
	Details     string    `gorm:"column:details;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (VerificationAttempt) TableName() string {
	return "verification_attempts"
}

// MetricsAggregation is the raw aggregate pulled from the audit table.
type MetricsAggregation struct {
	TotalCount      int64
	MatchedCount    int64
	AverageDistance float64
}

// AttemptRepository provides append and lookup APIs over the audit table.
type AttemptRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAttemptRepository creates a new repository instance.
func NewAttemptRepository(db *gorm.DB, logger *zap.Logger) *AttemptRepository {
	return &AttemptRepository{
		db:             db,
		logger:         logger.Named("attempt_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AttemptRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&VerificationAttempt{})
}

// SaveAttempt appends an audit record, retrying transient database errors.
func (r *AttemptRepository) SaveAttempt(ctx context.Context, attempt *VerificationAttempt) error {
	return r.executeWithRetry(ctx, "repository.save_attempt", attempt.AttemptID, func() error {
		return r.db.WithContext(ctx).Create(attempt).Error
	})
}

// FindByAttemptID retrieves one audit record.
func (r *AttemptRepository) FindByAttemptID(ctx context.Context, attemptID string) (*VerificationAttempt, error) {
	var attempt VerificationAttempt
	if err := r.db.WithContext(ctx).First(&attempt, "attempt_id = ?", attemptID).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// AggregateMetrics summarizes the audit table.
func (r *AttemptRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation

	if err := r.db.WithContext(ctx).Model(&VerificationAttempt{}).Count(&agg.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&VerificationAttempt{}).
		Where("verified = ?", true).Count(&agg.MatchedCount).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&VerificationAttempt{}).
		Where("verified = ?", true).
		Select("COALESCE(AVG(distance), 0)").
		Scan(&agg.AverageDistance).Error; err != nil {
		return nil, err
	}

	return &agg, nil
}

func (r *AttemptRepository) executeWithRetry(ctx context.Context, operation, attemptID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, attemptID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, attemptID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, attemptID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, attemptID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, attemptID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
