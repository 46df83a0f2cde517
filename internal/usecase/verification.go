package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/gallery"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/oracle"
	"github.com/example/facegate/internal/repository"
)

var (
	// ErrGalleryUnavailable signals that no enrolled identities exist. It is
	// a precondition failure, never a "no match" outcome.
	ErrGalleryUnavailable = errors.New("no enrolled identities")

	// ErrSpoofRejected signals that the capture failed the liveness check
	// before any embedding work happened.
	ErrSpoofRejected = errors.New("capture rejected by liveness check")
)

// Gallery is the set of enrolled identities the engine scans. The engine
// only reads; enrollment is the single mutator.
type Gallery interface {
	List() ([]gallery.Identity, error)
	Enroll(name string, image []byte) (*gallery.Identity, error)
}

// SpoofGate accepts or rejects a capture before it reaches the oracle.
type SpoofGate interface {
	IsLive(image []byte) bool
}

// AttemptStore persists and serves audit records.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, attempt *repository.VerificationAttempt) error
	FindByAttemptID(ctx context.Context, attemptID string) (*repository.VerificationAttempt, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Result is the outcome of one verification attempt. MatchedWith and
// Distance carry meaning only when Verified is true.
type Result struct {
	AttemptID   string
	Verified    bool
	MatchedWith string
	Distance    float64
}

// Options tunes the decision rule and the oracle invocation.
type Options struct {
	DistanceThreshold float64
	Model             string
	DetectorBackend   string
}

// VerificationUseCase runs the spoof gate and the one-vs-many matching
// policy over the gallery, and owns attempt persistence and caching.
type VerificationUseCase struct {
	gallery        Gallery
	gate           SpoofGate
	oracle         oracle.Client
	store          AttemptStore
	cache          Cache
	logger         *zap.Logger
	opts           Options
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedAttempt struct {
	AttemptID   string    `json:"attempt_id"`
	MatchedWith *string   `json:"matched_with"`
	Verified    bool      `json:"verified"`
	Distance    *float64  `json:"distance"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(gal Gallery, gate SpoofGate, client oracle.Client, store AttemptStore, cache Cache, logger *zap.Logger, opts Options) *VerificationUseCase {
	if opts.DistanceThreshold <= 0 {
		opts.DistanceThreshold = 0.4
	}
	if opts.Model == "" {
		opts.Model = "Facenet"
	}
	if opts.DetectorBackend == "" {
		opts.DetectorBackend = "opencv"
	}
	return &VerificationUseCase{
		gallery:        gal,
		gate:           gate,
		oracle:         client,
		store:          store,
		cache:          cache,
		logger:         logger.Named("verification_usecase"),
		opts:           opts,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Verify runs a capture through the spoof gate and then linearly scans the
// gallery, invoking the oracle pairwise with relaxed detection. The first
// identity reported verified with a distance under the threshold wins; a
// full scan without a hit is a non-match. A comparison failure against one
// identity is logged and skipped, it never aborts the scan.
//
// Verify has no side effects beyond logging. Recording the attempt is the
// caller's responsibility via RecordAttempt, so different entry points can
// audit with their own semantics.
func (uc *VerificationUseCase) Verify(ctx context.Context, image []byte) (*Result, error) {
	attemptID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", attemptID)

	identities, err := uc.gallery.List()
	if err != nil {
		opLogger.Error("gallery enumeration failed", zap.Error(err))
		return nil, logging.NewOperationError("usecase.verify", attemptID, ErrGalleryUnavailable)
	}
	if len(identities) == 0 {
		opLogger.Warn("gallery is empty")
		return nil, logging.NewOperationError("usecase.verify", attemptID, ErrGalleryUnavailable)
	}

	if !uc.gate.IsLive(image) {
		opLogger.Warn("spoof check rejected capture")
		return nil, logging.NewOperationError("usecase.verify", attemptID, ErrSpoofRejected)
	}

	compareOpts := oracle.Options{
		Model:            uc.opts.Model,
		Backend:          uc.opts.DetectorBackend,
		RelaxedDetection: true,
	}

	for _, identity := range identities {
		reference, err := os.ReadFile(identity.Path)
		if err != nil {
			opLogger.Warn("skipping unreadable reference image",
				zap.String("identity", identity.Filename), zap.Error(err))
			continue
		}

		comparison, err := uc.oracle.Compare(ctx, image, reference, compareOpts)
		if err != nil {
			opLogger.Warn("skipping identity after comparison failure",
				zap.String("identity", identity.Filename), zap.Error(err))
			continue
		}

		if comparison.Verified && comparison.Distance < uc.opts.DistanceThreshold {
			opLogger.Info("match found",
				zap.String("matched_with", identity.Filename),
				zap.Float64("distance", comparison.Distance),
			)
			return &Result{
				AttemptID:   attemptID,
				Verified:    true,
				MatchedWith: identity.Filename,
				Distance:    comparison.Distance,
			}, nil
		}
	}

	opLogger.Info("no match found", zap.Int("gallery_size", len(identities)))
	return &Result{AttemptID: attemptID}, nil
}

// RecordAttempt appends one audit record for the attempt and caches the
// outcome for lookup. It is best-effort: failures are logged and never abort
// the verification response.
func (uc *VerificationUseCase) RecordAttempt(ctx context.Context, result *Result) {
	opLogger := logging.WithOperation(uc.logger, "usecase.record_attempt", result.AttemptID)

	attempt := &repository.VerificationAttempt{
		AttemptID: result.AttemptID,
		Verified:  result.Verified,
		CreatedAt: time.Now().UTC(),
	}
	if result.Verified {
		matched := result.MatchedWith
		distance := result.Distance
		attempt.MatchedWith = &matched
		attempt.Distance = &distance
		attempt.Details = fmt.Sprintf("matched:%s distance:%f", matched, distance)
	} else {
		attempt.Details = "no match"
	}

	if err := uc.store.SaveAttempt(ctx, attempt); err != nil {
		opLogger.Error("failed to persist audit record", zap.Error(err))
	}

	cached := cachedAttempt{
		AttemptID:   attempt.AttemptID,
		MatchedWith: attempt.MatchedWith,
		Verified:    attempt.Verified,
		Distance:    attempt.Distance,
		CreatedAt:   attempt.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Error("failed to serialize attempt", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, result.AttemptID, "cache.set.attempt", func() error {
		return uc.cache.Set(ctx, attemptCacheKey(result.AttemptID), string(serialized), 5*time.Minute)
	}); err != nil {
		opLogger.Warn("failed to cache attempt", zap.Error(err))
	}
}

// GetAttempt retrieves a recorded attempt, serving from cache when possible
// and falling back to the audit store.
func (uc *VerificationUseCase) GetAttempt(ctx context.Context, attemptID string) (*repository.VerificationAttempt, error) {
	if cached, err := uc.withRedisGet(ctx, attemptID, "cache.get.attempt", attemptCacheKey(attemptID)); err == nil {
		var payload cachedAttempt
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_attempt", attemptID).
				Warn("failed to decode cached attempt", zap.Error(err))
		} else {
			return &repository.VerificationAttempt{
				AttemptID:   payload.AttemptID,
				MatchedWith: payload.MatchedWith,
				Verified:    payload.Verified,
				Distance:    payload.Distance,
				CreatedAt:   payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_attempt", attemptID).
			Warn("failed to read cache", zap.Error(err))
	}

	return uc.store.FindByAttemptID(ctx, attemptID)
}

// ListIdentities enumerates the gallery for the registered-faces endpoint.
func (uc *VerificationUseCase) ListIdentities() ([]gallery.Identity, error) {
	return uc.gallery.List()
}

func attemptCacheKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s", attemptID)
}

func (uc *VerificationUseCase) withRedisRetry(ctx context.Context, attemptID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, attemptID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, attemptID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, attemptID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		// A cache miss is a normal outcome, not a failure worth retrying.
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, attemptID, err)
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, attemptID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, attemptID, err)
}

func (uc *VerificationUseCase) withRedisGet(ctx context.Context, attemptID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, attemptID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
