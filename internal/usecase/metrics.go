package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalAttempts   int64   `json:"total_attempts"`
	MatchedAttempts int64   `json:"matched_attempts"`
	MatchRate       float64 `json:"match_rate"`
	AverageDistance float64 `json:"average_distance"`
}

// GetMetricsSummary aggregates verification metrics from the audit store.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.store.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAttempts:   aggregation.TotalCount,
		MatchedAttempts: aggregation.MatchedCount,
		AverageDistance: aggregation.AverageDistance,
	}

	if aggregation.TotalCount > 0 {
		summary.MatchRate = float64(aggregation.MatchedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
