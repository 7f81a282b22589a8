package ops

import "time"

// DefaultMetricsWindowDays is the lookback window for learning metrics
// when the caller does not pick one.
const DefaultMetricsWindowDays = 7

// JobTypeLearnMetrics is the queue type for metrics recomputation jobs,
// enqueued after every feedback write and drained by the learn worker.
const JobTypeLearnMetrics = "learn_metrics"

// MetricsJobPayload is the JSON payload of a JobTypeLearnMetrics job.
type MetricsJobPayload struct {
	UserID     string `json:"user_id"`
	WindowDays int    `json:"window_days"`
}

// LearningMetrics is one computed snapshot of how well classification is
// tracking a user: how often they correct it, and per-axis agreement
// between what the system said and what the user settled on.
type LearningMetrics struct {
	UserID         string             `json:"user_id"`
	WindowDays     int                `json:"window_days"`
	Operations     int                `json:"operations"`
	Corrections    int                `json:"corrections"`
	Confirmations  int                `json:"confirmations"`
	CorrectionRate float64            `json:"correction_rate"`
	AccuracyByAxis map[string]float64 `json:"accuracy_by_axis"`
	ComputedAt     time.Time          `json:"computed_at"`
}
