// Package learn turns accumulated feedback into numbers: correction-rate
// metrics computed in the background after every feedback write, and
// on-demand evaluation that replays past corrections through the current
// classifier to see whether it has caught up with its lessons.
package learn

import (
	"time"

	"github.com/sefton37/triage/internal/ops"
	"github.com/sefton37/triage/internal/taxonomy"
)

// Axis names used in accuracy maps.
const (
	AxisDestination = "destination"
	AxisConsumer    = "consumer"
	AxisSemantics   = "semantics"
)

// Compute derives a metrics snapshot from one window of feedback. The
// correction rate is corrections over all feedback; per-axis accuracy is
// the share of feedback rows where the system's value on that axis matched
// what the user settled on. A confirmation counts as agreement on every
// axis; a correction agrees only where the corrected triple left the
// system's value unchanged.
func Compute(userID string, windowDays, operations int, feedback []ops.Feedback, now time.Time) ops.LearningMetrics {
	m := ops.LearningMetrics{
		UserID:         userID,
		WindowDays:     windowDays,
		Operations:     operations,
		AccuracyByAxis: map[string]float64{},
		ComputedAt:     now.UTC(),
	}

	var destAgree, consAgree, semAgree int
	for _, fb := range feedback {
		switch fb.Type {
		case ops.FeedbackCorrection:
			m.Corrections++
			d, c, s := axisMatches(fb.System, fb.Corrected)
			if d {
				destAgree++
			}
			if c {
				consAgree++
			}
			if s {
				semAgree++
			}
		case ops.FeedbackConfirmation:
			m.Confirmations++
			destAgree++
			consAgree++
			semAgree++
		}
	}

	total := m.Corrections + m.Confirmations
	if total == 0 {
		return m
	}
	m.CorrectionRate = float64(m.Corrections) / float64(total)
	m.AccuracyByAxis[AxisDestination] = float64(destAgree) / float64(total)
	m.AccuracyByAxis[AxisConsumer] = float64(consAgree) / float64(total)
	m.AccuracyByAxis[AxisSemantics] = float64(semAgree) / float64(total)
	return m
}

// axisMatches compares two classifications axis by axis, ignoring
// confidence.
func axisMatches(a, b taxonomy.Classification) (dest, cons, sem bool) {
	return a.Destination == b.Destination, a.Consumer == b.Consumer, a.Semantics == b.Semantics
}
