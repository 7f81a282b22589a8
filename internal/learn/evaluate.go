package learn

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sefton37/triage/internal/classifier"
	"github.com/sefton37/triage/internal/exemplar"
	"github.com/sefton37/triage/internal/taxonomy"
)

// Classifier produces a classification for raw request text. Satisfied by
// *classifier.Classifier.
type Classifier interface {
	Classify(ctx context.Context, request string) (classifier.Result, error)
}

// Sample is one replayed correction: what the user settled on versus what
// the classifier says today.
type Sample struct {
	Request  string                  `json:"request"`
	Expected taxonomy.Classification `json:"expected"`
	Got      taxonomy.Classification `json:"got"`
	Match    bool                    `json:"match"`
	Err      string                  `json:"error,omitempty"`
}

// Report aggregates an evaluation run. Accuracy counts only samples that
// produced a classification; samples that errored are tallied separately.
type Report struct {
	Total          int                `json:"total"`
	Exact          int                `json:"exact"`
	Errors         int                `json:"errors"`
	Accuracy       float64            `json:"accuracy"`
	AccuracyByAxis map[string]float64 `json:"accuracy_by_axis"`
	Samples        []Sample           `json:"samples"`
}

// Evaluator replays stored corrections through the live classifier.
type Evaluator struct {
	classifier Classifier
	limit      int
}

// NewEvaluator creates an Evaluator. Replays run concurrently with a small
// bound so the inference backend is not swamped.
func NewEvaluator(c Classifier) *Evaluator {
	return &Evaluator{classifier: c, limit: 4}
}

// Evaluate classifies every record's request and compares the result with
// the user's corrected triple. Per-sample backend failures are recorded in
// the report; Evaluate itself only fails when the context is cancelled.
func (e *Evaluator) Evaluate(ctx context.Context, records []exemplar.Record) (Report, error) {
	report := Report{
		Total:          len(records),
		AccuracyByAxis: map[string]float64{},
	}
	if len(records) == 0 {
		return report, nil
	}

	samples := make([]Sample, len(records))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			sample := Sample{Request: rec.Request, Expected: rec.Corrected}
			res, err := e.classifier.Classify(gCtx, rec.Request)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				sample.Err = err.Error()
				samples[i] = sample
				return nil
			}
			sample.Got = res.Classification
			d, c, s := axisMatches(res.Classification, rec.Corrected)
			sample.Match = d && c && s
			samples[i] = sample
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	var scored, destAgree, consAgree, semAgree int
	for _, sample := range samples {
		if sample.Err != "" {
			report.Errors++
			continue
		}
		scored++
		if sample.Match {
			report.Exact++
		}
		d, c, s := axisMatches(sample.Got, sample.Expected)
		if d {
			destAgree++
		}
		if c {
			consAgree++
		}
		if s {
			semAgree++
		}
	}
	report.Samples = samples
	if scored > 0 {
		report.Accuracy = float64(report.Exact) / float64(scored)
		report.AccuracyByAxis[AxisDestination] = float64(destAgree) / float64(scored)
		report.AccuracyByAxis[AxisConsumer] = float64(consAgree) / float64(scored)
		report.AccuracyByAxis[AxisSemantics] = float64(semAgree) / float64(scored)
	}
	return report, nil
}
