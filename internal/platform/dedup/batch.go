package dedup

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
)

// AnalyzeBatch analyzes records concurrently, at most cfg.BatchConcurrency at a
// time. Results are in input order. The first failure cancels the remaining
// analyses and is returned.
func (e *Engine) AnalyzeBatch(ctx context.Context, records []patient.Record) ([]*patient.DuplicateAnalysisResult, error) {
	results := make([]*patient.DuplicateAnalysisResult, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchConcurrency)
	for i := range records {
		i := i
		g.Go(func() error {
			res, err := e.AnalyzeDuplicates(ctx, &records[i])
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
