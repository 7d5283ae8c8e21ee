// Package report summarises the records held by the history tiers.
package report

import (
	"context"
	"fmt"
	"sort"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/logging"
	"github.com/xtxerr/flowhist/internal/storage/types"
	"golang.org/x/sync/errgroup"
)

// Source provides the records of a tier. *storage.History implements it.
type Source interface {
	Records(tier types.Tier) ([]types.Record, error)
}

// Summarize computes statistics over all records of a tier.
func Summarize(tier types.Tier, records []types.Record, accuracy float64) Summary {
	agg := NewAggregate(tier, 0, 0, accuracy)
	for _, r := range records {
		agg.Add(r)
	}
	return agg.Summary()
}

// SummarizeAll reads and summarises several tiers concurrently.
// Results follow the order of tiers.
func SummarizeAll(ctx context.Context, src Source, tiers []types.Tier, accuracy float64) ([]Summary, error) {
	out := make([]Summary, len(tiers))

	g, ctx := errgroup.WithContext(ctx)
	for i, tier := range tiers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := src.Records(tier)
			if err != nil {
				return fmt.Errorf("%s records: %w", tier, err)
			}
			out[i] = Summarize(tier, records, accuracy)
			logging.WithContext(logging.ContextWithTier(ctx, tier.String())).
				Debug("tier summarised", "records", out[i].Count, "sum", out[i].Sum)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Rollup groups records of a tier into coarser buckets, for example the
// hour tier into days. Buckets are epoch aligned and returned oldest first;
// buckets without records are omitted.
func Rollup(tier types.Tier, records []types.Record, bucket uint32, accuracy float64) ([]Summary, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%v: %w", tier, errors.ErrInvalidTier)
	}
	if bucket == 0 || bucket%tier.Interval() != 0 {
		return nil, fmt.Errorf("bucket %ds is not a multiple of the %s interval: %w",
			bucket, tier, errors.ErrInvalidRequest)
	}

	buckets := make(map[uint32]*Aggregate)
	for _, r := range records {
		start := r.Timestamp - r.Timestamp%bucket
		agg, ok := buckets[start]
		if !ok {
			agg = NewAggregate(tier, start, start+bucket, accuracy)
			buckets[start] = agg
		}
		agg.Add(r)
	}

	starts := make([]uint32, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	out := make([]Summary, 0, len(starts))
	for _, start := range starts {
		out = append(out, buckets[start].Summary())
	}
	return out, nil
}
