package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/shell"
	"github.com/xtxerr/flowhist/internal/storage/query"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// runQuery reads exported archives back. It does not touch the device.
func runQuery(ctx context.Context, a *app, args []string) error {
	fset := flag.NewFlagSet("query", flag.ContinueOnError)
	tierName := fset.String("tier", "hour", "tier to read")
	from := fset.String("from", "", "first period (default all)")
	to := fset.String("to", "", "end of range, exclusive (default all)")
	by := fset.String("by", "", "sum into day or month buckets")
	limit := fset.Int("n", 0, "maximum records")
	raw := fset.String("sql", "", "run this statement instead")
	if err := fset.Parse(args); err != nil {
		return err
	}

	svc, err := query.New(query.Options{MemoryLimit: a.cfg.Query.MemoryLimit})
	if err != nil {
		return err
	}
	defer svc.Close()

	if *raw != "" {
		rows, err := svc.ExecuteSQL(ctx, *raw)
		if err != nil {
			return err
		}
		return writeRows(rows)
	}

	if fset.NArg() != 1 {
		return fmt.Errorf("usage: query [flags] <parquet glob>: %w", errors.ErrInvalidRequest)
	}
	tier, err := types.ParseTier(*tierName)
	if err != nil {
		return err
	}

	q := query.RangeQuery{Pattern: fset.Arg(0), Tier: tier, Limit: *limit}
	now := time.Now()
	if *from != "" {
		if q.Start, err = shell.ParseTime(*from, now); err != nil {
			return err
		}
	}
	if *to != "" {
		if q.End, err = shell.ParseTime(*to, now); err != nil {
			return err
		}
	}

	if *by == "" {
		records, err := svc.Records(ctx, q)
		if err != nil {
			return err
		}
		return shell.WriteRecords(os.Stdout, records)
	}

	bucket, err := types.ParseTier(*by)
	if err != nil {
		return err
	}
	totals, err := svc.Totals(ctx, q, bucket.Interval())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUCKET\tRECORDS\tTOTAL")
	for _, b := range totals {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", time.Unix(int64(b.Start), 0).UTC().Format(time.RFC3339), b.Count, b.Sum)
	}
	return tw.Flush()
}

func writeRows(rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, col)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		for i, col := range columns {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, row[col])
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
