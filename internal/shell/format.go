package shell

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/storage/report"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime accepts RFC 3339, a date with optional minutes, Unix seconds or
// "now". Times without a zone are UTC.
func ParseTime(s string, now time.Time) (time.Time, error) {
	if strings.EqualFold(s, "now") {
		return now, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time %q: %w", s, errors.ErrInvalidRequest)
}

// WriteRecords prints records as a table, oldest first.
func WriteRecords(w io.Writer, records []types.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "TIME\tVALUE\t")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%d\t\n", r.Time().Format(time.RFC3339), r.Value)
	}
	return tw.Flush()
}

// WriteSummaries prints report summaries as a table.
func WriteSummaries(w io.Writer, summaries []report.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tFROM\tTO\tCOUNT\tZEROS\tSUM\tMIN\tMAX\tMEAN\tP50\tP90\tP99")
	for i := range summaries {
		s := &summaries[i]
		from, to := "-", "-"
		if s.Count > 0 {
			from, to = s.First().Format(time.RFC3339), s.Last().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.1f\t%s\t%s\t%s\n",
			s.Tier, from, to, s.Count, s.Zeros, s.Sum, s.Min, s.Max, s.Mean,
			formatQuantile(s.P50), formatQuantile(s.P90), formatQuantile(s.P99))
	}
	return tw.Flush()
}

func formatQuantile(q *float64) string {
	if q == nil {
		return "-"
	}
	return strconv.FormatFloat(*q, 'f', 1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
