package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/shell"
	"github.com/xtxerr/flowhist/internal/storage"
	"github.com/xtxerr/flowhist/internal/storage/parquet"
	"github.com/xtxerr/flowhist/internal/storage/report"
	"github.com/xtxerr/flowhist/internal/storage/types"
	"github.com/xtxerr/flowhist/internal/wire"
)

func runInfo(ctx context.Context, a *app, args []string) error {
	req := a.cfg.CalculateRequirements()
	fmt.Print(req.FormatRequirements())
	fmt.Println()

	return a.withHistory(func(h *storage.History) error {
		return shell.New(h, os.Stdout, shell.Options{}).Execute("info")
	})
}

func runAdd(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: add <tier> <value> [time]: %w", errors.ErrInvalidRequest)
	}
	return a.withHistory(func(h *storage.History) error {
		return shell.New(h, os.Stdout, shell.Options{}).Execute("add " + joinArgs(args))
	})
}

func runFind(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: find <tier> <time>: %w", errors.ErrInvalidRequest)
	}
	return a.withHistory(func(h *storage.History) error {
		return shell.New(h, os.Stdout, shell.Options{}).Execute("find " + joinArgs(args))
	})
}

func runDump(ctx context.Context, a *app, args []string) error {
	fset := flag.NewFlagSet("dump", flag.ContinueOnError)
	n := fset.Int("n", -1, "newest records only")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		return fmt.Errorf("usage: dump [-n N] <tier>: %w", errors.ErrInvalidRequest)
	}

	line := "dump " + fset.Arg(0)
	if *n >= 0 {
		line += " " + strconv.Itoa(*n)
	}
	return a.withHistory(func(h *storage.History) error {
		return shell.New(h, os.Stdout, shell.Options{}).Execute(line)
	})
}

func runReport(ctx context.Context, a *app, args []string) error {
	fset := flag.NewFlagSet("report", flag.ContinueOnError)
	tierName := fset.String("tier", "", "tier to summarise (default all)")
	by := fset.String("by", "", "roll records up into day or month buckets")
	since := fset.String("since", "", "only records from this time on; picks the tier when -tier is unset")
	out := fset.String("o", "", "also write the summaries to this Parquet file")
	if err := fset.Parse(args); err != nil {
		return err
	}

	var from time.Time
	if *since != "" {
		now := time.Now()
		t, err := shell.ParseTime(*since, now)
		if err != nil {
			return err
		}
		from = t
		if *tierName == "" {
			*tierName = types.SelectTierForRange(from, now).String()
		}
	}

	return a.withHistory(func(h *storage.History) error {
		tiers, err := selectTiers(h, *tierName)
		if err != nil {
			return err
		}

		var src report.Source = h
		if !from.IsZero() {
			src = sinceSource{h, types.Unix(from)}
		}

		var summaries []report.Summary
		if *by == "" {
			summaries, err = report.SummarizeAll(ctx, src, tiers, a.cfg.Report.Accuracy)
			if err != nil {
				return err
			}
		} else {
			bucket, err := types.ParseTier(*by)
			if err != nil {
				return err
			}
			for _, tier := range tiers {
				records, err := src.Records(tier)
				if err != nil {
					return err
				}
				rolled, err := report.Rollup(tier, records, bucket.Interval(), a.cfg.Report.Accuracy)
				if err != nil {
					return err
				}
				summaries = append(summaries, rolled...)
			}
		}

		if err := shell.WriteSummaries(os.Stdout, summaries); err != nil {
			return err
		}
		if *out == "" {
			return nil
		}

		opts := parquet.DefaultOptions()
		opts.Compression = parquet.ParseCompressionType(a.cfg.Export.Compression)
		w, err := parquet.NewSummaryWriter(*out, opts)
		if err != nil {
			return err
		}
		if err := w.Write(summaries); err != nil {
			w.Close()
			return err
		}
		a.log.Info("summaries written", "path", *out, "rows", w.RowCount())
		return w.Close()
	})
}

func runExport(ctx context.Context, a *app, args []string) error {
	fset := flag.NewFlagSet("export", flag.ContinueOnError)
	tierName := fset.String("tier", "", "tier to export (default all)")
	format := fset.String("format", "parquet", "parquet or protobuf")
	compression := fset.String("compression", a.cfg.Export.Compression, "parquet compression: snappy, zstd, lz4, gzip or none")
	out := fset.String("o", "", "output file")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return fmt.Errorf("export needs -o: %w", errors.ErrInvalidRequest)
	}

	var (
		sink recordSink
		err  error
	)
	switch *format {
	case "parquet":
		sink, err = newParquetSink(*out, *compression)
	case "protobuf", "pb":
		sink, err = newWireSink(*out, *compression)
	default:
		return fmt.Errorf("export format %q: %w", *format, errors.ErrInvalidRequest)
	}
	if err != nil {
		return err
	}

	err = a.withHistory(func(h *storage.History) error {
		tiers, err := selectTiers(h, *tierName)
		if err != nil {
			return err
		}
		for _, tier := range tiers {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := h.Records(tier)
			if err != nil {
				return err
			}
			if err := sink.Write(tier, records); err != nil {
				return err
			}
		}
		return nil
	})
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	a.log.Info("records exported", "path", *out, "format", *format, "rows", sink.Count())
	return nil
}

// recordSink is an export destination.
type recordSink interface {
	Write(tier types.Tier, records []types.Record) error
	Count() int64
	Close() error
}

type parquetSink struct {
	*parquet.RecordWriter
}

func newParquetSink(path, compression string) (*parquetSink, error) {
	opts := parquet.DefaultOptions()
	opts.Compression = parquet.ParseCompressionType(compression)
	w, err := parquet.NewRecordWriter(path, opts)
	if err != nil {
		return nil, err
	}
	return &parquetSink{w}, nil
}

func (s *parquetSink) Count() int64 { return s.RowCount() }

type wireSink struct {
	*wire.Writer
	f  *os.File
	zw *zstd.Encoder // nil when uncompressed
	bw *bufio.Writer
}

// newWireSink creates a protobuf record stream. Only zstd compression
// applies to streams; other codecs write it plain.
func newWireSink(path, compression string) (*wireSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}

	s := &wireSink{f: f}
	if parquet.ParseCompressionType(compression) == parquet.CompressionZstd {
		s.zw, err = zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		s.bw = bufio.NewWriter(s.zw)
	} else {
		s.bw = bufio.NewWriter(f)
	}
	s.Writer = wire.NewWriter(s.bw)
	return s, nil
}

func (s *wireSink) Close() error {
	err := s.bw.Flush()
	if s.zw != nil {
		if zerr := s.zw.Close(); err == nil {
			err = zerr
		}
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// runRestore replays a protobuf export into the history, oldest record
// first per tier, so the rings end up as they were when exported.
func runRestore(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: restore <file>: %w", errors.ErrInvalidRequest)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "restore")
	}
	defer f.Close()

	in, err := streamReader(f)
	if err != nil {
		return err
	}
	byTier, err := wire.NewReader(in).ReadAll()
	if err != nil {
		return err
	}

	return a.withHistory(func(h *storage.History) error {
		var n int
		for _, tier := range h.Tiers() {
			records := byTier[tier]
			sort.Slice(records, func(i, j int) bool {
				return records[i].Timestamp < records[j].Timestamp
			})
			for _, r := range records {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := h.Add(tier, r.Value, r.Time()); err != nil {
					return err
				}
				n++
			}
		}
		a.log.Info("records restored", "path", args[0], "records", n)
		return nil
	})
}

// streamReader detects a zstd frame and decompresses it.
func streamReader(f *os.File) (io.Reader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 4 && magic[0] == 0x28 && magic[1] == 0xb5 && magic[2] == 0x2f && magic[3] == 0xfd {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	}
	return br, nil
}

func runShell(ctx context.Context, a *app, args []string) error {
	return a.withHistory(func(h *storage.History) error {
		sh := shell.New(h, os.Stdout, shell.Options{Accuracy: a.cfg.Report.Accuracy})
		return sh.Run(ctx, os.Stdin)
	})
}

// sinceSource drops records older than from.
type sinceSource struct {
	src  report.Source
	from uint32
}

func (s sinceSource) Records(tier types.Tier) ([]types.Record, error) {
	records, err := s.src.Records(tier)
	if err != nil {
		return nil, err
	}
	i := sort.Search(len(records), func(i int) bool {
		return records[i].Timestamp >= s.from
	})
	return records[i:], nil
}

func selectTiers(h *storage.History, name string) ([]types.Tier, error) {
	if name == "" {
		return h.Tiers(), nil
	}
	tier, err := types.ParseTier(name)
	if err != nil {
		return nil, err
	}
	return []types.Tier{tier}, nil
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

// parseFrom parses a simulation start time relative to now.
func parseFrom(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.Add(-90 * 24 * time.Hour), nil
	}
	return shell.ParseTime(s, now)
}
