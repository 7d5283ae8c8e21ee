// Package shell is the operator console for a history image: a small line
// oriented command language with tab completion on a terminal.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/flowhist/internal/errors"
	"github.com/xtxerr/flowhist/internal/logging"
	"github.com/xtxerr/flowhist/internal/storage"
	"github.com/xtxerr/flowhist/internal/storage/report"
	"github.com/xtxerr/flowhist/internal/storage/types"
)

// Options configures a Shell.
type Options struct {
	// Accuracy is the relative accuracy of report percentiles.
	Accuracy float64

	// Now is the clock used when add is given no time. Defaults to time.Now.
	Now func() time.Time
}

// Shell executes console commands against a History.
type Shell struct {
	hist     *storage.History
	out      io.Writer
	accuracy float64
	now      func() time.Time
	exited   bool

	log *slog.Logger
}

type command struct {
	name  string
	usage string
	help  string
	run   func(s *Shell, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"info", "info", "show tier occupancy", (*Shell).cmdInfo},
		{"find", "find <tier> <time>", "look up the record of a period", (*Shell).cmdFind},
		{"add", "add <tier> <value> [time]", "store a value for a period", (*Shell).cmdAdd},
		{"dump", "dump <tier> [n]", "list the newest n records (all by default)", (*Shell).cmdDump},
		{"report", "report [tier]", "summarise one or all tiers", (*Shell).cmdReport},
		{"reset", "reset <tier>", "forget every record of a tier", (*Shell).cmdReset},
		{"help", "help", "list commands", (*Shell).cmdHelp},
		{"exit", "exit", "leave the shell", (*Shell).cmdExit},
	}
}

// New creates a shell writing its output to out.
func New(h *storage.History, out io.Writer, opts Options) *Shell {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Shell{
		hist:     h,
		out:      out,
		accuracy: opts.Accuracy,
		now:      opts.Now,
		log:      logging.Component("shell"),
	}
}

// Execute runs one command line. Blank lines and # comments are ignored.
func (s *Shell) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]
	if name == "quit" {
		name = "exit"
	}

	for _, c := range commands {
		if c.name == name {
			s.log.Debug("execute", "command", name, "args", args)
			return c.run(s, args)
		}
	}
	return fmt.Errorf("unknown command %q, try help: %w", name, errors.ErrInvalidRequest)
}

// Exited reports whether exit has been executed.
func (s *Shell) Exited() bool {
	return s.exited
}

// Run reads commands from in until exit or end of input. A terminal gets an
// interactive prompt with completion; anything else is read line by line and
// stops at the first failing command.
func (s *Shell) Run(ctx context.Context, in *os.File) error {
	if term.IsTerminal(int(in.Fd())) {
		s.interactive()
		return nil
	}
	return s.RunScript(ctx, in)
}

// RunScript executes every line of r, stopping at the first error.
func (s *Shell) RunScript(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Execute(scanner.Text()); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if s.exited {
			return nil
		}
	}
	return scanner.Err()
}

func (s *Shell) interactive() {
	fmt.Fprintln(s.out, "flowhist shell, type help for commands")

	p := prompt.New(
		func(line string) {
			if err := s.Execute(line); err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
		},
		s.Complete,
		prompt.OptionPrefix("flowhist> "),
		prompt.OptionTitle("flowhist"),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			return s.exited
		}),
	)
	p.Run()
}

// Complete suggests command names for the first word and tier names for
// the second.
func (s *Shell) Complete(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	words := strings.Fields(before)
	word := d.GetWordBeforeCursor()

	// Still typing the command name.
	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(before, " ")) {
		suggests := make([]prompt.Suggest, 0, len(commands))
		for _, c := range commands {
			suggests = append(suggests, prompt.Suggest{Text: c.name, Description: c.help})
		}
		return prompt.FilterHasPrefix(suggests, word, true)
	}

	argIndex := len(words) - 1
	if strings.HasSuffix(before, " ") {
		argIndex = len(words)
	}
	if argIndex != 1 {
		return nil
	}

	switch strings.ToLower(words[0]) {
	case "find", "add", "dump", "report", "reset":
		suggests := make([]prompt.Suggest, 0, 3)
		for _, t := range s.hist.Tiers() {
			suggests = append(suggests, prompt.Suggest{
				Text:        t.String(),
				Description: fmt.Sprintf("every %s", t.Duration()),
			})
		}
		return prompt.FilterHasPrefix(suggests, word, true)
	}
	return nil
}

func (s *Shell) cmdInfo(args []string) error {
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tBASE\tSIZE\tCAPACITY\tFIRST\tLAST")
	for _, info := range s.hist.Info() {
		fmt.Fprintf(tw, "%s\t0x%05x\t%d\t%d\t%s\t%s\n",
			info.Tier, info.Ring.Base, info.Size, info.Capacity,
			formatTime(info.First), formatTime(info.Last))
	}
	return tw.Flush()
}

func (s *Shell) cmdFind(args []string) error {
	if len(args) != 2 {
		return usageError("find")
	}
	tier, err := types.ParseTier(args[0])
	if err != nil {
		return err
	}
	at, err := ParseTime(args[1], s.now())
	if err != nil {
		return err
	}

	v, ok, err := s.hist.Find(tier, at)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(s.out, "%s %s: no record\n", tier, at.UTC().Format(time.RFC3339))
		return nil
	}
	fmt.Fprintf(s.out, "%s %s: %d\n", tier, at.UTC().Truncate(time.Minute).Format(time.RFC3339), v)
	return nil
}

func (s *Shell) cmdAdd(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usageError("add")
	}
	tier, err := types.ParseTier(args[0])
	if err != nil {
		return err
	}
	v, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("value %q: %w", args[1], errors.ErrInvalidRequest)
	}
	at := s.now()
	if len(args) == 3 {
		if at, err = ParseTime(args[2], s.now()); err != nil {
			return err
		}
	}

	if err := s.hist.Add(tier, int32(v), at); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "ok\n")
	return nil
}

func (s *Shell) cmdDump(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usageError("dump")
	}
	tier, err := types.ParseTier(args[0])
	if err != nil {
		return err
	}
	limit := -1
	if len(args) == 2 {
		if limit, err = strconv.Atoi(args[1]); err != nil || limit < 0 {
			return fmt.Errorf("count %q: %w", args[1], errors.ErrInvalidRequest)
		}
	}

	records, err := s.hist.Records(tier)
	if err != nil {
		return err
	}
	if limit >= 0 && limit < len(records) {
		records = records[len(records)-limit:]
	}
	return WriteRecords(s.out, records)
}

func (s *Shell) cmdReport(args []string) error {
	tiers := s.hist.Tiers()
	if len(args) > 1 {
		return usageError("report")
	}
	if len(args) == 1 {
		tier, err := types.ParseTier(args[0])
		if err != nil {
			return err
		}
		tiers = []types.Tier{tier}
	}

	summaries, err := report.SummarizeAll(context.Background(), s.hist, tiers, s.accuracy)
	if err != nil {
		return err
	}
	return WriteSummaries(s.out, summaries)
}

func (s *Shell) cmdReset(args []string) error {
	if len(args) != 1 {
		return usageError("reset")
	}
	tier, err := types.ParseTier(args[0])
	if err != nil {
		return err
	}
	if err := s.hist.Reset(tier); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s reset\n", tier)
	return nil
}

func (s *Shell) cmdHelp(args []string) error {
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "%s\t%s\n", c.usage, c.help)
	}
	fmt.Fprintln(tw, "\ttiers: hour, day, month; times: RFC 3339, 2006-01-02[ 15:04], unix seconds or now")
	return tw.Flush()
}

func (s *Shell) cmdExit(args []string) error {
	s.exited = true
	return nil
}

func usageError(name string) error {
	for _, c := range commands {
		if c.name == name {
			return fmt.Errorf("usage: %s: %w", c.usage, errors.ErrInvalidRequest)
		}
	}
	return errors.ErrInvalidRequest
}
