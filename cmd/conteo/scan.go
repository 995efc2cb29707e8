package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mvidal/conteo/internal/api"
	"github.com/mvidal/conteo/internal/capture"
	"github.com/mvidal/conteo/internal/classify"
	"github.com/mvidal/conteo/internal/journal"
	"github.com/mvidal/conteo/internal/notify"
	"github.com/mvidal/conteo/internal/resolve"
	"github.com/mvidal/conteo/internal/scan"
	"github.com/mvidal/conteo/internal/types"
)

var (
	scanOperation string
	scanGroup     string
	scanCount     string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Interactive count capture against the open lines of a count",
	Long: `Opens a capture loop over the inventory lines of one count. Each submitted
line is decoded as a scan token, resolved against the open lines, and applied
as a quantity increment; ambiguous matches prompt for a location or row.

Besides scans, the loop accepts a few colon commands:

  :lines             show the captured state of every line
  :pending           list lines not yet resolved by the operator
  :set <n> <qty>     set an absolute quantity on line number n
  :nf <n>            toggle not-found on line number n
  :quit              finish the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}
		ctx := cmd.Context()

		lines, err := client.Lines(ctx, api.Scope{
			OperationID: scanOperation,
			GroupID:     scanGroup,
			CountID:     scanCount,
		})
		if err != nil {
			return fmt.Errorf("failed to load inventory lines: %w", err)
		}
		if len(lines) == 0 {
			return fmt.Errorf("no open inventory lines in scope")
		}

		captureCfg := capture.Config{
			DebounceInterval: cfg.Debounce(),
			SavedDisplayTime: cfg.SavedDisplay(),
			CallTimeout:      cfg.APITimeout(),
			MaxInFlight:      int64(cfg.Capture.MaxInFlight),
			Logger:           log,
		}

		var j *journal.Journal
		if cfg.Journal.Path != "" {
			j, err = journal.Open(cfg.Journal.Path)
			if err != nil {
				// Capture must not depend on local audit storage
				log.WithError(err).Warn("audit journal unavailable, continuing without it")
			} else {
				defer j.Close()
			}
		}

		sess, err := capture.NewSession(client, captureCfg)
		if err != nil {
			return err
		}
		if j != nil {
			sess.SetRecorder(journal.NewCaptureRecorder(j, sess.ID()))
		}
		if err := sess.Load(lines); err != nil {
			return err
		}
		defer sess.Close()

		return runScanLoop(sess, j)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanOperation, "operation", "", "inventory operation id")
	scanCmd.Flags().StringVar(&scanGroup, "group", "", "count group id")
	scanCmd.Flags().StringVar(&scanCount, "count", "", "count id (required)")
	_ = scanCmd.MarkFlagRequired("count")
	rootCmd.AddCommand(scanCmd)
}

// scanLoop bundles the collaborators of one interactive capture run
type scanLoop struct {
	sess     *capture.Session
	cls      *classify.Classifier
	suppress *notify.Suppressor
	journal  *journal.Journal
	rl       *readline.Instance

	// prevLen tracks the scan field length between listener callbacks so a
	// paste or scanner burst shows up as a multi-character delta
	prevLen int

	green  func(a ...interface{}) string
	yellow func(a ...interface{}) string
	red    func(a ...interface{}) string
	cyan   func(a ...interface{}) string
	dim    func(a ...interface{}) string
}

func runScanLoop(sess *capture.Session, j *journal.Journal) error {
	loop := &scanLoop{
		sess:     sess,
		cls:      classify.New(classify.DefaultConfig()),
		suppress: notify.NewSuppressor(5 * time.Second),
		journal:  j,
		green:    color.New(color.FgGreen).SprintFunc(),
		yellow:   color.New(color.FgYellow).SprintFunc(),
		red:      color.New(color.FgRed).SprintFunc(),
		cyan:     color.New(color.FgCyan).SprintFunc(),
		dim:      color.New(color.Faint).SprintFunc(),
	}

	rlCfg := &readline.Config{
		Prompt:          loop.cyan("scan> "),
		InterruptPrompt: "^C",
		EOFPrompt:       ":quit",
	}
	rlCfg.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if delta := len(line) - loop.prevLen; delta > 0 {
			loop.cls.Observe(time.Now(), delta)
		}
		loop.prevLen = len(line)
		return nil, 0, false
	})

	rl, err := readline.NewEx(rlCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize input: %w", err)
	}
	defer rl.Close()
	loop.rl = rl

	fmt.Printf("%d open lines loaded. Scan a barcode, or :help for commands.\n\n", len(sess.Lines()))

	for {
		line, err := rl.Readline()
		loop.prevLen = 0
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, ":") {
			if done := loop.command(input); done {
				break
			}
			continue
		}
		loop.handleScan(input)
	}

	sess.Wait()
	if pending := sess.Unmanaged(); len(pending) > 0 {
		fmt.Printf("\n%s %d line(s) still unresolved; the count cannot be finalized yet.\n",
			loop.yellow("note:"), len(pending))
	}
	if locked := sess.LockedLines(); len(locked) > 0 {
		fmt.Printf("%s %d line(s) locked by conflicting edits: %s\n",
			loop.red("warning:"), len(locked), strings.Join(locked, ", "))
	}
	return nil
}

// command dispatches a colon command; returns true when the loop should end
func (l *scanLoop) command(input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		fmt.Println(":lines  :pending  :set <n> <qty>  :nf <n>  :quit")
	case ":lines":
		l.printLines()
	case ":pending":
		pending := l.sess.Unmanaged()
		if len(pending) == 0 {
			fmt.Println(l.green("every line is resolved"))
			return false
		}
		for _, id := range pending {
			if line, ok := l.sess.Line(id); ok {
				fmt.Printf("  %s  %s  %s\n", line.ItemCode, line.LotCode, line.Location)
			}
		}
	case ":set":
		if len(fields) != 3 {
			fmt.Println(l.yellow("usage: :set <line-number> <quantity>"))
			return false
		}
		line, ok := l.lineByNumber(fields[1])
		if !ok {
			return false
		}
		qty, err := parseQuantity(fields[2])
		if err != nil {
			fmt.Println(l.yellow(err.Error()))
			return false
		}
		l.cls.ForceManual()
		l.report(line, l.sess.ApplyAbsolute(line.LineID, qty, false))
	case ":nf":
		if len(fields) != 2 {
			fmt.Println(l.yellow("usage: :nf <line-number>"))
			return false
		}
		line, ok := l.lineByNumber(fields[1])
		if !ok {
			return false
		}
		l.report(line, l.sess.ToggleNotFound(line.LineID, !line.NotFound))
	default:
		fmt.Println(l.yellow("unknown command " + fields[0]))
	}
	return false
}

func (l *scanLoop) lineByNumber(arg string) (*types.InventoryLine, bool) {
	n, err := strconv.Atoi(arg)
	lines := l.sess.Lines()
	if err != nil || n < 1 || n > len(lines) {
		fmt.Println(l.yellow(fmt.Sprintf("line number must be 1..%d", len(lines))))
		return nil, false
	}
	return lines[n-1], true
}

// handleScan runs one submitted value through decode, resolve, and apply
func (l *scanLoop) handleScan(input string) {
	tok := scan.Decode(input)
	if tok.ItemCode == "" {
		fmt.Println(l.yellow("nothing usable in input"))
		return
	}

	// Focus hand-off is decided by how this value was entered, before the
	// confirmed submit snaps the mode back to scanner.
	manualEntry := l.cls.AllowFocusSteal()
	l.cls.ForceScanner()
	l.journalScan(tok)

	cands := resolve.Resolve(tok, l.sess.Lines())
	switch resolve.Dispose(cands) {
	case resolve.DispositionNotFound:
		fmt.Printf("%s no open line matches %s\n", l.yellow("?"), resolve.PendingKey(tok))
	case resolve.DispositionSingle:
		l.apply(cands[0], tok, manualEntry)
	case resolve.DispositionSingleLocation:
		l.apply(resolve.GroupByLocation(cands)[0].Lines[0], tok, manualEntry)
	case resolve.DispositionNeedsLocation:
		groups := resolve.GroupByLocation(cands)
		group, ok := l.chooseLocation(tok, groups)
		if !ok {
			return
		}
		l.applyToGroup(group.Lines, tok, manualEntry)
	case resolve.DispositionNeedsRow:
		l.applyToGroup(resolve.GroupByLocation(cands)[0].Lines, tok, manualEntry)
	}
}

func (l *scanLoop) applyToGroup(rows []*types.InventoryLine, tok scan.Token, manualEntry bool) {
	line, ok := l.chooseRow(tok, rows)
	if !ok {
		return
	}
	l.apply(line, tok, manualEntry)
}

// apply records one scan hit on the chosen line. A quantity segment in the
// barcode gives the increment; otherwise a scan counts one unit. A manually
// typed entry without a quantity segment is offered an absolute edit instead,
// which is the focus hand-off a scanner-sourced hit must never get.
func (l *scanLoop) apply(line *types.InventoryLine, tok scan.Token, manualEntry bool) {
	if inc := tok.Increment(); inc != nil {
		l.report(line, l.sess.ApplyDelta(line.LineID, *inc))
		return
	}
	if manualEntry {
		answer, err := l.prompt(fmt.Sprintf("quantity for %s @ %s [+1]: ", line.ItemCode, line.Location))
		if err != nil {
			return
		}
		answer = strings.TrimSpace(answer)
		if answer != "" {
			qty, err := parseQuantity(answer)
			if err != nil {
				fmt.Println(l.yellow(err.Error()))
				return
			}
			l.report(line, l.sess.ApplyAbsolute(line.LineID, qty, false))
			return
		}
	}
	l.report(line, l.sess.ApplyDelta(line.LineID, decimal.NewFromInt(1)))
}

// chooseLocation prompts the operator to pick among the locations a scan
// matched in
func (l *scanLoop) chooseLocation(tok scan.Token, groups []resolve.LocationGroup) (resolve.LocationGroup, bool) {
	fmt.Printf("%s matches in %d locations:\n", resolve.PendingKey(tok), len(groups))
	for i, g := range groups {
		fmt.Printf("  %d) %s (%d row(s))\n", i+1, g.Location, len(g.Lines))
	}
	idx, ok := l.chooseIndex(len(groups))
	if !ok {
		return resolve.LocationGroup{}, false
	}
	return groups[idx], true
}

// chooseRow prompts the operator to pick among several rows in one location
func (l *scanLoop) chooseRow(tok scan.Token, rows []*types.InventoryLine) (*types.InventoryLine, bool) {
	if len(rows) == 1 {
		return rows[0], true
	}
	fmt.Printf("%s matches %d rows in %s:\n", resolve.PendingKey(tok), len(rows), rows[0].Location)
	for i, row := range rows {
		fmt.Printf("  %d) %s lot %s %s\n", i+1, row.ItemCode, row.LotCode, l.dim(row.Description))
	}
	idx, ok := l.chooseIndex(len(rows))
	if !ok {
		return nil, false
	}
	return rows[idx], true
}

func (l *scanLoop) chooseIndex(n int) (int, bool) {
	answer, err := l.prompt(fmt.Sprintf("pick 1..%d (empty cancels): ", n))
	if err != nil {
		return 0, false
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		fmt.Println(l.dim("cancelled"))
		return 0, false
	}
	idx, err := strconv.Atoi(answer)
	if err != nil || idx < 1 || idx > n {
		fmt.Println(l.yellow("cancelled: not a listed number"))
		return 0, false
	}
	return idx - 1, true
}

// prompt asks a one-off question on the shared readline instance
func (l *scanLoop) prompt(question string) (string, error) {
	l.rl.SetPrompt(l.cyan(question))
	defer l.rl.SetPrompt(l.cyan("scan> "))
	defer func() { l.prevLen = 0 }()
	return l.rl.Readline()
}

// report surfaces a capture outcome, de-duplicating repeated errors
func (l *scanLoop) report(line *types.InventoryLine, out capture.Outcome) {
	if out.Err != nil {
		if l.suppress.ShouldShow(out.Err.Error()) {
			fmt.Printf("%s %s: %v\n", l.red("error:"), line.ItemCode, out.Err)
		}
		return
	}
	if out.Warn != "" {
		fmt.Printf("%s %s\n", l.yellow("warning:"), out.Warn)
	}
	if out.Info != "" {
		fmt.Println(l.dim(out.Info))
	}
	if out.Applied {
		rec, _ := l.sess.Record(line.LineID)
		fmt.Printf("%s %s @ %s = %s\n",
			l.green("ok"), line.ItemCode, line.Location, formatQty(rec.Visible()))
	}
}

func (l *scanLoop) printLines() {
	for i, line := range l.sess.Lines() {
		rec, _ := l.sess.Record(line.LineID)
		marker := " "
		switch {
		case rec.Locked:
			marker = l.red("L")
		case !rec.Managed:
			marker = l.yellow("?")
		case line.NotFound:
			marker = l.dim("x")
		}
		fmt.Printf("%3d %s %-12s %-10s %-10s %8s -> %s %s\n",
			i+1, marker, line.ItemCode, line.LotCode, line.Location,
			formatQty(line.SystemFrozenQty), formatQty(rec.Visible()),
			l.dim(string(rec.Status)))
	}
}

func (l *scanLoop) journalScan(tok scan.Token) {
	if l.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.APITimeout())
	defer cancel()
	err := l.journal.Record(ctx, journal.Entry{
		Session: l.sess.ID(),
		Kind:    journal.KindScan,
		Detail:  tok.Raw,
	})
	if err != nil {
		log.WithError(err).Debug("failed to journal scan")
	}
}

// parseQuantity parses an operator-typed quantity, accepting a decimal comma
func parseQuantity(s string) (decimal.Decimal, error) {
	qty, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a quantity: %q", s)
	}
	if qty.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("quantity cannot be negative")
	}
	return qty, nil
}

func formatQty(q *decimal.Decimal) string {
	if q == nil {
		return "-"
	}
	return q.String()
}
