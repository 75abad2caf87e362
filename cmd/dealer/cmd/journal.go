package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/dealer/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the SQLite journal",
	Long: `Query postings, hedges and exposure recorded in a SQLite journal.

Subcommands:
  entry    - Get a single posting by ID
  entries  - List postings of a day
  hedges   - List hedge orders
  exposure - Show the last recorded exposure per symbol

Examples:
  dealer journal entry <entry-id>
  dealer journal entries --day 2024-01-15 --type trade
  dealer journal hedges --state FAILED
  dealer journal exposure`,
}

var journalEntryCmd = &cobra.Command{
	Use:   "entry <entry-id>",
	Short: "Get details of a single posting",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEntry,
}

var journalEntriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List postings of a day (default today)",
	Args:  cobra.NoArgs,
	RunE:  runJournalEntries,
}

var journalHedgesCmd = &cobra.Command{
	Use:   "hedges",
	Short: "List hedge orders, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJournalHedges,
}

var journalExposureCmd = &cobra.Command{
	Use:   "exposure",
	Short: "Show the last recorded exposure per symbol",
	Args:  cobra.NoArgs,
	RunE:  runJournalExposure,
}

var (
	journalDBPath string
	journalDay    string
	journalRef    string
	journalStates []string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalEntryCmd)
	journalCmd.AddCommand(journalEntriesCmd)
	journalCmd.AddCommand(journalHedgesCmd)
	journalCmd.AddCommand(journalExposureCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./dealer.sqlite", "path to SQLite journal DB")
	journalEntriesCmd.Flags().StringVar(&journalDay, "day", "", "day to list, YYYY-MM-DD in local time (default today)")
	journalEntriesCmd.Flags().StringVar(&journalRef, "type", "", "reference type: trade or hedge (default both)")
	journalHedgesCmd.Flags().StringSliceVar(&journalStates, "state", nil, "only hedges in these states")
}

func runJournalEntry(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	e, err := j.GetEntry(args[0])
	if err != nil {
		return fmt.Errorf("get entry: %w", err)
	}
	writeEntries(cmd.OutOrStdout(), []journal.Entry{e})
	return nil
}

func runJournalEntries(cmd *cobra.Command, args []string) error {
	ref, err := parseRefType(journalRef)
	if err != nil {
		return err
	}
	day := journalDay
	if day == "" {
		day = time.Now().Format("2006-01-02")
	}
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}

	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	entries, err := j.ListEntries(ref, start, end)
	if err != nil {
		return fmt.Errorf("query entries: %w", err)
	}
	writeEntries(cmd.OutOrStdout(), entries)
	return nil
}

func runJournalHedges(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	hedges, err := j.ListHedges(journalStates...)
	if err != nil {
		return fmt.Errorf("query hedges: %w", err)
	}
	writeHedges(cmd.OutOrStdout(), hedges)
	return nil
}

func runJournalExposure(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.LatestExposure()
	if err != nil {
		return fmt.Errorf("query exposure: %w", err)
	}
	writeExposure(cmd.OutOrStdout(), recs)
	return nil
}

func parseRefType(s string) (journal.RefType, error) {
	switch s {
	case "":
		return "", nil
	case string(journal.RefTrade), string(journal.RefHedge):
		return journal.RefType(s), nil
	default:
		return "", fmt.Errorf("unknown reference type %q (want trade or hedge)", s)
	}
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}

func writeEntries(w io.Writer, entries []journal.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tTYPE\tREF\tACCOUNT\tBOOK\tSYMBOL\tSIDE\tVOLUME\tPRICE\tAMOUNT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format(time.RFC3339),
			e.ID,
			e.ReferenceType,
			e.ReferenceID,
			e.AccountID,
			e.Book,
			e.Symbol,
			e.Side,
			e.Volume,
			e.Price,
			e.Amount.StringFixed(2),
		)
	}
	_ = tw.Flush()
}

func writeHedges(w io.Writer, hedges []journal.HedgeRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UPDATED\tHEDGE\tSYMBOL\tSIDE\tTARGET\tVOLUME\tFILLED\tPRICE\tSTATE\tATTEMPTS\tLAST ERROR")
	for _, h := range hedges {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			h.UpdatedAt.Local().Format(time.RFC3339),
			h.HedgeID,
			h.Symbol,
			h.Side,
			h.Target,
			h.Volume,
			h.Filled,
			h.Price,
			h.State,
			h.Attempts,
			h.LastError,
		)
	}
	_ = tw.Flush()
}

func writeExposure(w io.Writer, recs []journal.ExposureRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tNET\tLONG\tSHORT\tSEQ\tTIME")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Symbol,
			r.NetVolume,
			r.Long,
			r.Short,
			r.Seq,
			r.Time.Local().Format(time.RFC3339),
		)
	}
	_ = tw.Flush()
}
