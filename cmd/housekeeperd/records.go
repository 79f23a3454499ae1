package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dray-io/housekeeper/internal/housekeeping"
	"github.com/dray-io/housekeeper/internal/store"
)

const na = "-"

func newRecordsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect and manage housekeeping records",
	}
	cmd.AddCommand(
		newRecordsListCmd(root),
		newRecordsHistoryCmd(root),
		newRecordsDisableCmd(root),
	)
	return cmd
}

// withStore loads the configuration, opens the record store and runs fn.
func withStore(cmd *cobra.Command, root *rootOptions, fn func(ctx context.Context, st *store.Store) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	newLogger(cfg)
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, st)
}

type listFlags struct {
	database  string
	table     string
	lifecycle string
	statuses  []string
	limit     int
}

func (f listFlags) filter() (store.Filter, error) {
	filter := store.Filter{
		DatabaseName: f.database,
		TableName:    f.table,
		Limit:        f.limit,
	}
	if f.lifecycle != "" {
		lt, err := housekeeping.ParseLifecycleType(f.lifecycle)
		if err != nil {
			return store.Filter{}, err
		}
		filter.LifecycleType = lt
	}
	for _, s := range f.statuses {
		st, err := housekeeping.ParseStatus(s)
		if err != nil {
			return store.Filter{}, err
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	return filter, nil
}

func newRecordsListCmd(root *rootOptions) *cobra.Command {
	var flags listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List housekeeping records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			return withStore(cmd, root, func(ctx context.Context, st *store.Store) error {
				return listRecords(ctx, st, filter, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&flags.database, "database", "", "Only records of this database")
	cmd.Flags().StringVar(&flags.table, "table", "", "Only records of this table")
	cmd.Flags().StringVar(&flags.lifecycle, "lifecycle", "", "Only records of this lifecycle type (expired, unreferenced)")
	cmd.Flags().StringSliceVar(&flags.statuses, "status", nil, "Only records in these statuses (scheduled, failed, deleted, disabled)")
	cmd.Flags().IntVar(&flags.limit, "limit", 100, "Maximum number of records, 0 for all")
	return cmd
}

func newRecordsHistoryCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <database> <table>",
		Short: "Show the scheduling and cleanup history of a table and its partitions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, root, func(ctx context.Context, st *store.Store) error {
				return printHistory(ctx, st, args[0], args[1], cmd.OutOrStdout())
			})
		},
	}
}

func newRecordsDisableCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <database> <table>",
		Short: "Stop housekeeping of a table's expired data",
		Long: `Mark the table's active expired-data record DISABLED and remove the
active records of its partitions. Nothing is deleted from the catalog or
the object store. A later table event opting in again schedules it anew.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, root, func(ctx context.Context, st *store.Store) error {
				return disableTable(ctx, st, args[0], args[1], cmd.OutOrStdout())
			})
		},
	}
}

func newTableWriter(w io.Writer, headers []string) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithHeader(headers))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return na
	}
	return t.UTC().Format(time.RFC3339)
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return na
	}
	return *s
}

func listRecords(ctx context.Context, st *store.Store, filter store.Filter, w io.Writer) error {
	records, err := st.List(ctx, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No records found")
		return err
	}

	table := newTableWriter(w, []string{
		"ID",
		"LIFECYCLE",
		"STATUS",
		"DATABASE",
		"TABLE",
		"PARTITION",
		"PATH",
		"DELAY",
		"CLEANUP-AT",
		"ATTEMPTS",
	})
	for _, r := range records {
		if err := table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			string(r.LifecycleType),
			string(r.Status),
			r.DatabaseName,
			r.TableName,
			orNA(r.PartitionName),
			r.Path,
			r.CleanupDelay.String(),
			formatTime(r.CleanupTimestamp),
			strconv.Itoa(r.CleanupAttempts),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func printHistory(ctx context.Context, st *store.Store, database, tableName string, w io.Writer) error {
	entries, err := st.History(ctx, database, tableName)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintf(w, "No history for %s.%s\n", database, tableName)
		return err
	}

	table := newTableWriter(w, []string{
		"AT",
		"LIFECYCLE",
		"STATUS",
		"PARTITION",
		"PATH",
		"ATTEMPTS",
		"CLIENT",
	})
	for _, h := range entries {
		if err := table.Append([]string{
			formatTime(h.EventTimestamp),
			string(h.LifecycleType),
			string(h.Status),
			orNA(h.PartitionName),
			h.Path,
			strconv.Itoa(h.Attempts),
			h.ClientID,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func disableTable(ctx context.Context, st *store.Store, database, tableName string, w io.Writer) error {
	touched, err := st.DisableTable(ctx, database, tableName)
	if err != nil {
		return err
	}
	if touched == 0 {
		_, err := fmt.Fprintf(w, "No active records for %s.%s\n", database, tableName)
		return err
	}
	_, err = fmt.Fprintf(w, "Disabled housekeeping of %s.%s (%d records)\n", database, tableName, touched)
	return err
}
