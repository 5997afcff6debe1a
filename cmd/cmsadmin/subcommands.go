package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/3cpo-dev/cmsadmin/internal/admin"
	"github.com/3cpo-dev/cmsadmin/internal/core"
	"github.com/3cpo-dev/cmsadmin/internal/journal"
	"github.com/3cpo-dev/cmsadmin/internal/reorder"
)

// Serve the admin HTTP API
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.Server.Addr
			}
			srv := app.AdminServer(version)
			tlsCfg := admin.MTLSConfigFrom(app.Config)

			errc := make(chan error, 1)
			go func() {
				if tlsCfg.Enabled() {
					errc <- srv.ListenAndServeTLS(addr, tlsCfg)
					return
				}
				errc <- srv.ListenAndServe(addr)
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down admin server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if app.Config.Telemetry.Enabled {
				app.Collector.LogMetrics()
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}

// Reorder entries from the command line
func newReorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder [id...]",
		Short: "Set the order of entries to their position in the list, rolling back on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, _ := cmd.Flags().GetStringSlice("ids")
			ids = append(ids, args...)
			if len(ids) == 0 {
				return fmt.Errorf("no entry ids given; pass them as arguments or with --ids")
			}
			output, _ := cmd.Flags().GetString("output")
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			out, err := app.Coordinator.Reorder(cmd.Context(), ids)
			if out == nil {
				return err
			}
			if perr := printOutcome(output, out); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringSlice("ids", nil, "comma-separated entry ids in their new order")
	cmd.Flags().String("output", "table", "Output format: table or json")
	return cmd
}

// Inspect and restore journaled runs
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect journaled reorder runs",
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			output, _ := cmd.Flags().GetString("output")
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Journal == nil {
				return errJournalDisabled
			}
			runs, err := app.Journal.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(runs)
			}
			printRuns(runs)
			return nil
		},
	}
	ls.Flags().Int("limit", 20, "Max rows")
	ls.Flags().String("output", "table", "Output format: table or json")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Journal == nil {
				return errJournalDisabled
			}
			out, err := app.Journal.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOutcome(output, out)
		},
	}
	show.Flags().String("output", "table", "Output format: table or json")

	restore := &cobra.Command{
		Use:   "restore <run-id>",
		Short: "Restore the entries of a run to their backed-up order and publish state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			if app.Journal == nil {
				return errJournalDisabled
			}
			return restoreRun(cmd.Context(), app, args[0])
		},
	}

	cmd.AddCommand(ls, show, restore)
	return cmd
}

var errJournalDisabled = errors.New("run journal disabled; set journal.path in the config")

func restoreRun(ctx context.Context, app *core.App, runID string) error {
	out, err := app.Journal.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	results, err := app.Coordinator.Restore(ctx, out.Backup)
	if err != nil {
		return err
	}
	if err := app.Journal.SaveRestore(ctx, runID, results); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Failed to journal restore")
	}
	printRollback(results)
	for _, r := range results {
		if r.Status != reorder.RollbackRestored {
			return fmt.Errorf("restore of run %s incomplete", runID)
		}
	}
	return nil
}

// Inspect an entry in the content store
func newEntryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Inspect content store entries",
	}
	show := &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show an entry's version, publish state and order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			e, err := app.Store.FetchEntry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(e)
			}
			order := "-"
			if n, ok := e.Fields.Int(app.Config.Store.OrderField, app.Config.Store.Locale); ok {
				order = strconv.Itoa(n)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "TYPE", "VERSION", "STATE", "ORDER"})
			table.Append([]string{e.ID, e.ContentType, strconv.Itoa(e.Version), string(e.State), order})
			table.Render()
			return nil
		},
	}
	show.Flags().String("output", "table", "Output format: table or json")
	cmd.AddCommand(show)
	return cmd
}

// Hash an admin password for the config
func newHashPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash for admin.password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, _ := cmd.Flags().GetInt("cost")
			hash, err := hashPassword(cmd.InOrStdin(), cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func hashPassword(r io.Reader, cost int) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOutcome(output string, out *reorder.Outcome) error {
	if output == "json" {
		return printJSON(out)
	}
	backup := make(map[string]reorder.BackupRecord, len(out.Backup))
	for _, b := range out.Backup {
		backup[b.ID] = b
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"POSITION", "ID", "PREVIOUS ORDER", "STATE", "RESULT"})
	for i, r := range out.Results {
		prev, state := "-", "-"
		if b, ok := backup[r.ID]; ok {
			prev, state = strconv.Itoa(b.Order), string(b.State)
		}
		result := "ok"
		if !r.Success {
			result = r.Error
		}
		table.Append([]string{strconv.Itoa(i), r.ID, prev, state, result})
	}
	table.Render()
	fmt.Printf("run %s: success=%t duration=%s\n", out.RunID, out.Success, out.Duration().Round(time.Millisecond))
	if len(out.Rollback) > 0 {
		printRollback(out.Rollback)
	}
	return nil
}

func printRollback(results []reorder.RollbackResult) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "ROLLBACK", "ERROR"})
	for _, r := range results {
		table.Append([]string{r.ID, string(r.Status), r.Error})
	}
	table.Render()
}

func printRuns(runs []journal.RunSummary) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"RUN", "STATUS", "STARTED", "ITEMS", "FAILED"})
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.Status,
			r.StartedAt.Local().Format(time.RFC3339),
			strconv.Itoa(r.ItemCount),
			strconv.Itoa(r.FailedCount),
		})
	}
	table.Render()
}
