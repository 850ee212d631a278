package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/store"
	"github.com/solanago/solanago/internal/output"
)

var errHistoryDisabled = errors.New("prediction history is disabled (store.enabled=false)")

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded predictions",
	Long: `List predictions recorded by predict and serve, newest first.

--since accepts a duration (24h) or an RFC 3339 timestamp. --prune deletes
records older than the given duration instead of listing.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().String("status", "", "Filter by status: succeeded, failed, timed_out, rejected")
	historyCmd.Flags().Int("endpoint", -1, "Filter by endpoint id")
	historyCmd.Flags().String("since", "", "Only records requested after this duration ago or timestamp")
	historyCmd.Flags().Int("limit", store.DefaultHistoryLimit, "Maximum number of records")
	historyCmd.Flags().Duration("prune", 0, "Delete records older than this duration and exit")
	addOutputFlags(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	db, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	if db == nil {
		return errHistoryDisabled
	}
	defer closeStore(db) // nolint:errcheck // best-effort cleanup

	prune, err := cmd.Flags().GetDuration("prune")
	if err != nil {
		return err
	}
	if prune > 0 {
		removed, err := db.PrunePredictions(cmd.Context(), time.Now().Add(-prune))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d predictions older than %s\n", removed, prune)
		return nil
	}

	filter, err := historyFilter(cmd, time.Now())
	if err != nil {
		return err
	}

	records, err := db.ListPredictions(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return render(cmd, output.HistoryView{Records: records})
}

func historyFilter(cmd *cobra.Command, now time.Time) (store.PredictionFilter, error) {
	var filter store.PredictionFilter

	status, err := cmd.Flags().GetString("status")
	if err != nil {
		return filter, err
	}
	switch s := core.PredictionStatus(strings.ToLower(strings.TrimSpace(status))); s {
	case "":
	case core.PredictionSucceeded, core.PredictionFailed, core.PredictionTimedOut, core.PredictionRejected:
		filter.Status = s
	default:
		return filter, fmt.Errorf("unknown status %q", status)
	}

	endpoint, err := cmd.Flags().GetInt("endpoint")
	if err != nil {
		return filter, err
	}
	if endpoint >= 0 {
		filter.EndpointID = &endpoint
	}

	since, err := cmd.Flags().GetString("since")
	if err != nil {
		return filter, err
	}
	if filter.Since, err = parseSince(since, now); err != nil {
		return filter, err
	}

	if filter.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return filter, err
	}
	if filter.Limit <= 0 {
		return filter, fmt.Errorf("--limit must be positive")
	}
	return filter, nil
}

func parseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("--since must be a duration or RFC 3339 timestamp, got %q", value)
}
