package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/config"
	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/engine"
	"github.com/solanago/solanago/internal/core/pool"
	"github.com/solanago/solanago/internal/core/store"
	"github.com/solanago/solanago/internal/observability"
	"github.com/solanago/solanago/internal/output"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List configured endpoints",
	Long: `List the configured endpoints with the last state recorded for each.

With --events ID the state transitions recorded for one endpoint are
listed instead. A running server reports live state at GET /v1/nodes.`,
	Args: cobra.NoArgs,
	RunE: runNodes,
}

func init() {
	rootCmd.AddCommand(nodesCmd)

	nodesCmd.Flags().Int("events", -1, "List recorded events for this endpoint id")
	nodesCmd.Flags().Int("limit", store.DefaultHistoryLimit, "Maximum number of events")
	addOutputFlags(nodesCmd)
}

func runNodes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}

	db, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		observability.CLILogger.Warn("History store unavailable", zap.Error(err))
		db = nil
	}
	defer closeStore(db) // nolint:errcheck // best-effort cleanup

	endpointID, err := cmd.Flags().GetInt("events")
	if err != nil {
		return err
	}
	if endpointID >= 0 {
		if db == nil {
			return errHistoryDisabled
		}
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}
		events, err := db.ListEndpointEvents(cmd.Context(), endpointID, limit)
		if err != nil {
			return err
		}
		return render(cmd, output.EventsView{EndpointID: endpointID, Events: events})
	}

	var last map[int]core.EndpointEvent
	if db != nil {
		if last, err = db.LastEndpointEvents(cmd.Context()); err != nil {
			observability.CLILogger.Warn("Could not read endpoint events", zap.Error(err))
		}
	}
	return render(cmd, output.NodesView{Status: configuredStatus(cfg, last, time.Now())})
}

// configuredStatus describes the configured endpoints at full capacity,
// overlaid with the last recorded transition of each. An endpoint whose
// last event disabled it within the cooldown period is shown disabled.
func configuredStatus(cfg *config.Config, last map[int]core.EndpointEvent, now time.Time) engine.Status {
	capacity := float64(cfg.RateLimit.BurstSize)
	cooldown := cfg.Cooldown.Period
	if cooldown <= 0 {
		cooldown = pool.DefaultCooldownPeriod
	}
	status := engine.Status{Endpoints: make([]pool.EndpointStatus, len(cfg.Endpoints))}

	for i, address := range cfg.Endpoints {
		ep := pool.EndpointStatus{
			ID:              i,
			Address:         address,
			State:           core.EndpointAvailable,
			Healthy:         true,
			TokensAvailable: capacity,
			Capacity:        capacity,
		}

		if event, ok := last[i]; ok && event.Address == address && event.State == core.EndpointDisabled {
			until := event.OccurredAt.Add(cooldown)
			if until.After(now) {
				ep.State = core.EndpointDisabled
				ep.Healthy = false
				ep.DisabledUntil = &until
			}
		}

		if ep.State == core.EndpointAvailable {
			status.Available++
		}
		status.Endpoints[i] = ep
	}
	return status
}
