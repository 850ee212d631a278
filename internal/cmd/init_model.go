package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/model"
	"github.com/solanago/solanago/internal/observability"
	"github.com/solanago/solanago/internal/output"
)

var initModelCmd = &cobra.Command{
	Use:   "init-model",
	Short: "Initialize the model on every endpoint",
	Long: `Send the model initialization transaction to every configured endpoint,
in order. The first failure stops the broadcast; the report shows which
endpoints were initialized, which failed and which were not attempted.

The model config is read from --model-config (.yaml, .yml, .toml or .json).
Without it the default combined 19x19 network is used.`,
	Args: cobra.NoArgs,
	RunE: runInitModel,
}

func init() {
	rootCmd.AddCommand(initModelCmd)

	initModelCmd.Flags().String("model-config", "", "Model config file (.yaml, .toml or .json)")
	addOutputFlags(initModelCmd)
}

func runInitModel(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("model-config")
	if err != nil {
		return err
	}

	modelCfg := model.DefaultConfig()
	if path != "" {
		if modelCfg, err = model.LoadConfig(path); err != nil {
			return err
		}
	}

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

	dispatcher, err := buildDispatcher(cfg, db)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	observability.CLILogger.Debug("Initializing model",
		zap.String("model_type", string(modelCfg.ModelType)),
		zap.Int("endpoints", len(cfg.Endpoints)))

	report, initErr := dispatcher.InitModel(cmd.Context(), modelCfg)
	if err := render(cmd, output.InitView{Report: report}); err != nil {
		return err
	}
	return initErr
}
