package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/model"
	"github.com/solanago/solanago/internal/observability"
	"github.com/solanago/solanago/internal/output"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Evaluate a board position",
	Long: `Evaluate a board position on one endpoint of the pool.

The input is a JSON array of 6137 booleans or 0/1 values (19x19 board,
17 feature planes) read from --input, or from stdin with --input -.
With --batch the input is a JSON array of such arrays; each position is
dispatched to its own endpoint and failures are reported per position.`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().String("input", "", "Input file, or - for stdin (required)")
	predictCmd.Flags().Bool("batch", false, "Treat the input as an array of positions")
	addOutputFlags(predictCmd)
	_ = predictCmd.MarkFlagRequired("input")
}

func runPredict(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("input")
	if err != nil {
		return err
	}
	batch, err := cmd.Flags().GetBool("batch")
	if err != nil {
		return err
	}

	data, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	var inputs []model.Input
	if batch {
		if inputs, err = parseBatchInput(data); err != nil {
			return err
		}
	} else {
		input, err := model.ParseInput(data)
		if err != nil {
			return err
		}
		inputs = []model.Input{input}
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

	if !batch {
		prediction, err := dispatcher.Predict(cmd.Context(), inputs[0])
		if err != nil {
			return err
		}
		return render(cmd, output.PredictionView{Prediction: prediction})
	}

	results := dispatcher.PredictBatch(cmd.Context(), inputs)
	if err := render(cmd, output.BatchView{Results: results}); err != nil {
		return err
	}

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d predictions failed", failed, len(results))
	}
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func parseBatchInput(data []byte) ([]model.Input, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("batch input must be a JSON array of positions: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("batch input is empty")
	}

	inputs := make([]model.Input, len(raw))
	for i, item := range raw {
		input, err := model.ParseInput(item)
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		inputs[i] = input
	}
	return inputs, nil
}
