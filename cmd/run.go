package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/scraper"
)

var errRunFailed = errors.New("run finished with errors")

func newRunCmd() *cobra.Command {
	var opts scraper.RunOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the sources once and prints the result as JSON",
		Long: `Runs the selected sources (all by default) in the foreground. Without
--force only sources that are enabled and due run. The exit status is non-zero
when any source or the purge failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := appInstance.RunOnce(cmd.Context(), opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			appInstance.Logger().Info("run command finished",
				zap.String("session_id", result.SessionID),
				zap.Bool("success", result.Success),
				zap.Int64("duration_ms", result.DurationMs),
			)
			if !result.Success {
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "run sources even when disabled or not due")
	cmd.Flags().BoolVar(&opts.RunPurge, "purge", false, "purge read alerts past their retention")
	cmd.Flags().StringSliceVar(&opts.Sources, "sources", nil, "comma separated sources to run (default all)")
	return cmd
}
