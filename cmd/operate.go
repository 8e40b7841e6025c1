// -- cmd/operate.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/internal/agent"
	"github.com/vkozyrev/screenpilot/internal/observability"
)

// newOperateCmd creates the `operate` command: one objective, run to a
// terminal status.
func newOperateCmd(v *viper.Viper) *cobra.Command {
	operateCmd := &cobra.Command{
		Use:   "operate [objective]",
		Short: "Runs one automation objective against the current screen",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlag("backends.default", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			return v.BindPFlag("agent.max_iterations", cmd.Flags().Lookup("max-iterations"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			objective := args[0]
			for _, extra := range args[1:] {
				objective += " " + extra
			}

			a, artifacts, err := buildAgent(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer artifacts.Flush()
			defer observability.Sync()

			result, err := a.Run(ctx, cfg.Backends.Default, objective)
			if err != nil {
				return err
			}

			switch result.Status {
			case agent.StatusCompleted:
				logger.Info("Objective completed",
					zap.Int("iterations", result.Iterations),
					zap.String("summary", result.Summary))
				fmt.Fprintln(cmd.OutOrStdout(), result.Summary)
			case agent.StatusCanceled:
				logger.Info("Objective canceled", zap.Int("iterations", result.Iterations))
			default:
				return fmt.Errorf("objective %s after %d iterations", result.Status, result.Iterations)
			}
			return nil
		},
	}

	operateCmd.Flags().StringP("model", "m", "", "model backend to use (overrides backends.default)")
	operateCmd.Flags().Int("max-iterations", 0, "cap on observe/act iterations (overrides agent.max_iterations)")
	return operateCmd
}
