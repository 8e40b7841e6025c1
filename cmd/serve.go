// -- cmd/serve.go --
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vkozyrev/screenpilot/internal/observability"
	"github.com/vkozyrev/screenpilot/internal/server"
)

// newServeCmd creates the `serve` command: the HTTP pass-through surface
// over the pipeline.
func newServeCmd(v *viper.Viper) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the pipeline over HTTP",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			a, artifacts, err := buildAgent(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer artifacts.Flush()
			defer observability.Sync()

			srv := server.New(a, cfg.Server, logger)
			return srv.ListenAndServe(ctx)
		},
	}

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return serveCmd
}
