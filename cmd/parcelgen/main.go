package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ChicagoDave/parcelgen/pkg/config"
	"github.com/ChicagoDave/parcelgen/pkg/logging"
)

// app holds what every subcommand shares once the root flags are parsed.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:          "parcelgen",
		Short:        "Road-parcel subdivision and building-density search",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with PARCELGEN_* overrides")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(partitionCmd(a))
	rootCmd.AddCommand(evolveCmd(a))
	rootCmd.AddCommand(neighborsCmd(a))
	rootCmd.AddCommand(validateCmd(a))
	rootCmd.AddCommand(serveCmd(a))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func partitionCmd(a *app) *cobra.Command {
	var (
		budget float64
		out    string
	)
	cmd := &cobra.Command{
		Use:   "partition [project-path]",
		Short: "Partition every usable road cycle with a fixed budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPartition(cmd.Context(), args[0], budget, out)
		},
	}
	cmd.Flags().Float64VarP(&budget, "budget", "b", 1, "partition budget per cycle")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the partitioned scenario as YAML instead of printing JSON")
	return cmd
}

func evolveCmd(a *app) *cobra.Command {
	var (
		out       string
		outDir    string
		snapshots string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "evolve [project-path]",
		Short: "Search building counts and materialize the best layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEvolve(cmd.Context(), args[0], evolveOptions{
				out:       out,
				outDir:    outDir,
				snapshots: snapshots,
				json:      asJSON,
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the best materialized scenario as YAML")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "write one scenario YAML per top elite of every cell into this directory")
	cmd.Flags().StringVar(&snapshots, "snapshots", "", "append archive snapshots to this CSV file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func neighborsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "neighbors [project-path]",
		Short: "Print the parcel neighbor graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runNeighbors(cmd.Context(), args[0])
		},
	}
}

func validateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [project-path]",
		Short: "Validate a scenario without running the search",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.runValidate(args[0])
		},
	}
}

func serveCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve [project-path]",
		Short: "Start the HTTP API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := ""
			if len(args) == 1 {
				project = args[0]
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.runServe(cmd.Context(), project)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "listen address, overrides the configured one")
	return cmd
}
