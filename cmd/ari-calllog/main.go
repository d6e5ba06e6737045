package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweeney/ari-calllog/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "/etc/ari-calllog/ari-calllog.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
}

func (g *globalFlags) load() (*config.Config, error) {
	if err := config.LoadEnvFile(g.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "ari-calllog",
		Short: "Call records from the Asterisk REST Interface event feed",
		Long: "ari-calllog subscribes to an ARI application's event feed, correlates channel and dial\n" +
			"events into calls and writes one record per completed call to the call log.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with secret overrides")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newHangupCmd(flags))
	cmd.AddCommand(newRecordCmd(flags))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ari-calllog %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
