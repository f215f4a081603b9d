package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "ticketizer",
		Short: "Ticketizer searches and books rail tickets",
		Long: `Search the rail reservation service for trains between two stations and
place orders for the passengers registered on your account.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.flags.configPath, "config", "", "Path to the YAML config file (default $XDG_CONFIG_HOME/ticketizer/config.yaml)")
	f.StringVar(&a.flags.baseURL, "base-url", "", "Backend root URL")
	f.StringVar(&a.flags.dataDir, "data-dir", "", "Directory for the station cache and order ledger")
	f.BoolVar(&a.flags.inMemory, "in-memory", false, "Keep the station cache and ledger in memory only")
	f.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newStationsCmd(a),
		newSearchCmd(a),
		newLoginCmd(a),
		newBuyCmd(a),
		newOrdersCmd(a),
	)
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln("Error:", err)
		stop()
		os.Exit(1)
	}
}
