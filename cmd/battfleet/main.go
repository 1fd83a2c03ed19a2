package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/battfleet/pkg/client"
	"github.com/charlie0129/battfleet/pkg/fleet"
	"github.com/charlie0129/battfleet/pkg/graph"
)

var (
	logLevel   = "info"
	configPath = "/etc/battfleet.yaml"
	serverAddr = ""
)

var (
	gDevice       = "Device:"
	gFleet        = "Fleet:"
	gDashboard    = "Dashboard:"
	gInstallation = "Installation:"
	commandGroups = []string{
		gDevice,
		gFleet,
		gDashboard,
		gInstallation,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	switch {
	case errors.Is(err, client.ErrDaemonNotRunning):
		fmt.Fprintln(os.Stderr, "\nError: battfleet dashboard server is not running")
		fmt.Fprintln(os.Stderr, "Start it with 'battfleet serve' or point --server at a running one.")
	case errors.Is(err, client.ErrPermissionDenied):
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - The dashboard socket is only accessible to the user running the server")
	case errors.Is(err, fleet.ErrNotFound):
		fmt.Fprintln(os.Stderr, "\nError: custom attribute not found")
		fmt.Fprintln(os.Stderr, "  - Check the attribute name or id in your config, or pass --attribute")
	case errors.Is(err, graph.ErrRateLimited):
		fmt.Fprintln(os.Stderr, "\nError: throttled by Microsoft Graph")
		fmt.Fprintln(os.Stderr, "  - Wait a few minutes and try again")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "battfleet",
		Short: "battfleet collects and reports battery health across a fleet of Macs",
		Long: `battfleet collects and reports battery health across a fleet of Macs.

On a Mac, 'battfleet collect' prints the battery telemetry record that a
device management custom attribute script reports. Elsewhere, the fleet
commands read those records back from Microsoft Graph, and render, mail or
serve them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	// Records and tables are meant to be piped; cobra would print them to
	// stderr otherwise.
	cmd.SetOut(os.Stdout)

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path (.yaml or .json)")
	globalFlags.StringVar(&serverAddr, "server", serverAddr, "dashboard server address, host:port or unix:///path (defaults to the configured listen address)")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewVersionCommand(),
		NewCollectCommand(),
		NewDecodeCommand(),
		NewFetchCommand(),
		NewExportCommand(),
		NewReportCommand(),
		NewServeCommand(),
		NewSummaryCommand(),
		NewRefreshCommand(),
		NewRowsCommand(),
		NewScheduleCommand(),
		NewInstallCommand(),
		NewUninstallCommand(),
	)

	return cmd
}
