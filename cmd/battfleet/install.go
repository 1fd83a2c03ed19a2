package main

import (
	"os"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battfleet/pkg/utils/launchd"
)

func NewInstallCommand() *cobra.Command {
	withReport := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Run the dashboard server at login",
		GroupID: gInstallation,
		Long: `Install the dashboard server as a launchd agent of the current user.

The agent runs 'battfleet serve' with the current binary and config, and is
restarted if it exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to find current binary")
			}
			conf, err := filepath.Abs(configPath)
			if err != nil {
				return err
			}

			inst, err := launchd.NewInstaller()
			if err != nil {
				return err
			}

			args := []string{"serve", "--config", conf}
			if withReport {
				args = append(args, "--with-report")
			}

			err = inst.Install(launchd.Agent{
				Label:     launchd.DefaultLabel,
				Program:   exe,
				Arguments: args,
				LogPath:   filepath.Join(os.TempDir(), "battfleet.log"),
			})
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to install launch agent")
			}

			logrus.Infof("installation succeeded")
			cmd.Printf("`launchd' will use current binary (%s) at login so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run ``battfleet install'' again.\n", exe)
			return nil
		},
	}

	cmd.Flags().BoolVar(&withReport, "with-report", false, "also send the report on the configured schedule")

	return cmd
}

func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Stop running the dashboard server at login",
		GroupID: gInstallation,
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			inst, err := launchd.NewInstaller()
			if err != nil {
				return err
			}
			if err := inst.Uninstall(launchd.DefaultLabel); err != nil {
				return pkgerrors.Wrapf(err, "failed to uninstall launch agent")
			}
			logrus.Infof("uninstallation succeeded")
			return nil
		},
	}
}
