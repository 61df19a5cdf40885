package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dispcal/dispcal/pkg/config"
	daemonutils "github.com/dispcal/dispcal/pkg/utils/daemon"
)

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	var (
		allowNonRootAccess bool
		port               string
		device             string
	)

	cmd := &cobra.Command{
		Use:         "install",
		Short:       "Install dispcal (system-wide)",
		GroupID:     gInstallation,
		Annotations: localCommand,
		Long: `Install dispcal daemon as a systemd service (system-wide).

This makes dispcal run in the background and automatically start on boot. You must run this command as root.

By default, only root user is allowed to access the dispcal daemon. If you want to allow non-root users to access the daemon, use the --allow-non-root-access flag.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the dispcal daemon.")
			} else {
				logrus.Info("only root user is allowed to access the dispcal daemon.")
			}
			if port != "" {
				conf.SetPort(port)
			}
			if device != "" {
				conf.SetDevice(device)
			}

			// The daemon reads the config on start, so save it first.
			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			err = daemonutils.Install(configPath, unixSocketPath)
			if err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to install daemon: %v. Are you root?", err)
			}

			logrus.Infof("installation succeeded")

			exePath, _ := os.Executable()

			cmd.Printf("systemd will use current binary (%s) at startup so please make sure you do not move this binary. Once this binary is moved or deleted, you will need to run `dispcal install' again.\n", exePath)

			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access dispcal daemon.")
	f.StringVar(&port, "port", "", "Instrument port to store in the config")
	f.StringVar(&device, "device", "", "Calibration device to store in the config")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "uninstall",
		Short:       "Uninstall dispcal (system-wide)",
		GroupID:     gInstallation,
		Annotations: localCommand,
		Long: `Uninstall dispcal daemon from systemd (system-wide).

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.Uninstall()
			if err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			fmt.Println("successfully uninstalled")

			cmd.Printf("Your config is kept in %s and your calibration in its data path, in case you want to use `dispcal' again.\n", configPath)

			return nil
		},
	}
}
