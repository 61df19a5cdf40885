// Package daemon installs the dispcal daemon as a systemd service.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const unitTemplate = `[Unit]
Description=dispcal display calibration daemon
After=network.target

[Service]
Type=simple
ExecStart=/path/to/dispcal daemon --config=@CONFIG@ --daemon-socket=@SOCKET@
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

var (
	unitName = "dispcal.service"
	unitDir  = "/etc/systemd/system"

	// runSystemctl is replaced in tests.
	runSystemctl = func(args ...string) error {
		out, err := exec.Command("systemctl", args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
		}
		return nil
	}
)

// UnitPath is where the service unit is installed.
func UnitPath() string {
	return filepath.Join(unitDir, unitName)
}

// renderUnit fills the unit template for the given binary and paths.
func renderUnit(exePath, configPath, socketPath string) string {
	r := strings.NewReplacer(
		"/path/to/dispcal", exePath,
		"@CONFIG@", configPath,
		"@SOCKET@", socketPath,
	)
	return r.Replace(unitTemplate)
}

// Install writes the service unit for the current executable, then enables
// and starts it.
func Install(configPath, socketPath string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)

	unitPath := UnitPath()
	logrus.Infof("writing systemd unit to %s", unitPath)

	err = os.MkdirAll(unitDir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", unitDir, err)
	}

	// warn if the file already exists
	if _, err := os.Stat(unitPath); err == nil {
		logrus.Warnf("%s already exists, overwriting", unitPath)
	}

	err = os.WriteFile(unitPath, []byte(renderUnit(exePath, configPath, socketPath)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", unitPath, err)
	}

	logrus.Infof("starting dispcal")

	if err := runSystemctl("daemon-reload"); err != nil {
		return err
	}
	if err := runSystemctl("enable", "--now", unitName); err != nil {
		return fmt.Errorf("failed to enable %s: %w", unitName, err)
	}

	return nil
}
