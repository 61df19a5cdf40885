package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/config"
	"github.com/dispcal/dispcal/pkg/transport"
	"github.com/dispcal/dispcal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: localCommand,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of dispcal",
		Long:    `Get the instrument, calibration curve, schedule, and latest reading.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), st)
			}

			cmd.Println(bold("Instrument:"))
			cmd.Printf("  Device: %s (%s)\n", bold("%s", st.Device.Kind), st.Device.Description)
			if st.Device.Port != "" {
				cmd.Printf("  Port: %s\n", st.Device.Port)
				cmd.Println("  Connected: " + bool2Text(st.Device.Open))
			}
			cmd.Println()

			cmd.Println(bold("Calibration:"))
			cmd.Printf("  Curve: %s\n", describeCurve(st.Curve))
			cmd.Printf("  Data path: %s\n", st.DataPath)
			cmd.Printf("  Readings kept: %d\n", st.Measurements)
			if st.Latest != nil {
				cmd.Printf("  Latest reading: %s (%s)\n", formatMeasurement(*st.Latest), st.Latest.TakenAt.Local().Format(time.DateTime))
			}
			cmd.Println()

			cmd.Println(bold("Drift check:"))
			if st.Schedule.Cron == "" {
				cmd.Println("  Schedule: " + color.YellowString("disabled"))
			} else {
				cmd.Printf("  Schedule: %s\n", st.Schedule.Cron)
				if !st.Schedule.NextRun.IsZero() {
					cmd.Printf("  Next run: %s\n", st.Schedule.NextRun.Local().Format(time.DateTime))
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

func NewMeasureCommand() *cobra.Command {
	var (
		count  int
		direct bool
		port   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:     "measure",
		Short:   "Take readings from the instrument",
		GroupID: gBasic,
		Long: `Take readings from the instrument and print their average.

By default the daemon takes the readings. With --direct the instrument is
opened by this process instead, which is useful before the daemon is installed.
The daemon must not hold the same port at the same time.`,
		Example: `  dispcal measure
  dispcal measure --count 5
  dispcal measure --direct --port /dev/ttyUSB0
  dispcal measure --direct --port mock://`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				s   *calibration.Summary
				err error
			)
			if direct {
				s, err = measureDirect(cmd.Context(), port, count)
			} else {
				s, err = apiClient.Measure(count)
			}
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), s)
			}
			if s.Count == 0 {
				cmd.Println("The configured device has no instrument. Nothing was measured.")
				return nil
			}

			for i, m := range s.Measurements {
				cmd.Printf("  #%d %s\n", i+1, formatMeasurement(m))
			}
			if s.Count > 1 {
				cmd.Printf("Average of %d: Y=%s cd/m² (σ %.3f)  x=%.4f  y=%.4f\n",
					s.Count, bold("%.2f", s.Luminance), s.LuminanceStdDev, s.ChromaX, s.ChromaY)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVarP(&count, "count", "n", 1, "Number of readings to take")
	f.BoolVar(&direct, "direct", false, "Open the instrument directly instead of going through the daemon")
	f.StringVar(&port, "port", "", "Instrument port for --direct (defaults to the configured port)")
	f.BoolVar(&asJSON, "json", false, "Print readings as JSON")

	return cmd
}

// measureDirect opens the configured instrument in this process.
func measureDirect(parent context.Context, port string, count int) (*calibration.Summary, error) {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return nil, err
	}
	if port == "" {
		port = conf.Port()
	}

	logrus.WithFields(conf.LogrusFields()).WithField("port", port).Debug("opening instrument")

	t, err := transport.Open(port, transport.Options{
		Mode:        conf.SerialMode(),
		ReadTimeout: conf.ReadTimeout(),
	})
	if err != nil {
		return nil, err
	}

	c, err := calibration.New(conf.Device(), conf.Description(), t)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close instrument")
		}
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return calibration.MeasureN(ctx, c, count)
}

func NewApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "apply [value]",
		Short:   "Map a normalized value through the calibration curve",
		GroupID: gBasic,
		Example: `  dispcal apply 0.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseFloatArg(args, "value")
			if err != nil {
				return err
			}

			out, err := apiClient.Apply(value)
			if err != nil {
				return err
			}

			cmd.Printf("%g\n", out)
			return nil
		},
	}
}

func NewRampCommand() *cobra.Command {
	size := 256

	cmd := &cobra.Command{
		Use:     "ramp",
		Short:   "Print the gamma ramp of the calibration curve",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ramp, err := apiClient.GetGammaRamp(size)
			if err != nil {
				return err
			}
			for i, v := range ramp {
				cmd.Printf("%d\t%.6f\n", i, v)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "size", size, "Number of ramp entries")

	return cmd
}

func NewMeasurementsCommand() *cobra.Command {
	var (
		last     int
		clearAll bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:     "measurements",
		Aliases: []string{"history"},
		Short:   "Show or clear the readings kept by the daemon",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if clearAll {
				if err := apiClient.ClearMeasurements(); err != nil {
					return err
				}
				logrus.Info("measurement history cleared")
				return nil
			}

			ms, err := apiClient.GetMeasurements(last)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), ms)
			}
			if len(ms) == 0 {
				cmd.Println("No readings yet.")
				return nil
			}
			for _, m := range ms {
				cmd.Printf("%s  %s\n", m.TakenAt.Local().Format(time.DateTime), formatMeasurement(m))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&last, "last", 0, "Only show the newest N readings")
	f.BoolVar(&clearAll, "clear", false, "Clear the history instead of showing it")
	f.BoolVar(&asJSON, "json", false, "Print readings as JSON")

	return cmd
}
