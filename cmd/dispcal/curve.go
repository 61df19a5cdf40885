package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dispcal/dispcal/pkg/calibration"
)

func NewCurveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "curve",
		Short:   "Show or set the calibration curve",
		GroupID: gBasic,
		Long: `Show or set the calibration curve.

The curve maps normalized input values in [0, 1] to output values. It is
either the identity, a gamma function, or a table of points with linear
interpolation in between.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCurveShow(cmd)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current curve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCurveShow(cmd)
		},
	}

	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Reset the curve to the identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCurveSet(cmd, calibration.IdentityCurve())
		},
	}

	var minOut, maxOut float64
	gammaCmd := &cobra.Command{
		Use:     "gamma [exponent]",
		Short:   "Set a gamma curve",
		Example: `  dispcal curve gamma 2.2
  dispcal curve gamma 2.4 --min 0.02 --max 0.98`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exponent, err := parseFloatArg(args, "exponent")
			if err != nil {
				return err
			}
			return runCurveSet(cmd, calibration.GammaCurve(minOut, maxOut, exponent))
		},
	}
	gammaCmd.Flags().Float64Var(&minOut, "min", 0, "Output at input 0")
	gammaCmd.Flags().Float64Var(&maxOut, "max", 1, "Output at input 1")

	tableCmd := &cobra.Command{
		Use:     "table [x:y]...",
		Short:   "Set a piecewise-linear curve",
		Example: `  dispcal curve table 0:0 0.5:0.21 1:1
  dispcal curve table 0:0,0.25:0.05,0.5:0.21,0.75:0.52,1:1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := parsePoints(args)
			if err != nil {
				return err
			}
			return runCurveSet(cmd, calibration.TableCurve(points))
		},
	}

	cmd.AddCommand(showCmd, identityCmd, gammaCmd, tableCmd)

	return cmd
}

func runCurveShow(cmd *cobra.Command) error {
	r, err := apiClient.GetCalibration()
	if err != nil {
		return err
	}
	cmd.Printf("%s: %s\n", bold("%s", r.Description), describeCurve(r.Curve))
	return nil
}

func runCurveSet(cmd *cobra.Command, c calibration.Curve) error {
	// Catch mistakes before the round trip.
	if err := c.Validate(); err != nil {
		return err
	}
	got, err := apiClient.SetCurve(c)
	if err != nil {
		return fmt.Errorf("failed to set curve: %w", err)
	}
	cmd.Printf("Curve set to %s.\n", describeCurve(*got))
	return nil
}

func NewSaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save [path]",
		Short: "Save the calibration on the daemon host",
		Long: `Save the calibration on the daemon host.

Without a path the configured data path is used. The format follows the
extension: .json, .toml, or YAML for anything else.`,
		GroupID: gBasic,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			saved, err := apiClient.Save(path)
			if err != nil {
				return err
			}
			logrus.Infof("calibration saved to %s", saved)
			return nil
		},
	}
}

func NewLoadCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "load [path]",
		Short:   "Load a calibration on the daemon host",
		Long:    `Load a calibration on the daemon host, replacing the current one. Without a path the configured data path is used.`,
		GroupID: gBasic,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			r, err := apiClient.Load(path)
			if err != nil {
				return err
			}
			cmd.Printf("Loaded %s: %s, %d reading(s).\n", bold("%s", r.Description), describeCurve(r.Curve), len(r.Measurements))
			return nil
		},
	}
}
