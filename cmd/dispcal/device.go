package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/events"
	"github.com/dispcal/dispcal/pkg/transport"
)

func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "ports",
		Short:       "List serial ports an instrument could be attached to",
		GroupID:     gAdvanced,
		Annotations: localCommand,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				cmd.Println("No serial ports found.")
				return nil
			}
			for _, p := range ports {
				cmd.Println(p)
			}
			cmd.Printf("\nSupported devices: %v\n", calibration.Kinds())
			return nil
		},
	}
}

func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		Short:   "Follow daemon events",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Fail early if the daemon is unreachable.
			if _, err := apiClient.GetVersion(); err != nil {
				return err
			}

			for ev := range apiClient.SubscribeEvents(ctx) {
				cmd.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), eventName(ev.Name), string(ev.Data))
			}
			return nil
		},
	}
}

func eventName(name string) string {
	switch name {
	case events.MeasurementFailed:
		return color.RedString(name)
	case events.MeasurementTaken:
		return color.GreenString(name)
	default:
		return color.CyanString(name)
	}
}
