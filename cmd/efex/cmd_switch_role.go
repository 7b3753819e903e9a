package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/efex"
)

var switchRoleCmd = &cobra.Command{
	Use:   "switch-role [srv|update-cool|update-hot]",
	Short: "Switch the device out of FEL mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var to efex.Mode
		switch args[0] {
		case "srv":
			to = efex.ModeSRV
		case "update-cool":
			to = efex.ModeUpdateCool
		case "update-hot":
			to = efex.ModeUpdateHot
		default:
			return fmt.Errorf("unknown mode %q", args[0])
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.s.IsReady(); err != nil {
			if !efex.IsAdvisory(err) {
				return err
			}
			slog.Warn("Device reports not ready", "err", err)
		}
		if err := app.s.SwitchRole(to); err != nil {
			return err
		}
		slog.Info("Switched role", "mode", to)
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "End the session on the device side",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		// Disconnect releases the device itself.
		return app.s.Disconnect()
	},
}
