package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/fes"
)

var (
	toolModeNext string
	flashStorage string
	eraseKey     bool
)

var flashCmd = &cobra.Command{
	Use:   "flash [on|off]",
	Short: "Power the flash medium on or off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("expected on or off")
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		var st fes.StorageType
		if flashStorage != "" {
			n, err := parseNumber(flashStorage)
			if err != nil {
				return fmt.Errorf("invalid storage type")
			}
			st = fes.StorageType(n)
		} else {
			st, err = fes.QueryStorage(app.s)
			if err != nil {
				return err
			}
		}
		if err := fes.SetFlash(app.s, st, on); err != nil {
			return err
		}
		slog.Info("Flash switched", "storage", st, "on", on)
		return nil
	},
}

var toolModeCmd = &cobra.Command{
	Use:   "tool-mode [mode]",
	Short: "Set the FES work mode",
	Long: `Set the FES work mode: boot, usb-tool-product, usb-tool-update, usb-product,
card-product, usb-debug, sprite-recovery, card-update, usb-update or
outer-update.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := fes.ParseToolMode(args[0])
		if err != nil {
			return err
		}
		next, err := fes.ParseNextAction(toolModeNext)
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := fes.SetToolMode(app.s, mode, next); err != nil {
			return err
		}
		slog.Info("Tool mode set", "mode", mode, "next", next)
		return nil
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the whole flash medium",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if eraseKey {
			err = fes.ForceEraseKey(app.s)
		} else {
			err = fes.ForceEraseFlash(app.s)
		}
		if err != nil {
			return err
		}
		slog.Info("Erased", "key", eraseKey)
		return nil
	},
}

var unregFEDCmd = &cobra.Command{
	Use:   "unreg-fed",
	Short: "Unregister the flash driver of the FES firmware",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		return fes.UnregisterFED(app.s)
	},
}
