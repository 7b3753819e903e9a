package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/fel"
)

var execCmd = &cobra.Command{
	Use:   "exec [address]",
	Short: "Call code at address",
	Long:  "Make the boot ROM call the code at address. The command returns once that code returns.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid address")
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if err := fel.Exec(app.s, addr); err != nil {
			return err
		}
		slog.Info("Returned", "address", fmt.Sprintf("0x%08x", addr))
		return nil
	},
}
