package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/fel"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [address] [length]",
	Short: "Dump memory to stdout",
	Long:  "Read memory from a connected device and write the raw bytes to stdout.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid address")
		}
		length, err := parseNumber(args[1])
		if err != nil || length == 0 {
			return fmt.Errorf("invalid length")
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		data, err := fel.ReadAll(app.s, addr, int(length), nil)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}
