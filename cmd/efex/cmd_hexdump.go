package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/fel"
)

var hexdumpCmd = &cobra.Command{
	Use:   "hexdump [address] [length]",
	Short: "Dump memory as hex",
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
		d := hex.Dumper(os.Stdout)
		defer d.Close()
		_, err = d.Write(data)
		return err
	},
}
