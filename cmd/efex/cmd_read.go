package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/efex"
	"github.com/awfex/efex/pkg/fel"
)

var readCmd = &cobra.Command{
	Use:   "read [address] [length] [file]",
	Short: "Read memory to a file",
	Args:  cobra.ExactArgs(3),
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

		p := newProgress("read")
		data, err := fel.ReadAll(app.s, addr, int(length), p.fel)
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[2], data, 0644); err != nil {
			return efex.NewError("read", efex.ErrFileWrite, err)
		}
		p.finish(uint64(length))
		return nil
	},
}
