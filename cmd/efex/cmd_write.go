package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/fel"
)

var writeCmd = &cobra.Command{
	Use:   "write [address] [file]",
	Short: "Write a file to memory",
	Long:  "Write a file to memory. The file can be xz compressed or an http(s) URL.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid address")
		}
		data, err := loadImage(args[1])
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		p := newProgress("write")
		if err := fel.WriteAll(app.s, addr, data, p.fel); err != nil {
			return err
		}
		p.finish(uint64(len(data)))
		return nil
	},
}
