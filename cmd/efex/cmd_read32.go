package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var read32Cmd = &cobra.Command{
	Use:   "read32 [address]",
	Short: "Read a 32-bit word",
	Long:  "Read a 32-bit word through the payload stub selected with -p.",
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

		acc, err := app.accessor()
		if err != nil {
			return err
		}
		v, err := acc.Readl(addr)
		if err != nil {
			return err
		}
		fmt.Printf("0x%08x\n", v)
		return nil
	},
}

var write32Cmd = &cobra.Command{
	Use:   "write32 [address] [value]",
	Short: "Write a 32-bit word",
	Long:  "Write a 32-bit word through the payload stub selected with -p.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid address")
		}
		value, err := parseNumber(args[1])
		if err != nil {
			return fmt.Errorf("invalid value")
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		acc, err := app.accessor()
		if err != nil {
			return err
		}
		return acc.Writel(addr, value)
	},
}
