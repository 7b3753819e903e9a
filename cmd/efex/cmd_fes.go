package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/fes"
)

var fesCmd = &cobra.Command{
	Use:   "fes",
	Short: "Storage flashing commands",
	Long:  "Commands spoken by the FES flashing firmware. The device must be in FEL or SRV mode.",
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Show the boot storage type",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		st, err := fes.QueryStorage(app.s)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d)\n", st, st)
		return nil
	},
}

var secureCmd = &cobra.Command{
	Use:   "secure",
	Short: "Show the secure boot state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		v, err := fes.QuerySecure(app.s)
		if err != nil {
			return err
		}
		fmt.Printf("0x%08x\n", v)
		return nil
	},
}

var flashSizeCmd = &cobra.Command{
	Use:   "flash-size",
	Short: "Show the size of the flash medium",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		sectors, err := fes.ProbeFlashSize(app.s)
		if err != nil {
			return err
		}
		fmt.Printf("%d sectors (%d MiB)\n", sectors, uint64(sectors)*fes.SectorSize>>20)
		return nil
	},
}

var chipIDCmd = &cobra.Command{
	Use:   "chipid",
	Short: "Show the unique chip id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		id, err := fes.ChipID(app.s)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}
