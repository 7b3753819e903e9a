package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show device identity",
	Long:  "Show the handshake response of the connected device and the protocol revision it implements.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		resp := app.s.Response()
		soc := "unknown"
		if app.soc != nil {
			soc = fmt.Sprintf("%s (%s)", app.soc.Name, app.soc.Arch)
		}
		fmt.Printf("%-8s 0x%08x %s\n", resp.Magic[:], resp.ID, soc)
		fmt.Printf("firmware 0x%08x\n", resp.Firmware)
		fmt.Printf("mode     %s\n", app.s.Mode())
		fmt.Printf("data     0x%08x (flag 0x%02x, length 0x%02x)\n", resp.DataStartAddress, resp.DataFlag, resp.DataLength)
		if v, err := app.s.CommandSetVersion(); err == nil {
			fmt.Printf("protocol %s\n", v)
		}
		return nil
	},
}
