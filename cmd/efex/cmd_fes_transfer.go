package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/awfex/efex/pkg/efex"
	"github.com/awfex/efex/pkg/fes"
	"github.com/awfex/efex/pkg/image"
)

var (
	fesDataType string
	fesVerify   bool
	fesFixup    bool
)

// checkBootImage refuses boot0/boot1 images with a bad eGON checksum, or
// fixes them when asked to.
func checkBootImage(data []byte, dt fes.DataType) ([]byte, error) {
	if dt != fes.DataTypeBoot0 && dt != fes.DataTypeBoot1 {
		return data, nil
	}
	img, err := image.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid %s image: %w", dt, err)
	}
	if err := img.Verify(); err != nil {
		if !fesFixup {
			return nil, fmt.Errorf("%w (use --fixup to correct it)", err)
		}
		slog.Warn("Fixing eGON checksum", "type", img.Kind)
		return img.Fixup(), nil
	}
	return data, nil
}

var fesDownloadCmd = &cobra.Command{
	Use:   "download [address] [file]",
	Short: "Send a file to the device",
	Long: `Send a file to the device in 64KiB chunks. Address is a memory address for
tagged data types and a sector number for none and flash. The file can be xz
compressed or an http(s) URL.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid address")
		}
		dt, err := fes.ParseDataType(fesDataType)
		if err != nil {
			return err
		}
		data, err := loadImage(args[1])
		if err != nil {
			return err
		}
		data, err = checkBootImage(data, dt)
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		p := newProgress("download")
		if fesVerify {
			err = fes.DownloadVerified(app.s, addr, data, dt, p.update)
		} else {
			err = fes.Download(app.s, addr, data, dt, p.update)
		}
		if err != nil {
			return err
		}
		p.finish(uint64(len(data)))
		return nil
	},
}

var fesUploadCmd = &cobra.Command{
	Use:   "upload [address] [length] [file]",
	Short: "Read data from the device into a file",
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
		dt, err := fes.ParseDataType(fesDataType)
		if err != nil {
			return err
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		// Only touch the output once the device answered.
		f, err := os.Create(args[2])
		if err != nil {
			return efex.NewError("upload", efex.ErrFileOpen, err)
		}
		defer f.Close()

		p := newProgress("upload")
		if err := fes.UploadTo(app.s, addr, f, uint64(length), dt, p.update); err != nil {
			return err
		}
		p.finish(uint64(length))
		return nil
	},
}

func printVerify(res fes.VerifyResult) error {
	fmt.Printf("flag 0x%08x engine 0x%08x media 0x%08x\n", res.Flag, res.EngineCRC, res.MediaCRC)
	return res.Err()
}

var fesVerifyCmd = &cobra.Command{
	Use:   "verify [address] [length]",
	Short: "Compare CRCs of a region",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseNumber(args[0])
		if err != nil {
			return fmt.Errorf("invalid address")
		}
		length, err := parseNumber(args[1])
		if err != nil {
			return fmt.Errorf("invalid length")
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := fes.VerifyValue(app.s, addr, uint64(length))
		if err != nil {
			return err
		}
		return printVerify(res)
	},
}

var fesVerifyStatusCmd = &cobra.Command{
	Use:   "verify-status [type] [uboot]",
	Short: "Compare CRCs of the last transfer of a data type",
	Long:  "Compare CRCs of the last transfer of a data type. With the uboot argument, check the u-boot block instead.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dt, err := fes.ParseDataType(args[0])
		if err != nil {
			return err
		}
		uboot := len(args) == 2
		if uboot && args[1] != "uboot" {
			return fmt.Errorf("unknown argument %q", args[1])
		}

		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		var res fes.VerifyResult
		if uboot {
			res, err = fes.VerifyUbootBlock(app.s, uint32(dt))
		} else {
			res, err = fes.VerifyStatus(app.s, uint32(dt))
		}
		if err != nil {
			return err
		}
		return printVerify(res)
	},
}
