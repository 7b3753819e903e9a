package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/awfex/efex/pkg/config"
	"github.com/awfex/efex/pkg/devices"
)

var rootCmd = &cobra.Command{
	Use:   "efex",
	Short: "efex talks to Allwinner SoCs in FEL and FES mode",
	Long: `Reads and writes memory, runs code and flashes storage on Allwinner SoCs
connected over USB in FEL (boot ROM) or FES (flashing firmware) mode.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var (
	verboseLog  bool
	configPath  string
	timeoutFlag time.Duration
	payloadFlag string
	scratchFlag string
	logFileFlag string
	cacheFlag   string
)

// cfg is the configuration file overlaid with command line flags.
var cfg = config.Default()

// nativeAccess makes read32/write32 skip the payload stubs.
var nativeAccess bool

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "Enable verbose debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/efex/config.toml)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 0, "USB transfer timeout (default 10s)")
	rootCmd.PersistentFlags().StringVarP(&payloadFlag, "payload", "p", "", "Payload for read32/write32: arm, aarch64, riscv or native (default: from SoC)")
	rootCmd.PersistentFlags().StringVar(&scratchFlag, "scratch", "", "Address payloads are uploaded to (default: device data start address)")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Also log into a file, rotating after 5MB")
	rootCmd.PersistentFlags().StringVar(&cacheFlag, "cache-dir", "", "Directory for downloaded and decompressed images")

	fesDownloadCmd.Flags().StringVarP(&fesDataType, "type", "t", "none", "Data type: none, dram, mbr, boot0, boot1, erase, fullimg-size, ext4, flash")
	fesDownloadCmd.Flags().BoolVar(&fesVerify, "verify", false, "Verify the download by CRC")
	fesDownloadCmd.Flags().BoolVar(&fesFixup, "fixup", false, "Fix the eGON checksum of boot0/boot1 images instead of refusing them")
	fesUploadCmd.Flags().StringVarP(&fesDataType, "type", "t", "none", "Data type, see download")
	toolModeCmd.Flags().StringVarP(&toolModeNext, "next", "n", "reboot", "Next action: normal, reboot, poweroff, reupdate, boot")
	flashCmd.Flags().StringVarP(&flashStorage, "storage", "s", "", "Storage type number (default: as reported by the device)")
	eraseCmd.Flags().BoolVar(&eraseKey, "key", false, "Erase the key storage instead of the flash")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(hexdumpCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(read32Cmd)
	rootCmd.AddCommand(write32Cmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(switchRoleCmd)
	rootCmd.AddCommand(disconnectCmd)
	fesCmd.AddCommand(fesDownloadCmd)
	fesCmd.AddCommand(fesUploadCmd)
	fesCmd.AddCommand(fesVerifyCmd)
	fesCmd.AddCommand(fesVerifyStatusCmd)
	fesCmd.AddCommand(storageCmd)
	fesCmd.AddCommand(secureCmd)
	fesCmd.AddCommand(flashSizeCmd)
	fesCmd.AddCommand(flashCmd)
	fesCmd.AddCommand(chipIDCmd)
	fesCmd.AddCommand(toolModeCmd)
	fesCmd.AddCommand(eraseCmd)
	fesCmd.AddCommand(unregFEDCmd)
	rootCmd.AddCommand(fesCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}

// setup loads the configuration, applies flag overrides and sets up logging.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		cfg.Timeout = timeoutFlag
	}
	if flags.Changed("payload") {
		if payloadFlag == "native" {
			nativeAccess = true
		} else {
			arch, err := devices.ParseArch(payloadFlag)
			if err != nil {
				return err
			}
			cfg.PayloadArch = arch
		}
	}
	if flags.Changed("scratch") {
		addr, err := parseNumber(scratchFlag)
		if err != nil {
			return fmt.Errorf("invalid scratch address")
		}
		cfg.ScratchAddress = addr
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFileFlag
	}
	if flags.Changed("cache-dir") {
		cfg.CacheDir = cacheFlag
	}

	level := slog.LevelInfo
	if verboseLog {
		level = slog.LevelDebug
		flag.Set("logtostderr", "true")
		flag.Set("v", "1")
	}
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    5, // megabytes
			MaxBackups: 3,
		})
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	return nil
}

func parseNumber(s string) (uint32, error) {
	var err error
	var res uint64
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		res, err = strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid number")
		}
	} else {
		res, err = strconv.ParseUint(s, 10, 32)
		if err != nil {
			res, err = strconv.ParseUint(s, 16, 32)
			if err != nil {
				return 0, fmt.Errorf("invalid number")
			}
		}
	}
	return uint32(res), nil
}
