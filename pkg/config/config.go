// Package config loads user settings from $XDG_CONFIG_HOME/efex/config.toml.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/golang/glog"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/devices"
)

// RelPath is the location of the config file relative to the XDG config
// directories.
const RelPath = "efex/config.toml"

type Config struct {
	// Timeout bounds every bulk transfer.
	Timeout time.Duration
	// PayloadArch selects the readl/writel stubs. Empty means derived from
	// the SoC id.
	PayloadArch devices.Arch
	// ScratchAddress is where stubs get uploaded. Zero means the data start
	// address reported by the device.
	ScratchAddress uint32
	LogFile        string
	CacheDir       string
}

func Default() Config {
	return Config{
		Timeout: awusb.DefaultTimeout,
	}
}

type fileConfig struct {
	Timeout        string `toml:"timeout"`
	PayloadArch    string `toml:"payload_arch"`
	ScratchAddress int64  `toml:"scratch_address"`
	LogFile        string `toml:"log_file"`
	CacheDir       string `toml:"cache_dir"`
}

// Load reads the config file at path on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		glog.Warningf("config: ignoring unknown keys %v in %s", undecoded, path)
	}

	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("timeout must be positive, got %s", d)
		}
		cfg.Timeout = d
	}

	if meta.IsDefined("payload_arch") {
		arch, err := devices.ParseArch(strings.TrimSpace(raw.PayloadArch))
		if err != nil {
			return Config{}, fmt.Errorf("parse payload_arch: %w", err)
		}
		cfg.PayloadArch = arch
	}

	if meta.IsDefined("scratch_address") {
		if raw.ScratchAddress < 0 || raw.ScratchAddress > 0xffffffff {
			return Config{}, fmt.Errorf("scratch_address 0x%x out of range", raw.ScratchAddress)
		}
		cfg.ScratchAddress = uint32(raw.ScratchAddress)
	}

	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}

	if meta.IsDefined("cache_dir") {
		cfg.CacheDir = strings.TrimSpace(raw.CacheDir)
	}

	return cfg, nil
}

// LoadDefault loads the config file from the XDG config directories, or
// returns the defaults if there is none.
func LoadDefault() (Config, error) {
	path, err := xdg.SearchConfigFile(RelPath)
	if err != nil {
		glog.V(1).Infof("config: %v, using defaults", err)
		return Default(), nil
	}
	glog.Infof("Using config from %s", path)
	return Load(path)
}
