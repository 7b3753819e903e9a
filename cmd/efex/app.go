package main

import (
	"fmt"
	"log/slog"

	"github.com/awfex/efex/pkg/cache"
	"github.com/awfex/efex/pkg/devices"
	"github.com/awfex/efex/pkg/efex"
	"github.com/awfex/efex/pkg/payload"
)

// scan opens the device the CLI talks to.
var scan = efex.Scan

type cliApp struct {
	s   *efex.Session
	soc *devices.SoC
}

// newApp opens the first connected device and performs the handshake.
func newApp() (*cliApp, error) {
	s, err := scan(efex.WithTimeout(cfg.Timeout))
	if err != nil {
		return nil, err
	}
	if err := s.Handshake(); err != nil {
		s.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	a := &cliApp{s: s}
	resp := s.Response()
	if soc, ok := devices.LookupSoC(resp.ID); ok {
		a.soc = soc
		slog.Debug("Connected", "soc", soc.Name, "mode", s.Mode())
	} else {
		slog.Warn("Unknown SoC", "id", fmt.Sprintf("0x%08x", resp.ID), "mode", s.Mode())
	}
	return a, nil
}

func (a *cliApp) Close() error {
	return a.s.Close()
}

// accessor returns the single word accessor selected by the configuration,
// falling back to the boot ROM architecture of the connected SoC.
func (a *cliApp) accessor() (payload.Accessor, error) {
	if nativeAccess {
		return payload.NewNative(a.s), nil
	}
	arch := cfg.PayloadArch
	if arch == "" && a.soc != nil {
		arch = a.soc.Arch
	}
	if arch == "" {
		return nil, fmt.Errorf("unknown SoC, select a payload with -p")
	}

	inj := payload.NewInjector(a.s)
	var opts []payload.Option
	if cfg.ScratchAddress != 0 {
		opts = append(opts, payload.WithScratch(cfg.ScratchAddress))
	}
	if err := inj.Init(arch, opts...); err != nil {
		return nil, fmt.Errorf("could not upload payload: %w", err)
	}
	slog.Debug("Payload armed", "arch", arch, "address", fmt.Sprintf("0x%08x", inj.Stubs().ReadlAddr))
	return inj, nil
}

func loadImage(path string) ([]byte, error) {
	data, err := cache.New(cfg.CacheDir).Load(path)
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, efex.NewError("load", efex.ErrFileSize, fmt.Errorf("%s is empty", path))
	}
	return data, nil
}
