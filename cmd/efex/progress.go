package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

const barWidth = 40

// progressBar renders transfer progress on stderr when it is a terminal, and
// logs it otherwise.
type progressBar struct {
	what  string
	start time.Time
	last  time.Time
	tty   bool
}

func newProgress(what string) *progressBar {
	return &progressBar{
		what:  what,
		start: time.Now(),
		tty:   term.IsTerminal(int(os.Stderr.Fd())),
	}
}

func (p *progressBar) update(done, total uint64) {
	now := time.Now()
	if done < total && now.Sub(p.last) < 100*time.Millisecond {
		return
	}
	p.last = now
	rate := float64(done) / now.Sub(p.start).Seconds()
	if !p.tty {
		slog.Debug(p.what, "done", done, "total", total, "bps", int(rate))
		return
	}
	filled := int(done * barWidth / total)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)
	fmt.Fprintf(os.Stderr, "\r%s [%s] %3d%% %7.1f KiB/s", p.what, bar, done*100/total, rate/1024)
}

// fel adapts the bar to the int based FEL progress callback.
func (p *progressBar) fel(done, total int) {
	p.update(uint64(done), uint64(total))
}

func (p *progressBar) finish(total uint64) {
	if p.tty {
		fmt.Fprintln(os.Stderr)
	}
	took := time.Since(p.start)
	slog.Info("Done!", "bytes", total, "seconds", int(took.Seconds()), "bps", int(float64(total)/took.Seconds()))
}
