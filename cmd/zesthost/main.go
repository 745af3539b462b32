//
// Copyright © 2014 Peter De Wachter, 2017 Charles Perkins
//
// Permission to use, copy, modify, and/or distribute this software for any purpose with
// or without fee is hereby granted, provided that the above copyright notice and this
// permission notice appear in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL WARRANTIES WITH REGARD TO
// THIS SOFTWARE INCLUDING ALL IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT
// SHALL THE AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR CONSEQUENTIAL DAMAGES OR
// ANY DAMAGES WHATSOEVER RESULTING FROM LOSS OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF
// CONTRACT, NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN CONNECTION WITH THE USE
// OR PERFORMANCE OF THIS SOFTWARE.
//

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/zestcore/zesthost/internal/acsi"
	"github.com/zestcore/zesthost/internal/config"
	"github.com/zestcore/zesthost/internal/device"
	"github.com/zestcore/zesthost/internal/floppy"
	"github.com/zestcore/zesthost/internal/gemdos"
	"github.com/zestcore/zesthost/internal/jukebox"
	"github.com/zestcore/zesthost/internal/midi"
)

// irqBudgetMS is T-IRQ's poll() budget on the UIO descriptor, spec.md §5.
const irqBudgetMS = 5

func main() {
	configPtr := flag.String("c", "/etc/zesthost.conf", "Path to the zesthost INI config file")
	uioPtr := flag.String("uio", "/dev/uio0", "UIO device node for the FPGA register window")
	verbosePtr := flag.Bool("v", false, "Enable debug-level logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbosePtr {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPtr, *uioPtr, log); err != nil {
		log.Error("zesthost exiting", "err", err)
		os.Exit(1)
	}
}

func run(configPath, uioPath string, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	win := device.NewUIOWindow(uioPath)
	if err := win.Acquire(); err != nil {
		return fmt.Errorf("acquire device window: %w", err)
	}
	defer win.Release()

	floppyStream := floppy.NewStream(log.With("component", "floppy"))
	if cfg.FloppyAEnable {
		if err := floppyStream.ChangeFloppy(0, cfg.FloppyA, cfg.FloppyAWriteProtect); err != nil {
			log.Warn("initial floppy A attach failed", "path", cfg.FloppyA, "err", err)
		}
	}
	if cfg.FloppyBEnable {
		if err := floppyStream.ChangeFloppy(1, cfg.FloppyB, cfg.FloppyBWriteProtect); err != nil {
			log.Warn("initial floppy B attach failed", "path", cfg.FloppyB, "err", err)
		}
	}
	defer floppyStream.Close()

	var disks [8]*acsi.Disk
	for i, target := range cfg.ACSI {
		d, err := acsi.Open(target.Path, target.CHS)
		if err != nil {
			return fmt.Errorf("open acsi target %d: %w", i, err)
		}
		disks[i] = d
	}

	gemdosDispatcher := gemdos.New(cfg, log.With("component", "gemdos"))
	commands := acsi.NewCommandState(win, disks, cfg.GEMDOS != "", gemdosDispatcher, log.With("component", "acsi"))

	midiBridge := midi.New(cfg, win, log.With("component", "midi"))
	if midiBridge.Enabled() {
		if err := midiBridge.Open(); err != nil {
			log.Warn("midi bridge open failed, continuing without it", "err", err)
		} else {
			defer midiBridge.Close()
		}
	}

	jb := jukebox.New(cfg, floppyStream, win, log.With("component", "jukebox"))

	if err := win.ColdReset(cfg.MemSize.Code(), cfg.Turbo); err != nil {
		log.Warn("startup cold reset failed", "err", err)
	}
	time.Sleep(time.Duration(cfg.BootDelayMS) * time.Millisecond)

	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -1); err != nil {
		// SCHED_FIFO priority pinning for T-IRQ (spec.md §5) isn't reachable
		// from an unprivileged userspace goroutine without cgo or root; this
		// best-effort nice bump is the closest approximation and is allowed
		// to fail silently on a system that denies it.
		log.Debug("priority bump for T-IRQ unavailable", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		gemdosDispatcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		midiBridge.Run(ctx)
		return nil
	})
	g.Go(func() error {
		runIRQLoop(ctx, win, floppyStream, commands, midiBridge, log)
		return nil
	})
	g.Go(func() error {
		jb.Run(ctx)
		return nil
	})

	<-ctx.Done()
	log.Info("shutdown requested")
	win.RequestShutdown()
	return g.Wait()
}

// runIRQLoop is T-IRQ: the interrupt demultiplexer, spec.md §4.1's
// "wait, latch status, dispatch in order {floppy, hdd_drq, midi}, rearm"
// loop.
func runIRQLoop(ctx context.Context, win device.Window, fs *floppy.Stream, commands *acsi.CommandState, mb *midi.Bridge, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := win.WaitInterrupt(irqBudgetMS)
		if err != nil {
			log.Error("irq wait failed", "err", err)
			return
		}
		switch ev.Kind {
		case device.EventShutdown:
			return
		case device.EventTimeout:
			continue
		}

		if ev.Status.Reserved {
			log.Warn("reserved status bit set, ignoring event")
			if err := win.Rearm(); err != nil {
				log.Error("irq rearm failed", "err", err)
				return
			}
			continue
		}
		if ev.Status.FloppyIntr {
			fs.OnFloppyEvent(win.FloppyStaging(), ev.Status.Floppy)
		}
		if ev.Status.HDDDrq {
			commands.OnInterrupt()
		}
		if ev.Status.MIDIIntr {
			mb.OnInterrupt()
		}

		if err := win.Rearm(); err != nil {
			log.Error("irq rearm failed", "err", err)
			return
		}
	}
}
