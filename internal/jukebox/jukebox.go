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

// Package jukebox implements T-JUKEBOX (SPEC_FULL §4.7): a background
// goroutine that periodically rotates drive 0's floppy image from a pool
// of candidate files, named in spec.md §5 but left unspecified there;
// reconstructed here from spec.md §6.5's jukebox_* configuration keys and
// §8's worked rotation scenario. No teacher or original_source file does
// this; the ticker-driven goroutine shape instead follows rem/rem.go's
// main loop, generalised from one render tick to one rotation tick.
package jukebox

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zestcore/zesthost/internal/config"
	"github.com/zestcore/zesthost/internal/device"
)

// floppyExtensions are the image formats a jukebox scan considers, per
// spec.md §8's "floppy filter".
var floppyExtensions = map[string]bool{
	".st":  true,
	".msa": true,
	".mfm": true,
}

// Changer is the subset of floppy.Stream the jukebox needs to swap drive
// 0's image.
type Changer interface {
	ChangeFloppy(drive int, path string, rdonly bool) error
}

// Jukebox owns the rotation PRNG and the scan/select/swap/reset cycle.
type Jukebox struct {
	log     *slog.Logger
	path    string
	timeout time.Duration
	random  bool
	memSize uint32
	turbo   bool

	changer Changer
	win     device.Window

	rng  *rand.Rand
	next int // round-robin cursor, used when random is false
}

// New builds a Jukebox from cfg. Run is a no-op if cfg.JukeboxEnabled is
// false: the timeout is left at zero so Run returns without ticking.
func New(cfg *config.Config, changer Changer, win device.Window, log *slog.Logger) *Jukebox {
	j := &Jukebox{
		log:     log,
		path:    cfg.JukeboxPath,
		random:  cfg.JukeboxRandom,
		memSize: cfg.MemSize.Code(),
		turbo:   cfg.Turbo,
		changer: changer,
		win:     win,
		rng:     rand.New(rand.NewPCG(seedFromTime(), seedFromTime())),
	}
	if cfg.JukeboxEnabled {
		j.timeout = time.Duration(cfg.JukeboxTimeout) * time.Second
	}
	return j
}

// Run is T-JUKEBOX: every cfg.JukeboxTimeout seconds, scan, select, swap
// and cold-reset. It returns when ctx is cancelled.
func (j *Jukebox) Run(ctx context.Context) {
	if j.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(j.timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.tick()
		}
	}
}

// tick performs one rotation. Errors are logged and the tick is skipped
// rather than treated as fatal, per SPEC_FULL §4.7.
func (j *Jukebox) tick() {
	entries, err := j.scan()
	if err != nil {
		j.log.Warn("jukebox: scan failed", "path", j.path, "err", err)
		return
	}
	if len(entries) == 0 {
		j.log.Warn("jukebox: no candidate images found", "path", j.path)
		return
	}
	choice := j.selectImage(entries)
	if err := j.changer.ChangeFloppy(0, choice, false); err != nil {
		j.log.Warn("jukebox: change floppy failed", "path", choice, "err", err)
		return
	}
	if err := j.win.ColdReset(j.memSize, j.turbo); err != nil {
		j.log.Warn("jukebox: cold reset failed", "err", err)
		return
	}
	j.log.Info("jukebox: rotated", "path", choice)
}

func (j *Jukebox) scan() ([]string, error) {
	dirEntries, err := os.ReadDir(j.path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		if floppyExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			out = append(out, filepath.Join(j.path, e.Name()))
		}
	}
	return out, nil
}

// selectImage picks one candidate: uniformly at random in "random" mode,
// or round-robin otherwise. The generator is math/rand/v2's PCG source
// (128-bit state, DXSM output), not the 32-bit-output PCG32.
func (j *Jukebox) selectImage(entries []string) string {
	if j.random {
		return entries[j.rng.IntN(len(entries))]
	}
	choice := entries[j.next%len(entries)]
	j.next++
	return choice
}

func seedFromTime() uint64 { return uint64(time.Now().UnixNano()) }
