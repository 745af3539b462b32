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

// Package acsi implements the ACSI/SCSI target engine: one Disk per
// target ID 0..7, a single CommandState bus state machine shared across
// all eight, and the ping-pong DMA handshake described in SPEC_FULL §4.4.
package acsi

import (
	"fmt"
	"os"

	"github.com/zestcore/zesthost/internal/config"
	"github.com/zestcore/zesthost/internal/errs"
)

const sectorSize = 512

// Sense codes, format 0xAAQQSS (AA:additional sense, QQ:qualifier,
// SS:sense key), per _examples/original_source/linux/acsi.c.
const (
	senseOK       = 0x000000
	senseNoSector = 0x010004
	senseWriteErr = 0x030002
	senseOpcode   = 0x200005
	senseInvAddr  = 0x21000d
	senseInvArg   = 0x240005
	senseInvLUN   = 0x250005
)

// Disk is one ACSI target slot. A target with no backing file (f == nil)
// answers nothing except possibly as the GEMDOS redirector.
type Disk struct {
	path string
	f    *os.File

	sectors int
	chs     *config.CHS

	lba       uint32
	sense     uint32
	reportLBA bool
}

// Open attaches a backing file to the target. An empty path leaves the
// target unbound.
func Open(path string, chs *config.CHS) (*Disk, error) {
	d := &Disk{chs: chs}
	if path == "" {
		return d, nil
	}
	if err := d.attach(path); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Disk) attach(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errs.NewImageIOError("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errs.NewImageIOError("stat", path, err)
	}
	d.f = f
	d.path = path
	d.sectors = int(info.Size() / sectorSize)
	d.lba = 0
	d.clearSense()
	return nil
}

// Change swaps the backing file at runtime (jukebox / OSD hot-swap).
func (d *Disk) Change(path string) error {
	d.Close()
	if path == "" {
		return nil
	}
	return d.attach(path)
}

func (d *Disk) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	d.path = ""
	d.sectors = 0
	return err
}

func (d *Disk) Bound() bool  { return d.f != nil }
func (d *Disk) Sectors() int { return d.sectors }
func (d *Disk) Path() string { return d.path }

func (d *Disk) clearSense() {
	d.sense = senseOK
	d.reportLBA = false
}

func (d *Disk) setSense(code uint32, reportLBA bool) {
	d.sense = code
	d.reportLBA = reportLBA
}

func (d *Disk) readSector(lba uint32, dst []byte) error {
	if d.f == nil {
		return fmt.Errorf("acsi: read on unbound target")
	}
	_, err := d.f.ReadAt(dst, int64(lba)*sectorSize)
	return err
}

func (d *Disk) writeSector(lba uint32, src []byte) error {
	if d.f == nil {
		return fmt.Errorf("acsi: write on unbound target")
	}
	_, err := d.f.WriteAt(src, int64(lba)*sectorSize)
	return err
}

// geometry returns cylinders/heads for MODE SENSE page 4, preferring a
// config override and otherwise searching for the largest head count that
// divides the sector count evenly, per mode_sense_4 in acsi.c.
func (d *Disk) geometry() (cylinders, heads int) {
	if d.chs != nil && d.chs.Heads > 0 {
		return d.chs.Cylinders, d.chs.Heads
	}
	blocks := d.sectors
	for heads = 255; heads >= 1; heads-- {
		cylinders = blocks / heads
		if cylinders > 0xffffff || blocks%heads == 0 {
			break
		}
	}
	return cylinders, heads
}
