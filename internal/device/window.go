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

// Package device owns the single memory-mapped FPGA register window and
// its UIO interrupt channel. Every other core component is handed a
// Window at construction rather than touching a package-level global
// (see DESIGN.md, "dependency-injected device handle").
package device

import (
	"encoding/binary"
	"fmt"

	"github.com/zestcore/zesthost/internal/errs"
)

// Byte offsets into the mapped region, per the word layout in SPEC_FULL §3.
const (
	offStatus  = 0x0000
	offConfig  = 0x0004 // word 1: mem_size/turbo latch, written by ColdReset
	offStaging = 0x0020 // word 8
	stagingLen = 64
	offMIDI    = 0x0030 // word 12, inside the staging range
	offACSI    = 0x4000
	offDMA0    = 0x4800
	dmaBufLen  = 512
	offDMA1    = offDMA0 + dmaBufLen

	// RegionSize is the minimum mapped length, "at least 20 KiB" per
	// SPEC_FULL §3. Rounded up to a page-friendly 20 KiB.
	RegionSize = 20 * 1024
)

// EventKind tags the outcome of a WaitInterrupt call.
type EventKind int

const (
	EventTimeout EventKind = iota
	EventShutdown
	EventInterrupt
)

// Event is the result of one WaitInterrupt call.
type Event struct {
	Kind   EventKind
	Status Status
}

// Window is the Device Window contract from SPEC_FULL §4.1: acquire the
// mapped region and UIO descriptor, wait for interrupts with a bounded
// budget, rearm the edge-masked channel, and expose typed accessors for
// each logical register instead of raw offsets.
type Window interface {
	Acquire() error
	WaitInterrupt(budgetMS int) (Event, error)
	Rearm() error
	Release() error

	StatusWord() uint32

	FloppyStaging() []byte

	MIDIRegister() uint32
	SetMIDIRegister(v uint32)

	ACSIRegister() uint32
	SetACSIRegister(v uint32)

	DMABuffer(id int) []byte

	// ColdReset re-latches mem_size/turbo into the FPGA config word. Issued
	// at startup and by jukebox rotation (SPEC_FULL §4.1 supplement).
	ColdReset(memSizeCode uint32, turbo bool) error

	// RequestShutdown causes the next (or an in-flight) WaitInterrupt to
	// return EventShutdown instead of blocking further.
	RequestShutdown()
}

// UIOWindow is the real Window backed by a mmap'd UIO character device.
// Construction and the actual syscalls live in window_unix.go so this file
// stays portable to `go vet`/non-unix analysis; the production binary only
// ever builds for linux.
type UIOWindow struct {
	devicePath string
	uioPath    string

	mem []byte // mmap'd region, length RegionSize
	fd  int

	shutdown chan struct{}
	closed   bool
}

// NewUIOWindow constructs an unacquired Window bound to the given UIO
// device node (e.g. "/dev/uio0").
func NewUIOWindow(uioPath string) *UIOWindow {
	return &UIOWindow{
		uioPath:  uioPath,
		fd:       -1,
		shutdown: make(chan struct{}),
	}
}

func (w *UIOWindow) RequestShutdown() {
	if !w.closed {
		select {
		case <-w.shutdown:
		default:
			close(w.shutdown)
		}
	}
}

func (w *UIOWindow) StatusWord() uint32 {
	return binary.LittleEndian.Uint32(w.mem[offStatus : offStatus+4])
}

func (w *UIOWindow) FloppyStaging() []byte {
	return w.mem[offStaging : offStaging+stagingLen]
}

func (w *UIOWindow) MIDIRegister() uint32 {
	return binary.LittleEndian.Uint32(w.mem[offMIDI : offMIDI+4])
}

func (w *UIOWindow) SetMIDIRegister(v uint32) {
	binary.LittleEndian.PutUint32(w.mem[offMIDI:offMIDI+4], v)
}

func (w *UIOWindow) ACSIRegister() uint32 {
	return binary.LittleEndian.Uint32(w.mem[offACSI : offACSI+4])
}

func (w *UIOWindow) SetACSIRegister(v uint32) {
	binary.LittleEndian.PutUint32(w.mem[offACSI:offACSI+4], v)
}

func (w *UIOWindow) DMABuffer(id int) []byte {
	switch id {
	case 0:
		return w.mem[offDMA0 : offDMA0+dmaBufLen]
	case 1:
		return w.mem[offDMA1 : offDMA1+dmaBufLen]
	default:
		panic(fmt.Sprintf("device: invalid DMA buffer id %d", id))
	}
}

// wrapUnavailable tags a startup failure as errs.ErrDeviceUnavailable.
func wrapUnavailable(op string, cause error) error {
	return fmt.Errorf("device: %s %w: %v", op, errs.ErrDeviceUnavailable, cause)
}
