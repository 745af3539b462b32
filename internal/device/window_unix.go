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

//go:build unix

package device

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Acquire opens the UIO character device and maps its region 0. Per the
// UIO ABI the interrupt channel is the file descriptor itself: a 4-byte
// read yields the interrupt count, and a 4-byte write of 1 re-enables
// (rearms) delivery after the driver has masked the line.
func (w *UIOWindow) Acquire() error {
	fd, err := unix.Open(w.uioPath, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return wrapUnavailable("open", err)
	}
	mem, err := unix.Mmap(fd, 0, RegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return wrapUnavailable("mmap", err)
	}
	w.fd = fd
	w.mem = mem
	return nil
}

// WaitInterrupt polls the UIO descriptor with the given millisecond
// budget. It returns EventShutdown immediately if RequestShutdown was
// already called, EventTimeout if the budget elapsed with nothing
// pending, or EventInterrupt with a single latched Status snapshot.
func (w *UIOWindow) WaitInterrupt(budgetMS int) (Event, error) {
	select {
	case <-w.shutdown:
		return Event{Kind: EventShutdown}, nil
	default:
	}

	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, budgetMS)
	if err != nil {
		if err == unix.EINTR {
			return Event{Kind: EventTimeout}, nil
		}
		return Event{}, fmt.Errorf("device: poll: %w", err)
	}

	select {
	case <-w.shutdown:
		return Event{Kind: EventShutdown}, nil
	default:
	}

	if n == 0 {
		return Event{Kind: EventTimeout}, nil
	}

	var countBuf [4]byte
	if _, err := unix.Read(w.fd, countBuf[:]); err != nil {
		return Event{}, fmt.Errorf("device: read interrupt count: %w", err)
	}

	status := DecodeStatus(w.StatusWord())
	return Event{Kind: EventInterrupt, Status: status}, nil
}

// Rearm writes the UIO re-enable word. Must be called after every event
// before the next one will be delivered.
func (w *UIOWindow) Rearm() error {
	var enable [4]byte
	binary.LittleEndian.PutUint32(enable[:], 1)
	if _, err := unix.Write(w.fd, enable[:]); err != nil {
		return fmt.Errorf("device: rearm: %w", err)
	}
	return nil
}

// Release unmaps the region and closes the UIO descriptor.
func (w *UIOWindow) Release() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var firstErr error
	if w.mem != nil {
		if err := unix.Munmap(w.mem); err != nil {
			firstErr = fmt.Errorf("device: munmap: %w", err)
		}
		w.mem = nil
	}
	if w.fd >= 0 {
		if err := unix.Close(w.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("device: close: %w", err)
		}
		w.fd = -1
	}
	return firstErr
}

// ColdReset re-latches mem_size/turbo into the FPGA's config word (word 1,
// separate from the status word the IRQ demux reads). It only writes that
// word: no reset pulse is issued, and Config.ResetPulseMS is not used.
func (w *UIOWindow) ColdReset(memSizeCode uint32, turbo bool) error {
	var word uint32 = memSizeCode & 0xF
	if turbo {
		word |= 0x10
	}
	binary.LittleEndian.PutUint32(w.mem[offConfig:offConfig+4], word)
	return nil
}
