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

package midi

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Open opens midi_in and midi_out (sharing one fd when they name the same
// device node, as thread_midi's single MIDI_DEVICE does).
func (b *Bridge) Open() error {
	if b.inPath != "" {
		fd, err := unix.Open(b.inPath, unix.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("midi: open %s: %w", b.inPath, err)
		}
		b.inFd = fd
	}
	switch {
	case b.shared:
		b.outFd = b.inFd
	case b.outPath != "":
		fd, err := unix.Open(b.outPath, unix.O_RDWR, 0)
		if err != nil {
			b.Close()
			return fmt.Errorf("midi: open %s: %w", b.outPath, err)
		}
		b.outFd = fd
	}
	return nil
}

// Close closes whichever fds Open acquired, per thread_midi's cleanup.
func (b *Bridge) Close() error {
	var firstErr error
	if b.outFd >= 0 && b.outFd != b.inFd {
		if err := unix.Close(b.outFd); err != nil {
			firstErr = err
		}
	}
	b.outFd = -1
	if b.inFd >= 0 {
		if err := unix.Close(b.inFd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.inFd = -1
	return firstErr
}

func (b *Bridge) writeOut(v byte) error {
	buf := [1]byte{v}
	_, err := unix.Write(b.outFd, buf[:])
	return err
}

// pollRead waits up to pollBudgetMS for midi_in to become readable and
// returns whatever read() yields, mirroring thread_midi's poll/read pair.
// A timeout is reported as n==0, err==nil so Run's loop can simply retry.
func (b *Bridge) pollRead(buf []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(b.inFd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollBudgetMS)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	nread, err := unix.Read(b.inFd, buf)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	return nread, nil
}
