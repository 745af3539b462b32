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

// Package errs collects the error taxonomy shared by every core component:
// device acquisition failures, image I/O and format errors, bus protocol
// violations, GEMDOS rendezvous timeouts, and the GEMDOS errno mapping.
package errs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Sentinel categories. Components wrap these with fmt.Errorf("...: %w", ...)
// so callers can classify a failure with errors.Is without parsing strings.
var (
	// ErrDeviceUnavailable is fatal at startup only: mmap or UIO open failed.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrImageIO covers a backing file that is missing, truncated or
	// unwritable. The affected drive is treated as empty; never fatal.
	ErrImageIO = errors.New("image i/o error")

	// ErrFormat covers a structural violation in an MSA/ST/MFM image.
	// The image fails to load; never fatal.
	ErrFormat = errors.New("image format error")

	// ErrProtocolViolation covers unexpected ACSI bus framing, e.g. a
	// command byte with A1=0 in the middle of a command.
	ErrProtocolViolation = errors.New("acsi protocol violation")

	// ErrTimeout covers a GEMDOS condition-variable wait that exceeded
	// its budget; the call is abandoned and the guest falls back to ROM.
	ErrTimeout = errors.New("gemdos rendezvous timeout")
)

// ImageIOError wraps ErrImageIO with the path and operation that failed.
type ImageIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *ImageIOError) Error() string {
	return fmt.Sprintf("image i/o error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ImageIOError) Unwrap() error { return ErrImageIO }

// NewImageIOError builds an *ImageIOError for the given op/path/cause.
func NewImageIOError(op, path string, cause error) *ImageIOError {
	return &ImageIOError{Path: path, Op: op, Err: cause}
}

// FormatError wraps ErrFormat with the offending image path and detail.
type FormatError struct {
	Path   string
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error in %s: %s", e.Path, e.Detail)
}

func (e *FormatError) Unwrap() error { return ErrFormat }

// NewFormatError builds a *FormatError.
func NewFormatError(path, detail string) *FormatError {
	return &FormatError{Path: path, Detail: detail}
}

// GEMDOS error codes, per spec.md §7: the negative values returned to the
// guest. GuestErrno below maps host errors onto them.
const (
	EFILNF = -33 // file not found
	EPTHNF = -34 // path not found
	EACCDN = -36 // access denied
	EIHNDL = -37 // invalid handle
	ENSAME = -48 // not same device (rename across filesystems)
	ENMFIL = -49 // no more files (Fsnext exhausted)
	EINTRN = -65 // internal error, catch-all
)

// GuestErrno maps a host error (typically wrapping a syscall.Errno via
// os.PathError/os.LinkError) to the corresponding GEMDOS error code seen by
// the guest. Unknown errors map to EINTRN.
func GuestErrno(err error) int32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, syscall.EBADF):
		return EIHNDL
	case errors.Is(err, fs.ErrNotExist):
		return EFILNF
	case errors.Is(err, fs.ErrPermission):
		return EACCDN
	case errors.Is(err, syscall.EXDEV):
		return ENSAME
	default:
		return EINTRN
	}
}
