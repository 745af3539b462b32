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

// Package floppy implements the floppy image codec (MFM/ST/MSA with
// CRC-16/ST track reconstruction) and the positional stream handler that
// feeds/consumes the FPGA's rotating track buffer on fixed deadlines.
package floppy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zestcore/zesthost/internal/errs"
)

// TrackBytes is the fixed size of a single MFM track, side included.
const TrackBytes = 6250

// MaxTracks bounds the in-memory MFM buffer, per SPEC_FULL/spec.md §3.
const MaxTracks = 86

// Format identifies which on-disk encoding an Image was opened from.
type Format int

const (
	FormatMFM Format = iota
	FormatST
	FormatMSA
)

// Image is the Floppy Image from spec.md §3: an in-memory MFM buffer with
// enough geometry metadata to address it, backed by a file that load/save
// translate to/from the wire-level MFM representation.
type Image struct {
	format  Format
	rdonly  bool
	nsides  int
	ntracks int
	nsectors int

	buf []byte // ntracks * nsides * TrackBytes, addressed by trackPos

	writebackPending bool
	f                *os.File
	path             string
}

// detectFormat maps a file extension onto a Format, per spec.md §4.3.
func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mfm":
		return FormatMFM, nil
	case ".st":
		return FormatST, nil
	case ".msa":
		return FormatMSA, nil
	default:
		return 0, fmt.Errorf("floppy: %s: %w", path, errs.ErrFormat)
	}
}

// Open loads path into memory, detecting MFM/ST/MSA by extension per
// spec.md §4.3, and applying the given skew/interleave when synthesizing
// MFM tracks from an ST or MSA source.
func Open(path string, rdonly bool, skew, interleave int) (*Image, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}

	flag := os.O_RDWR
	if rdonly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, errs.NewImageIOError("open", path, err)
	}

	img := &Image{
		format: format,
		rdonly: rdonly,
		path:   path,
		f:      f,
		buf:    make([]byte, 0),
	}

	switch format {
	case FormatMFM:
		err = img.loadMFM()
	case FormatST, FormatMSA:
		err = img.loadSTorMSA(skew, interleave)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return img, nil
}

// ensureCapacity grows buf (if needed) to hold ntracks*nsides tracks.
func (img *Image) ensureCapacity() {
	need := img.ntracks * img.nsides * TrackBytes
	if len(img.buf) < need {
		grown := make([]byte, need)
		copy(grown, img.buf)
		img.buf = grown
	}
}

// TrackPos returns the 6250-byte slice for (track, side), growing the
// recorded geometry if addressed beyond it — mirroring flopimg_trackpos's
// auto-extension in original_source/linux/floppy_img.c.
func (img *Image) TrackPos(track, side int) []byte {
	if track >= img.ntracks {
		img.ntracks = track + 1
	}
	if side >= img.nsides {
		img.nsides = side + 1
	}
	img.ensureCapacity()
	off := (track*img.nsides + side) * TrackBytes
	return img.buf[off : off+TrackBytes]
}

// MarkDirty latches the write-back flag; the next Sync call re-encodes
// the in-memory buffer to img.path in its original format.
func (img *Image) MarkDirty() {
	img.writebackPending = true
}

// Dirty reports whether a Sync call is pending.
func (img *Image) Dirty() bool { return img.writebackPending }

// NSides, NTracks, NSectors expose the discovered/guessed geometry.
func (img *Image) NSides() int   { return img.nsides }
func (img *Image) NTracks() int  { return img.ntracks }
func (img *Image) NSectors() int { return img.nsectors }
func (img *Image) ReadOnly() bool { return img.rdonly }
func (img *Image) Path() string   { return img.path }

// Sync writes the in-memory buffer back to disk if MarkDirty was called
// since the last Sync, in the format the image was opened with.
func (img *Image) Sync() error {
	if !img.writebackPending {
		return nil
	}
	if img.rdonly {
		img.writebackPending = false
		return nil
	}
	var err error
	switch img.format {
	case FormatMFM:
		err = img.saveMFM()
	case FormatST:
		err = img.saveST()
	case FormatMSA:
		err = img.saveMSA()
	}
	if err != nil {
		return err
	}
	img.writebackPending = false
	return nil
}

// Close flushes any pending write-back and releases the backing file.
func (img *Image) Close() error {
	if err := img.Sync(); err != nil {
		img.f.Close()
		return err
	}
	return img.f.Close()
}

func (img *Image) loadMFM() error {
	info, err := img.f.Stat()
	if err != nil {
		return errs.NewImageIOError("stat", img.path, err)
	}
	size := info.Size()
	buf := make([]byte, size)
	if _, err := img.f.ReadAt(buf, 0); err != nil {
		return errs.NewImageIOError("read", img.path, err)
	}
	img.buf = buf

	if p := findSectorInBuf(buf, 0, 0, 1); p >= 0 {
		sectors := int(readW(buf[p+0x18:]))
		nsides := int(readW(buf[p+0x1a:]))
		if sectors >= 9 && sectors <= 11 && nsides >= 1 && nsides <= 2 {
			img.nsectors = sectors
			img.nsides = nsides
			img.ntracks = int(readW(buf[p+0x13:])) / (sectors * nsides)
			return nil
		}
	}
	if size > TrackBytes*100 {
		img.nsides = 2
		img.ntracks = int(size / (TrackBytes * 2))
	} else {
		img.nsides = 1
		img.ntracks = int(size / TrackBytes)
	}
	return nil
}

func (img *Image) saveMFM() error {
	if _, err := img.f.WriteAt(img.buf[:img.ntracks*img.nsides*TrackBytes], 0); err != nil {
		return errs.NewImageIOError("write", img.path, err)
	}
	return img.f.Truncate(int64(img.ntracks * img.nsides * TrackBytes))
}

func readW(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func readWB(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func writeWB(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
