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

package floppy

import (
	"fmt"
	"io"

	"github.com/zestcore/zesthost/internal/errs"
)

const msaMagic = 0x0E0F

// readMSAHeader parses the 10-byte MSA header and positions the file
// cursor right after it, ready for sequential per-track reads.
func (img *Image) readMSAHeader() error {
	header := make([]byte, 10)
	if _, err := io.ReadFull(img.f, header); err != nil {
		return errs.NewImageIOError("read", img.path, err)
	}
	if readWB(header[0:]) != msaMagic {
		return fmt.Errorf("floppy: %s: not a valid MSA file: %w", img.path, errs.ErrFormat)
	}
	nsectors := int(readWB(header[2:]))
	nsides := int(readWB(header[4:])) + 1
	startTrack := int(readWB(header[6:]))
	if startTrack != 0 {
		return fmt.Errorf("floppy: %s: partial MSA file starting at track %d is not supported: %w", img.path, startTrack+1, errs.ErrFormat)
	}
	ntracks := int(readWB(header[8:])) + 1

	img.nsectors, img.nsides, img.ntracks = nsectors, nsides, ntracks
	return nil
}

// readMSATrack consumes the next {datalen, data} record from the
// sequential MSA stream and returns its decompressed 512*nsectors bytes.
func (img *Image) readMSATrack() ([]byte, error) {
	tracksize := 512 * img.nsectors
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(img.f, lenBuf); err != nil {
		return nil, errs.NewImageIOError("read", img.path, err)
	}
	datalen := int(readWB(lenBuf))

	if datalen == tracksize {
		buf := make([]byte, tracksize)
		if _, err := io.ReadFull(img.f, buf); err != nil {
			return nil, errs.NewImageIOError("read", img.path, err)
		}
		return buf, nil
	}

	packed := make([]byte, datalen)
	if _, err := io.ReadFull(img.f, packed); err != nil {
		return nil, errs.NewImageIOError("read", img.path, err)
	}
	return msaUnpack(packed, tracksize)
}

// msaUnpack decompresses an MSA RLE-encoded track: 0xE5 introduces
// {value, count_hi, count_lo} producing count copies of value; any other
// byte is copied verbatim. Bound-checked against want (Open Question (a)
// in DESIGN.md: a malformed run that would overrun the destination is a
// format error rather than a buffer overrun).
func msaUnpack(packed []byte, want int) ([]byte, error) {
	dst := make([]byte, 0, want)
	i := 0
	for i < len(packed) {
		b := packed[i]
		i++
		if b == 0xE5 {
			if i+3 > len(packed) {
				return nil, fmt.Errorf("floppy: truncated MSA RLE run: %w", errs.ErrFormat)
			}
			value := packed[i]
			count := int(readWB(packed[i+1:]))
			i += 3
			if len(dst)+count > want {
				return nil, fmt.Errorf("floppy: MSA RLE run overruns track buffer (%d + %d > %d): %w", len(dst), count, want, errs.ErrFormat)
			}
			for n := 0; n < count; n++ {
				dst = append(dst, value)
			}
		} else {
			if len(dst)+1 > want {
				return nil, fmt.Errorf("floppy: MSA literal run overruns track buffer: %w", errs.ErrFormat)
			}
			dst = append(dst, b)
		}
	}
	if len(dst) != want {
		return nil, fmt.Errorf("floppy: unpacked MSA track is %d bytes, want %d: %w", len(dst), want, errs.ErrFormat)
	}
	return dst, nil
}

// msaPack tries to RLE-compress src. It returns the packed bytes, or
// ok=false if compression would not shrink the track (matching
// msa_pack's -1 return in original_source/linux/floppy_img.c, §8 Testable
// Property 2: pack must never return a longer-than-raw payload without
// signalling failure).
func msaPack(src []byte) (packed []byte, ok bool) {
	dst := make([]byte, 0, len(src))
	p := 0
	for p < len(src) {
		v := src[p]
		run := p
		for run < len(src) && src[run] == v {
			run++
		}
		n := run - p
		if (n > 4 || v == 0xE5) && len(dst)+4 < len(src) {
			dst = append(dst, 0xE5, v, byte(n>>8), byte(n))
		} else if v != 0xE5 && len(dst)+n < len(src) {
			for i := 0; i < n; i++ {
				dst = append(dst, v)
			}
		} else {
			return nil, false
		}
		p = run
	}
	return dst, true
}

// saveMSA re-emits the MSA header, then per track tries RLE compression,
// falling back to uncompressed emission per spec.md §4.3's Save rules.
func (img *Image) saveMSA() error {
	p := findSectorInBuf(img.buf, 0, 0, 1)
	if p < 0 {
		return fmt.Errorf("floppy: %s: sector 1 of track 0 not found while saving: %w", img.path, errs.ErrFormat)
	}
	sectors := int(readW(img.buf[p+0x18:]))
	nsides := int(readW(img.buf[p+0x1a:]))
	ntracks := int(readW(img.buf[p+0x13:])) / (sectors * nsides)

	out := make([]byte, 10)
	out[0], out[1] = 0x0E, 0x0F
	writeWB(out[2:], uint16(sectors))
	writeWB(out[4:], uint16(nsides-1))
	writeWB(out[6:], 0)
	writeWB(out[8:], uint16(ntracks-1))

	for track := 0; track < ntracks; track++ {
		for side := 0; side < nsides; side++ {
			trackBuf := img.TrackPos(track, side)
			raw := make([]byte, 0, sectors*512)
			for sector := 1; sector <= sectors; sector++ {
				sp := findSectorInBuf(trackBuf, track, side, sector)
				if sp < 0 {
					return fmt.Errorf("floppy: %s: sector %d of track %d side %d not found while saving: %w", img.path, sector, track, side, errs.ErrFormat)
				}
				raw = append(raw, trackBuf[sp:sp+512]...)
			}
			if packed, ok := msaPack(raw); ok {
				lenField := make([]byte, 2)
				writeWB(lenField, uint16(len(packed)))
				out = append(out, lenField...)
				out = append(out, packed...)
			} else {
				lenField := make([]byte, 2)
				writeWB(lenField, uint16(len(raw)))
				out = append(out, lenField...)
				out = append(out, raw...)
			}
		}
	}

	if _, err := img.f.WriteAt(out, 0); err != nil {
		return errs.NewImageIOError("write", img.path, err)
	}
	return img.f.Truncate(int64(len(out)))
}
