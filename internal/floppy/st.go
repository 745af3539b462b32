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

	"github.com/zestcore/zesthost/internal/errs"
)

// loadSTorMSA learns geometry, then synthesizes every track's MFM
// representation from the logical sector payloads, per spec.md §4.3.
func (img *Image) loadSTorMSA(skew, interleave int) error {
	switch img.format {
	case FormatST:
		if err := img.readSTHeader(); err != nil {
			return err
		}
	case FormatMSA:
		if err := img.readMSAHeader(); err != nil {
			return err
		}
	}

	img.ensureCapacity()
	interleave = normalizeInterleave(img.nsectors, interleave)
	secShift := 1

	for track := 0; track < img.ntracks; track++ {
		order := sectorOrder(img.nsectors, secShift, interleave)

		for side := 0; side < img.nsides; side++ {
			raw, err := img.readTrackPayload(track, side)
			if err != nil {
				return err
			}
			sectorData := make([][]byte, img.nsectors)
			for i := 0; i < img.nsectors; i++ {
				sectorData[i] = raw[i*512 : (i+1)*512]
			}
			dst := img.TrackPos(track, side)
			if err := synthesizeTrack(dst, track, side, img.nsectors, order, sectorData); err != nil {
				return err
			}
		}
		secShift = nextSecShift(secShift, img.nsectors, skew)
	}
	return nil
}

func (img *Image) readSTHeader() error {
	header := make([]byte, 32)
	if _, err := img.f.ReadAt(header, 0); err != nil {
		return errs.NewImageIOError("read", img.path, err)
	}
	info, err := img.f.Stat()
	if err != nil {
		return errs.NewImageIOError("stat", img.path, err)
	}
	imageSize := info.Size()

	nsectors := int(readW(header[0x18:]))
	nsides := int(readW(header[0x1a:]))
	bps := readW(header[0x0b:])

	ok := bps == 512 && nsectors >= 9 && nsectors <= 11 && nsides >= 1 && nsides <= 2
	var ntracks int
	if ok && nsectors > 0 && nsides > 0 {
		ntracks = int(readW(header[0x13:])) / (nsectors * nsides)
		ok = ntracks > 0 && ntracks <= MaxTracks
	}
	if !ok {
		guessed, gerr := guessSize(imageSize)
		if gerr != nil {
			return gerr
		}
		ntracks, nsides, nsectors = guessed.ntracks, guessed.nsides, guessed.nsectors
	}

	img.ntracks, img.nsides, img.nsectors = ntracks, nsides, nsectors
	return nil
}

func (img *Image) readTrackPayload(track, side int) ([]byte, error) {
	switch img.format {
	case FormatST:
		buf := make([]byte, 512*img.nsectors)
		off := int64(track*img.nsides+side) * int64(512*img.nsectors)
		if _, err := img.f.ReadAt(buf, off); err != nil {
			return nil, errs.NewImageIOError("read", img.path, err)
		}
		return buf, nil
	case FormatMSA:
		return img.readMSATrack()
	default:
		return nil, fmt.Errorf("floppy: unexpected format %v", img.format)
	}
}

type guessedGeometry struct {
	ntracks, nsides, nsectors int
}

// guessSize mirrors guess_size in original_source/linux/floppy_img.c:
// try track counts high-to-low, sector counts 11..9, sides 2 then 1,
// looking for an exact divisor of the file size.
func guessSize(imageSize int64) (guessedGeometry, error) {
	if imageSize%512 != 0 {
		return guessedGeometry{}, fmt.Errorf("floppy: image size %d is not sector-aligned: %w", imageSize, errs.ErrFormat)
	}
	for tracks := MaxTracks; tracks > 0; tracks-- {
		for sectors := 11; sectors >= 9; sectors-- {
			if imageSize%int64(tracks) != 0 {
				continue
			}
			if imageSize%(int64(tracks)*int64(sectors)*2*512) == 0 {
				return guessedGeometry{ntracks: tracks, nsides: 2, nsectors: sectors}, nil
			}
			if imageSize%(int64(tracks)*int64(sectors)*1*512) == 0 {
				return guessedGeometry{ntracks: tracks, nsides: 1, nsectors: sectors}, nil
			}
		}
	}
	return guessedGeometry{}, fmt.Errorf("floppy: could not guess geometry for %d-byte image: %w", imageSize, errs.ErrFormat)
}

// saveST walks (track, side, sector) in BPB order, locating each sector in
// the synthesized MFM buffer and emitting its 512-byte payload.
func (img *Image) saveST() error {
	p := findSectorInBuf(img.buf, 0, 0, 1)
	if p < 0 {
		return fmt.Errorf("floppy: %s: sector 1 of track 0 not found while saving: %w", img.path, errs.ErrFormat)
	}
	sectors := int(readW(img.buf[p+0x18:]))
	nsides := int(readW(img.buf[p+0x1a:]))
	ntracks := int(readW(img.buf[p+0x13:])) / (sectors * nsides)

	out := make([]byte, 0, ntracks*nsides*sectors*512)
	for track := 0; track < ntracks; track++ {
		for side := 0; side < nsides; side++ {
			trackBuf := img.TrackPos(track, side)
			for sector := 1; sector <= sectors; sector++ {
				sp := findSectorInBuf(trackBuf, track, side, sector)
				if sp < 0 {
					return fmt.Errorf("floppy: %s: sector %d of track %d side %d not found while saving: %w", img.path, sector, track, side, errs.ErrFormat)
				}
				out = append(out, trackBuf[sp:sp+512]...)
			}
		}
	}
	if _, err := img.f.WriteAt(out, 0); err != nil {
		return errs.NewImageIOError("write", img.path, err)
	}
	return img.f.Truncate(int64(len(out)))
}
